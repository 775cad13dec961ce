// Package optimization provides performance optimization utilities
package optimization

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

const (
	// minClassShift is the smallest size class (1<<4 = 16 bytes).
	minClassShift = 4
	// maxPooledSize caps the largest size class that is pooled at all.
	maxPooledSize = 1024 * 1024
)

// ErrSizeOutOfRange is returned when a slab request is empty or above the pool ceiling.
var ErrSizeOutOfRange = errors.New("slab size out of range")

// SlabPool hands out byte slices from power-of-two size classes up to a fixed
// ceiling. The class table is built once, so Alloc and Release never lock.
type SlabPool struct {
	classes []sync.Pool
	maxSize int
}

// NewSlabPool creates a slab pool serving requests of 1..maxSize bytes.
func NewSlabPool(maxSize int) (*SlabPool, error) {
	if maxSize <= 0 || maxSize > maxPooledSize {
		return nil, fmt.Errorf("%w: ceiling %d", ErrSizeOutOfRange, maxSize)
	}

	n := classIndex(maxSize) + 1
	p := &SlabPool{
		classes: make([]sync.Pool, n),
		maxSize: maxSize,
	}

	for i := range p.classes {
		size := 1 << (minClassShift + i)
		p.classes[i].New = func() interface{} {
			buf := make([]byte, size)

			return &buf
		}
	}

	return p, nil
}

// MaxSize returns the largest request the pool serves.
func (p *SlabPool) MaxSize() int {
	return p.maxSize
}

// Alloc returns a zeroed slice of length n backed by a pooled slab.
func (p *SlabPool) Alloc(n int) ([]byte, error) {
	if n <= 0 || n > p.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrSizeOutOfRange, n, p.maxSize)
	}

	bufPtr, ok := p.classes[classIndex(n)].Get().(*[]byte)
	if !ok || bufPtr == nil {
		// This should never happen if the pool is used correctly
		return make([]byte, n), nil
	}

	return (*bufPtr)[:n], nil
}

// Release returns a slab to its size class. Slices not produced by Alloc are dropped.
func (p *SlabPool) Release(buf []byte) {
	size := cap(buf)
	if size < 1<<minClassShift || size&(size-1) != 0 {
		return
	}

	idx := classIndex(size)
	if idx >= len(p.classes) {
		return
	}

	buf = buf[:size]
	clear(buf)
	p.classes[idx].Put(&buf)
}

// classIndex maps a request size to the index of the smallest class that fits it.
func classIndex(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}

	return bits.Len(uint(n-1)) - minClassShift
}
