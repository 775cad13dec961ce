package mailslot

import (
	"container/list"
	"fmt"
)

// waiter is the wait set entry of one suspended caller.
//
// claimed is set by the signaller when the entry is selected for a wake;
// woken is set by the owner once it has actually received that wake. An entry
// that is claimed but not woken when its owner gives up still holds an
// undelivered wake, which the owner passes on.
//
// gen is the channel's release generation when the owner last found its
// condition unmet. A waiter with gen equal to the current generation has
// already seen the capacity on offer.
type waiter struct {
	ready   chan struct{}
	claimed bool
	woken   bool
	gen     uint64
	elem    *list.Element
}

// wake marks w claimed and posts its wake token. Never blocks.
func (w *waiter) wake() {
	w.claimed = true

	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// waitSet is a FIFO of blocked callers for one side of a channel.
// Guarded by the owning Channel's lock.
type waitSet struct {
	entries list.List
}

// enqueue registers a new waiter at the tail.
func (ws *waitSet) enqueue() *waiter {
	w := &waiter{ready: make(chan struct{}, 1)}
	w.elem = ws.entries.PushBack(w)

	return w
}

// requeue registers a new waiter at the head. Used by callers that were woken
// but found their condition still unmet, so they keep their turn.
func (ws *waitSet) requeue() *waiter {
	w := &waiter{ready: make(chan struct{}, 1)}
	w.elem = ws.entries.PushFront(w)

	return w
}

// remove deletes w from the set. Each entry is removed exactly once, by its owner.
func (ws *waitSet) remove(w *waiter) {
	if w.elem == nil {
		panic(fmt.Sprintf("mailslot: wait set entry %p removed twice", w))
	}

	ws.entries.Remove(w.elem)
	w.elem = nil
}

// signalOne wakes the first entry not yet claimed. Reports whether one was found.
func (ws *waitSet) signalOne() bool {
	for e := ws.entries.Front(); e != nil; e = e.Next() {
		w, _ := e.Value.(*waiter)
		if w.claimed {
			continue
		}

		w.wake()

		return true
	}

	return false
}

// signalStale wakes the first unclaimed entry that last tested its condition
// before generation gen. Reports whether one was found.
func (ws *waitSet) signalStale(gen uint64) bool {
	for e := ws.entries.Front(); e != nil; e = e.Next() {
		w, _ := e.Value.(*waiter)
		if w.claimed || w.gen >= gen {
			continue
		}

		w.wake()

		return true
	}

	return false
}

// broadcast wakes every entry not yet claimed and returns how many it woke.
func (ws *waitSet) broadcast() int {
	n := 0

	for e := ws.entries.Front(); e != nil; e = e.Next() {
		w, _ := e.Value.(*waiter)
		if w.claimed {
			continue
		}

		w.wake()

		n++
	}

	return n
}

func (ws *waitSet) len() int {
	return ws.entries.Len()
}
