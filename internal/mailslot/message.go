package mailslot

// message is one stored payload. payload is owned by the queue until popped.
type message struct {
	payload []byte
	size    int
}

// messageQueue is a FIFO of messages with byte accounting.
// Not safe for concurrent use; the owning Channel's lock guards it.
type messageQueue struct {
	items []message
	head  int
	bytes int
}

func (q *messageQueue) len() int {
	return len(q.items) - q.head
}

func (q *messageQueue) empty() bool {
	return q.len() == 0
}

func (q *messageQueue) push(m message) {
	q.items = append(q.items, m)
	q.bytes += m.size
}

// peek returns the head message. The queue must not be empty.
func (q *messageQueue) peek() *message {
	return &q.items[q.head]
}

// pop removes and returns the head message. The queue must not be empty.
func (q *messageQueue) pop() message {
	m := q.items[q.head]
	q.items[q.head] = message{}
	q.head++
	q.bytes -= m.size

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head > len(q.items)/2:
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	return m
}

// drain removes every message, handing each payload to release.
func (q *messageQueue) drain(release func([]byte)) int {
	n := 0

	for !q.empty() {
		m := q.pop()
		release(m.payload)
		n++
	}

	return n
}
