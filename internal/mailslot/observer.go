package mailslot

import "time"

// Op names a channel operation for observers.
type Op string

const (
	OpPush      Op = "push"
	OpPop       Op = "pop"
	OpConfigure Op = "configure"
)

// Side names which wait set a blocked caller sits in.
type Side string

const (
	SideReader Side = "reader"
	SideWriter Side = "writer"
)

// Observer receives channel events. Implementations must be safe for
// concurrent use and must not call back into the channel; WaitChanged and
// QueueChanged are invoked with the channel lock held.
type Observer interface {
	// OperationCompleted is called once per push, pop or configure call.
	// bytes is the payload size moved, or 0 on failure.
	OperationCompleted(channelID int, op Op, bytes int, err error)
	// WaitChanged reports a caller entering (+1) or leaving (-1) a wait set.
	WaitChanged(channelID int, side Side, delta int)
	// WaitFinished reports how long a caller stayed suspended.
	WaitFinished(channelID int, side Side, waited time.Duration)
	// QueueChanged reports the queue depth after a mutation.
	QueueChanged(channelID int, messages, bytes int)
}

type nopObserver struct{}

func (nopObserver) OperationCompleted(int, Op, int, error) {}
func (nopObserver) WaitChanged(int, Side, int) {}
func (nopObserver) WaitFinished(int, Side, time.Duration) {}
func (nopObserver) QueueChanged(int, int, int) {}
