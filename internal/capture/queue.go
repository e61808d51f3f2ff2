package capture

import "github.com/udisondev/framecap/internal/protocol"

// registration correlates a pending sub-packet with the recipient id the
// resolution event is expected to carry.
type registration struct {
	frame     *protocol.Frame
	packet    *protocol.SubPacket
	recipient uint32
}

// Queue is the completion queue: pending registrations in FIFO order plus
// the frames waiting for them to resolve.
//
// The queue is Idle when nothing is pending. While it is not Idle every frame
// handed to Hold waits, so frames leave in arrival order.
// Not safe for concurrent use; the Pipeline lock guards it.
type Queue struct {
	pending []registration
	waiting []*protocol.Frame
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Register appends a pending registration.
func (q *Queue) Register(f *protocol.Frame, p *protocol.SubPacket, recipient uint32) {
	q.pending = append(q.pending, registration{frame: f, packet: p, recipient: recipient})
}

// Hold appends a frame to the frame-wait queue.
func (q *Queue) Hold(f *protocol.Frame) {
	q.waiting = append(q.waiting, f)
}

// Next dequeues the oldest registration.
func (q *Queue) Next() (registration, bool) {
	if len(q.pending) == 0 {
		return registration{}, false
	}
	r := q.pending[0]
	q.pending[0] = registration{}
	q.pending = q.pending[1:]
	if len(q.pending) == 0 {
		q.pending = q.pending[:0:0]
	}
	return r, true
}

// Idle reports whether no registration is pending.
func (q *Queue) Idle() bool {
	return len(q.pending) == 0
}

// Pending returns the number of unresolved registrations.
func (q *Queue) Pending() int {
	return len(q.pending)
}

// Waiting returns the number of held frames.
func (q *Queue) Waiting() int {
	return len(q.waiting)
}

// Drain hands every held frame to complete or incomplete, oldest first.
// Only valid while Idle.
// A frame leaves the queue right before its callback runs, so frames not yet
// handed out stay held if a callback panics.
func (q *Queue) Drain(complete, incomplete func(*protocol.Frame)) {
	for len(q.waiting) > 0 {
		f := q.waiting[0]
		q.waiting[0] = nil
		q.waiting = q.waiting[1:]
		if f.Complete() {
			complete(f)
		} else {
			incomplete(f)
		}
	}
}

// Forget drops the registrations belonging to f.
func (q *Queue) Forget(f *protocol.Frame) {
	kept := q.pending[:0]
	for _, r := range q.pending {
		if r.frame != f {
			kept = append(kept, r)
		}
	}
	clear(q.pending[len(kept):])
	q.pending = kept
}

// Reset clears both queues, handing every held frame to release.
// Frames that own pending registrations but were never held are released too.
func (q *Queue) Reset(release func(*protocol.Frame)) {
	seen := make(map[*protocol.Frame]struct{}, len(q.waiting))
	for _, f := range q.waiting {
		seen[f] = struct{}{}
		release(f)
	}
	for _, r := range q.pending {
		if _, ok := seen[r.frame]; !ok {
			seen[r.frame] = struct{}{}
			release(r.frame)
		}
	}
	q.pending = nil
	q.waiting = nil
}
