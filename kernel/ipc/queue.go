package ipc

import (
	"sync"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
)

const (
	// DefaultQueueCapacity is the bound for service queues.
	DefaultQueueCapacity = 64

	// SystemQueueCapacity is the bound for the system queue.
	SystemQueueCapacity = 1024
)

// recvWaiter is a receiver blocked on an empty queue. The channel carries the
// direct handoff from the next send; it is closed instead when the queue is
// destroyed.
type recvWaiter struct {
	ch     chan *Message
	taskID uint32
}

// sendWaiter is a sender blocked on a full queue, woken by the next dequeue.
type sendWaiter struct {
	ch     chan struct{}
	taskID uint32
}

// Queue is a bounded FIFO of messages with an owner name, a capacity and the
// waiter lists that integrate blocking senders and receivers with the
// scheduler. One lock serializes each queue; across queues there is no
// ordering.
type Queue struct {
	mu sync.Mutex

	owner    string
	capacity uint32
	count    uint32

	head *Message
	tail *Message

	recvWaiters []*recvWaiter
	sendWaiters []*sendWaiter

	destroyed bool
}

func newQueue(owner string, capacity uint32) *Queue {
	return &Queue{owner: owner, capacity: capacity}
}

// Owner returns the name of the queue's owner.
func (q *Queue) Owner() string {
	return q.owner
}

// Capacity returns the queue bound.
func (q *Queue) Capacity() uint32 {
	return q.capacity
}

// Len returns the number of messages currently linked on the queue.
func (q *Queue) Len() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// enqueue links msg at the queue tail or hands it directly to the oldest
// blocked receiver. It returns the receiver's task id to wake (zero if none)
// and ErrQueueFull when the queue is at capacity.
func (q *Queue) enqueue(msg *Message) (uint32, *kernel.Error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		return 0, ErrNoRoute
	}

	// Hand off to a blocked receiver if one is waiting; the queue is
	// necessarily empty in that case so FIFO order is preserved.
	if len(q.recvWaiters) > 0 {
		waiter := q.recvWaiters[0]
		q.recvWaiters = q.recvWaiters[1:]
		waiter.ch <- msg
		return waiter.taskID, nil
	}

	if q.count >= q.capacity {
		return 0, ErrQueueFull
	}

	if q.tail != nil {
		q.tail.next = msg
	} else {
		q.head = msg
	}
	q.tail = msg
	q.count++
	return 0, nil
}

// dequeue unlinks and returns the queue head. It also returns the task id of
// the oldest sender waiting for space (zero if none).
func (q *Queue) dequeue() (*Message, uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg := q.head
	if msg == nil {
		return nil, 0
	}

	q.head = msg.next
	if q.head == nil {
		q.tail = nil
	}
	msg.next = nil
	q.count--

	var wake uint32
	if len(q.sendWaiters) > 0 {
		waiter := q.sendWaiters[0]
		q.sendWaiters = q.sendWaiters[1:]
		close(waiter.ch)
		wake = waiter.taskID
	}

	return msg, wake
}

// peekLen returns the payload length of the queue head, or -1 when empty.
func (q *Queue) peekLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == nil {
		return -1
	}
	return len(q.head.Data)
}

// addRecvWaiter registers a blocked receiver. If a message slipped onto the
// queue after the caller's empty check, the head is handed over immediately
// instead so the waiter can never starve behind queued traffic; the returned
// task id (if non-zero) is a sender to wake.
func (q *Queue) addRecvWaiter(w *recvWaiter) (uint32, *kernel.Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return 0, ErrNoRoute
	}

	if msg := q.head; msg != nil {
		q.head = msg.next
		if q.head == nil {
			q.tail = nil
		}
		msg.next = nil
		q.count--
		w.ch <- msg

		if len(q.sendWaiters) > 0 {
			waiter := q.sendWaiters[0]
			q.sendWaiters = q.sendWaiters[1:]
			close(waiter.ch)
			return waiter.taskID, nil
		}
		return 0, nil
	}

	q.recvWaiters = append(q.recvWaiters, w)
	return 0, nil
}

// dropRecvWaiter removes a receiver whose timeout fired. It reports false if
// the waiter was already handed a message (or the queue was destroyed) and
// is no longer on the list.
func (q *Queue) dropRecvWaiter(w *recvWaiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, candidate := range q.recvWaiters {
		if candidate == w {
			q.recvWaiters = append(q.recvWaiters[:i], q.recvWaiters[i+1:]...)
			return true
		}
	}
	return false
}

// addSendWaiter registers a blocked sender.
func (q *Queue) addSendWaiter(w *sendWaiter) *kernel.Error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return ErrNoRoute
	}
	if q.count < q.capacity {
		// Space opened up between the failed enqueue and now; retry
		// without blocking.
		close(w.ch)
		return nil
	}
	q.sendWaiters = append(q.sendWaiters, w)
	return nil
}

// destroy marks the queue dead, unlinks every queued message and wakes every
// waiter. It returns the frames of the dropped messages for the caller to
// release.
func (q *Queue) destroy() []pmm.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.destroyed = true

	var frames []pmm.Frame
	for msg := q.head; msg != nil; msg = msg.next {
		frames = append(frames, msg.frame)
	}
	q.head = nil
	q.tail = nil
	q.count = 0

	for _, waiter := range q.recvWaiters {
		close(waiter.ch)
	}
	q.recvWaiters = nil
	for _, waiter := range q.sendWaiters {
		close(waiter.ch)
	}
	q.sendWaiters = nil

	return frames
}
