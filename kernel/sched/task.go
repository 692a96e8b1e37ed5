// Package sched implements the preemptive round-robin task scheduler: a
// fixed task table, intrusive ready/blocked/sleeping queues and an explicit
// context switch driven by the periodic per-CPU timer tick.
package sched

import (
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/cpu"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/rs/xid"
)

// State describes the lifecycle state of a task.
type State uint8

const (
	// StateReady marks a task as runnable and linked on the ready queue.
	StateReady State = iota + 1
	// StateRunning marks the task currently executing on this CPU.
	StateRunning
	// StateBlocked marks a task waiting on a resource.
	StateBlocked
	// StateSleeping marks a task waiting for a wake-up tick.
	StateSleeping
	// StateTerminated marks a dead task whose slot can be reused.
	StateTerminated
)

// Priority orders tasks for future policy extensions; the default round
// robin ignores it for selection.
type Priority uint8

const (
	// PriorityLow is the lowest priority; also the sentinel returned for
	// unknown task ids.
	PriorityLow Priority = iota
	// PriorityNormal is the default task priority.
	PriorityNormal
	// PriorityHigh marks latency-sensitive tasks.
	PriorityHigh
	// PriorityCritical marks tasks that must not be starved.
	PriorityCritical
)

// Policy names a rescheduling discipline for when a task's slice runs out.
// Every task is created with PolicyRoundRobin, and dispatch does not read
// this field: all tasks rotate to the ready queue tail.
type Policy uint8

const (
	// PolicyFIFO keeps a task at the front of its priority class.
	PolicyFIFO Policy = iota
	// PolicyRoundRobin rotates the task to the ready queue tail.
	PolicyRoundRobin
)

// queueID names the scheduler queue a task is linked on.
type queueID uint8

const (
	queueNone queueID = iota
	queueReady
	queueBlocked
	queueSleeping
	queueCount = 3
)

// taskLink is one intrusive doubly-linked queue hook.
type taskLink struct {
	next, prev *Task
}

// Task is one entry in the fixed task table. A task participates in at most
// one of the three scheduler queues at any time; it carries one link per
// queue it can ever be on.
type Task struct {
	ID      uint32
	Name    string
	TraceID xid.ID

	State    State
	Priority Priority
	Policy   Policy

	// TimeSlice is the nominal budget in ticks granted on each dispatch;
	// TimeRemaining is what is left of the current grant.
	TimeSlice     uint32
	TimeRemaining uint32

	// Entry is the task body. It is a capability the scheduler consumes;
	// its identity is unimportant.
	Entry func()

	// StackBase/StackSize describe the kernel stack; ownStack records
	// whether the scheduler allocated it and must free it on terminate.
	StackBase uintptr
	StackSize mem.Size
	ownStack  bool

	// Saved is the opaque machine state restored on dispatch.
	Saved cpu.SavedState

	CreatedAt     uint64
	LastScheduled uint64
	CPUTime       uint64

	// WakeAt is the tick at which a sleeping task becomes ready again.
	WakeAt uint64

	links [queueCount]taskLink
	queue queueID
}

// onQueue reports whether the task is linked on any scheduler queue.
func (t *Task) onQueue() bool {
	return t.queue != queueNone
}

// taskQueue is an intrusive doubly-linked FIFO over the task table.
type taskQueue struct {
	id    queueID
	head  *Task
	tail  *Task
	count int
}

func (q *taskQueue) link(t *Task) *taskLink {
	return &t.links[q.id-1]
}

// pushBack appends t to the queue tail. The task must not be on any queue.
func (q *taskQueue) pushBack(t *Task) {
	link := q.link(t)
	link.next = nil
	link.prev = q.tail

	if q.tail != nil {
		q.link(q.tail).next = t
	} else {
		q.head = t
	}
	q.tail = t
	t.queue = q.id
	q.count++
}

// insertByWakeTime places t before the first task with a later WakeAt,
// keeping the queue sorted for the tick handler's wake-up scan.
func (q *taskQueue) insertByWakeTime(t *Task) {
	at := q.head
	for at != nil && at.WakeAt <= t.WakeAt {
		at = q.link(at).next
	}

	if at == nil {
		q.pushBack(t)
		return
	}

	link := q.link(t)
	link.next = at
	link.prev = q.link(at).prev
	if link.prev != nil {
		q.link(link.prev).next = t
	} else {
		q.head = t
	}
	q.link(at).prev = t
	t.queue = q.id
	q.count++
}

// popFront removes and returns the queue head, or nil if the queue is empty.
func (q *taskQueue) popFront() *Task {
	t := q.head
	if t == nil {
		return nil
	}
	q.remove(t)
	return t
}

// remove unlinks t from the queue if it is linked on it.
func (q *taskQueue) remove(t *Task) {
	if t.queue != q.id {
		return
	}

	link := q.link(t)
	if link.prev != nil {
		q.link(link.prev).next = link.next
	} else {
		q.head = link.next
	}
	if link.next != nil {
		q.link(link.next).prev = link.prev
	} else {
		q.tail = link.prev
	}

	link.next = nil
	link.prev = nil
	t.queue = queueNone
	q.count--
}
