package ipc

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
	"github.com/rs/xid"
)

// MaxServices bounds the service registry.
const MaxServices = 64

var (
	// ErrTooLarge is returned when a payload exceeds MaxMessageSize.
	ErrTooLarge = &kernel.Error{Module: "ipc", Message: "message payload too large"}

	// ErrQueueFull is returned by a non-blocking send to a full queue.
	ErrQueueFull = &kernel.Error{Module: "ipc", Message: "destination queue is full"}

	// ErrNoRoute is returned when the destination queue has been destroyed.
	ErrNoRoute = &kernel.Error{Module: "ipc", Message: "no route to destination"}

	// ErrEmpty is returned by a zero-timeout receive on an empty queue.
	ErrEmpty = &kernel.Error{Module: "ipc", Message: "queue is empty"}

	// ErrTimeout is returned when a blocking receive's timeout fires.
	ErrTimeout = &kernel.Error{Module: "ipc", Message: "timed out waiting for a message"}

	// ErrBufferTooSmall is returned when the caller's buffer cannot hold
	// the head message.
	ErrBufferTooSmall = &kernel.Error{Module: "ipc", Message: "receive buffer too small"}

	// ErrAlreadyRegistered is returned when a service name is taken.
	ErrAlreadyRegistered = &kernel.Error{Module: "ipc", Message: "service name already registered"}

	// ErrRegistryFull is returned when MaxServices names are registered.
	ErrRegistryFull = &kernel.Error{Module: "ipc", Message: "service registry is full"}

	// ErrNotFound is returned when a service name is unknown.
	ErrNotFound = &kernel.Error{Module: "ipc", Message: "service not found"}
)

// Handler is the capability invoked on behalf of a registered service. Its
// identity is unimportant to the router; it is stored and returned by lookup.
type Handler func(msg *Message)

// FrameAllocator charges one physical frame per in-flight message.
type FrameAllocator interface {
	Alloc(order mem.PageOrder) (pmm.Frame, *kernel.Error)
	Free(frame pmm.Frame, order mem.PageOrder) *kernel.Error
}

// Clock supplies the capture timestamp stamped on each message.
type Clock interface {
	Ticks() uint64
}

// TaskScheduler lets blocking IPC operations suspend and resume tasks
// instead of spinning. All methods must tolerate a zero current task.
type TaskScheduler interface {
	CurrentID() uint32
	BlockCurrent()
	Unblock(taskID uint32)
}

// service is one registry entry: a unique name, the handler capability and
// the service's own bounded queue.
type service struct {
	name    string
	handler Handler
	queue   *Queue
	frame   pmm.Frame
}

// Router owns the system queue and the named service registry. Each queue
// carries its own lock; the registry has one of its own.
type Router struct {
	frames FrameAllocator
	clock  Clock
	tasks  TaskScheduler

	system *Queue

	registryMu sync.Mutex
	services   []*service

	logger *log.Logger
}

// NewRouter builds an IPC router charging message frames to the supplied
// allocator. clock and tasks may be nil; messages are then stamped with a
// zero timestamp and blocking operations do not update scheduler state.
func NewRouter(frames FrameAllocator, clock Clock, tasks TaskScheduler) *Router {
	return &Router{
		frames: frames,
		clock:  clock,
		tasks:  tasks,
		system: newQueue("system", SystemQueueCapacity),
		logger: log.New(os.Stderr, "[ipc] ", 0),
	}
}

// SetLogOutput redirects the router's log output.
func (r *Router) SetLogOutput(logger *log.Logger) {
	r.logger = logger
}

// SystemQueue returns the queue addressed by a nil destination.
func (r *Router) SystemQueue() *Queue {
	return r.system
}

// Send validates, allocates and enqueues a message at the destination tail.
// A nil destination targets the system queue. With FlagBlocking set, a full
// queue suspends the sender until space opens; otherwise ErrQueueFull is
// returned. Within one (sender, destination) pair arrival order matches send
// order.
func (r *Router) Send(dest *Queue, payload []byte, msgType Type, flags Flags) *kernel.Error {
	if len(payload) > MaxMessageSize {
		r.logger.Printf("message too large: %d bytes", len(payload))
		return ErrTooLarge
	}
	if dest == nil {
		dest = r.system
	}

	frame, err := r.frames.Alloc(0)
	if err != nil {
		return err
	}

	msg := &Message{
		ID:        xid.New(),
		Data:      append(make([]byte, 0, len(payload)), payload...),
		Type:      msgType,
		Flags:     flags,
		Sender:    r.currentTask(),
		Timestamp: r.now(),
		frame:     frame,
	}

	for {
		wake, err := dest.enqueue(msg)
		if err == nil {
			if wake != 0 && r.tasks != nil {
				r.tasks.Unblock(wake)
			}
			return nil
		}
		if err != ErrQueueFull || flags&FlagBlocking == 0 {
			r.frames.Free(frame, 0)
			return err
		}

		// Full queue and a blocking sender: wait for the next dequeue
		// to open a slot, then retry.
		waiter := &sendWaiter{ch: make(chan struct{}), taskID: r.currentTask()}
		if err = dest.addSendWaiter(waiter); err != nil {
			r.frames.Free(frame, 0)
			return err
		}
		r.blockCurrent()
		<-waiter.ch
	}
}

// Recv pops the head message from src (or the system queue if src is nil)
// into buf, returning the payload length and type. A zero timeout returns
// ErrEmpty immediately on an empty queue; otherwise the caller is suspended
// until a message arrives or the timeout fires.
func (r *Router) Recv(src *Queue, buf []byte, timeout time.Duration) (int, Type, *kernel.Error) {
	if src == nil {
		src = r.system
	}

	if headLen := src.peekLen(); headLen >= 0 {
		if headLen > len(buf) {
			return 0, 0, ErrBufferTooSmall
		}
		msg, wake := src.dequeue()
		if msg != nil {
			if wake != 0 && r.tasks != nil {
				r.tasks.Unblock(wake)
			}
			return r.consume(msg, buf)
		}
	}

	if timeout == 0 {
		return 0, 0, ErrEmpty
	}

	waiter := &recvWaiter{ch: make(chan *Message, 1), taskID: r.currentTask()}
	wake, err := src.addRecvWaiter(waiter)
	if err != nil {
		return 0, 0, err
	}
	if wake != 0 && r.tasks != nil {
		r.tasks.Unblock(wake)
	}
	if len(waiter.ch) == 0 {
		r.blockCurrent()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-waiter.ch:
		if !ok {
			return 0, 0, ErrNoRoute
		}
		if len(msg.Data) > len(buf) {
			// The handoff already consumed the message; the frame
			// must still be released.
			r.frames.Free(msg.frame, 0)
			return 0, 0, ErrBufferTooSmall
		}
		return r.consume(msg, buf)
	case <-timer.C:
		if src.dropRecvWaiter(waiter) {
			return 0, 0, ErrTimeout
		}
		// The send won the race; the message is already in our channel.
		msg, ok := <-waiter.ch
		if !ok {
			return 0, 0, ErrNoRoute
		}
		if len(msg.Data) > len(buf) {
			r.frames.Free(msg.frame, 0)
			return 0, 0, ErrBufferTooSmall
		}
		return r.consume(msg, buf)
	}
}

// consume copies the payload out and releases the message frame.
func (r *Router) consume(msg *Message, buf []byte) (int, Type, *kernel.Error) {
	n := copy(buf, msg.Data)
	r.frames.Free(msg.frame, 0)
	return n, msg.Type, nil
}

// RegisterService creates a dedicated bounded queue for the named service
// and records the handler capability. Names are unique within the registry;
// each live service is charged one physical frame for its queue header.
func (r *Router) RegisterService(name string, handler Handler) (*Queue, *kernel.Error) {
	return r.RegisterServiceWithCapacity(name, handler, DefaultQueueCapacity)
}

// RegisterServiceWithCapacity is RegisterService with an explicit queue
// bound.
func (r *Router) RegisterServiceWithCapacity(name string, handler Handler, capacity uint32) (*Queue, *kernel.Error) {
	r.registryMu.Lock()
	defer r.registryMu.Unlock()

	if len(r.services) >= MaxServices {
		r.logger.Printf("registry full; rejecting service %q", name)
		return nil, ErrRegistryFull
	}
	for _, svc := range r.services {
		if svc.name == name {
			return nil, ErrAlreadyRegistered
		}
	}

	frame, err := r.frames.Alloc(0)
	if err != nil {
		return nil, err
	}

	svc := &service{
		name:    name,
		handler: handler,
		queue:   newQueue(name, capacity),
		frame:   frame,
	}
	r.services = append(r.services, svc)

	r.logger.Printf("registered service %q", name)
	return svc.queue, nil
}

// LookupService returns the handler registered under name.
func (r *Router) LookupService(name string) (Handler, *kernel.Error) {
	r.registryMu.Lock()
	defer r.registryMu.Unlock()

	for _, svc := range r.services {
		if svc.name == name {
			return svc.handler, nil
		}
	}
	return nil, ErrNotFound
}

// ServiceQueue returns the queue owned by the named service.
func (r *Router) ServiceQueue(name string) (*Queue, *kernel.Error) {
	r.registryMu.Lock()
	defer r.registryMu.Unlock()

	for _, svc := range r.services {
		if svc.name == name {
			return svc.queue, nil
		}
	}
	return nil, ErrNotFound
}

// UnregisterService destroys the named service's queue, dropping any queued
// messages, and removes the registry entry.
func (r *Router) UnregisterService(name string) *kernel.Error {
	r.registryMu.Lock()
	defer r.registryMu.Unlock()

	for i, svc := range r.services {
		if svc.name != name {
			continue
		}

		for _, frame := range svc.queue.destroy() {
			r.frames.Free(frame, 0)
		}
		r.frames.Free(svc.frame, 0)
		r.services = append(r.services[:i], r.services[i+1:]...)

		r.logger.Printf("unregistered service %q", name)
		return nil
	}
	return ErrNotFound
}

// Broadcast sends the payload non-blocking to the system queue and to every
// registered service queue, returning the number of queues it reached. Full
// queues are skipped silently.
func (r *Router) Broadcast(payload []byte, msgType Type) int {
	delivered := 0
	if r.Send(r.system, payload, msgType, FlagNonBlocking) == nil {
		delivered++
	}

	r.registryMu.Lock()
	queues := make([]*Queue, len(r.services))
	for i, svc := range r.services {
		queues[i] = svc.queue
	}
	r.registryMu.Unlock()

	for _, q := range queues {
		if r.Send(q, payload, msgType, FlagNonBlocking) == nil {
			delivered++
		}
	}
	return delivered
}

// Queues snapshots every live queue: the system queue first, then service
// queues in registration order. It backs the introspection surface.
func (r *Router) Queues() []*Queue {
	r.registryMu.Lock()
	defer r.registryMu.Unlock()

	out := []*Queue{r.system}
	for _, svc := range r.services {
		out = append(out, svc.queue)
	}
	return out
}

func (r *Router) currentTask() uint32 {
	if r.tasks == nil {
		return 0
	}
	return r.tasks.CurrentID()
}

func (r *Router) blockCurrent() {
	if r.tasks != nil {
		r.tasks.BlockCurrent()
	}
}

func (r *Router) now() uint64 {
	if r.clock == nil {
		return 0
	}
	return r.clock.Ticks()
}
