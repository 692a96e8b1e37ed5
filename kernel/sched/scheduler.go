package sched

import (
	"log"
	"os"
	"sync"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/cpu"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/rs/xid"
)

const (
	// MaxTasks bounds the fixed task table.
	MaxTasks = 256

	// DefaultTimeSlice is the budget in ticks granted on each dispatch.
	DefaultTimeSlice = 50

	// DefaultStackSize is the kernel stack allocated for tasks created
	// without a caller-provided stack.
	DefaultStackSize = 8 * mem.Kb
)

var (
	// ErrTableFull is returned when the task table has no free slot.
	ErrTableFull = &kernel.Error{Module: "sched", Message: "task table is full"}

	// ErrNotStarted is returned by Start when no task can be dispatched.
	ErrNotStarted = &kernel.Error{Module: "sched", Message: "no runnable task to start"}
)

// StackAllocator provides kernel stacks for new tasks.
type StackAllocator interface {
	AllocStack(size mem.Size) (uintptr, *kernel.Error)
	FreeStack(base uintptr, size mem.Size) *kernel.Error
}

// Clock supplies the tick counter that drives task accounting and sleep
// wake-ups.
type Clock interface {
	Ticks() uint64
}

// Stats is a point-in-time snapshot of scheduler activity.
type Stats struct {
	TotalTasks      uint32
	ReadyTasks      uint32
	BlockedTasks    uint32
	SleepingTasks   uint32
	TotalSchedules  uint64
	ContextSwitches uint64
}

// Scheduler owns the task table and the three scheduler queues. One lock
// serializes queue manipulation and the current-task pointer; taking it does
// not change the interrupt flag.
type Scheduler struct {
	mu sync.Mutex

	clock  Clock
	stacks StackAllocator

	tasks    [MaxTasks]Task
	ready    taskQueue
	blocked  taskQueue
	sleeping taskQueue

	current *Task
	idle    *Task

	nextID  uint32
	count   uint32
	running bool

	timeSlice uint32

	totalSchedules  uint64
	contextSwitches uint64

	logger *log.Logger
}

// New returns a stopped scheduler wired to the given clock and stack
// allocator.
func New(clock Clock, stacks StackAllocator) *Scheduler {
	s := &Scheduler{
		clock:     clock,
		stacks:    stacks,
		nextID:    1,
		timeSlice: DefaultTimeSlice,
		logger:    log.New(os.Stderr, "[sched] ", 0),
	}
	s.ready.id = queueReady
	s.blocked.id = queueBlocked
	s.sleeping.id = queueSleeping
	return s
}

// SetTimeSlice overrides the nominal budget granted to new tasks.
func (s *Scheduler) SetTimeSlice(ticks uint32) {
	s.mu.Lock()
	s.timeSlice = ticks
	s.mu.Unlock()
}

// SetLogOutput redirects the scheduler's log output.
func (s *Scheduler) SetLogOutput(logger *log.Logger) {
	s.logger = logger
}

// Create allocates a kernel stack, initializes a task record in the first
// free table slot and links it at the ready queue tail. It fails without
// consuming a slot if no stack memory is available.
func (s *Scheduler) Create(entry func(), name string, priority Priority) (uint32, *kernel.Error) {
	stackBase, err := s.stacks.AllocStack(DefaultStackSize)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	task, err := s.initTask(entry, name, priority)
	if err != nil {
		s.mu.Unlock()
		s.stacks.FreeStack(stackBase, DefaultStackSize)
		return 0, err
	}

	task.StackBase = stackBase
	task.StackSize = DefaultStackSize
	task.ownStack = true
	s.ready.pushBack(task)
	id := task.ID
	s.mu.Unlock()

	s.logger.Printf("created task %d: %s (priority %d)", id, name, priority)
	return id, nil
}

// CreateThread is Create with a caller-provided stack; the stack stays owned
// by the caller and is not freed on terminate.
func (s *Scheduler) CreateThread(stackBase uintptr, stackSize mem.Size, entry func()) (uint32, *kernel.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.initTask(entry, "thread", PriorityNormal)
	if err != nil {
		return 0, err
	}

	task.StackBase = stackBase
	task.StackSize = stackSize
	s.ready.pushBack(task)

	return task.ID, nil
}

// initTask claims a free table slot and fills in the common task fields.
// Callers hold s.mu.
func (s *Scheduler) initTask(entry func(), name string, priority Priority) (*Task, *kernel.Error) {
	if s.count >= MaxTasks {
		return nil, ErrTableFull
	}

	slot := -1
	for i := range s.tasks {
		if s.tasks[i].ID == 0 || s.tasks[i].State == StateTerminated {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, ErrTableFull
	}

	task := &s.tasks[slot]
	*task = Task{
		ID:            s.nextID,
		Name:          name,
		TraceID:       xid.New(),
		State:         StateReady,
		Priority:      priority,
		Policy:        PolicyRoundRobin,
		TimeSlice:     s.timeSlice,
		TimeRemaining: s.timeSlice,
		Entry:         entry,
		CreatedAt:     s.now(),
	}
	s.nextID++
	s.count++

	return task, nil
}

// Start creates the idle task, marks the scheduler running and dispatches
// the first ready task. The idle task halts the CPU in a loop and is kept
// off the ready queue; it runs only when nothing else is runnable.
func (s *Scheduler) Start() *kernel.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	idle, err := s.initTask(func() {
		for {
			cpu.Halt()
		}
	}, "idle", PriorityLow)
	if err != nil {
		return err
	}
	s.idle = idle

	s.running = true

	first := s.ready.popFront()
	if first == nil {
		first = s.idle
	}
	first.State = StateRunning
	first.TimeRemaining = first.TimeSlice
	first.LastScheduled = s.now()
	s.current = first

	s.logger.Printf("scheduler started; first task %d: %s", first.ID, first.Name)
	return nil
}

// Running reports whether Start has been called.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Tick is invoked from the periodic timer interrupt. It wakes due sleepers,
// charges the current task one tick and reschedules once the slice budget
// is exhausted.
func (s *Scheduler) Tick() {
	s.mu.Lock()

	now := s.now()
	for t := s.sleeping.head; t != nil && t.WakeAt <= now; t = s.sleeping.head {
		s.sleeping.remove(t)
		t.State = StateReady
		s.ready.pushBack(t)
	}

	if !s.running || s.current == nil {
		s.mu.Unlock()
		return
	}

	if s.current.TimeRemaining > 0 {
		s.current.TimeRemaining--
	}
	if s.current.TimeRemaining > 0 {
		s.mu.Unlock()
		return
	}

	s.scheduleLocked()
	s.mu.Unlock()
}

// Yield gives up the rest of the current task's slice and rotates it to the
// ready queue tail.
func (s *Scheduler) Yield() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.current == nil {
		return
	}

	s.current.TimeRemaining = 0
	s.scheduleLocked()
}

// Schedule picks the next ready task and switches to it if it differs from
// the current one.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.scheduleLocked()
}

// scheduleLocked is the dispatch path. Callers hold s.mu.
func (s *Scheduler) scheduleLocked() {
	s.totalSchedules++

	old := s.current
	next := s.ready.popFront()
	if next == nil {
		if old != nil && old.State == StateRunning {
			// Nothing else to run; grant the current task a fresh
			// slice.
			old.TimeRemaining = old.TimeSlice
			return
		}
		next = s.idle
		if next == nil {
			s.logger.Printf("no runnable task and no idle task; halting")
			kernel.Panic(ErrNotStarted)
			return
		}
	}

	now := s.now()
	if old != nil && old != next {
		if old.State == StateRunning {
			old.CPUTime += now - old.LastScheduled
			old.State = StateReady
			if old != s.idle {
				s.ready.pushBack(old)
			}
		}
	}

	if old == next {
		next.TimeRemaining = next.TimeSlice
		return
	}

	next.State = StateRunning
	next.TimeRemaining = next.TimeSlice
	next.LastScheduled = now
	s.current = next

	s.contextSwitches++
	if old != nil {
		cpu.SwitchContext(&old.Saved, &next.Saved)
	} else {
		cpu.SwitchContext(nil, &next.Saved)
	}
}

// BlockCurrent moves the current task to the blocked (or sleeping) queue and
// dispatches the next ready task. reason must be StateBlocked or
// StateSleeping.
func (s *Scheduler) BlockCurrent(reason State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current == s.idle {
		return
	}
	if reason != StateBlocked && reason != StateSleeping {
		reason = StateBlocked
	}

	task := s.current
	task.State = reason
	task.CPUTime += s.now() - task.LastScheduled
	if reason == StateSleeping {
		s.sleeping.insertByWakeTime(task)
	} else {
		s.blocked.pushBack(task)
	}

	s.current = nil
	s.scheduleLocked()
}

// Unblock moves a blocked task back to the ready queue tail. Unknown ids and
// tasks that are not blocked are ignored.
func (s *Scheduler) Unblock(taskID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.findLocked(taskID)
	if task == nil || task.State != StateBlocked {
		return
	}

	s.blocked.remove(task)
	task.State = StateReady
	s.ready.pushBack(task)
}

// Sleep moves the current task to the sleeping queue until the clock has
// advanced by the given number of ticks.
func (s *Scheduler) Sleep(ticks uint64) {
	s.mu.Lock()
	if s.current == nil || s.current == s.idle {
		s.mu.Unlock()
		return
	}
	s.current.WakeAt = s.now() + ticks
	s.mu.Unlock()

	s.BlockCurrent(StateSleeping)
}

// Terminate marks a task dead, unlinks it from every queue and frees its
// stack if the scheduler owns it. Unknown ids are a no-op.
func (s *Scheduler) Terminate(taskID uint32) {
	s.mu.Lock()

	task := s.findLocked(taskID)
	if task == nil {
		s.mu.Unlock()
		return
	}

	s.ready.remove(task)
	s.blocked.remove(task)
	s.sleeping.remove(task)
	task.State = StateTerminated
	s.count--

	var (
		freeStack bool
		stackBase uintptr
		stackSize mem.Size
	)
	if task.ownStack {
		freeStack = true
		stackBase = task.StackBase
		stackSize = task.StackSize
		task.ownStack = false
	}

	wasCurrent := task == s.current
	if wasCurrent {
		s.current = nil
	}

	s.logger.Printf("terminated task %d: %s", task.ID, task.Name)

	if wasCurrent && s.running {
		s.scheduleLocked()
	}
	s.mu.Unlock()

	if freeStack {
		s.stacks.FreeStack(stackBase, stackSize)
	}
}

// SetPriority updates a task's priority. Unknown ids are a no-op.
func (s *Scheduler) SetPriority(taskID uint32, priority Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task := s.findLocked(taskID); task != nil {
		task.Priority = priority
	}
}

// GetPriority returns a task's priority, or PriorityLow for unknown ids.
func (s *Scheduler) GetPriority(taskID uint32) Priority {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task := s.findLocked(taskID); task != nil {
		return task.Priority
	}
	return PriorityLow
}

// Current returns the running task, or nil if none is dispatched.
func (s *Scheduler) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Count returns the number of live (non-terminated) tasks.
func (s *Scheduler) Count() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		TotalTasks:      s.count,
		ReadyTasks:      uint32(s.ready.count),
		BlockedTasks:    uint32(s.blocked.count),
		SleepingTasks:   uint32(s.sleeping.count),
		TotalSchedules:  s.totalSchedules,
		ContextSwitches: s.contextSwitches,
	}
}

// Tasks calls fn for every live task. It is used by the introspection
// surface; fn must not call back into the scheduler.
func (s *Scheduler) Tasks(fn func(t *Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tasks {
		if s.tasks[i].ID != 0 && s.tasks[i].State != StateTerminated {
			fn(&s.tasks[i])
		}
	}
}

func (s *Scheduler) findLocked(taskID uint32) *Task {
	for i := range s.tasks {
		if s.tasks[i].ID == taskID && s.tasks[i].State != StateTerminated {
			return &s.tasks[i]
		}
	}
	return nil
}

func (s *Scheduler) now() uint64 {
	if s.clock == nil {
		return 0
	}
	return s.clock.Ticks()
}
