package gearlink

import (
	"runtime"
	"slices"
	"weak"

	"github.com/nemanja-m/gearlink/pkg/engine"
)

type slotState int

const (
	// slotLive: the caller's wrapper is reachable.
	slotLive slotState = iota
	// slotPendingDeath: the caller let go, the engine still holds the task.
	slotPendingDeath
	// slotResurrected: a transient wrapper is delivering one event.
	slotResurrected
)

func (s slotState) String() string {
	switch s {
	case slotLive:
		return "live"
	case slotPendingDeath:
		return "pending_death"
	case slotResurrected:
		return "resurrected"
	default:
		return "unknown"
	}
}

// taskSlot is the arena entry for one engine task. It outlives the caller's
// wrapper until the engine frees the task, and outlives the engine task
// until the caller lets go of the wrapper. All fields are guarded by the
// owning client's mutex.
type taskSlot struct {
	id    uint64
	state slotState

	// ref is nil once the engine has freed the task; snapshot then holds
	// what the caller can still read.
	ref      engine.TaskRef
	snapshot *taskSnapshot

	wrapper weak.Pointer[Task]
	cleanup runtime.Cleanup

	workload []byte
	context  any
	released bool
}

// taskFields is the read-only view shared by a live engine task and a
// snapshot of a freed one.
type taskFields interface {
	FunctionName() string
	Unique() string
	JobHandle() string
	IsKnown() bool
	IsRunning() bool
	Numerator() uint32
	Denominator() uint32
	Data() []byte
	DataSize() int
	TakeData() []byte
	ReturnCode() engine.Status
}

func (s *taskSlot) fields() taskFields {
	if s.ref != nil {
		return s.ref
	}
	return s.snapshot
}

type taskSnapshot struct {
	functionName string
	unique       string
	jobHandle    string
	known        bool
	running      bool
	numerator    uint32
	denominator  uint32
	data         []byte
	ret          engine.Status
}

func takeSnapshot(ref engine.TaskRef) *taskSnapshot {
	return &taskSnapshot{
		functionName: ref.FunctionName(),
		unique:       ref.Unique(),
		jobHandle:    ref.JobHandle(),
		known:        ref.IsKnown(),
		running:      ref.IsRunning(),
		numerator:    ref.Numerator(),
		denominator:  ref.Denominator(),
		data:         ref.TakeData(),
		ret:          ref.ReturnCode(),
	}
}

func (s *taskSnapshot) FunctionName() string      { return s.functionName }
func (s *taskSnapshot) Unique() string            { return s.unique }
func (s *taskSnapshot) JobHandle() string         { return s.jobHandle }
func (s *taskSnapshot) IsKnown() bool             { return s.known }
func (s *taskSnapshot) IsRunning() bool           { return s.running }
func (s *taskSnapshot) Numerator() uint32         { return s.numerator }
func (s *taskSnapshot) Denominator() uint32       { return s.denominator }
func (s *taskSnapshot) Data() []byte              { return s.data }
func (s *taskSnapshot) DataSize() int             { return len(s.data) }
func (s *taskSnapshot) ReturnCode() engine.Status { return s.ret }

func (s *taskSnapshot) TakeData() []byte {
	data := s.data
	s.data = nil
	return data
}

// Task is the caller's handle on one engine task. A Task stays readable
// after the engine finishes with the task, until Release is called or the
// Task becomes unreachable.
type Task struct {
	client *Client
	id     uint64

	// slot is nil once the handle is detached. Guarded by client.mu.
	slot *taskSlot
}

// ID returns the engine's id for the task.
func (t *Task) ID() uint64 {
	return t.id
}

// Client returns the client that created the task.
func (t *Task) Client() *Client {
	return t.client
}

func (t *Task) read(fn func(f taskFields)) error {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	if t.slot == nil {
		return ErrNotInitialized
	}
	fn(t.slot.fields())
	return nil
}

// FunctionName returns the function the task was added for.
func (t *Task) FunctionName() (string, error) {
	var v string
	err := t.read(func(f taskFields) { v = f.FunctionName() })
	return v, err
}

// Unique returns the task's unique key.
func (t *Task) Unique() (string, error) {
	var v string
	err := t.read(func(f taskFields) { v = f.Unique() })
	return v, err
}

// JobHandle returns the handle the server assigned on submission.
func (t *Task) JobHandle() (string, error) {
	var v string
	err := t.read(func(f taskFields) { v = f.JobHandle() })
	return v, err
}

// IsKnown reports whether the server knows the job.
func (t *Task) IsKnown() (bool, error) {
	var v bool
	err := t.read(func(f taskFields) { v = f.IsKnown() })
	return v, err
}

// IsRunning reports whether a worker is running the job.
func (t *Task) IsRunning() (bool, error) {
	var v bool
	err := t.read(func(f taskFields) { v = f.IsRunning() })
	return v, err
}

// Numerator returns the numerator of the last progress report.
func (t *Task) Numerator() (uint32, error) {
	var v uint32
	err := t.read(func(f taskFields) { v = f.Numerator() })
	return v, err
}

// Denominator returns the denominator of the last progress report.
func (t *Task) Denominator() (uint32, error) {
	var v uint32
	err := t.read(func(f taskFields) { v = f.Denominator() })
	return v, err
}

// Data returns the payload of the latest event without consuming it.
func (t *Task) Data() ([]byte, error) {
	var v []byte
	err := t.read(func(f taskFields) { v = slices.Clone(f.Data()) })
	return v, err
}

// DataSize returns the length of the latest event payload.
func (t *Task) DataSize() (int, error) {
	var v int
	err := t.read(func(f taskFields) { v = f.DataSize() })
	return v, err
}

// TakeData returns the payload of the latest event and clears it.
func (t *Task) TakeData() ([]byte, error) {
	var v []byte
	err := t.read(func(f taskFields) { v = f.TakeData() })
	return v, err
}

// ReturnCode returns the task's final status.
func (t *Task) ReturnCode() (engine.Status, error) {
	var v engine.Status
	err := t.read(func(f taskFields) { v = f.ReturnCode() })
	return v, err
}

// Workload returns the workload the task was added with.
func (t *Task) Workload() ([]byte, error) {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	if t.slot == nil {
		return nil, ErrNotInitialized
	}
	return slices.Clone(t.slot.workload), nil
}

// Context returns the application value attached to the task.
func (t *Task) Context() (any, error) {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	if t.slot == nil {
		return nil, ErrNotInitialized
	}
	return t.slot.context, nil
}

// SetContext attaches an application value to the task.
func (t *Task) SetContext(v any) error {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	if t.slot == nil {
		return ErrNotInitialized
	}
	t.slot.context = v
	return nil
}

// write runs fn against the live engine task. It fails with
// ErrNotInitialized when the handle is detached or the engine already
// freed the task.
func (t *Task) write(fn func(ref engine.TaskRef)) error {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	if t.slot == nil || t.slot.ref == nil {
		return ErrNotInitialized
	}
	fn(t.slot.ref)
	return nil
}

// SendData appends to the workload of a task that has not been submitted.
func (t *Task) SendData(data []byte) (int, engine.Status, error) {
	var n int
	var status engine.Status
	if err := t.write(func(ref engine.TaskRef) { n, status = ref.SendData(data) }); err != nil {
		return 0, engine.StatusInvalidArgument, err
	}
	return n, status, checkStatus(t.client.logger, "send data", status, t.client.conn.Error())
}

// RecvData consumes up to size bytes of the task's data. It returns
// StatusIOWait without an error when no data is buffered.
func (t *Task) RecvData(size int) ([]byte, engine.Status, error) {
	var data []byte
	var status engine.Status
	if err := t.write(func(ref engine.TaskRef) { data, status = ref.RecvData(size) }); err != nil {
		return nil, engine.StatusInvalidArgument, err
	}
	return data, status, checkStatus(t.client.logger, "recv data", status, t.client.conn.Error())
}

// Release gives up the caller's hold on the task. It is safe to call more
// than once. If the engine still holds the task, its buffers are kept until
// the engine frees it.
func (t *Task) Release() {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()

	slot := t.slot
	if slot == nil {
		return
	}
	t.slot = nil
	if slot.state != slotLive {
		return
	}
	slot.cleanup.Stop()
	t.client.abandonLocked(slot)
}

// track creates the arena slot for a new engine task and returns the
// caller's wrapper for it.
func (c *Client) track(ref engine.TaskRef, workload []byte, ctx any) *Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot := &taskSlot{
		id:       ref.ID(),
		state:    slotLive,
		ref:      ref,
		workload: slices.Clone(workload),
		context:  ctx,
	}
	t := &Task{client: c, id: slot.id, slot: slot}
	slot.wrapper = weak.Make(t)
	slot.cleanup = runtime.AddCleanup(t, c.collect, slot.id)
	c.tasks[slot.id] = slot
	return t
}

// collect runs after a wrapper became unreachable without Release.
func (c *Client) collect(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.tasks[id]
	if !ok || slot.state != slotLive {
		return
	}
	c.logger.Debug("Task collected", "task_id", id)
	c.abandonLocked(slot)
}

// abandonLocked records that the caller no longer holds the slot's wrapper.
func (c *Client) abandonLocked(slot *taskSlot) {
	slot.wrapper = weak.Pointer[Task]{}
	if slot.ref == nil {
		c.releaseLocked(slot)
		return
	}
	slot.state = slotPendingDeath
}

// releaseLocked frees the slot's buffers and drops it from the arena. The
// buffers are released at most once.
func (c *Client) releaseLocked(slot *taskSlot) {
	delete(c.tasks, slot.id)
	slot.ref = nil
	if slot.released {
		return
	}
	slot.released = true
	slot.workload = nil
	slot.snapshot = nil
	slot.context = nil
	c.buffersReleased++
	c.metrics.BuffersReleased()
}

// taskFreed is the engine's task free notifier. It runs exactly once per
// engine task.
func (c *Client) taskFreed(ref engine.TaskRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.tasks[ref.ID()]
	if !ok {
		return
	}
	switch slot.state {
	case slotPendingDeath:
		c.releaseLocked(slot)
	case slotLive:
		if slot.wrapper.Value() == nil {
			slot.cleanup.Stop()
			c.releaseLocked(slot)
			return
		}
		slot.snapshot = takeSnapshot(ref)
		slot.ref = nil
	case slotResurrected:
		slot.snapshot = takeSnapshot(ref)
		slot.ref = nil
	}
}

// resolve finds the handle an event should be delivered through. For a
// task the caller already let go of, it builds a transient wrapper and
// reports resurrected; the caller must bury it after delivery.
func (c *Client) resolve(ref engine.TaskRef) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.tasks[ref.ID()]
	if !ok || slot.ref == nil {
		return nil, false
	}

	if slot.state == slotLive {
		if t := slot.wrapper.Value(); t != nil {
			return t, false
		}
		// Unreachable but not yet collected.
		slot.cleanup.Stop()
		c.abandonLocked(slot)
	}
	if slot.state != slotPendingDeath {
		return nil, false
	}

	slot.state = slotResurrected
	c.metrics.TaskResurrected()
	c.logger.Debug("Task resurrected", "task_id", slot.id)
	return &Task{client: c, id: slot.id, slot: slot}, true
}

// bury detaches a transient wrapper once its event has been delivered.
func (c *Client) bury(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t.slot = nil
	slot, ok := c.tasks[t.id]
	if !ok || slot.state != slotResurrected {
		return
	}
	if slot.ref == nil {
		c.releaseLocked(slot)
		return
	}
	slot.state = slotPendingDeath
}
