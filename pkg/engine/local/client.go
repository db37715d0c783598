package local

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/gearlink/pkg/engine"
)

type taskKind int

const (
	taskBare taskKind = iota
	taskSubmit
	taskStatusPoll
)

type taskState int

const (
	taskStateIdle taskState = iota
	taskStateNew
	taskStateSubmitted
	taskStateFinished
)

// task is the engine-side task. Its fields are only touched by the owning
// client's event loop and by the binding through TaskRef.
type task struct {
	conn *clientConn
	id   uint64
	kind taskKind

	mu            sync.Mutex
	state         taskState
	priority      engine.Priority
	background    bool
	function      string
	unique        string
	workload      []byte
	workloadAsked bool
	handle        string
	known         bool
	running       bool
	numerator     uint32
	denominator   uint32
	data          []byte
	ret           engine.Status
	freed         bool
}

type clientConn struct {
	conn

	mu          sync.Mutex
	closed      bool
	timeout     time.Duration
	nonBlocking bool
	callbacks   [engine.NumEventKinds]engine.TaskFunc
	freeFn      func(engine.TaskRef)
	tasks       map[uint64]*task
	queue       []*task
	inFlight    int
	inbox       *mailbox
	do          *doJob
}

// doJob is the job of the most recent Do call.
type doJob struct {
	box         *mailbox
	handle      string
	numerator   uint32
	denominator uint32
	finished    bool
}

func newClientConn(e *Engine) *clientConn {
	return &clientConn{
		conn:  conn{engine: e},
		tasks: make(map[uint64]*task),
		inbox: newMailbox(),
	}
}

func (c *clientConn) AddServer(host string, port int) engine.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addServer(host, port)
}

func (c *clientConn) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

func (c *clientConn) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

func (c *clientConn) SetNonBlocking(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonBlocking = enabled
}

func (c *clientConn) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *clientConn) fail(status engine.Status, msg string) engine.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = msg
	return status
}

func (c *clientConn) newTask(kind taskKind) *task {
	return &task{
		conn: c,
		id:   c.engine.nextTaskID.Add(1),
		kind: kind,
		ret:  engine.StatusSuccess,
	}
}

func (c *clientConn) CreateTask() (engine.TaskRef, engine.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.lastErr = "client is closed"
		return nil, engine.StatusNotConnected
	}
	t := c.newTask(taskBare)
	c.tasks[t.id] = t
	return t, engine.StatusSuccess
}

func (c *clientConn) AddTask(
	priority engine.Priority,
	background bool,
	function, unique string,
	workload []byte,
) (engine.TaskRef, engine.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.lastErr = "client is closed"
		return nil, engine.StatusNotConnected
	}
	if function == "" {
		c.lastErr = "function name is empty"
		return nil, engine.StatusInvalidFunctionName
	}
	if unique == "" {
		unique = uuid.NewString()
	}

	t := c.newTask(taskSubmit)
	t.state = taskStateNew
	t.priority = priority
	t.background = background
	t.function = function
	t.unique = unique
	if workload != nil {
		t.workload = slices.Clone(workload)
	}
	c.tasks[t.id] = t
	c.queue = append(c.queue, t)
	return t, engine.StatusSuccess
}

func (c *clientConn) AddTaskStatus(jobHandle string) (engine.TaskRef, engine.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.lastErr = "client is closed"
		return nil, engine.StatusNotConnected
	}
	if jobHandle == "" {
		c.lastErr = "job handle is empty"
		return nil, engine.StatusInvalidArgument
	}

	t := c.newTask(taskStatusPoll)
	t.state = taskStateNew
	t.handle = jobHandle
	c.tasks[t.id] = t
	c.queue = append(c.queue, t)
	return t, engine.StatusSuccess
}

func (c *clientConn) SetEventCallback(kind engine.EventKind, fn engine.TaskFunc) {
	if kind < 0 || int(kind) >= engine.NumEventKinds {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[kind] = fn
}

func (c *clientConn) ClearCallbacks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = [engine.NumEventKinds]engine.TaskFunc{}
}

func (c *clientConn) SetTaskFreeNotifier(fn func(engine.TaskRef)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freeFn = fn
}

// fire invokes the callback registered for kind, if any, outside the lock.
func (c *clientConn) fire(kind engine.EventKind, t *task) engine.Status {
	c.mu.Lock()
	fn := c.callbacks[kind]
	c.mu.Unlock()
	if fn == nil {
		return engine.StatusSuccess
	}
	return fn(t)
}

// finish hands the task back to the binding. The engine never touches the
// task again after this.
func (c *clientConn) finish(t *task) {
	t.mu.Lock()
	wasSubmitted := t.state == taskStateSubmitted && !t.background
	t.state = taskStateFinished
	t.running = false
	t.mu.Unlock()

	c.mu.Lock()
	if _, ok := c.tasks[t.id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.tasks, t.id)
	if wasSubmitted {
		c.inFlight--
	}
	freeFn := c.freeFn
	c.mu.Unlock()

	if freeFn != nil {
		freeFn(t)
	}

	t.mu.Lock()
	t.freed = true
	t.mu.Unlock()
	c.engine.tasksFreed.Add(1)
}

func (c *clientConn) nextNew() *task {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) > 0 {
		t := c.queue[0]
		if _, ok := c.tasks[t.id]; ok {
			return t
		}
		c.queue = c.queue[1:]
	}
	return nil
}

func (c *clientConn) popNew() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 {
		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
}

func (c *clientConn) RunTasks() engine.Status {
	c.mu.Lock()
	if c.closed {
		c.lastErr = "client is closed"
		c.mu.Unlock()
		return engine.StatusNotConnected
	}
	srv, status := c.connect()
	timeout, nonBlocking := c.timeout, c.nonBlocking
	c.mu.Unlock()
	if status != engine.StatusSuccess {
		return status
	}

	for t := c.nextNew(); t != nil; t = c.nextNew() {
		if status := c.start(srv, t); status != engine.StatusSuccess {
			return status
		}
	}

	for c.pending() > 0 {
		ev, status := c.inbox.next(timeout, nonBlocking)
		if status == engine.StatusTimeout {
			return c.fail(status, "timed out waiting for work events")
		}
		if status != engine.StatusSuccess {
			return status
		}
		t := c.lookup(ev.taskID)
		if t == nil {
			continue
		}
		if status := c.deliver(t, ev); status != engine.StatusSuccess {
			return status
		}
	}
	return engine.StatusSuccess
}

func (c *clientConn) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *clientConn) lookup(id uint64) *task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tasks[id]
}

// start submits a new task. State changes happen before callbacks fire, so
// a callback that pauses the loop never causes a task to be started twice.
func (c *clientConn) start(srv *server, t *task) engine.Status {
	switch t.kind {
	case taskStatusPoll:
		c.popNew()
		st := srv.statuses.Get(t.handle)
		t.mu.Lock()
		t.state = taskStateSubmitted
		t.known = st.Known
		t.running = st.Running
		t.numerator = st.Numerator
		t.denominator = st.Denominator
		t.mu.Unlock()
		status := c.fire(engine.EventStatus, t)
		c.finish(t)
		return status

	case taskSubmit:
		t.mu.Lock()
		askWorkload := t.workload == nil && !t.workloadAsked
		t.workloadAsked = true
		t.mu.Unlock()
		if askWorkload {
			if status := c.fire(engine.EventWorkload, t); status != engine.StatusSuccess {
				return status
			}
		}

		c.popNew()
		t.mu.Lock()
		job := &serverJob{
			function:   t.function,
			unique:     t.unique,
			workload:   slices.Clone(t.workload),
			priority:   t.priority,
			background: t.background,
		}
		if !t.background {
			job.taskID = t.id
			job.replyTo = c.inbox
		}
		t.mu.Unlock()

		handle, err := srv.submit(job)
		if err != nil {
			c.finish(t)
			return c.fail(engine.StatusQueueError, err.Error())
		}

		t.mu.Lock()
		t.handle = handle
		t.known = true
		t.state = taskStateSubmitted
		t.mu.Unlock()
		if !t.background {
			c.mu.Lock()
			c.inFlight++
			c.mu.Unlock()
		}

		status := c.fire(engine.EventCreated, t)
		if t.background {
			c.finish(t)
		}
		return status
	}

	c.popNew()
	return engine.StatusSuccess
}

func (c *clientConn) deliver(t *task, ev workEvent) engine.Status {
	t.mu.Lock()
	var kind engine.EventKind
	terminal := false
	switch ev.kind {
	case eventData:
		kind = engine.EventData
		t.data = ev.payload
	case eventWarning:
		kind = engine.EventWarning
		t.data = ev.payload
	case eventStatus:
		kind = engine.EventStatus
		t.running = true
		t.numerator = ev.numerator
		t.denominator = ev.denominator
	case eventException:
		kind = engine.EventException
		t.data = ev.payload
	case eventComplete:
		kind = engine.EventComplete
		t.data = ev.payload
		t.ret = engine.StatusSuccess
		terminal = true
	case eventFail:
		kind = engine.EventFail
		t.data = nil
		t.ret = engine.StatusWorkFail
		terminal = true
	}
	t.mu.Unlock()

	status := c.fire(kind, t)
	if terminal {
		c.finish(t)
	}
	return status
}

// Do runs one job and waits for its next report. A data, warning, status
// or exception report ends the call early with the matching informational
// status, and the next Do call resumes the same job without submitting a
// new one.
func (c *clientConn) Do(priority engine.Priority, function, unique string, workload []byte) ([]byte, engine.Status) {
	c.mu.Lock()
	srv, status := c.connect()
	timeout := c.timeout
	job := c.do
	c.mu.Unlock()
	if status != engine.StatusSuccess {
		return nil, status
	}

	if job == nil || job.finished {
		if function == "" {
			return nil, c.fail(engine.StatusInvalidFunctionName, "function name is empty")
		}
		if unique == "" {
			unique = uuid.NewString()
		}
		box := newMailbox()
		handle, err := srv.submit(&serverJob{
			function: function,
			unique:   unique,
			workload: slices.Clone(workload),
			priority: priority,
			replyTo:  box,
		})
		if err != nil {
			return nil, c.fail(engine.StatusQueueError, err.Error())
		}
		job = &doJob{box: box, handle: handle}
		c.mu.Lock()
		c.do = job
		c.mu.Unlock()
	}

	ev, status := job.box.next(timeout, false)
	if status == engine.StatusTimeout {
		return nil, c.fail(status, "timed out waiting for job result")
	}
	if status != engine.StatusSuccess {
		return nil, status
	}

	switch ev.kind {
	case eventData:
		return ev.payload, engine.StatusWorkData
	case eventWarning:
		return ev.payload, engine.StatusWorkWarning
	case eventException:
		return ev.payload, engine.StatusWorkException
	case eventStatus:
		c.mu.Lock()
		job.numerator, job.denominator = ev.numerator, ev.denominator
		c.mu.Unlock()
		return nil, engine.StatusWorkStatus
	case eventComplete:
		c.finishDo(job)
		return ev.payload, engine.StatusSuccess
	case eventFail:
		c.finishDo(job)
		return nil, engine.StatusWorkFail
	}
	return nil, c.fail(engine.StatusUnknownState, "unknown work event")
}

func (c *clientConn) finishDo(job *doJob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job.finished = true
}

// DoStatus returns the progress last reported for the current or most
// recent Do job.
func (c *clientConn) DoStatus() (uint32, uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.do == nil {
		return 0, 0
	}
	return c.do.numerator, c.do.denominator
}

// DoJobHandle returns the handle of the current or most recent Do job.
func (c *clientConn) DoJobHandle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.do == nil {
		return ""
	}
	return c.do.handle
}

func (c *clientConn) DoBackground(priority engine.Priority, function, unique string, workload []byte) (string, engine.Status) {
	c.mu.Lock()
	srv, status := c.connect()
	c.mu.Unlock()
	if status != engine.StatusSuccess {
		return "", status
	}
	if function == "" {
		return "", c.fail(engine.StatusInvalidFunctionName, "function name is empty")
	}
	if unique == "" {
		unique = uuid.NewString()
	}

	handle, err := srv.submit(&serverJob{
		function:   function,
		unique:     unique,
		workload:   slices.Clone(workload),
		priority:   priority,
		background: true,
	})
	if err != nil {
		return "", c.fail(engine.StatusQueueError, err.Error())
	}
	return handle, engine.StatusSuccess
}

func (c *clientConn) JobStatus(jobHandle string) (engine.JobStatus, engine.Status) {
	c.mu.Lock()
	srv, status := c.connect()
	c.mu.Unlock()
	if status != engine.StatusSuccess {
		return engine.JobStatus{}, status
	}
	return srv.statuses.Get(jobHandle), engine.StatusSuccess
}

func (c *clientConn) Echo(data []byte) engine.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, status := c.connect()
	return status
}

// Close frees every task the engine still holds.
func (c *clientConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	remaining := make([]*task, 0, len(c.tasks))
	for _, t := range c.tasks {
		remaining = append(remaining, t)
	}
	c.queue = nil
	c.mu.Unlock()

	slices.SortFunc(remaining, func(a, b *task) int {
		return cmp.Compare(a.id, b.id)
	})
	for _, t := range remaining {
		c.finish(t)
	}

	c.mu.Lock()
	c.callbacks = [engine.NumEventKinds]engine.TaskFunc{}
	c.freeFn = nil
	c.mu.Unlock()
}

// touch records an access through a task the engine already freed.
func (t *task) touch() {
	if t.freed {
		t.conn.engine.staleAccesses.Add(1)
	}
}

func (t *task) ID() uint64 {
	return t.id
}

func (t *task) FunctionName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	return t.function
}

func (t *task) Unique() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	return t.unique
}

func (t *task) JobHandle() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	return t.handle
}

func (t *task) IsKnown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	return t.known
}

func (t *task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	return t.running
}

func (t *task) Numerator() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	return t.numerator
}

func (t *task) Denominator() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	return t.denominator
}

func (t *task) Data() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	return t.data
}

func (t *task) DataSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	return len(t.data)
}

func (t *task) TakeData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	data := t.data
	t.data = nil
	return data
}

// SendData streams workload for a task that has not been submitted yet.
func (t *task) SendData(data []byte) (int, engine.Status) {
	t.mu.Lock()
	t.touch()
	if t.state != taskStateNew && t.state != taskStateIdle {
		t.mu.Unlock()
		return 0, t.conn.fail(engine.StatusInvalidArgument, "task workload already submitted")
	}
	t.workload = append(t.workload, data...)
	t.mu.Unlock()
	return len(data), engine.StatusSuccess
}

// RecvData consumes up to size bytes of the task's data buffer.
func (t *task) RecvData(size int) ([]byte, engine.Status) {
	t.mu.Lock()
	t.touch()
	if size <= 0 {
		t.mu.Unlock()
		return nil, t.conn.fail(engine.StatusInvalidArgument, "buffer size must be positive")
	}
	if len(t.data) == 0 {
		t.mu.Unlock()
		return nil, engine.StatusIOWait
	}
	n := min(size, len(t.data))
	chunk := slices.Clone(t.data[:n])
	t.data = t.data[n:]
	t.mu.Unlock()
	return chunk, engine.StatusSuccess
}

func (t *task) ReturnCode() engine.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	return t.ret
}
