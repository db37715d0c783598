package gearlink

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nemanja-m/gearlink/internal/metrics"
	"github.com/nemanja-m/gearlink/internal/shared/logging"
	"github.com/nemanja-m/gearlink/pkg/engine"
)

// Client submits tasks to the queue engine and dispatches task events to
// registered callbacks. Events are delivered on the goroutine that calls
// RunTasks.
type Client struct {
	conn    engine.ClientConn
	logger  logging.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	closed    bool
	callbacks [engine.NumEventKinds]taskCallback
	installed [engine.NumEventKinds]bool
	tasks     map[uint64]*taskSlot
	context   any
	ret       engine.Status

	// dispatching counts the callbacks running on each goroutine. idle is
	// signalled whenever one returns.
	dispatching map[uint64]int
	idle        *sync.Cond

	buffersReleased int
}

// NewClient allocates a client connection on eng.
func NewClient(eng engine.Engine, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	m, err := newMetrics(o)
	if err != nil {
		return nil, err
	}

	conn, err := eng.NewClient()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	if conn == nil {
		return nil, ErrAllocation
	}

	c := &Client{
		conn:        conn,
		logger:      o.logger,
		metrics:     m,
		tasks:       make(map[uint64]*taskSlot),
		ret:         engine.StatusSuccess,
		dispatching: make(map[uint64]int),
	}
	c.idle = sync.NewCond(&c.mu)
	conn.SetTaskFreeNotifier(c.taskFreed)
	return c, nil
}

func newMetrics(o *options) (*metrics.Metrics, error) {
	if o.registerer == nil {
		return nil, nil
	}
	m, err := metrics.New(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("gearlink: register metrics: %w", err)
	}
	return m, nil
}

// check records status as the client's return code and converts an error
// status into an *EngineError.
func (c *Client) check(op string, status engine.Status) error {
	c.mu.Lock()
	c.ret = status
	c.mu.Unlock()
	return checkStatus(c.logger, op, status, c.conn.Error())
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// AddServer adds one job server.
func (c *Client) AddServer(host string, port int) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.check("add server", c.conn.AddServer(host, port))
}

// AddServers adds every server of a comma separated "host:port" list.
func (c *Client) AddServers(list string) error {
	servers, err := parseServers(list)
	if err != nil {
		return err
	}
	for _, s := range servers {
		if err := c.AddServer(s.host, s.port); err != nil {
			return err
		}
	}
	return nil
}

// SetTimeout bounds how long RunTasks and Do wait for an event. Zero waits
// forever.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.conn.SetTimeout(timeout)
}

// Timeout returns the current event wait timeout.
func (c *Client) Timeout() time.Duration {
	return c.conn.Timeout()
}

// SetNonBlocking makes RunTasks return StatusIOWait instead of waiting for
// events.
func (c *Client) SetNonBlocking(enabled bool) {
	c.conn.SetNonBlocking(enabled)
}

// ReturnCode returns the status of the last engine operation.
func (c *Client) ReturnCode() engine.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ret
}

// Error returns the engine's description of the last failure.
func (c *Client) Error() string {
	return c.conn.Error()
}

// Context returns the application value attached to the client.
func (c *Client) Context() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.context
}

// SetContext attaches an application value to the client.
func (c *Client) SetContext(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.context = v
}

// Tasks returns the tasks whose handles the caller still holds, in
// creation order.
func (c *Client) Tasks() []*Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	tasks := make([]*Task, 0, len(c.tasks))
	for _, slot := range c.tasks {
		if slot.state != slotLive {
			continue
		}
		if t := slot.wrapper.Value(); t != nil {
			tasks = append(tasks, t)
		}
	}
	slices.SortFunc(tasks, func(a, b *Task) int {
		return cmp.Compare(a.id, b.id)
	})
	return tasks
}

// CreateTask allocates an empty task bound to the client.
func (c *Client) CreateTask() (*Task, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	ref, status := c.conn.CreateTask()
	if status != engine.StatusSuccess || ref == nil {
		c.check("create task", status)
		return nil, ErrAllocation
	}
	return c.track(ref, nil, nil), nil
}

// AddTask queues a foreground task at normal priority. It is submitted by
// the next RunTasks.
func (c *Client) AddTask(function string, workload []byte, opts ...TaskOption) (*Task, error) {
	return c.addTask(engine.PriorityNormal, false, function, workload, opts)
}

// AddTaskHigh queues a foreground task at high priority.
func (c *Client) AddTaskHigh(function string, workload []byte, opts ...TaskOption) (*Task, error) {
	return c.addTask(engine.PriorityHigh, false, function, workload, opts)
}

// AddTaskLow queues a foreground task at low priority.
func (c *Client) AddTaskLow(function string, workload []byte, opts ...TaskOption) (*Task, error) {
	return c.addTask(engine.PriorityLow, false, function, workload, opts)
}

// AddTaskBackground queues a background task at normal priority. Only the
// created event is raised for it.
func (c *Client) AddTaskBackground(function string, workload []byte, opts ...TaskOption) (*Task, error) {
	return c.addTask(engine.PriorityNormal, true, function, workload, opts)
}

// AddTaskHighBackground queues a background task at high priority.
func (c *Client) AddTaskHighBackground(function string, workload []byte, opts ...TaskOption) (*Task, error) {
	return c.addTask(engine.PriorityHigh, true, function, workload, opts)
}

// AddTaskLowBackground queues a background task at low priority.
func (c *Client) AddTaskLowBackground(function string, workload []byte, opts ...TaskOption) (*Task, error) {
	return c.addTask(engine.PriorityLow, true, function, workload, opts)
}

func (c *Client) addTask(
	priority engine.Priority,
	background bool,
	function string,
	workload []byte,
	opts []TaskOption,
) (*Task, error) {
	var o taskOptions
	for _, opt := range opts {
		opt(&o)
	}
	if c.isClosed() {
		return nil, ErrClosed
	}

	ref, status := c.conn.AddTask(priority, background, function, o.unique, workload)
	if err := c.taskAdded("add task", ref, status); err != nil {
		return nil, err
	}
	return c.track(ref, workload, o.context), nil
}

// AddTaskStatus adds a task that polls the status of a submitted job when
// the tasks are run.
func (c *Client) AddTaskStatus(jobHandle string, opts ...TaskOption) (*Task, error) {
	var o taskOptions
	for _, opt := range opts {
		opt(&o)
	}
	if c.isClosed() {
		return nil, ErrClosed
	}

	ref, status := c.conn.AddTaskStatus(jobHandle)
	if err := c.taskAdded("add task status", ref, status); err != nil {
		return nil, err
	}
	return c.track(ref, nil, o.context), nil
}

func (c *Client) taskAdded(op string, ref engine.TaskRef, status engine.Status) error {
	if status == engine.StatusMemoryAllocationFailure {
		c.check(op, status)
		return ErrAllocation
	}
	if err := c.check(op, status); err != nil {
		return err
	}
	if ref == nil {
		return ErrAllocation
	}
	return nil
}

// SetEventCallback registers fn for every event of kind, replacing any
// previous callback. Accepted shapes are func(*Task), func(*Task) error,
// func(*Task) engine.Status and TaskHandler. It returns once callbacks
// running on other goroutines have finished, so the replaced callable is
// not invoked afterwards.
func (c *Client) SetEventCallback(kind engine.EventKind, fn any) error {
	if kind < 0 || int(kind) >= engine.NumEventKinds {
		return fmt.Errorf("gearlink: unknown event kind %d", int(kind))
	}
	cb, err := newTaskCallback(fn)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.callbacks[kind] = cb
	if !c.installed[kind] {
		c.installed[kind] = true
		c.conn.SetEventCallback(kind, c.dispatch(kind))
	}
	c.waitDispatchLocked()
	return nil
}

// SetWorkloadCallback registers fn to run when the engine needs the workload of a task added without one.
func (c *Client) SetWorkloadCallback(fn TaskHandler) error {
	return c.SetEventCallback(engine.EventWorkload, fn)
}

// SetCreatedCallback registers fn to run when a task has been accepted by the server.
func (c *Client) SetCreatedCallback(fn TaskHandler) error {
	return c.SetEventCallback(engine.EventCreated, fn)
}

// SetDataCallback registers fn to run when a worker sends data for a task.
func (c *Client) SetDataCallback(fn TaskHandler) error {
	return c.SetEventCallback(engine.EventData, fn)
}

// SetWarningCallback registers fn to run when a worker sends a warning for a task.
func (c *Client) SetWarningCallback(fn TaskHandler) error {
	return c.SetEventCallback(engine.EventWarning, fn)
}

// SetStatusCallback registers fn to run when a worker reports progress, or a status poll answers.
func (c *Client) SetStatusCallback(fn TaskHandler) error {
	return c.SetEventCallback(engine.EventStatus, fn)
}

// SetCompleteCallback registers fn to run when a task completes.
func (c *Client) SetCompleteCallback(fn TaskHandler) error {
	return c.SetEventCallback(engine.EventComplete, fn)
}

// SetExceptionCallback registers fn to run when a worker raises an exception.
func (c *Client) SetExceptionCallback(fn TaskHandler) error {
	return c.SetEventCallback(engine.EventException, fn)
}

// SetFailCallback registers fn to run when a task fails.
func (c *Client) SetFailCallback(fn TaskHandler) error {
	return c.SetEventCallback(engine.EventFail, fn)
}

// ClearCallbacks drops every event callback. It waits for callbacks
// running on other goroutines, so no callable runs after it returns. Called
// from inside a callback it does not wait for that callback.
func (c *Client) ClearCallbacks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = [engine.NumEventKinds]taskCallback{}
	c.installed = [engine.NumEventKinds]bool{}
	c.conn.ClearCallbacks()
	c.waitDispatchLocked()
}

// waitDispatchLocked waits until no callback runs on another goroutine.
// c.mu must be held.
func (c *Client) waitDispatchLocked() {
	self := goroutineID()
	for len(c.dispatching) > 0 {
		if len(c.dispatching) == 1 && c.dispatching[self] > 0 {
			return
		}
		c.idle.Wait()
	}
}

// beginDispatch returns the callback for kind and marks it as running on
// goroutine gid, or returns nil when none is registered.
func (c *Client) beginDispatch(kind engine.EventKind, gid uint64) taskCallback {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb := c.callbacks[kind]
	if cb != nil {
		c.dispatching[gid]++
	}
	return cb
}

func (c *Client) endDispatch(gid uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatching[gid]--
	if c.dispatching[gid] <= 0 {
		delete(c.dispatching, gid)
	}
	c.idle.Broadcast()
}

// RunTasks drives the engine until every added task has finished, a
// callback pauses the loop, or the engine reports a failure. Informational
// statuses such as StatusIOWait and StatusPause are returned without an
// error.
func (c *Client) RunTasks() (engine.Status, error) {
	if c.isClosed() {
		return engine.StatusNotConnected, ErrClosed
	}
	status := c.conn.RunTasks()
	return status, c.check("run tasks", status)
}

// Do runs one job and returns its result with StatusSuccess, or
// StatusWorkFail. When the worker sends data, a warning or an exception
// first, Do returns that payload early with StatusWorkData,
// StatusWorkWarning or StatusWorkException; a progress report returns
// StatusWorkStatus and is read with DoStatus. Calling Do again resumes the
// same job. Task event callbacks are not invoked.
func (c *Client) Do(function string, workload []byte, opts ...TaskOption) ([]byte, engine.Status, error) {
	return c.do(engine.PriorityNormal, function, workload, opts)
}

// DoHigh is Do at high priority.
func (c *Client) DoHigh(function string, workload []byte, opts ...TaskOption) ([]byte, engine.Status, error) {
	return c.do(engine.PriorityHigh, function, workload, opts)
}

// DoLow is Do at low priority.
func (c *Client) DoLow(function string, workload []byte, opts ...TaskOption) ([]byte, engine.Status, error) {
	return c.do(engine.PriorityLow, function, workload, opts)
}

func (c *Client) do(priority engine.Priority, function string, workload []byte, opts []TaskOption) ([]byte, engine.Status, error) {
	var o taskOptions
	for _, opt := range opts {
		opt(&o)
	}
	if c.isClosed() {
		return nil, engine.StatusNotConnected, ErrClosed
	}
	result, status := c.conn.Do(priority, function, o.unique, workload)
	return result, status, c.check("do", status)
}

// DoStatus returns the progress last reported for the current or most
// recent Do job.
func (c *Client) DoStatus() (numerator, denominator uint32) {
	return c.conn.DoStatus()
}

// DoJobHandle returns the handle of the current or most recent Do job.
func (c *Client) DoJobHandle() string {
	return c.conn.DoJobHandle()
}

// DoBackground submits one job without waiting for it and returns its
// handle.
func (c *Client) DoBackground(function string, workload []byte, opts ...TaskOption) (string, error) {
	return c.doBackground(engine.PriorityNormal, function, workload, opts)
}

// DoHighBackground is DoBackground at high priority.
func (c *Client) DoHighBackground(function string, workload []byte, opts ...TaskOption) (string, error) {
	return c.doBackground(engine.PriorityHigh, function, workload, opts)
}

// DoLowBackground is DoBackground at low priority.
func (c *Client) DoLowBackground(function string, workload []byte, opts ...TaskOption) (string, error) {
	return c.doBackground(engine.PriorityLow, function, workload, opts)
}

func (c *Client) doBackground(priority engine.Priority, function string, workload []byte, opts []TaskOption) (string, error) {
	var o taskOptions
	for _, opt := range opts {
		opt(&o)
	}
	if c.isClosed() {
		return "", ErrClosed
	}
	handle, status := c.conn.DoBackground(priority, function, o.unique, workload)
	if err := c.check("do background", status); err != nil {
		return "", err
	}
	return handle, nil
}

// JobStatus asks the server for the status of a submitted job.
func (c *Client) JobStatus(jobHandle string) (engine.JobStatus, error) {
	if c.isClosed() {
		return engine.JobStatus{}, ErrClosed
	}
	st, status := c.conn.JobStatus(jobHandle)
	if err := c.check("job status", status); err != nil {
		return engine.JobStatus{}, err
	}
	return st, nil
}

// Echo checks the connection to the job servers.
func (c *Client) Echo(data []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.check("echo", c.conn.Echo(data))
}

// Close closes the engine connection and drops every callback. Handles the
// caller still holds stay readable until released.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.callbacks = [engine.NumEventKinds]taskCallback{}
	c.installed = [engine.NumEventKinds]bool{}
	c.waitDispatchLocked()
	c.mu.Unlock()

	c.conn.Close()
	return nil
}
