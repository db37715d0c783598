package gearlink

import (
	"errors"
	"time"

	"github.com/nemanja-m/gearlink/pkg/engine"
)

// fakeEngine is a scripted engine: tests raise events and task frees
// directly instead of running a server.
type fakeEngine struct {
	client    *fakeClient
	worker    *fakeWorker
	failAlloc bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		client: &fakeClient{tasks: make(map[uint64]*fakeTask), runStatus: engine.StatusSuccess},
		worker: &fakeWorker{functions: make(map[string]engine.WorkerFunc)},
	}
}

func (e *fakeEngine) NewClient() (engine.ClientConn, error) {
	if e.failAlloc {
		return nil, errors.New("out of memory")
	}
	return e.client, nil
}

func (e *fakeEngine) NewWorker() (engine.WorkerConn, error) {
	if e.failAlloc {
		return nil, errors.New("out of memory")
	}
	return e.worker, nil
}

type fakeTask struct {
	client   *fakeClient
	id       uint64
	function string
	unique   string
	handle   string
	workload []byte
	data     []byte
	ret      engine.Status
	freed    bool
}

func (t *fakeTask) touch() {
	if t.freed {
		t.client.staleAccesses++
	}
}

func (t *fakeTask) ID() uint64                { return t.id }
func (t *fakeTask) FunctionName() string      { t.touch(); return t.function }
func (t *fakeTask) Unique() string            { t.touch(); return t.unique }
func (t *fakeTask) JobHandle() string         { t.touch(); return t.handle }
func (t *fakeTask) IsKnown() bool             { t.touch(); return t.handle != "" }
func (t *fakeTask) IsRunning() bool           { t.touch(); return false }
func (t *fakeTask) Numerator() uint32         { t.touch(); return 0 }
func (t *fakeTask) Denominator() uint32       { t.touch(); return 0 }
func (t *fakeTask) Data() []byte              { t.touch(); return t.data }
func (t *fakeTask) DataSize() int             { t.touch(); return len(t.data) }
func (t *fakeTask) ReturnCode() engine.Status { t.touch(); return t.ret }

func (t *fakeTask) TakeData() []byte {
	t.touch()
	data := t.data
	t.data = nil
	return data
}

func (t *fakeTask) SendData(data []byte) (int, engine.Status) {
	t.touch()
	t.workload = append(t.workload, data...)
	return len(data), engine.StatusSuccess
}

func (t *fakeTask) RecvData(size int) ([]byte, engine.Status) {
	t.touch()
	if len(t.data) == 0 {
		return nil, engine.StatusIOWait
	}
	n := min(size, len(t.data))
	chunk := t.data[:n]
	t.data = t.data[n:]
	return chunk, engine.StatusSuccess
}

type fakeClient struct {
	nextID    uint64
	tasks     map[uint64]*fakeTask
	callbacks [engine.NumEventKinds]engine.TaskFunc
	installs  [engine.NumEventKinds]int
	clears    int
	freeFn    func(engine.TaskRef)

	fed           []engine.Status
	allocStatus   engine.Status
	runStatus     engine.Status
	lastErr       string
	staleAccesses int
	closed        bool
	timeout       time.Duration
}

func (c *fakeClient) AddServer(string, int) engine.Status { return engine.StatusSuccess }
func (c *fakeClient) SetTimeout(d time.Duration)         { c.timeout = d }
func (c *fakeClient) Timeout() time.Duration             { return c.timeout }
func (c *fakeClient) SetNonBlocking(bool)                {}
func (c *fakeClient) Error() string                      { return c.lastErr }

func (c *fakeClient) newTask(function, unique string, workload []byte) (engine.TaskRef, engine.Status) {
	if c.allocStatus != engine.StatusSuccess {
		c.lastErr = "allocation failed"
		return nil, c.allocStatus
	}
	c.nextID++
	t := &fakeTask{client: c, id: c.nextID, function: function, unique: unique, workload: workload}
	c.tasks[t.id] = t
	return t, engine.StatusSuccess
}

func (c *fakeClient) CreateTask() (engine.TaskRef, engine.Status) {
	return c.newTask("", "", nil)
}

func (c *fakeClient) AddTask(_ engine.Priority, _ bool, function, unique string, workload []byte) (engine.TaskRef, engine.Status) {
	return c.newTask(function, unique, workload)
}

func (c *fakeClient) AddTaskStatus(handle string) (engine.TaskRef, engine.Status) {
	ref, status := c.newTask("", "", nil)
	if ref != nil {
		ref.(*fakeTask).handle = handle
	}
	return ref, status
}

func (c *fakeClient) RunTasks() engine.Status {
	if c.runStatus != engine.StatusSuccess {
		c.lastErr = "run failed"
	}
	return c.runStatus
}

func (c *fakeClient) SetEventCallback(kind engine.EventKind, fn engine.TaskFunc) {
	c.callbacks[kind] = fn
	c.installs[kind]++
}

func (c *fakeClient) ClearCallbacks() {
	c.callbacks = [engine.NumEventKinds]engine.TaskFunc{}
	c.clears++
}

func (c *fakeClient) SetTaskFreeNotifier(fn func(engine.TaskRef)) {
	c.freeFn = fn
}

func (c *fakeClient) Do(engine.Priority, string, string, []byte) ([]byte, engine.Status) {
	return nil, engine.StatusNoServers
}

func (c *fakeClient) DoStatus() (uint32, uint32) { return 0, 0 }
func (c *fakeClient) DoJobHandle() string        { return "" }

func (c *fakeClient) DoBackground(engine.Priority, string, string, []byte) (string, engine.Status) {
	return "", engine.StatusNoServers
}

func (c *fakeClient) JobStatus(string) (engine.JobStatus, engine.Status) {
	return engine.JobStatus{}, engine.StatusNoServers
}

func (c *fakeClient) Echo([]byte) engine.Status { return engine.StatusSuccess }

func (c *fakeClient) Close() {
	c.closed = true
	for id := range c.tasks {
		c.free(id)
	}
}

// emit raises an event for task id, as the engine would during RunTasks.
func (c *fakeClient) emit(kind engine.EventKind, id uint64, data []byte) engine.Status {
	t := c.tasks[id]
	t.data = data
	fn := c.callbacks[kind]
	if fn == nil {
		return engine.StatusSuccess
	}
	status := fn(t)
	c.fed = append(c.fed, status)
	return status
}

// free hands task id back to the binding for good.
func (c *fakeClient) free(id uint64) {
	t := c.tasks[id]
	delete(c.tasks, id)
	if c.freeFn != nil {
		c.freeFn(t)
	}
	t.freed = true
}

type fakeJob struct {
	handle   string
	function string
	workload []byte

	sent  []string
	freed bool
}

func (j *fakeJob) Handle() string       { return j.handle }
func (j *fakeJob) Unique() string       { return "u-" + j.handle }
func (j *fakeJob) FunctionName() string { return j.function }
func (j *fakeJob) Workload() []byte     { return j.workload }
func (j *fakeJob) Free()                { j.freed = true }

func (j *fakeJob) record(event string) engine.Status {
	if j.freed {
		return engine.StatusUnknownState
	}
	j.sent = append(j.sent, event)
	return engine.StatusSuccess
}

func (j *fakeJob) SendData(data []byte) engine.Status  { return j.record("data:" + string(data)) }
func (j *fakeJob) SendWarning(w []byte) engine.Status  { return j.record("warning:" + string(w)) }
func (j *fakeJob) SendComplete(r []byte) engine.Status { return j.record("complete:" + string(r)) }
func (j *fakeJob) SendException(e []byte) engine.Status {
	return j.record("exception:" + string(e))
}
func (j *fakeJob) SendFail() engine.Status { return j.record("fail") }

func (j *fakeJob) SendStatus(numerator, denominator uint32) engine.Status {
	return j.record("status")
}

type fakeWorker struct {
	functions  map[string]engine.WorkerFunc
	registered []string
	grabbable  *fakeJob
	workStatus engine.Status
	lastErr    string
	closed     bool
}

func (w *fakeWorker) AddServer(string, int) engine.Status { return engine.StatusSuccess }
func (w *fakeWorker) SetTimeout(time.Duration)           {}
func (w *fakeWorker) SetNonBlocking(bool)                {}
func (w *fakeWorker) Error() string                      { return w.lastErr }
func (w *fakeWorker) Echo([]byte) engine.Status          { return engine.StatusSuccess }
func (w *fakeWorker) Close()                             { w.closed = true }

func (w *fakeWorker) Register(name string, _ time.Duration) engine.Status {
	return w.AddFunction(name, 0, nil)
}

func (w *fakeWorker) AddFunction(name string, _ time.Duration, fn engine.WorkerFunc) engine.Status {
	for _, n := range w.registered {
		if n == name {
			w.lastErr = "duplicate function: " + name
			return engine.StatusInvalidFunctionName
		}
	}
	w.registered = append(w.registered, name)
	w.functions[name] = fn
	return engine.StatusSuccess
}

func (w *fakeWorker) Unregister(name string) engine.Status {
	delete(w.functions, name)
	for i, n := range w.registered {
		if n == name {
			w.registered = append(w.registered[:i], w.registered[i+1:]...)
			return engine.StatusSuccess
		}
	}
	return engine.StatusNoRegisteredFunctions
}

func (w *fakeWorker) UnregisterAll() engine.Status {
	w.functions = make(map[string]engine.WorkerFunc)
	w.registered = nil
	return engine.StatusSuccess
}

func (w *fakeWorker) GrabJob() (engine.JobRef, engine.Status) {
	if w.grabbable == nil {
		return nil, engine.StatusIOWait
	}
	job := w.grabbable
	w.grabbable = nil
	return job, engine.StatusSuccess
}

func (w *fakeWorker) Work() engine.Status {
	return w.workStatus
}

// run hands job to the registered function, as the engine would in Work.
func (w *fakeWorker) run(job *fakeJob) ([]byte, engine.Status) {
	return w.functions[job.function](job)
}
