package local

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nemanja-m/gearlink/pkg/engine"
)

type ability struct {
	name    string
	timeout time.Duration
	fn      engine.WorkerFunc
}

type workerConn struct {
	conn

	mu          sync.Mutex
	closed      bool
	timeout     time.Duration
	nonBlocking bool
	abilities   []*ability

	// closing is closed by Close to interrupt a blocked grab.
	closing chan struct{}
}

func newWorkerConn(e *Engine) *workerConn {
	return &workerConn{conn: conn{engine: e}, closing: make(chan struct{})}
}

func (w *workerConn) AddServer(host string, port int) engine.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addServer(host, port)
}

func (w *workerConn) SetTimeout(timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = timeout
}

func (w *workerConn) SetNonBlocking(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nonBlocking = enabled
}

func (w *workerConn) Error() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *workerConn) fail(status engine.Status, msg string) engine.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastErr = msg
	return status
}

func (w *workerConn) Register(function string, timeout time.Duration) engine.Status {
	return w.add(&ability{name: function, timeout: timeout})
}

func (w *workerConn) AddFunction(function string, timeout time.Duration, fn engine.WorkerFunc) engine.Status {
	if fn == nil {
		return w.fail(engine.StatusInvalidWorkerFunction, "worker function is nil")
	}
	return w.add(&ability{name: function, timeout: timeout, fn: fn})
}

func (w *workerConn) add(a *ability) engine.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.lastErr = "worker is closed"
		return engine.StatusNotConnected
	}
	if a.name == "" {
		w.lastErr = "function name is empty"
		return engine.StatusInvalidFunctionName
	}
	if w.indexLocked(a.name) >= 0 {
		w.lastErr = fmt.Sprintf("function already registered: %s", a.name)
		return engine.StatusInvalidFunctionName
	}
	w.abilities = append(w.abilities, a)
	w.engine.server.canDo(a.name)
	return engine.StatusSuccess
}

func (w *workerConn) indexLocked(function string) int {
	return slices.IndexFunc(w.abilities, func(a *ability) bool {
		return a.name == function
	})
}

func (w *workerConn) Unregister(function string) engine.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.indexLocked(function)
	if i < 0 {
		w.lastErr = fmt.Sprintf("function not registered: %s", function)
		return engine.StatusNoRegisteredFunctions
	}
	w.abilities = slices.Delete(w.abilities, i, i+1)
	w.engine.server.cantDo(function)
	return engine.StatusSuccess
}

func (w *workerConn) UnregisterAll() engine.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range w.abilities {
		w.engine.server.cantDo(a.name)
	}
	w.abilities = nil
	return engine.StatusSuccess
}

// grab waits for a job for any registered function.
func (w *workerConn) grab() (*jobRef, *ability, engine.Status) {
	w.mu.Lock()
	if w.closed {
		w.lastErr = "worker is closed"
		w.mu.Unlock()
		return nil, nil, engine.StatusNotConnected
	}
	if len(w.abilities) == 0 {
		w.lastErr = "no functions registered"
		w.mu.Unlock()
		return nil, nil, engine.StatusNoRegisteredFunctions
	}
	srv, status := w.connect()
	names := make([]string, len(w.abilities))
	for i, a := range w.abilities {
		names[i] = a.name
	}
	timeout, nonBlocking := w.timeout, w.nonBlocking
	w.mu.Unlock()
	if status != engine.StatusSuccess {
		return nil, nil, status
	}

	job, status := srv.grab(names, timeout, nonBlocking, w.closing)
	switch status {
	case engine.StatusTimeout:
		return nil, nil, w.fail(status, "timed out waiting for a job")
	case engine.StatusNotConnected:
		return nil, nil, w.fail(status, "worker is closed")
	}
	if status != engine.StatusSuccess {
		return nil, nil, status
	}

	w.mu.Lock()
	var found *ability
	if i := w.indexLocked(job.function); i >= 0 {
		found = w.abilities[i]
	}
	w.mu.Unlock()
	return &jobRef{server: srv, job: job}, found, engine.StatusSuccess
}

func (w *workerConn) GrabJob() (engine.JobRef, engine.Status) {
	ref, _, status := w.grab()
	if status != engine.StatusSuccess {
		return nil, status
	}
	return ref, engine.StatusSuccess
}

// Work grabs one job and runs its registered function. A function that
// neither completes nor fails the job itself has its result sent as the
// job's completion when it returns StatusSuccess, and the job is failed
// otherwise.
func (w *workerConn) Work() engine.Status {
	ref, a, status := w.grab()
	if status != engine.StatusSuccess {
		return status
	}
	if a == nil || a.fn == nil {
		ref.SendFail()
		return w.fail(engine.StatusInvalidWorkerFunction,
			fmt.Sprintf("no callback registered for function: %s", ref.job.function))
	}

	result, status, timedOut := call(a, ref)
	if timedOut {
		ref.SendFail()
		return w.fail(engine.StatusTimeout,
			fmt.Sprintf("function %s exceeded its timeout of %s", a.name, a.timeout))
	}

	if status == engine.StatusSuccess {
		ref.SendComplete(result)
		return engine.StatusSuccess
	}
	ref.SendFail()
	return status
}

// call runs the worker function, bounded by its timeout when one is set.
// A late result is discarded.
func call(a *ability, ref *jobRef) ([]byte, engine.Status, bool) {
	if a.timeout <= 0 {
		result, status := a.fn(ref)
		return result, status, false
	}

	type outcome struct {
		result []byte
		status engine.Status
	}
	done := make(chan outcome, 1)
	go func() {
		result, status := a.fn(ref)
		done <- outcome{result: result, status: status}
	}()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.result, out.status, false
	case <-timer.C:
		return nil, engine.StatusTimeout, true
	}
}

func (w *workerConn) Echo(data []byte) engine.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, status := w.connect()
	return status
}

func (w *workerConn) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.closing)
	for _, a := range w.abilities {
		w.engine.server.cantDo(a.name)
	}
	w.abilities = nil
}

// jobRef is a grabbed job. Reports are forwarded to the submitting
// client's mailbox; background jobs only update the status store.
type jobRef struct {
	server *server
	job    *serverJob

	mu       sync.Mutex
	finished bool
}

func (j *jobRef) Handle() string {
	return j.job.handle
}

func (j *jobRef) Unique() string {
	return j.job.unique
}

func (j *jobRef) FunctionName() string {
	return j.job.function
}

func (j *jobRef) Workload() []byte {
	return j.job.workload
}

func (j *jobRef) send(ev workEvent, terminal bool) engine.Status {
	j.mu.Lock()
	if j.finished {
		j.mu.Unlock()
		return engine.StatusUnknownState
	}
	if terminal {
		j.finished = true
	}
	j.mu.Unlock()

	switch {
	case terminal:
		j.server.statuses.Remove(j.job.handle)
	case ev.kind == eventStatus:
		j.server.statuses.UpdateProgress(j.job.handle, ev.numerator, ev.denominator)
	}

	if j.job.replyTo != nil {
		ev.taskID = j.job.taskID
		j.job.replyTo.put(ev)
	}
	return engine.StatusSuccess
}

func (j *jobRef) SendData(data []byte) engine.Status {
	return j.send(workEvent{kind: eventData, payload: slices.Clone(data)}, false)
}

func (j *jobRef) SendWarning(warning []byte) engine.Status {
	return j.send(workEvent{kind: eventWarning, payload: slices.Clone(warning)}, false)
}

func (j *jobRef) SendStatus(numerator, denominator uint32) engine.Status {
	return j.send(workEvent{kind: eventStatus, numerator: numerator, denominator: denominator}, false)
}

func (j *jobRef) SendComplete(result []byte) engine.Status {
	return j.send(workEvent{kind: eventComplete, payload: slices.Clone(result)}, true)
}

func (j *jobRef) SendException(exception []byte) engine.Status {
	return j.send(workEvent{kind: eventException, payload: slices.Clone(exception)}, false)
}

func (j *jobRef) SendFail() engine.Status {
	return j.send(workEvent{kind: eventFail}, true)
}

// Free fails the job if nothing finished it.
func (j *jobRef) Free() {
	j.SendFail()
}
