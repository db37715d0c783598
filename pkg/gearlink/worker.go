package gearlink

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/gearlink/internal/metrics"
	"github.com/nemanja-m/gearlink/internal/shared/logging"
	"github.com/nemanja-m/gearlink/pkg/engine"
)

// function is one registered worker function. cb is nil for functions
// announced with Register, whose jobs are taken with GrabJob.
type function struct {
	name     string
	cb       jobCallback
	userData any
	timeout  time.Duration
}

// Worker takes jobs from the queue engine and runs the registered worker
// functions on the goroutine that calls Work.
type Worker struct {
	id      string
	conn    engine.WorkerConn
	logger  logging.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	closed    bool
	functions []*function
	ret       engine.Status
}

// NewWorker allocates a worker connection on eng.
func NewWorker(eng engine.Engine, opts ...Option) (*Worker, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	m, err := newMetrics(o)
	if err != nil {
		return nil, err
	}

	conn, err := eng.NewWorker()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	if conn == nil {
		return nil, ErrAllocation
	}

	return &Worker{
		id:      uuid.NewString(),
		conn:    conn,
		logger:  o.logger,
		metrics: m,
		ret:     engine.StatusSuccess,
	}, nil
}

// ID identifies the worker in logs.
func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) check(op string, status engine.Status) error {
	w.mu.Lock()
	w.ret = status
	w.mu.Unlock()
	return checkStatus(w.logger, op, status, w.conn.Error())
}

func (w *Worker) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// AddServer adds one job server.
func (w *Worker) AddServer(host string, port int) error {
	if w.isClosed() {
		return ErrClosed
	}
	return w.check("add server", w.conn.AddServer(host, port))
}

// AddServers adds every server of a comma separated "host:port" list.
func (w *Worker) AddServers(list string) error {
	servers, err := parseServers(list)
	if err != nil {
		return err
	}
	for _, s := range servers {
		if err := w.AddServer(s.host, s.port); err != nil {
			return err
		}
	}
	return nil
}

// SetTimeout bounds how long Work and GrabJob wait for a job. Zero waits
// until a job arrives or the worker is closed.
func (w *Worker) SetTimeout(timeout time.Duration) {
	w.conn.SetTimeout(timeout)
}

// SetNonBlocking makes Work and GrabJob return StatusIOWait instead of
// waiting for a job.
func (w *Worker) SetNonBlocking(enabled bool) {
	w.conn.SetNonBlocking(enabled)
}

// ReturnCode returns the status of the last engine operation.
func (w *Worker) ReturnCode() engine.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ret
}

// Error returns the engine's description of the last failure.
func (w *Worker) Error() string {
	return w.conn.Error()
}

// AddFunction registers fn as the handler for jobs of the named function.
// Accepted shapes are func(*Job) []byte, func(*Job) ([]byte, error),
// func(*Job, any) []byte, func(*Job, any) ([]byte, error) and JobHandler.
// If the engine rejects the registration, for example because the name is
// already registered, the existing registration is left as it was.
func (w *Worker) AddFunction(name string, fn any, opts ...FunctionOption) error {
	cb, err := newJobCallback(fn)
	if err != nil {
		return err
	}
	f := &function{name: name, cb: cb}
	for _, opt := range opts {
		opt(f)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	status := w.conn.AddFunction(name, f.timeout, f.dispatch(w))
	w.ret = status
	if err := checkStatus(w.logger, "add function", status, w.conn.Error()); err != nil {
		return err
	}
	w.functions = append(w.functions, f)
	return nil
}

// Register announces a function without a handler. Its jobs are taken with
// GrabJob.
func (w *Worker) Register(name string, timeout time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	status := w.conn.Register(name, timeout)
	w.ret = status
	if err := checkStatus(w.logger, "register", status, w.conn.Error()); err != nil {
		return err
	}
	w.functions = append(w.functions, &function{name: name, timeout: timeout})
	return nil
}

// Unregister drops one function.
func (w *Worker) Unregister(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	status := w.conn.Unregister(name)
	w.ret = status
	if err := checkStatus(w.logger, "unregister", status, w.conn.Error()); err != nil {
		return err
	}
	w.functions = slices.DeleteFunc(w.functions, func(f *function) bool {
		return f.name == name
	})
	return nil
}

// UnregisterAll drops every function.
func (w *Worker) UnregisterAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	status := w.conn.UnregisterAll()
	w.ret = status
	if err := checkStatus(w.logger, "unregister all", status, w.conn.Error()); err != nil {
		return err
	}
	w.functions = nil
	return nil
}

// Functions returns the registered function names in registration order.
func (w *Worker) Functions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, len(w.functions))
	for i, f := range w.functions {
		names[i] = f.name
	}
	return names
}

// GrabJob takes the next job for any registered function. When no job is
// available in non-blocking mode the returned error carries StatusIOWait.
func (w *Worker) GrabJob() (*Job, error) {
	if w.isClosed() {
		return nil, ErrClosed
	}
	ref, status := w.conn.GrabJob()
	if status != engine.StatusSuccess {
		if err := w.check("grab job", status); err != nil {
			return nil, err
		}
		return nil, &EngineError{Op: "grab job", Status: status}
	}
	w.check("grab job", status)
	return newJob(w, ref, true), nil
}

// Work takes one job and runs its function. StatusWorkFail and
// StatusIOWait are returned without an error.
func (w *Worker) Work() (engine.Status, error) {
	if w.isClosed() {
		return engine.StatusNotConnected, ErrClosed
	}
	status := w.conn.Work()
	return status, w.check("work", status)
}

// Echo checks the connection to the job servers.
func (w *Worker) Echo(data []byte) error {
	if w.isClosed() {
		return ErrClosed
	}
	return w.check("echo", w.conn.Echo(data))
}

// Close closes the engine connection and drops every function. A Work or
// GrabJob call waiting for a job returns.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.functions = nil
	w.conn.Close()
	return nil
}
