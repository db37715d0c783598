package gearlink

import (
	"errors"
	"fmt"

	"github.com/nemanja-m/gearlink/pkg/engine"
)

// TaskHandler is the typed form of a task event callback.
type TaskHandler func(task *Task) engine.Status

// JobHandler is the typed form of a worker function callback.
type JobHandler func(job *Job, userData any) ([]byte, error)

var errCallbackPanic = errors.New("callback panicked")

// taskCallback is a task event callable normalized to one shape.
type taskCallback func(task *Task) (engine.Status, error)

// newTaskCallback accepts:
//
//	func(*Task)
//	func(*Task) engine.Status
//	func(*Task) error
//	TaskHandler
func newTaskCallback(fn any) (taskCallback, error) {
	switch f := fn.(type) {
	case func(*Task):
		if f == nil {
			return nil, ErrNotCallable
		}
		return func(t *Task) (engine.Status, error) {
			f(t)
			return engine.StatusSuccess, nil
		}, nil
	case func(*Task) engine.Status:
		if f == nil {
			return nil, ErrNotCallable
		}
		return func(t *Task) (engine.Status, error) {
			return f(t), nil
		}, nil
	case TaskHandler:
		if f == nil {
			return nil, ErrNotCallable
		}
		return func(t *Task) (engine.Status, error) {
			return f(t), nil
		}, nil
	case func(*Task) error:
		if f == nil {
			return nil, ErrNotCallable
		}
		return func(t *Task) (engine.Status, error) {
			return engine.StatusSuccess, f(t)
		}, nil
	default:
		return nil, ErrNotCallable
	}
}

func (cb taskCallback) invoke(t *Task) (status engine.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = engine.StatusSuccess, fmt.Errorf("%w: %v", errCallbackPanic, r)
		}
	}()
	return cb(t)
}

// jobCallback is a worker function callable normalized to one shape.
type jobCallback func(job *Job, userData any) ([]byte, error)

// newJobCallback accepts:
//
//	func(*Job) []byte
//	func(*Job) ([]byte, error)
//	func(*Job, any) []byte
//	func(*Job, any) ([]byte, error)
//	JobHandler
func newJobCallback(fn any) (jobCallback, error) {
	switch f := fn.(type) {
	case func(*Job) []byte:
		if f == nil {
			return nil, ErrNotCallable
		}
		return func(j *Job, _ any) ([]byte, error) {
			return f(j), nil
		}, nil
	case func(*Job) ([]byte, error):
		if f == nil {
			return nil, ErrNotCallable
		}
		return func(j *Job, _ any) ([]byte, error) {
			return f(j)
		}, nil
	case func(*Job, any) []byte:
		if f == nil {
			return nil, ErrNotCallable
		}
		return func(j *Job, userData any) ([]byte, error) {
			return f(j, userData), nil
		}, nil
	case func(*Job, any) ([]byte, error):
		if f == nil {
			return nil, ErrNotCallable
		}
		return f, nil
	case JobHandler:
		if f == nil {
			return nil, ErrNotCallable
		}
		return jobCallback(f), nil
	default:
		return nil, ErrNotCallable
	}
}

func (cb jobCallback) invoke(j *Job, userData any) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("%w: %v", errCallbackPanic, r)
		}
	}()
	return cb(j, userData)
}

// dispatch is the client-side trampoline for one event kind. It resolves
// the engine task to a handle, runs the registered callable and feeds its
// status back to the engine.
func (c *Client) dispatch(kind engine.EventKind) engine.TaskFunc {
	return func(ref engine.TaskRef) engine.Status {
		gid := goroutineID()
		cb := c.beginDispatch(kind, gid)
		if cb == nil {
			return engine.StatusSuccess
		}
		defer c.endDispatch(gid)

		task, resurrected := c.resolve(ref)
		if task == nil {
			c.logger.Warn("Event for unknown task", "kind", kind.String(), "task_id", ref.ID())
			return engine.StatusSuccess
		}
		if resurrected {
			defer c.bury(task)
		}

		c.metrics.EventDispatched(kind.String())
		status, err := cb.invoke(task)
		if err != nil {
			c.metrics.CallbackFailed(kind.String())
			c.logger.Warn("Task callback failed", "kind", kind.String(), "task_id", ref.ID(), "error", err)
			return engine.StatusSuccess
		}
		if !status.Valid() {
			c.logger.Warn("Task callback returned unknown status", "kind", kind.String(), "status", int(status))
			return engine.StatusSuccess
		}
		return status
	}
}

// dispatch is the worker-side trampoline bound to one function entry.
func (f *function) dispatch(w *Worker) engine.WorkerFunc {
	return func(ref engine.JobRef) ([]byte, engine.Status) {
		job := newJob(w, ref, false)
		defer job.detach()

		result, err := f.cb.invoke(job, f.userData)
		if err != nil {
			w.metrics.CallbackFailed(f.name)
			w.logger.Warn("Worker function failed", "function", f.name, "handle", ref.Handle(), "error", err)
			if !errors.Is(err, errCallbackPanic) {
				job.setReturn(engine.StatusWorkFail)
			}
		}

		status := job.ReturnCode()
		w.metrics.WorkerJob(f.name, status.String())
		return result, status
	}
}
