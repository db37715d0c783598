package service

import (
	"fmt"
	"time"

	"github.com/nemanja-m/gearlink/internal/functions"
	"github.com/nemanja-m/gearlink/internal/shared/logging"
	"github.com/nemanja-m/gearlink/internal/worker/core"
	"github.com/nemanja-m/gearlink/pkg/gearlink"
)

type functionExecutor struct {
	names   []string
	timeout time.Duration
	logger  logging.Logger
}

// NewFunctionExecutor binds the named built-in functions to workers. A
// positive timeout bounds every function call.
func NewFunctionExecutor(names []string, timeout time.Duration, logger logging.Logger) core.FunctionBinder {
	return &functionExecutor{
		names:   names,
		timeout: timeout,
		logger:  logger,
	}
}

func (e *functionExecutor) Bind(w *gearlink.Worker) error {
	for _, name := range e.names {
		fn, err := functions.Get(name)
		if err != nil {
			return err
		}

		var opts []gearlink.FunctionOption
		if e.timeout > 0 {
			opts = append(opts, gearlink.WithFunctionTimeout(e.timeout))
		}
		if err := w.AddFunction(name, e.handler(name, fn), opts...); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		e.logger.Debug("Function registered", "worker_id", w.ID(), "function", name)
	}
	return nil
}

func (e *functionExecutor) handler(name string, fn functions.Func) func(*gearlink.Job) ([]byte, error) {
	return func(job *gearlink.Job) ([]byte, error) {
		handle, err := job.Handle()
		if err != nil {
			return nil, err
		}
		unique, _ := job.Unique()
		workload, err := job.Workload()
		if err != nil {
			return nil, err
		}
		e.logger.Info("Received job",
			"function", name,
			"handle", handle,
			"unique", unique,
			"workload_size", len(workload),
		)
		result, err := fn(workload)
		if err != nil {
			if _, sendErr := job.SendException([]byte(err.Error())); sendErr != nil {
				e.logger.Warn("Failed to report job exception", "handle", handle, "error", sendErr)
			}
			return nil, err
		}
		return result, nil
	}
}
