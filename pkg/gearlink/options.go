package gearlink

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nemanja-m/gearlink/internal/shared/logging"
)

// Option configures a Client or a Worker.
type Option func(*options)

type options struct {
	logger     logging.Logger
	registerer prometheus.Registerer
}

func defaultOptions() *options {
	return &options{logger: logging.NewNop()}
}

// WithLogger sets the logger used for warnings about engine failures and
// failed callbacks.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics registers the binding's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// TaskOption configures a task at creation.
type TaskOption func(*taskOptions)

type taskOptions struct {
	unique  string
	context any
}

// WithUnique sets the task's unique id. The engine generates one when it
// is empty.
func WithUnique(unique string) TaskOption {
	return func(o *taskOptions) {
		o.unique = unique
	}
}

// WithTaskContext attaches caller data to the task.
func WithTaskContext(v any) TaskOption {
	return func(o *taskOptions) {
		o.context = v
	}
}

// FunctionOption configures a worker function at registration.
type FunctionOption func(*function)

// WithUserData passes v to the worker callback on every job.
func WithUserData(v any) FunctionOption {
	return func(f *function) {
		f.userData = v
	}
}

// WithFunctionTimeout bounds how long the engine waits for the function.
func WithFunctionTimeout(d time.Duration) FunctionOption {
	return func(f *function) {
		f.timeout = d
	}
}
