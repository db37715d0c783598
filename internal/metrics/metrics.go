// Package metrics holds the Prometheus collectors for the callback bridge
// and the worker service.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gearlink"

// Metrics records callback dispatch, task lifetime and worker job counters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	eventsDispatched *prometheus.CounterVec
	callbackFailures *prometheus.CounterVec
	tasksResurrected prometheus.Counter
	buffersReleased  prometheus.Counter
	workerJobs       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered with reg are reused, so several clients may share
// one registry. A nil reg leaves the collectors unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	eventsDispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dispatched_total",
		Help:      "Total number of task events dispatched to callbacks.",
	}, []string{"kind"})
	callbackFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "callback_failures_total",
		Help:      "Total number of callbacks that panicked or returned an error.",
	}, []string{"kind"})
	tasksResurrected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_resurrected_total",
		Help:      "Total number of events delivered through a resurrected task.",
	})
	buffersReleased := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_buffers_released_total",
		Help:      "Total number of task slots whose buffers were released.",
	})
	workerJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_jobs_total",
		Help:      "Total number of jobs handled by worker functions.",
	}, []string{"function", "status"})

	m := &Metrics{
		eventsDispatched: eventsDispatched,
		callbackFailures: callbackFailures,
		tasksResurrected: tasksResurrected,
		buffersReleased:  buffersReleased,
		workerJobs:       workerJobs,
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.eventsDispatched, err = register(reg, eventsDispatched); err != nil {
		return nil, err
	}
	if m.callbackFailures, err = register(reg, callbackFailures); err != nil {
		return nil, err
	}
	if m.tasksResurrected, err = register(reg, tasksResurrected); err != nil {
		return nil, err
	}
	if m.buffersReleased, err = register(reg, buffersReleased); err != nil {
		return nil, err
	}
	if m.workerJobs, err = register(reg, workerJobs); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) EventDispatched(kind string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(kind).Inc()
}

func (m *Metrics) CallbackFailed(kind string) {
	if m == nil {
		return
	}
	m.callbackFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) TaskResurrected() {
	if m == nil {
		return
	}
	m.tasksResurrected.Inc()
}

func (m *Metrics) BuffersReleased() {
	if m == nil {
		return
	}
	m.buffersReleased.Inc()
}

func (m *Metrics) WorkerJob(function, status string) {
	if m == nil {
		return
	}
	m.workerJobs.WithLabelValues(function, status).Inc()
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
