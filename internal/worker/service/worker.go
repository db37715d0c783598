package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/nemanja-m/gearlink/internal/shared/logging"
	"github.com/nemanja-m/gearlink/internal/worker/core"
	"github.com/nemanja-m/gearlink/pkg/engine"
	"github.com/nemanja-m/gearlink/pkg/gearlink"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

type workerService struct {
	worker     core.JobWorker
	logger     logging.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewWorkerService(worker core.JobWorker, logger logging.Logger) core.WorkerService {
	return &workerService{
		worker:     worker,
		logger:     logger,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Run works jobs until ctx is cancelled. It returns an error only when the
// worker can no longer take jobs. A worker that is an io.Closer is closed
// on cancellation, which interrupts a Work call waiting for a job.
func (w *workerService) Run(ctx context.Context) error {
	backoff := w.minBackoff
	w.logger.Info("Worker started", "worker_id", w.worker.ID())
	defer w.logger.Info("Worker stopped", "worker_id", w.worker.ID())

	if c, ok := w.worker.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() {
			if err := c.Close(); err != nil {
				w.logger.Warn("Failed to close worker", "worker_id", w.worker.ID(), "error", err)
			}
		})
		defer stop()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		status, err := w.worker.Work()
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case err == nil && status == engine.StatusIOWait:
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, w.maxBackoff)
			continue

		case err == nil:
			backoff = w.minBackoff
			if status == engine.StatusWorkFail {
				w.logger.Warn("Job failed", "worker_id", w.worker.ID())
			} else {
				w.logger.Debug("Job done", "worker_id", w.worker.ID(), "status", status.String())
			}
			continue

		case errors.Is(err, gearlink.ErrClosed), status == engine.StatusNoRegisteredFunctions:
			return err

		case status == engine.StatusTimeout:
			// No job arrived in time, or a function overran its timeout.
			w.logger.Debug("Work timed out", "worker_id", w.worker.ID(), "error", err)
			continue
		}

		w.logger.Error("Failed to work job", "worker_id", w.worker.ID(), "error", err)
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = min(backoff*2, w.maxBackoff)
	}
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
