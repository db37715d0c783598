package gearlink

import (
	"errors"
	"fmt"

	"github.com/nemanja-m/gearlink/internal/shared/logging"
	"github.com/nemanja-m/gearlink/pkg/engine"
)

var (
	// ErrAllocation is returned when the engine cannot allocate a task,
	// client or worker.
	ErrAllocation = errors.New("gearlink: engine allocation failed")

	// ErrNotCallable is returned when a callback is nil or has a shape the
	// binding cannot invoke.
	ErrNotCallable = errors.New("gearlink: callback is not callable")

	// ErrNotInitialized is returned when a handle is detached from its
	// engine object or was never attached to one.
	ErrNotInitialized = errors.New("gearlink: handle is not initialized")

	ErrClosed = errors.New("gearlink: already closed")
)

// EngineError is a failure status reported by the queue engine.
type EngineError struct {
	Op     string
	Status engine.Status
	Msg    string
}

func (e *EngineError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("gearlink: %s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("gearlink: %s: %s: %s", e.Op, e.Status, e.Msg)
}

// StatusOf returns the engine status carried by err. A nil error is
// StatusSuccess; an error that did not come from the engine is
// StatusUnknownState.
func StatusOf(err error) engine.Status {
	if err == nil {
		return engine.StatusSuccess
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Status
	}
	return engine.StatusUnknownState
}

// checkStatus turns an error-category status into an *EngineError and
// logs it. Success and informational statuses yield nil.
func checkStatus(logger logging.Logger, op string, status engine.Status, msg string) error {
	if status.IsOK() {
		return nil
	}
	logger.Warn("Engine operation failed", "op", op, "status", status.String(), "error", msg)
	return &EngineError{Op: op, Status: status, Msg: msg}
}
