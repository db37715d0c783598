package core

import (
	"context"

	"github.com/nemanja-m/gearlink/pkg/engine"
	"github.com/nemanja-m/gearlink/pkg/gearlink"
)

// JobWorker takes one job per Work call. *gearlink.Worker implements it.
type JobWorker interface {
	ID() string
	Work() (engine.Status, error)
}

type WorkerService interface {
	Run(ctx context.Context) error
}

// FunctionBinder registers worker functions on a worker.
type FunctionBinder interface {
	Bind(w *gearlink.Worker) error
}
