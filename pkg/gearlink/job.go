package gearlink

import (
	"fmt"
	"sync"

	"github.com/nemanja-m/gearlink/pkg/engine"
)

// Job is a unit of work seen from the worker side. A Job passed to a
// worker function is only valid while the function runs; a Job returned by
// GrabJob is valid until Release.
type Job struct {
	worker *Worker

	mu      sync.Mutex
	ref     engine.JobRef
	grabbed bool
	ret     engine.Status
}

func newJob(w *Worker, ref engine.JobRef, grabbed bool) *Job {
	return &Job{
		worker:  w,
		ref:     ref,
		grabbed: grabbed,
		ret:     engine.StatusSuccess,
	}
}

func (j *Job) engineRef() engine.JobRef {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ref
}

// Handle returns the server's handle for the job.
func (j *Job) Handle() (string, error) {
	ref := j.engineRef()
	if ref == nil {
		return "", ErrNotInitialized
	}
	return ref.Handle(), nil
}

// Unique returns the job's unique key.
func (j *Job) Unique() (string, error) {
	ref := j.engineRef()
	if ref == nil {
		return "", ErrNotInitialized
	}
	return ref.Unique(), nil
}

// FunctionName returns the name the job was submitted under.
func (j *Job) FunctionName() (string, error) {
	ref := j.engineRef()
	if ref == nil {
		return "", ErrNotInitialized
	}
	return ref.FunctionName(), nil
}

// Workload returns the job's workload.
func (j *Job) Workload() ([]byte, error) {
	ref := j.engineRef()
	if ref == nil {
		return nil, ErrNotInitialized
	}
	return ref.Workload(), nil
}

// WorkloadSize returns the workload length in bytes.
func (j *Job) WorkloadSize() (int, error) {
	w, err := j.Workload()
	return len(w), err
}

// ReturnCode returns the status recorded for the job. It becomes the
// engine status when a worker function returns.
func (j *Job) ReturnCode() engine.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ret
}

// SetReturn records the status reported to the engine when the worker
// function returns.
func (j *Job) SetReturn(status engine.Status) error {
	if !status.Valid() {
		return fmt.Errorf("gearlink: invalid status %d", int(status))
	}
	j.setReturn(status)
	return nil
}

func (j *Job) setReturn(status engine.Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ret = status
}

func (j *Job) report(op string, send func(ref engine.JobRef) engine.Status) (engine.Status, error) {
	ref := j.engineRef()
	if ref == nil {
		return engine.StatusUnknownState, ErrNotInitialized
	}
	status := send(ref)
	return status, checkStatus(j.worker.logger, op, status, j.worker.conn.Error())
}

// SendData streams a chunk of result data to the client.
func (j *Job) SendData(data []byte) (engine.Status, error) {
	return j.report("send data", func(ref engine.JobRef) engine.Status {
		return ref.SendData(data)
	})
}

// SendWarning sends a warning to the client.
func (j *Job) SendWarning(warning []byte) (engine.Status, error) {
	return j.report("send warning", func(ref engine.JobRef) engine.Status {
		return ref.SendWarning(warning)
	})
}

// SendStatus reports progress as numerator out of denominator.
func (j *Job) SendStatus(numerator, denominator uint32) (engine.Status, error) {
	return j.report("send status", func(ref engine.JobRef) engine.Status {
		return ref.SendStatus(numerator, denominator)
	})
}

// SendComplete finishes the job with result.
func (j *Job) SendComplete(result []byte) (engine.Status, error) {
	return j.report("send complete", func(ref engine.JobRef) engine.Status {
		return ref.SendComplete(result)
	})
}

// SendException reports an exception to the client. The job keeps
// running.
func (j *Job) SendException(exception []byte) (engine.Status, error) {
	return j.report("send exception", func(ref engine.JobRef) engine.Status {
		return ref.SendException(exception)
	})
}

// SendFail finishes the job as failed.
func (j *Job) SendFail() (engine.Status, error) {
	return j.report("send fail", func(ref engine.JobRef) engine.Status {
		return ref.SendFail()
	})
}

// Release frees a grabbed job, failing it if it was not finished. On a job
// passed to a worker function it only detaches the handle.
func (j *Job) Release() {
	j.mu.Lock()
	ref, grabbed := j.ref, j.grabbed
	j.ref = nil
	j.mu.Unlock()

	if ref != nil && grabbed {
		ref.Free()
	}
}

func (j *Job) detach() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ref = nil
}
