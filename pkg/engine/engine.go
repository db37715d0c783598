// Package engine defines the boundary between gearlink and the queue engine
// that owns protocol, networking and scheduling.
//
// The engine addresses every task by a stable integer id and hands the
// binding plain closures for event delivery, so no opaque context pointer
// ever crosses the boundary.
package engine

import "time"

// EventKind identifies one of the eight client-side task events.
type EventKind int

const (
	EventWorkload EventKind = iota
	EventCreated
	EventData
	EventWarning
	EventStatus
	EventComplete
	EventException
	EventFail
)

// NumEventKinds is the number of distinct client-side events.
const NumEventKinds = 8

// EventKinds lists every event kind in declaration order.
var EventKinds = [NumEventKinds]EventKind{
	EventWorkload,
	EventCreated,
	EventData,
	EventWarning,
	EventStatus,
	EventComplete,
	EventException,
	EventFail,
}

func (k EventKind) String() string {
	switch k {
	case EventWorkload:
		return "workload"
	case EventCreated:
		return "created"
	case EventData:
		return "data"
	case EventWarning:
		return "warning"
	case EventStatus:
		return "status"
	case EventComplete:
		return "complete"
	case EventException:
		return "exception"
	case EventFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Priority defines job urgency levels (lower value means higher priority).
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// JobStatus is the state of a job as reported by a job server.
type JobStatus struct {
	Known       bool
	Running     bool
	Numerator   uint32
	Denominator uint32
}

// TaskFunc is invoked by the engine for a task event. The returned status
// is fed back into the engine's control flow.
type TaskFunc func(task TaskRef) Status

// WorkerFunc is invoked by the engine for every job assigned to a
// registered function. The returned bytes become the job result.
type WorkerFunc func(job JobRef) ([]byte, Status)

// TaskRef is the engine-owned task. It stays valid until the engine has
// invoked the task free notifier for it.
type TaskRef interface {
	ID() uint64
	FunctionName() string
	Unique() string
	JobHandle() string
	IsKnown() bool
	IsRunning() bool
	Numerator() uint32
	Denominator() uint32
	Data() []byte
	DataSize() int
	// TakeData hands the data buffer over to the caller and clears it.
	TakeData() []byte
	SendData(data []byte) (int, Status)
	RecvData(size int) ([]byte, Status)
	ReturnCode() Status
}

// JobRef is the engine-owned job seen from the worker side.
type JobRef interface {
	Handle() string
	Unique() string
	FunctionName() string
	Workload() []byte
	SendData(data []byte) Status
	SendWarning(warning []byte) Status
	SendStatus(numerator, denominator uint32) Status
	SendComplete(result []byte) Status
	SendException(exception []byte) Status
	SendFail() Status
	// Free releases a job that was grabbed directly rather than handed
	// to a registered function.
	Free()
}

// ClientConn is one engine client connection.
type ClientConn interface {
	AddServer(host string, port int) Status
	SetTimeout(timeout time.Duration)
	Timeout() time.Duration
	SetNonBlocking(enabled bool)

	CreateTask() (TaskRef, Status)
	AddTask(priority Priority, background bool, function, unique string, workload []byte) (TaskRef, Status)
	AddTaskStatus(jobHandle string) (TaskRef, Status)
	RunTasks() Status

	SetEventCallback(kind EventKind, fn TaskFunc)
	ClearCallbacks()
	// SetTaskFreeNotifier registers fn to be called exactly once per task,
	// when the engine will no longer touch it.
	SetTaskFreeNotifier(fn func(task TaskRef))

	// Do runs one job and waits for its next report. Data, warning, status
	// and exception reports return early with the matching informational
	// status; calling Do again resumes the same job.
	Do(priority Priority, function, unique string, workload []byte) ([]byte, Status)
	DoStatus() (numerator, denominator uint32)
	DoJobHandle() string
	DoBackground(priority Priority, function, unique string, workload []byte) (string, Status)
	JobStatus(jobHandle string) (JobStatus, Status)
	Echo(data []byte) Status

	Error() string
	Close()
}

// WorkerConn is one engine worker connection.
type WorkerConn interface {
	AddServer(host string, port int) Status
	SetTimeout(timeout time.Duration)
	SetNonBlocking(enabled bool)

	Register(function string, timeout time.Duration) Status
	AddFunction(function string, timeout time.Duration, fn WorkerFunc) Status
	Unregister(function string) Status
	UnregisterAll() Status

	GrabJob() (JobRef, Status)
	Work() Status
	Echo(data []byte) Status

	Error() string
	Close()
}

// Engine creates client and worker connections.
type Engine interface {
	NewClient() (ClientConn, error)
	NewWorker() (WorkerConn, error)
}
