package engine

import "fmt"

// Status is a return code produced by the queue engine.
type Status int

const (
	StatusSuccess Status = iota
	StatusIOWait
	StatusShutdown
	StatusShutdownGraceful
	StatusErrno
	StatusEvent
	StatusTooManyArgs
	StatusNoActiveFDs
	StatusInvalidMagic
	StatusInvalidCommand
	StatusInvalidPacket
	StatusUnexpectedPacket
	StatusGetAddrInfo
	StatusNoServers
	StatusLostConnection
	StatusMemoryAllocationFailure
	StatusJobExists
	StatusJobQueueFull
	StatusServerError
	StatusWorkError
	StatusWorkData
	StatusWorkWarning
	StatusWorkStatus
	StatusWorkException
	StatusWorkFail
	StatusNotConnected
	StatusCouldNotConnect
	StatusSendInProgress
	StatusRecvInProgress
	StatusNotFlushing
	StatusDataTooLarge
	StatusInvalidFunctionName
	StatusInvalidWorkerFunction
	StatusNoRegisteredFunctions
	StatusNoJobs
	StatusEchoDataCorruption
	StatusNeedWorkloadFn
	StatusPause
	StatusUnknownState
	StatusPipeEOF
	StatusQueueError
	StatusTimeout
	StatusInvalidArgument

	// StatusMax is one past the last valid status.
	StatusMax
)

// Category groups statuses by how callers should treat them.
type Category int

const (
	CategoryError Category = iota
	CategorySuccess
	CategoryInformational
)

func (c Category) String() string {
	switch c {
	case CategorySuccess:
		return "success"
	case CategoryInformational:
		return "informational"
	default:
		return "error"
	}
}

type statusInfo struct {
	name     string
	category Category
}

// Statuses missing from this table classify as errors.
var statusTable = map[Status]statusInfo{
	StatusSuccess:                 {"SUCCESS", CategorySuccess},
	StatusIOWait:                  {"IO_WAIT", CategoryInformational},
	StatusShutdown:                {"SHUTDOWN", CategoryError},
	StatusShutdownGraceful:        {"SHUTDOWN_GRACEFUL", CategoryError},
	StatusErrno:                   {"ERRNO", CategoryError},
	StatusEvent:                   {"EVENT", CategoryError},
	StatusTooManyArgs:             {"TOO_MANY_ARGS", CategoryError},
	StatusNoActiveFDs:             {"NO_ACTIVE_FDS", CategoryError},
	StatusInvalidMagic:            {"INVALID_MAGIC", CategoryError},
	StatusInvalidCommand:          {"INVALID_COMMAND", CategoryError},
	StatusInvalidPacket:           {"INVALID_PACKET", CategoryError},
	StatusUnexpectedPacket:        {"UNEXPECTED_PACKET", CategoryError},
	StatusGetAddrInfo:             {"GETADDRINFO", CategoryError},
	StatusNoServers:               {"NO_SERVERS", CategoryError},
	StatusLostConnection:          {"LOST_CONNECTION", CategoryError},
	StatusMemoryAllocationFailure: {"MEMORY_ALLOCATION_FAILURE", CategoryError},
	StatusJobExists:               {"JOB_EXISTS", CategoryError},
	StatusJobQueueFull:            {"JOB_QUEUE_FULL", CategoryError},
	StatusServerError:             {"SERVER_ERROR", CategoryError},
	StatusWorkError:               {"WORK_ERROR", CategoryError},
	StatusWorkData:                {"WORK_DATA", CategoryInformational},
	StatusWorkWarning:             {"WORK_WARNING", CategoryInformational},
	StatusWorkStatus:              {"WORK_STATUS", CategoryInformational},
	StatusWorkException:           {"WORK_EXCEPTION", CategoryInformational},
	StatusWorkFail:                {"WORK_FAIL", CategoryInformational},
	StatusNotConnected:            {"NOT_CONNECTED", CategoryError},
	StatusCouldNotConnect:         {"COULD_NOT_CONNECT", CategoryError},
	StatusSendInProgress:          {"SEND_IN_PROGRESS", CategoryError},
	StatusRecvInProgress:          {"RECV_IN_PROGRESS", CategoryError},
	StatusNotFlushing:             {"NOT_FLUSHING", CategoryError},
	StatusDataTooLarge:            {"DATA_TOO_LARGE", CategoryError},
	StatusInvalidFunctionName:     {"INVALID_FUNCTION_NAME", CategoryError},
	StatusInvalidWorkerFunction:   {"INVALID_WORKER_FUNCTION", CategoryError},
	StatusNoRegisteredFunctions:   {"NO_REGISTERED_FUNCTIONS", CategoryError},
	StatusNoJobs:                  {"NO_JOBS", CategoryError},
	StatusEchoDataCorruption:      {"ECHO_DATA_CORRUPTION", CategoryError},
	StatusNeedWorkloadFn:          {"NEED_WORKLOAD_FN", CategoryError},
	StatusPause:                   {"PAUSE", CategoryInformational},
	StatusUnknownState:            {"UNKNOWN_STATE", CategoryError},
	StatusPipeEOF:                 {"PIPE_EOF", CategoryError},
	StatusQueueError:              {"QUEUE_ERROR", CategoryError},
	StatusTimeout:                 {"TIMEOUT", CategoryError},
	StatusInvalidArgument:         {"INVALID_ARGUMENT", CategoryError},
}

// Category classifies the status. Unknown codes are errors.
func (s Status) Category() Category {
	if info, ok := statusTable[s]; ok {
		return info.category
	}
	return CategoryError
}

// IsOK reports whether the status is success or a legitimate intermediate
// state that callers must not treat as a failure.
func (s Status) IsOK() bool {
	return s.Category() != CategoryError
}

// Valid reports whether s lies inside the known code range.
func (s Status) Valid() bool {
	return s >= StatusSuccess && s < StatusMax
}

func (s Status) String() string {
	if info, ok := statusTable[s]; ok {
		return info.name
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}
