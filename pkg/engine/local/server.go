package local

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nemanja-m/gearlink/pkg/engine"
)

// serverJob is a job held by the in-memory server until a worker grabs it.
type serverJob struct {
	handle     string
	function   string
	unique     string
	workload   []byte
	priority   engine.Priority
	background bool
	sequence   uint64

	// Foreground jobs report back to the submitting client's mailbox,
	// addressed by the client-side task id.
	taskID  uint64
	replyTo *mailbox
}

// server is the in-memory job server shared by every client and worker of
// one Engine.
type server struct {
	name string

	mu        sync.Mutex
	queues    map[string]*jobQueue
	abilities map[string]int
	sequence  uint64
	wake      chan struct{}

	statuses *jobStatusStore
}

func newServer(name string) *server {
	return &server{
		name:      name,
		queues:    make(map[string]*jobQueue),
		abilities: make(map[string]int),
		wake:      make(chan struct{}),
		statuses:  newJobStatusStore(),
	}
}

func (s *server) newHandle() string {
	return fmt.Sprintf("H:%s:%s", s.name, ulid.Make().String())
}

// submit queues the job and returns its handle.
func (s *server) submit(job *serverJob) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[job.function]
	if !ok {
		q = newJobQueue()
		s.queues[job.function] = q
	}
	job.handle = s.newHandle()
	job.sequence = s.sequence
	if err := q.Push(job); err != nil {
		return "", fmt.Errorf("queue %s: %w", job.function, err)
	}
	s.sequence++
	s.statuses.Save(job.handle)

	close(s.wake)
	s.wake = make(chan struct{})
	return job.handle, nil
}

func (s *server) canDo(function string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abilities[function]++
}

func (s *server) cantDo(function string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abilities[function] <= 1 {
		delete(s.abilities, function)
		return
	}
	s.abilities[function]--
}

// popLocked removes the most urgent job among the given functions.
func (s *server) popLocked(functions []string) *serverJob {
	var best *jobQueue
	var bestJob *serverJob
	for _, fn := range functions {
		q, ok := s.queues[fn]
		if !ok {
			continue
		}
		top, err := q.Top()
		if err != nil {
			continue
		}
		if bestJob == nil || before(top, bestJob) {
			best, bestJob = q, top
		}
	}
	if best == nil {
		return nil
	}
	job, _ := best.Pop()
	return job
}

// grab blocks until a job for one of the functions is available or closing
// is closed.
func (s *server) grab(functions []string, timeout time.Duration, nonBlocking bool, closing <-chan struct{}) (*serverJob, engine.Status) {
	var deadline <-chan time.Time
	if timeout > 0 && !nonBlocking {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		s.mu.Lock()
		job := s.popLocked(functions)
		wake := s.wake
		s.mu.Unlock()

		if job != nil {
			s.statuses.MarkRunning(job.handle)
			return job, engine.StatusSuccess
		}
		if nonBlocking {
			return nil, engine.StatusIOWait
		}

		select {
		case <-wake:
		case <-deadline:
			return nil, engine.StatusTimeout
		case <-closing:
			return nil, engine.StatusNotConnected
		}
	}
}

// pending returns the number of queued jobs for a function.
func (s *server) pending(function string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[function]; ok {
		return q.Len()
	}
	return 0
}
