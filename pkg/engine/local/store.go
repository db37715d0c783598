package local

import (
	"sync"

	"github.com/nemanja-m/gearlink/pkg/engine"
)

// jobStatusStore tracks the server-side status of every job that has been
// submitted and not yet finished.
type jobStatusStore struct {
	mu   sync.RWMutex
	jobs map[string]*engine.JobStatus
}

func newJobStatusStore() *jobStatusStore {
	return &jobStatusStore{
		jobs: make(map[string]*engine.JobStatus),
	}
}

func (s *jobStatusStore) Save(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[handle] = &engine.JobStatus{Known: true}
}

func (s *jobStatusStore) MarkRunning(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.jobs[handle]; ok {
		st.Running = true
	}
}

func (s *jobStatusStore) UpdateProgress(handle string, numerator, denominator uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.jobs[handle]; ok {
		st.Running = true
		st.Numerator = numerator
		st.Denominator = denominator
	}
}

func (s *jobStatusStore) Get(handle string) engine.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, exists := s.jobs[handle]
	if !exists {
		return engine.JobStatus{}
	}
	return *st
}

func (s *jobStatusStore) Remove(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, handle)
}

func (s *jobStatusStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
