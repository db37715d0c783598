package local

import (
	"container/heap"
	"errors"
)

// ErrQueueEmpty is returned when Pop() or Top() is called on an empty queue.
var ErrQueueEmpty = errors.New("job queue is empty")

// jobQueue is a min-heap of jobs for a single function, popping
// highest-priority jobs first. Jobs with the same priority are served in
// submission order. Callers synchronize access through the server mutex.
type jobQueue struct {
	pq priorityQueue
}

func newJobQueue() *jobQueue {
	pq := make(priorityQueue, 0)
	heap.Init(&pq)
	return &jobQueue{pq: pq}
}

func (q *jobQueue) Push(job *serverJob) error {
	if job == nil {
		return errors.New("cannot push nil job")
	}
	heap.Push(&q.pq, &item{job: job})
	return nil
}

func (q *jobQueue) Pop() (*serverJob, error) {
	if q.pq.Len() == 0 {
		return nil, ErrQueueEmpty
	}
	it := heap.Pop(&q.pq).(*item)
	return it.job, nil
}

func (q *jobQueue) Top() (*serverJob, error) {
	if q.pq.Len() == 0 {
		return nil, ErrQueueEmpty
	}
	return q.pq[0].job, nil
}

func (q *jobQueue) Len() int {
	return q.pq.Len()
}

// before reports whether a should be served ahead of b.
func before(a, b *serverJob) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.sequence < b.sequence
}

// item wraps a job with its index in the heap.
type item struct {
	job   *serverJob
	index int // Required by heap.Interface
}

// priorityQueue satisfies heap.Interface.
type priorityQueue []*item

func (pq priorityQueue) Len() int {
	return len(pq)
}

func (pq priorityQueue) Less(i, j int) bool {
	return before(pq[i].job, pq[j].job)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	n := len(*pq)
	it := x.(*item)
	it.index = n
	*pq = append(*pq, it)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[0 : n-1]
	return it
}
