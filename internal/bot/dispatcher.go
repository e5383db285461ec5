package bot

import (
	"sync"

	"go.uber.org/zap"
)

// Dispatcher runs jobs in submission order per user and in parallel across
// users. A user's worker goroutine exits as soon as its queue drains.
type Dispatcher struct {
	logger *zap.Logger

	mu     sync.Mutex
	queues map[int64]*userQueue
	closed bool
	wg     sync.WaitGroup
}

type userQueue struct {
	jobs []func()
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		queues: make(map[int64]*userQueue),
	}
}

// Submit queues job behind the user's earlier jobs. It returns false once
// the dispatcher is closed.
func (d *Dispatcher) Submit(userID int64, job func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}

	q, ok := d.queues[userID]
	if !ok {
		q = &userQueue{}
		d.queues[userID] = q
		d.wg.Add(1)
		go d.work(userID, q)
	}
	q.jobs = append(q.jobs, job)
	return true
}

// Active returns the number of users with queued or running jobs
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Close stops accepting jobs and waits for queued ones to finish
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) work(userID int64, q *userQueue) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		if len(q.jobs) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		d.mu.Unlock()

		d.run(userID, job)
	}
}

func (d *Dispatcher) run(userID int64, job func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered from panic in update handler",
				zap.Any("panic", r),
				zap.Int64("user_id", userID),
			)
		}
	}()
	job()
}
