package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrej220/stepagent/pkg/lg"
)

const (
	TotalMaxWorkers = 10
)

var ErrPoolStopped = errors.New("worker pool is shutting down")

type JobFunc[T any] func(context.Context, T) error

type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
	// MaxAttempts > 1 retries a failing Fn with a linear delay.
	MaxAttempts int
	RetryDelay  time.Duration
}

// Pool runs submitted jobs concurrently, at most maxWorkers at a time.
type Pool[T any] struct {
	jobs          chan Job[T]
	sem           chan struct{}
	activeWorkers int32
	wg            sync.WaitGroup
	quit          chan struct{}
	dispatched    chan struct{}
	stopOnce      sync.Once
	mu            sync.RWMutex
	stopped       bool
	maxWorkers    int
}

func NewPool[T any](maxWorkers int) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	pool := &Pool[T]{
		jobs:       make(chan Job[T], maxWorkers),
		sem:        make(chan struct{}, maxWorkers),
		quit:       make(chan struct{}),
		dispatched: make(chan struct{}),
		maxWorkers: maxWorkers,
	}
	go pool.dispatch()
	return pool
}

// Stop rejects new jobs, drops queued ones and waits for running ones to
// return. Running jobs are not cancelled; cancel their contexts first for a
// fast shutdown.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		close(p.quit)
		<-p.dispatched
		p.wg.Wait()
	})
}

func (p *Pool[T]) Submit(job Job[T]) error {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	logger := lg.FromContext(job.Ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		logger.Warn("worker pool is shutting down, job rejected")
		return ErrPoolStopped
	}
	p.jobs <- job
	logger.Debug("job submitted", lg.Any("job", job.Payload))
	return nil
}

func (p *Pool[T]) dispatch() {
	defer close(p.dispatched)
	for {
		select {
		case job := <-p.jobs:
			select {
			case p.sem <- struct{}{}:
			case <-p.quit:
				p.reject(job)
				p.drain()
				return
			}
			p.wg.Add(1)
			atomic.AddInt32(&p.activeWorkers, 1)
			go p.worker(job)
		case <-p.quit:
			p.drain()
			return
		}
	}
}

// drain rejects jobs still buffered after quit. Submit cannot add more once
// stopped is set.
func (p *Pool[T]) drain() {
	for {
		select {
		case job := <-p.jobs:
			p.reject(job)
		default:
			return
		}
	}
}

func (p *Pool[T]) reject(job Job[T]) {
	lg.FromContext(job.Ctx).Warn("worker pool is shutting down, queued job dropped")
	if job.CleanupFunc != nil {
		job.CleanupFunc()
	}
}

func (p *Pool[T]) worker(job Job[T]) {
	defer p.wg.Done()
	defer func() { <-p.sem }()
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer func() {
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()
	logger := lg.FromContext(job.Ctx)
	logger.Debug("worker started", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))

	attempts := job.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = job.Fn(job.Ctx, job.Payload)
		if err == nil || attempt == attempts {
			break
		}
		select {
		case <-job.Ctx.Done():
			err = job.Ctx.Err()
			attempt = attempts
		case <-time.After(time.Duration(attempt) * job.RetryDelay):
		}
	}
	if err != nil && attempts > 1 {
		err = fmt.Errorf("failed after %d attempts: %w", attempts, err)
	}

	if err != nil {
		logger.Error("worker error", lg.Err(err))
		return
	}
	logger.Debug("worker finished", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}
