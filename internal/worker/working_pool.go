package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrPoolClosed = errors.New("working pool is closed")

type Job func(ctx context.Context) error

// WorkingPool runs submitted jobs on a fixed number of workers. Once the
// context passed to Start is cancelled workers pick up nothing new, but a job
// already running keeps a non-cancelled context and finishes.
type WorkingPool struct {
	Name       string
	NumWorkers int
	jobChan    chan Job

	mu       sync.RWMutex
	closed   bool
	workerWg sync.WaitGroup
	stopped  chan struct{}
}

func NewWorkingPool(name string, numWorkers int, queueSize int) *WorkingPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkingPool{
		Name:       name,
		NumWorkers: numWorkers,
		jobChan:    make(chan Job, queueSize),
		stopped:    make(chan struct{}),
	}
}

func (p *WorkingPool) Start(ctx context.Context) {
	for i := range p.NumWorkers {
		p.workerWg.Add(1)
		go p.worker(ctx, i+1)
	}

	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.stopped:
		}
	}()
	go func() {
		p.workerWg.Wait()
		close(p.stopped)
	}()
}

// Submit queues a job, blocking while the queue is full.
func (p *WorkingPool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case <-p.stopped:
		return ErrPoolClosed
	default:
	}

	select {
	case p.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrPoolClosed
	}
}

// Close stops accepting jobs. Queued jobs still run unless the start
// context is cancelled.
func (p *WorkingPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobChan)
}

// Wait blocks until every worker has exited.
func (p *WorkingPool) Wait() {
	<-p.stopped
}

func (p *WorkingPool) worker(ctx context.Context, id int) {
	defer p.workerWg.Done()
	jobCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("worker stopping on cancel", "pool", p.Name, "worker", id)
			return
		case job, ok := <-p.jobChan:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			p.safeExecution(jobCtx, job, id)
		}
	}
}

func (p *WorkingPool) safeExecution(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic recovered in job", "pool", p.Name, "worker", workerID, "panic", r)
		}
	}()

	if err := job(ctx); err != nil {
		slog.Warn("job failed", "pool", p.Name, "worker", workerID, "error", err)
	}
}
