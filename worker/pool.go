package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Submit once the pool has been stopped.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a unit of work run on a pool worker.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of goroutines fed by a bounded queue.
// Submit blocks while the queue is full, which is the backpressure point.
type Pool struct {
	size   int
	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

// NewPool initializes a pool with size workers and a queue of queueSize tasks.
func NewPool(size, queueSize int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:   size,
		tasks:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(zap.String("component", "worker_pool")),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.once.Do(func() {
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.process(i)
		}
		p.logger.Info("worker pool started", zap.Int("workers", p.size), zap.Int("queue", cap(p.tasks)))
	})
}

// process runs queued tasks until the pool is stopped.
func (p *Pool) process(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			p.run(id, task)
		}
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				zap.Int("worker", id),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	task(p.ctx)
}

// Submit queues a task. It waits for queue space until ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "submit task")
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Stop cancels the pool context and waits for running tasks to return.
// Queued tasks that have not started are dropped.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}
