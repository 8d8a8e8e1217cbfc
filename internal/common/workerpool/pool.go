package workerpool

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/armadaproject/insights/internal/common/insightscontext"
)

var ErrPoolShutdown = errors.New("worker pool has been shut down")

// Task is a unit of work run by the pool. It receives the context of the caller that submitted it, not the
// context of the batch, so that a failure elsewhere in the batch does not abort a task that is already running.
type Task func(ctx *insightscontext.Context) error

// Pool bounds the number of tasks running at the same time across every caller in the process.
// A Pool is created once at startup and must be shut down explicitly.
type Pool struct {
	size     int64
	sem      *semaphore.Weighted
	mu       sync.Mutex
	running  sync.WaitGroup
	shutdown bool
}

func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

func (p *Pool) Size() int {
	return int(p.size)
}

// Run executes tasks with at most Size() of them running concurrently across the pool. Once any task fails no further
// tasks are started; tasks already running are left to finish. Run returns only after every started task has
// returned, and the returned error holds every failure.
func (p *Pool) Run(ctx *insightscontext.Context, tasks []Task) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return errors.WithStack(ErrPoolShutdown)
	}
	p.running.Add(1)
	p.mu.Unlock()
	defer p.running.Done()

	var mu sync.Mutex
	var result *multierror.Error
	g, gctx := insightscontext.ErrGroup(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			// gctx is done once a sibling has failed or the caller has given up.
			if gctx.Err() != nil {
				return nil
			}
			if err := p.sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer p.sem.Release(1)
			if gctx.Err() != nil {
				return nil
			}
			if err := task(ctx); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return errors.WithStack(ctx.Err())
	}
	return nil
}

// Shutdown stops the pool accepting new work and waits for running tasks to complete.
func (p *Pool) Shutdown(ctx *insightscontext.Context) error {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "timed out waiting for running tasks")
	}
}
