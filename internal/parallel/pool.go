// Package parallel runs independent engine jobs, such as the problems of a
// batch, with bounded concurrency. Each job owns its engine state; nothing
// is shared between jobs except the read-only domain.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool bounds how many jobs run at once.
type Pool struct {
	maxWorkers int
	failFast   bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithFailFast cancels the remaining jobs as soon as one returns an error.
// By default job errors are collected and the other jobs keep running.
func WithFailFast(on bool) PoolOption {
	return func(p *Pool) { p.failFast = on }
}

// NewPool creates a pool running at most maxWorkers jobs at a time.
// If maxWorkers is 0 or negative, it defaults to the number of CPU cores.
func NewPool(maxWorkers int, opts ...PoolOption) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	p := &Pool{maxWorkers: maxWorkers}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int { return p.maxWorkers }

// Job is one unit of work.
type Job[T any] func(ctx context.Context) (T, error)

// Outcome is the result of the job at Index.
type Outcome[T any] struct {
	Index int
	Value T
	Err   error
}

// Run executes jobs on p and returns their outcomes in job order. The
// returned error is the context error when ctx ends early, or with
// WithFailFast the first job error.
func Run[T any](ctx context.Context, p *Pool, jobs []Job[T]) ([]Outcome[T], error) {
	out := make([]Outcome[T], len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for i, job := range jobs {
		out[i].Index = i
		if gctx.Err() != nil {
			out[i].Err = gctx.Err()
			continue
		}
		g.Go(func() error {
			v, err := job(gctx)
			out[i].Value, out[i].Err = v, err
			if err != nil && p.failFast {
				return err
			}
			return gctx.Err()
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return out, err
}
