package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_DefaultsToCPUCount(t *testing.T) {
	assert.Equal(t, runtime.NumCPU(), NewPool(0).Workers())
	assert.Equal(t, 3, NewPool(3).Workers())
}

func TestRun_KeepsJobOrder(t *testing.T) {
	jobs := make([]Job[int], 8)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) (int, error) {
			// later jobs finish first
			time.Sleep(time.Duration(len(jobs)-i) * time.Millisecond)
			return i * i, nil
		}
	}

	outs, err := Run(context.Background(), NewPool(4), jobs)
	require.NoError(t, err)
	require.Len(t, outs, len(jobs))
	for i, o := range outs {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, i*i, o.Value)
		assert.NoError(t, o.Err)
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var running, peak int32
	jobs := make([]Job[struct{}], 10)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) (struct{}, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return struct{}{}, nil
		}
	}

	_, err := Run(context.Background(), NewPool(2), jobs)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRun_CollectsErrors(t *testing.T) {
	boom := errors.New("boom")
	jobs := []Job[string]{
		func(ctx context.Context) (string, error) { return "a", nil },
		func(ctx context.Context) (string, error) { return "", boom },
		func(ctx context.Context) (string, error) { return "c", nil },
	}

	outs, err := Run(context.Background(), NewPool(1), jobs)
	require.NoError(t, err)
	assert.Equal(t, "a", outs[0].Value)
	assert.ErrorIs(t, outs[1].Err, boom)
	assert.Equal(t, "c", outs[2].Value)
}

func TestRun_FailFast(t *testing.T) {
	boom := errors.New("boom")
	jobs := []Job[int]{
		func(ctx context.Context) (int, error) { return 0, boom },
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}

	outs, err := Run(context.Background(), NewPool(2, WithFailFast(true)), jobs)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, outs[1].Err, context.Canceled)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	jobs := []Job[int]{
		func(ctx context.Context) (int, error) { return 1, ctx.Err() },
	}

	outs, err := Run(ctx, NewPool(1), jobs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Error(t, outs[0].Err)
}
