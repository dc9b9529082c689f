package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonPositiveSize(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = New(-3)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestPool_EveryJobRunsExactlyOnce(t *testing.T) {
	const workers, jobs = 3, 500

	pool, err := New(workers)
	require.NoError(t, err)

	var runs [jobs]atomic.Int32
	for i := 0; i < jobs; i++ {
		i := i
		require.NoError(t, pool.Execute(func() {
			runs[i].Add(1)
		}))
	}
	pool.Close()

	for i := range runs {
		assert.Equal(t, int32(1), runs[i].Load(), "job %d", i)
	}
	assert.Equal(t, int64(jobs), pool.Stats().Completed)
}

func TestPool_ConcurrentSubmitters(t *testing.T) {
	pool, err := New(4)
	require.NoError(t, err)

	var total atomic.Int64
	var submitters sync.WaitGroup
	for s := 0; s < 8; s++ {
		submitters.Add(1)
		go func() {
			defer submitters.Done()
			for i := 0; i < 100; i++ {
				_ = pool.Execute(func() { total.Add(1) })
			}
		}()
	}
	submitters.Wait()
	pool.Close()

	assert.Equal(t, int64(800), total.Load())
}

func TestPool_UsesAllWorkers(t *testing.T) {
	const workers = 4
	pool, err := New(workers)
	require.NoError(t, err)

	var running atomic.Int32
	var peak atomic.Int32
	release := make(chan struct{})
	for i := 0; i < workers; i++ {
		require.NoError(t, pool.Execute(func() {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		}))
	}

	assert.Eventually(t, func() bool { return peak.Load() == workers }, 2*time.Second, 5*time.Millisecond)
	close(release)
	pool.Close()
}

func TestPool_CloseDrainsQueuedJobs(t *testing.T) {
	pool, err := New(1)
	require.NoError(t, err)

	gate := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, pool.Execute(func() { <-gate; ran.Add(1) }))
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Execute(func() { ran.Add(1) }))
	}

	closed := make(chan struct{})
	go func() {
		pool.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before in-flight job finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	<-closed
	assert.Equal(t, int32(11), ran.Load())
	assert.ErrorIs(t, pool.Execute(func() {}), ErrPoolClosed)
}

func TestPool_BoundedQueue(t *testing.T) {
	pool, err := New(1, WithQueueSize(1))
	require.NoError(t, err)

	gate := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Execute(func() { close(started); <-gate }))
	<-started

	require.NoError(t, pool.Execute(func() {}))
	assert.ErrorIs(t, pool.Execute(func() {}), ErrQueueFull)

	close(gate)
	pool.Close()
}

func TestPool_SurvivesPanickingJob(t *testing.T) {
	pool, err := New(1)
	require.NoError(t, err)

	var ran atomic.Bool
	require.NoError(t, pool.Execute(func() { panic("boom") }))
	require.NoError(t, pool.Execute(func() { ran.Store(true) }))
	pool.Close()

	assert.True(t, ran.Load())
	assert.Equal(t, int64(1), pool.Stats().Panics)
}
