package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExecutesWork(t *testing.T) {
	s := New(2, 0)
	var ran int32

	err := s.Run(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	require.NoError(t, err)
	assert.EqualValues(t, 1, ran)
	assert.Equal(t, 0, s.InUse())
}

func TestRunBoundsConcurrencyToCapacity(t *testing.T) {
	s := New(2, 0)

	var (
		mu       sync.Mutex
		current  int
		observed int
		wg       sync.WaitGroup
	)

	enter := func() {
		mu.Lock()
		current++
		if current > observed {
			observed = current
		}
		mu.Unlock()
	}
	leave := func() {
		mu.Lock()
		current--
		mu.Unlock()
	}

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Run(context.Background(), func(ctx context.Context) error {
				enter()
				time.Sleep(10 * time.Millisecond)
				leave()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, observed, s.Capacity())
	assert.Equal(t, 2, s.Capacity())
}

func TestRunReturnsContextErrorWhenCancelledWhileQueued(t *testing.T) {
	s := New(1, 0)

	release := make(chan struct{})
	go func() {
		_ = s.Run(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(5 * time.Millisecond) // let the first caller take the only permit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestCollectorsReturnsBothGauges(t *testing.T) {
	s := New(1, 0)
	assert.Len(t, s.Collectors(), 2)
}
