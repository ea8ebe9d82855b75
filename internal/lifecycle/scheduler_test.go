package lifecycle_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/campuspass/backend/internal/lifecycle"
)

type stubLocker struct {
	grant    bool
	keys     chan string
	unlocked atomic.Int32
}

func (l *stubLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.keys <- key
	if !l.grant {
		return nil, false, nil
	}
	return func() { l.unlocked.Add(1) }, true, nil
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := lifecycle.NewScheduler(nil, time.Minute, zaptest.NewLogger(t))
	err := s.Add("sweep", "every now and then", false, func(context.Context, time.Time) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep")
}

func TestScheduler_RunOnStartTakesLock(t *testing.T) {
	locker := &stubLocker{grant: true, keys: make(chan string, 1)}
	s := lifecycle.NewScheduler(locker, time.Minute, zaptest.NewLogger(t))

	var runs atomic.Int32
	require.NoError(t, s.Add("sweep", "0 0 * * *", true, func(ctx context.Context, now time.Time) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.False(t, now.IsZero())
		runs.Add(1)
	}))
	s.Start()
	defer s.Stop(context.Background())

	select {
	case key := <-locker.keys:
		assert.Equal(t, "lock:job:sweep", key)
	case <-time.After(2 * time.Second):
		t.Fatal("startup run never happened")
	}
	assert.Eventually(t, func() bool { return runs.Load() == 1 && locker.unlocked.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_SkipsWhenLockHeld(t *testing.T) {
	locker := &stubLocker{grant: false, keys: make(chan string, 1)}
	s := lifecycle.NewScheduler(locker, time.Minute, zaptest.NewLogger(t))

	var runs atomic.Int32
	require.NoError(t, s.Add("reminders", "0 * * * *", true, func(context.Context, time.Time) { runs.Add(1) }))
	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-locker.keys:
	case <-time.After(2 * time.Second):
		t.Fatal("startup run never happened")
	}
	assert.Never(t, func() bool { return runs.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestScheduler_StartupRunBlocksOverlappingTick(t *testing.T) {
	s := lifecycle.NewScheduler(nil, time.Minute, zaptest.NewLogger(t))

	release := make(chan struct{})
	var active, maxActive, runs atomic.Int32
	require.NoError(t, s.Add("sweep", "@every 1s", true, func(context.Context, time.Time) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		<-release
		active.Add(-1)
	}))
	s.Start()
	// At least one tick fires while the first run is still blocked.
	time.Sleep(1500 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop(context.Background())
		close(stopped)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}

	assert.Equal(t, int32(1), maxActive.Load(), "runs never overlap")
	assert.Equal(t, int32(1), runs.Load(), "ticks during the running job are skipped")
}
