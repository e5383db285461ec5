package bot

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcher_PreservesOrderPerUser(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	var mu sync.Mutex
	got := make(map[int64][]int)
	for i := 0; i < 100; i++ {
		for _, userID := range []int64{1, 2, 3} {
			require.True(t, d.Submit(userID, func() {
				mu.Lock()
				got[userID] = append(got[userID], i)
				mu.Unlock()
			}))
		}
	}
	d.Close()

	for _, userID := range []int64{1, 2, 3} {
		require.Len(t, got[userID], 100)
		for i, v := range got[userID] {
			assert.Equal(t, i, v)
		}
	}
	assert.Equal(t, 0, d.Active())
}

func TestDispatcher_UsersRunInParallel(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	release := make(chan struct{})
	d.Submit(1, func() { <-release })

	done := make(chan struct{})
	d.Submit(2, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a blocked user must not stall other users")
	}
	assert.Equal(t, 1, d.Active())

	close(release)
	d.Close()
	assert.Equal(t, 0, d.Active())
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	var ran atomic.Bool
	d.Submit(1, func() { panic("boom") })
	d.Submit(1, func() { ran.Store(true) })
	d.Close()

	assert.True(t, ran.Load(), "jobs after a panic still run")
}

func TestDispatcher_RejectsAfterClose(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	d.Close()

	assert.False(t, d.Submit(1, func() {}))
}

func TestDispatcher_RetiresIdleWorkers(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	done := make(chan struct{})
	d.Submit(5, func() { close(done) })
	<-done

	assert.Eventually(t, func() bool { return d.Active() == 0 }, time.Second, 5*time.Millisecond)
	d.Close()
}
