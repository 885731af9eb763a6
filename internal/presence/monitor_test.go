// ABOUTME: Tests for the liveness monitor staleness sweep
// ABOUTME: Covers staleness convergence, notification, and offline one-shot behavior

package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProCodeJH/PC-Management/internal/store"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]string
}

func (n *recordingNotifier) FleetChanged(names []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := make([]string, len(names))
	copy(cp, names)
	n.calls = append(n.calls, cp)
}

func (n *recordingNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func TestSweep_DemotesStaleAgentExactlyOnce(t *testing.T) {
	ms := store.NewMockStore()
	svc := NewService(ms, time.Second, time.Second, nil)
	notifier := &recordingNotifier{}
	mon := NewMonitor(svc, 5*time.Minute, time.Minute, notifier, nil)
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "LAB-01", "", store.Metrics{}))
	ms.SetLastSeen("LAB-01", time.Now().Add(-10*time.Minute))

	mon.Sweep(ctx)

	rec, err := svc.Get(ctx, "LAB-01")
	require.NoError(t, err)
	assert.Equal(t, store.StateOffline, rec.State)
	require.Equal(t, 1, notifier.callCount())
	assert.Equal(t, []string{"LAB-01"}, notifier.calls[0])

	// A second sweep with no new heartbeat must not re-fire
	mon.Sweep(ctx)
	assert.Equal(t, 1, notifier.callCount(), "offline transition must happen exactly once")

	rec, err = svc.Get(ctx, "LAB-01")
	require.NoError(t, err)
	assert.Equal(t, store.StateOffline, rec.State, "state never flips back without a heartbeat")
}

func TestSweep_FreshAgentUntouched(t *testing.T) {
	ms := store.NewMockStore()
	svc := NewService(ms, time.Second, time.Second, nil)
	notifier := &recordingNotifier{}
	mon := NewMonitor(svc, 5*time.Minute, time.Minute, notifier, nil)
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "LAB-01", "", store.Metrics{}))

	mon.Sweep(ctx)

	rec, err := svc.Get(ctx, "LAB-01")
	require.NoError(t, err)
	assert.Equal(t, store.StateOnline, rec.State)
	assert.Zero(t, notifier.callCount())
}

func TestSweep_HeartbeatRevivesThenStaysOnline(t *testing.T) {
	ms := store.NewMockStore()
	svc := NewService(ms, time.Second, time.Second, nil)
	mon := NewMonitor(svc, 5*time.Minute, time.Minute, &recordingNotifier{}, nil)
	ctx := context.Background()

	require.NoError(t, svc.Upsert(ctx, "LAB-01", "", store.Metrics{}))
	ms.SetLastSeen("LAB-01", time.Now().Add(-10*time.Minute))
	mon.Sweep(ctx)

	// Next heartbeat promotes optimistically
	require.NoError(t, svc.Upsert(ctx, "LAB-01", "", store.Metrics{CPU: 7}))

	rec, err := svc.Get(ctx, "LAB-01")
	require.NoError(t, err)
	assert.Equal(t, store.StateOnline, rec.State)

	mon.Sweep(ctx)
	rec, err = svc.Get(ctx, "LAB-01")
	require.NoError(t, err)
	assert.Equal(t, store.StateOnline, rec.State)
}

func TestSweep_StoreFailureLoggedNotFatal(t *testing.T) {
	ms := store.NewMockStore()
	ms.FailWrites = assert.AnError
	svc := NewService(ms, time.Second, time.Second, nil)
	notifier := &recordingNotifier{}
	mon := NewMonitor(svc, 5*time.Minute, time.Minute, notifier, nil)

	// Must not panic, must not notify
	mon.Sweep(context.Background())
	assert.Zero(t, notifier.callCount())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ms := store.NewMockStore()
	svc := NewService(ms, time.Second, time.Second, nil)
	mon := NewMonitor(svc, time.Minute, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on context cancellation")
	}
}
