// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers presence upserts, staleness sweeps, activity log, and screenshots

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAgent_CreatesOnlineRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertAgent(ctx, "LAB-01", "192.168.0.11", Metrics{CPU: 42, Memory: 55})
	require.NoError(t, err)

	rec, err := s.GetAgent(ctx, "LAB-01")
	require.NoError(t, err)
	assert.Equal(t, "LAB-01", rec.Name)
	assert.Equal(t, "192.168.0.11", rec.Address)
	assert.Equal(t, StateOnline, rec.State)
	assert.InDelta(t, 42, rec.Metrics.CPU, 0.001)
	assert.InDelta(t, 55, rec.Metrics.Memory, 0.001)
	assert.WithinDuration(t, time.Now(), rec.LastSeen, 5*time.Second)
}

func TestUpsertAgent_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := Metrics{CPU: 10, Memory: 20}
	require.NoError(t, s.UpsertAgent(ctx, "LAB-02", "10.0.0.2", m))
	require.NoError(t, s.UpsertAgent(ctx, "LAB-02", "10.0.0.2", m))

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1, "re-registration must not duplicate records")
}

func TestUpsertAgent_LastWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAgent(ctx, "LAB-03", "10.0.0.3", Metrics{CPU: 1}))
	require.NoError(t, s.UpsertAgent(ctx, "LAB-03", "10.0.9.9", Metrics{CPU: 99}))

	rec, err := s.GetAgent(ctx, "LAB-03")
	require.NoError(t, err)
	assert.Equal(t, "10.0.9.9", rec.Address)
	assert.InDelta(t, 99, rec.Metrics.CPU, 0.001)
}

func TestUpsertAgent_RequiresName(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertAgent(context.Background(), "", "10.0.0.1", Metrics{})
	assert.Error(t, err)
}

func TestUpsertAgent_RevivesOfflineAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAgent(ctx, "LAB-04", "10.0.0.4", Metrics{}))
	changed, err := s.MarkOffline(ctx, "LAB-04")
	require.NoError(t, err)
	require.True(t, changed)

	require.NoError(t, s.UpsertAgent(ctx, "LAB-04", "10.0.0.4", Metrics{}))
	rec, err := s.GetAgent(ctx, "LAB-04")
	require.NoError(t, err)
	assert.Equal(t, StateOnline, rec.State)
}

func TestMarkOffline_ReportsChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAgent(ctx, "LAB-05", "", Metrics{}))

	changed, err := s.MarkOffline(ctx, "LAB-05")
	require.NoError(t, err)
	assert.True(t, changed)

	// Second demotion is a no-op
	changed, err = s.MarkOffline(ctx, "LAB-05")
	require.NoError(t, err)
	assert.False(t, changed)

	// Unknown agent is a no-op, not an error
	changed, err = s.MarkOffline(ctx, "NO-SUCH")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMarkStale_DemotesOnlyStaleOnline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAgent(ctx, "FRESH", "", Metrics{}))
	require.NoError(t, s.UpsertAgent(ctx, "STALE", "", Metrics{}))
	require.NoError(t, s.UpsertAgent(ctx, "GONE", "", Metrics{}))
	_, err := s.MarkOffline(ctx, "GONE")
	require.NoError(t, err)

	// Rewind STALE's last_seen behind the cutoff
	_, err = s.db.Exec(`UPDATE agents SET last_seen = ? WHERE name = 'STALE'`,
		time.Now().UTC().Add(-10*time.Minute))
	require.NoError(t, err)

	stale, err := s.MarkStale(ctx, time.Now().UTC().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"STALE"}, stale)

	rec, err := s.GetAgent(ctx, "STALE")
	require.NoError(t, err)
	assert.Equal(t, StateOffline, rec.State)

	rec, err = s.GetAgent(ctx, "FRESH")
	require.NoError(t, err)
	assert.Equal(t, StateOnline, rec.State)
}

func TestMarkStale_EmptySweep(t *testing.T) {
	s := newTestStore(t)
	stale, err := s.MarkStale(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestGetAgent_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &FleetStats{}, stats)

	require.NoError(t, s.UpsertAgent(ctx, "A", "", Metrics{}))
	require.NoError(t, s.UpsertAgent(ctx, "B", "", Metrics{}))
	_, err = s.MarkOffline(ctx, "B")
	require.NoError(t, err)

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Online)
	assert.Equal(t, 1, stats.Offline)
}

func TestSetAgentGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAgent(ctx, "LAB-06", "", Metrics{}))

	gid := int64(3)
	require.NoError(t, s.SetAgentGroup(ctx, "LAB-06", &gid))

	rec, err := s.GetAgent(ctx, "LAB-06")
	require.NoError(t, err)
	require.NotNil(t, rec.GroupID)
	assert.Equal(t, int64(3), *rec.GroupID)

	// Group survives heartbeats
	require.NoError(t, s.UpsertAgent(ctx, "LAB-06", "", Metrics{CPU: 5}))
	rec, err = s.GetAgent(ctx, "LAB-06")
	require.NoError(t, err)
	require.NotNil(t, rec.GroupID)

	require.NoError(t, s.SetAgentGroup(ctx, "LAB-06", nil))
	rec, err = s.GetAgent(ctx, "LAB-06")
	require.NoError(t, err)
	assert.Nil(t, rec.GroupID)

	err = s.SetAgentGroup(ctx, "NO-SUCH", &gid)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivityLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendActivity(ctx, &ActivityEntry{
			AgentName: "LAB-07",
			User:      "student",
			Kind:      "login",
			Details:   "agent connected",
		}))
	}
	require.NoError(t, s.AppendActivity(ctx, &ActivityEntry{
		AgentName: "LAB-08",
		Kind:      "command",
		Details:   "lock",
	}))

	entries, err := s.ListActivity(ctx, "LAB-07", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	all, err := s.ListActivity(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	limited, err := s.ListActivity(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestScreenshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	shot := &Screenshot{
		AgentName: "LAB-09",
		Filename:  "LAB-09_1700000000.jpg",
		Data:      []byte{0xff, 0xd8, 0xff},
	}
	require.NoError(t, s.SaveScreenshot(ctx, shot))
	assert.NotZero(t, shot.ID)

	shots, err := s.ListScreenshots(ctx, "LAB-09", 10)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.Equal(t, shot.Filename, shots[0].Filename)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, shots[0].Data)

	other, err := s.ListScreenshots(ctx, "LAB-10", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAdminUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAdminUser(ctx, "admin", "$2a$12$hash", "admin"))

	u, err := s.GetAdminUser(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Username)
	assert.Equal(t, "admin", u.Role)
	assert.NotEmpty(t, u.ID)

	// Duplicate username rejected by unique constraint
	err = s.CreateAdminUser(ctx, "admin", "$2a$12$other", "viewer")
	assert.Error(t, err)

	_, err = s.GetAdminUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}
