// ABOUTME: Tests for the session registry admission cap and rate window.
// ABOUTME: Covers per-address limits, agent binding, and fixed-window message throttling.

package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnConnect_AdmitsUpToCap(t *testing.T) {
	r := NewRegistry(3, 0, nil)

	for i := 0; i < 3; i++ {
		require.True(t, r.OnConnect(fmt.Sprintf("s%d", i), "10.0.0.1"))
	}
	assert.False(t, r.OnConnect("s3", "10.0.0.1"), "fourth session from the same address must be rejected")
	assert.Equal(t, 3, r.CountFor("10.0.0.1"))

	// A different address is unaffected
	assert.True(t, r.OnConnect("other", "10.0.0.2"))
}

func TestOnDisconnect_FreesSlot(t *testing.T) {
	r := NewRegistry(1, 0, nil)

	require.True(t, r.OnConnect("s1", "10.0.0.1"))
	require.False(t, r.OnConnect("s2", "10.0.0.1"))

	r.OnDisconnect("s1")
	assert.Zero(t, r.CountFor("10.0.0.1"))
	assert.True(t, r.OnConnect("s2", "10.0.0.1"), "slot must be reusable after disconnect")
}

func TestOnDisconnect_ReturnsBoundAgent(t *testing.T) {
	r := NewRegistry(0, 0, nil)

	require.True(t, r.OnConnect("s1", "10.0.0.1"))
	require.True(t, r.OnConnect("s2", "10.0.0.1"))
	r.OnIdentify("s1", "LAB-01")

	assert.Equal(t, "LAB-01", r.AgentFor("s1"))
	assert.Equal(t, "LAB-01", r.OnDisconnect("s1"))
	assert.Equal(t, "", r.OnDisconnect("s2"), "unidentified session yields no agent name")
	assert.Equal(t, "", r.OnDisconnect("s1"), "double disconnect is a no-op")
}

func TestSessionFor_RebindsToNewestSession(t *testing.T) {
	r := NewRegistry(0, 0, nil)

	require.True(t, r.OnConnect("old", "10.0.0.1"))
	require.True(t, r.OnConnect("new", "10.0.0.2"))
	r.OnIdentify("old", "LAB-01")
	r.OnIdentify("new", "LAB-01")

	id, ok := r.SessionFor("LAB-01")
	require.True(t, ok)
	assert.Equal(t, "new", id)

	// The stale session going away must not unbind the newer one.
	r.OnDisconnect("old")
	id, ok = r.SessionFor("LAB-01")
	require.True(t, ok)
	assert.Equal(t, "new", id)

	r.OnDisconnect("new")
	_, ok = r.SessionFor("LAB-01")
	assert.False(t, ok)
}

func TestOnIdentify_UnknownSessionIgnored(t *testing.T) {
	r := NewRegistry(0, 0, nil)
	r.OnIdentify("ghost", "LAB-01")
	assert.Equal(t, "", r.AgentFor("ghost"))
	assert.Zero(t, r.Len())
}

func TestAllow_FixedWindow(t *testing.T) {
	r := NewRegistry(0, 5, nil)
	now := time.Now()
	r.now = func() time.Time { return now }

	require.True(t, r.OnConnect("s1", "10.0.0.1"))

	for i := 0; i < 5; i++ {
		assert.True(t, r.Allow("s1"), "message %d within budget", i)
	}
	assert.False(t, r.Allow("s1"), "sixth message in the window must be dropped")
	assert.False(t, r.Allow("s1"))

	// Window rolls over after a second
	now = now.Add(time.Second)
	assert.True(t, r.Allow("s1"))
}

func TestAllow_UnknownSessionDenied(t *testing.T) {
	r := NewRegistry(0, 0, nil)
	assert.False(t, r.Allow("ghost"))
}

func TestAllow_PerSessionIsolation(t *testing.T) {
	r := NewRegistry(0, 1, nil)
	now := time.Now()
	r.now = func() time.Time { return now }

	require.True(t, r.OnConnect("s1", "10.0.0.1"))
	require.True(t, r.OnConnect("s2", "10.0.0.1"))

	require.True(t, r.Allow("s1"))
	require.False(t, r.Allow("s1"))
	assert.True(t, r.Allow("s2"), "one session exhausting its window must not throttle another")
}
