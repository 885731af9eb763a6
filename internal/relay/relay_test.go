// ABOUTME: Tests for agent event routing and command publication.
// ABOUTME: Exercises register/heartbeat/activity/screenshot/frame paths with in-memory fakes.

package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProCodeJH/PC-Management/internal/presence"
	"github.com/ProCodeJH/PC-Management/internal/store"
	"github.com/ProCodeJH/PC-Management/internal/stream"
	"github.com/ProCodeJH/PC-Management/internal/transport"
)

type broadcastCall struct {
	event   string
	payload any
}

type fakeHub struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeHub) Broadcast(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{event, payload})
}

func (f *fakeHub) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.event
	}
	return out
}

type fakeSessions struct {
	bound map[string]string
}

func (f *fakeSessions) OnIdentify(sessionID, agentName string) {
	if f.bound == nil {
		f.bound = make(map[string]string)
	}
	f.bound[sessionID] = agentName
}

func (f *fakeSessions) AgentFor(sessionID string) string { return f.bound[sessionID] }

type frameSink struct {
	mu     sync.Mutex
	frames []stream.Frame
}

func (s *frameSink) Send(sessionID, event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := payload.(stream.Frame); ok {
		s.frames = append(s.frames, f)
	}
	return nil
}

type fixture struct {
	relay    *Relay
	hub      *fakeHub
	sessions *fakeSessions
	ms       *store.MockStore
	sink     *frameSink
	streams  *stream.Manager
}

func newFixture() *fixture {
	ms := store.NewMockStore()
	svc := presence.NewService(ms, time.Second, time.Second, nil)
	hub := &fakeHub{}
	sessions := &fakeSessions{}
	sink := &frameSink{}
	streams := stream.NewManager(sink, fixedLocator{}, nil)
	return &fixture{
		relay:    New(svc, ms, streams, hub, sessions, nil),
		hub:      hub,
		sessions: sessions,
		ms:       ms,
		sink:     sink,
		streams:  streams,
	}
}

type fixedLocator map[string]string

func (l fixedLocator) SessionFor(agentName string) (string, bool) {
	id, ok := l[agentName]
	return id, ok
}

func sess(id, addr string) *transport.Session {
	return &transport.Session{ID: id, RemoteAddr: addr}
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHandleRegister_BindsAndUpserts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.relay.HandleRegister(ctx, sess("s1", "192.168.1.20"), raw(t, StatusPayload{Name: "LAB-01", CPU: 12.5, Memory: 40}))

	assert.Equal(t, "LAB-01", f.sessions.AgentFor("s1"))

	rec, err := f.ms.GetAgent(ctx, "LAB-01")
	require.NoError(t, err)
	assert.Equal(t, store.StateOnline, rec.State)
	assert.Equal(t, "192.168.1.20", rec.Address, "address falls back to the socket source")
	assert.Equal(t, 12.5, rec.Metrics.CPU)

	require.Equal(t, []string{EventAgentUpdated}, f.hub.events())
}

func TestHandleRegister_MalformedPayload(t *testing.T) {
	f := newFixture()

	f.relay.HandleRegister(context.Background(), sess("s1", "x"), json.RawMessage(`{broken`))
	f.relay.HandleRegister(context.Background(), sess("s1", "x"), raw(t, StatusPayload{Name: ""}))

	assert.Empty(t, f.hub.events())
	assert.Equal(t, "", f.sessions.AgentFor("s1"))
}

func TestHandleHeartbeat_IdentifiesOrphanSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Gateway restarted: agent keeps heartbeating without re-registering.
	f.relay.HandleHeartbeat(ctx, sess("s1", "192.168.1.20"), raw(t, StatusPayload{Name: "LAB-01", CPU: 5}))

	assert.Equal(t, "LAB-01", f.sessions.AgentFor("s1"))
	rec, err := f.ms.GetAgent(ctx, "LAB-01")
	require.NoError(t, err)
	assert.Equal(t, store.StateOnline, rec.State)
}

func TestHandleHeartbeat_PersistFailureSwallowed(t *testing.T) {
	f := newFixture()
	f.ms.FailWrites = assert.AnError

	f.relay.HandleHeartbeat(context.Background(), sess("s1", "x"), raw(t, StatusPayload{Name: "LAB-01"}))

	// No broadcast, no panic; the connection stays usable.
	assert.Empty(t, f.hub.events())
}

func TestHandleActivity_AppendsAndBroadcasts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.relay.HandleActivity(ctx, sess("s1", "x"), raw(t, ActivityPayload{
		Name: "LAB-01", User: "jsmith", Kind: "login", Details: "console session",
	}))

	entries, err := f.ms.ListActivity(ctx, "LAB-01", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "login", entries[0].Kind)
	assert.Equal(t, []string{EventNewActivity}, f.hub.events())
}

func TestHandleActivity_StoreFailureStillBroadcasts(t *testing.T) {
	f := newFixture()
	f.ms.FailWrites = assert.AnError

	f.relay.HandleActivity(context.Background(), sess("s1", "x"), raw(t, ActivityPayload{Name: "LAB-01", Kind: "login"}))

	assert.Equal(t, []string{EventNewActivity}, f.hub.events(), "live feed survives a dead disk")
}

func TestHandleActivity_SuppressesRepeats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	report := raw(t, ActivityPayload{Name: "LAB-01", Kind: "app-open", Details: "chrome"})
	f.relay.HandleActivity(ctx, sess("s1", "x"), report)
	f.relay.HandleActivity(ctx, sess("s1", "x"), report)

	// Same details from a different agent is not a repeat.
	f.relay.HandleActivity(ctx, sess("s2", "x"), raw(t, ActivityPayload{Name: "LAB-02", Kind: "app-open", Details: "chrome"}))

	entries, err := f.ms.ListActivity(ctx, "LAB-01", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, []string{EventNewActivity, EventNewActivity}, f.hub.events())
}

func TestHandleScreenshot_SavesWithDefaultFilename(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.relay.HandleScreenshot(ctx, sess("s1", "x"), raw(t, ScreenshotPayload{
		Name: "LAB-01", Image: []byte{0xff, 0xd8},
	}))

	shots, err := f.ms.ListScreenshots(ctx, "LAB-01", 10)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.Equal(t, "LAB-01.jpg", shots[0].Filename)
	assert.Equal(t, []string{EventNewScreenshot}, f.hub.events())
}

func TestHandleFrame_RelaysOnlyToRoom(t *testing.T) {
	f := newFixture()
	f.streams.Join("viewer-1", "LAB-01", stream.Params{FPS: 5, Quality: 40})

	f.relay.HandleFrame(context.Background(), sess("s1", "x"), raw(t, stream.Frame{
		AgentName: "LAB-01", Image: []byte{1, 2, 3},
	}))
	f.relay.HandleFrame(context.Background(), sess("s2", "x"), raw(t, stream.Frame{
		AgentName: "LAB-02", Image: []byte{4},
	}))

	require.Len(t, f.sink.frames, 1)
	assert.Equal(t, "LAB-01", f.sink.frames[0].AgentName)
}

func TestHandleFrame_NameFallsBackToBinding(t *testing.T) {
	f := newFixture()
	f.sessions.OnIdentify("s1", "LAB-01")
	f.streams.Join("viewer-1", "LAB-01", stream.Params{FPS: 5, Quality: 40})

	f.relay.HandleFrame(context.Background(), sess("s1", "x"), raw(t, map[string]any{
		"image": []byte{9},
	}))

	require.Len(t, f.sink.frames, 1)
	assert.Equal(t, "LAB-01", f.sink.frames[0].AgentName)
}

func TestSendCommand_BroadcastsOnAgentTopic(t *testing.T) {
	f := newFixture()

	ok := f.relay.SendCommand("LAB-01", CmdLock, nil)
	assert.True(t, ok)

	require.Len(t, f.hub.calls, 1)
	assert.Equal(t, "command:LAB-01", f.hub.calls[0].event)
	assert.Equal(t, CommandPayload{Command: CmdLock}, f.hub.calls[0].payload)
}

func TestSendCommand_OfflineAgentStillAccepted(t *testing.T) {
	f := newFixture()
	assert.True(t, f.relay.SendCommand("GHOST", CmdShutdown, map[string]any{"delay": 30}))
}

func TestKnownCommand(t *testing.T) {
	for _, c := range []string{
		CmdShutdown, CmdRestart, CmdLock, CmdLogoff, CmdMessage,
		CmdKillProcess, CmdOpenURL, CmdRun, CmdScreenshot,
		CmdCancelShutdown, CmdBlockSite,
	} {
		assert.True(t, KnownCommand(c), c)
	}
	assert.False(t, KnownCommand("format-disk"))
}

func TestFleetChanged_Broadcasts(t *testing.T) {
	f := newFixture()
	f.relay.FleetChanged([]string{"LAB-01", "LAB-02"})
	require.Equal(t, []string{EventFleetChanged}, f.hub.events())
}
