package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
	"github.com/latoulicious/tarumae-voice/pkg/source"
)

const waitTimeout = 2 * time.Second

type fakeConn struct {
	channelID string

	mu           sync.Mutex
	disconnected bool
}

func (c *fakeConn) ChannelID() string                              { return c.channelID }
func (c *fakeConn) Speaking(bool) error                            { return nil }
func (c *fakeConn) SendOpus(ctx context.Context, frame []byte) error { return nil }

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *fakeConn) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

type fakeConnector struct {
	mu    sync.Mutex
	fail  map[string]error
	gates map[string]chan struct{}
	conns []*fakeConn
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		fail:  make(map[string]error),
		gates: make(map[string]chan struct{}),
	}
}

func (f *fakeConnector) Connect(ctx context.Context, guildID, channelID string) (Connection, error) {
	f.mu.Lock()
	gate := f.gates[channelID]
	err := f.fail[channelID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := &fakeConn{channelID: channelID}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	return conn, nil
}

func (f *fakeConnector) connections() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

// fakeResolver accepts https URLs. A gated input ignores ctx, like an
// extractor that does not notice cancellation.
type fakeResolver struct {
	mu        sync.Mutex
	gates     map[string]chan struct{}
	errs      map[string]error
	calls     int
	completed int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		gates: make(map[string]chan struct{}),
		errs:  make(map[string]error),
	}
}

func (f *fakeResolver) Name() string              { return "fake" }
func (f *fakeResolver) Handles(input string) bool { return true }

func (f *fakeResolver) Validate(input string) error {
	if !strings.HasPrefix(input, "https://") {
		return &source.ResolveError{Kind: source.ErrInvalidURL, Input: input, Resolver: "fake"}
	}
	return nil
}

func (f *fakeResolver) Resolve(ctx context.Context, input string) (*source.Audio, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[input]
	err := f.errs[input]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.completed++
		f.mu.Unlock()
	}()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &source.Audio{
		SourceURL: input,
		Title:     "title of " + input,
		StreamURL: input + "/stream",
	}, nil
}

func (f *fakeResolver) gate(input string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[input] = ch
	return ch
}

func (f *fakeResolver) counts() (calls, completed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.completed
}

// fakePlayer plays until ctx is done or the test ends the track.
type fakePlayer struct {
	mu      sync.Mutex
	endings map[string]chan error
	started []string
	active  atomic.Int32
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{endings: make(map[string]chan error)}
}

func (p *fakePlayer) ending(url string) chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.endings[url]
	if !ok {
		ch = make(chan error, 1)
		p.endings[url] = ch
	}
	return ch
}

func (p *fakePlayer) Play(ctx context.Context, conn Connection, audio *source.Audio) error {
	p.mu.Lock()
	p.started = append(p.started, audio.SourceURL)
	p.mu.Unlock()

	p.active.Add(1)
	defer p.active.Add(-1)

	select {
	case err := <-p.ending(audio.SourceURL):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePlayer) startedURLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.started...)
}

type testRig struct {
	manager   *Manager
	connector *fakeConnector
	resolver  *fakeResolver
	player    *fakePlayer
	metrics   *pipeline.BasicMetricsCollector
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	rig := &testRig{
		connector: newFakeConnector(),
		resolver:  newFakeResolver(),
		player:    newFakePlayer(),
		metrics:   pipeline.NewBasicMetricsCollector(nil),
	}
	rig.manager = NewManager(
		Config{ConnectTimeout: time.Second, ResolveTimeout: time.Second, EventBuffer: 64},
		rig.connector, rig.resolver, rig.player, pipeline.NullLogger(),
		WithMetrics(rig.metrics),
	)
	t.Cleanup(rig.manager.Close)
	return rig
}

func (r *testRig) waitFor(t *testing.T, typ EventType, guildID string) Event {
	t.Helper()

	timeout := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-r.manager.Events():
			require.True(t, ok, "event channel closed while waiting for %s", typ)
			if ev.Type == typ && ev.GuildID == guildID {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s in guild %s", typ, guildID)
		}
	}
}

func (r *testRig) join(t *testing.T, guildID, channelID string) {
	t.Helper()
	require.NoError(t, r.manager.Join(guildID, channelID, "text"))
	ev := r.waitFor(t, EventJoined, guildID)
	require.Equal(t, channelID, ev.ChannelID)
}

func (r *testRig) play(t *testing.T, guildID, url string) {
	t.Helper()
	require.NoError(t, r.manager.Play(guildID, url, "text"))
	ev := r.waitFor(t, EventNowPlaying, guildID)
	require.Equal(t, url, ev.Track.SourceURL)
	require.Eventually(t, func() bool { return r.player.active.Load() == 1 }, waitTimeout, 5*time.Millisecond)
}

func TestPlayBeforeJoinReturnsNoActiveSession(t *testing.T) {
	rig := newTestRig(t)

	err := rig.manager.Play("g1", "https://valid/track", "text")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, ok := rig.manager.Snapshot("g1")
	assert.False(t, ok, "play must not create a session")
	assert.Empty(t, rig.manager.Snapshots())

	counter, ok := rig.metrics.GetMetric("voice.commands", map[string]string{"command": "play", "result": "no_session"})
	require.True(t, ok)
	assert.Equal(t, 1.0, counter.Value)
}

func TestJoinConnectsSession(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")

	snap, ok := rig.manager.Snapshot("g1")
	require.True(t, ok)
	assert.Equal(t, Connected, snap.ConnectionState)
	assert.Equal(t, "42", snap.VoiceChannelID)
	assert.Equal(t, Idle, snap.PlayerState)
	assert.Nil(t, snap.Track)
	assert.NotEmpty(t, snap.SessionID)
}

func TestJoinWithoutVoiceChannel(t *testing.T) {
	rig := newTestRig(t)

	assert.ErrorIs(t, rig.manager.Join("g1", "", "text"), ErrNotInVoiceChannel)
	_, ok := rig.manager.Snapshot("g1")
	assert.False(t, ok)
}

func TestJoinSameChannelIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")
	rig.join(t, "g1", "42")

	assert.Len(t, rig.connector.connections(), 1)
	snap, ok := rig.manager.Snapshot("g1")
	require.True(t, ok)
	assert.Equal(t, Connected, snap.ConnectionState)
}

func TestJoinDifferentChannelReplacesConnection(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "1")
	rig.play(t, "g1", "https://valid/track")

	rig.join(t, "g1", "2")

	conns := rig.connector.connections()
	require.Len(t, conns, 2)
	assert.True(t, conns[0].isDisconnected(), "old connection must be torn down")
	assert.False(t, conns[1].isDisconnected())
	assert.Equal(t, int32(0), rig.player.active.Load())

	snap, ok := rig.manager.Snapshot("g1")
	require.True(t, ok)
	assert.Equal(t, "2", snap.VoiceChannelID)
	assert.Equal(t, Idle, snap.PlayerState)
	assert.Nil(t, snap.Track)
}

func TestJoinConnectFailureRemovesSession(t *testing.T) {
	rig := newTestRig(t)
	rig.connector.fail["1"] = errors.New("gateway timeout")

	require.NoError(t, rig.manager.Join("g1", "1", "text"))
	ev := rig.waitFor(t, EventJoinFailed, "g1")
	assert.ErrorIs(t, ev.Err, ErrConnectionFailed)
	assert.Equal(t, "text", ev.ReplyTo)

	_, ok := rig.manager.Snapshot("g1")
	assert.False(t, ok)
}

func TestPlayStartsPlayback(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")
	rig.play(t, "g1", "https://valid/track")

	snap, ok := rig.manager.Snapshot("g1")
	require.True(t, ok)
	assert.Equal(t, Playing, snap.PlayerState)
	require.NotNil(t, snap.Track)
	assert.Equal(t, "https://valid/track", snap.Track.SourceURL)
	assert.Equal(t, "title of https://valid/track", snap.Track.Title)
	assert.Empty(t, snap.Pending)
}

func TestPlayResolverFailureKeepsIdle(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")
	rig.resolver.errs["https://broken/track"] = &source.ResolveError{
		Kind:     source.ErrExtractionFailed,
		Input:    "https://broken/track",
		Resolver: "fake",
		Err:      errors.New("network down"),
	}

	require.NoError(t, rig.manager.Play("g1", "https://broken/track", "text"))
	ev := rig.waitFor(t, EventPlayFailed, "g1")
	assert.ErrorIs(t, ev.Err, ErrInvalidSource)
	assert.ErrorIs(t, ev.Err, source.ErrExtractionFailed)

	snap, ok := rig.manager.Snapshot("g1")
	require.True(t, ok)
	assert.Equal(t, Idle, snap.PlayerState)
	assert.Nil(t, snap.Track)
	assert.Equal(t, Connected, snap.ConnectionState)
}

func TestPlayInvalidInputIsRejectedSynchronously(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")

	err := rig.manager.Play("g1", "not a url", "text")
	assert.ErrorIs(t, err, ErrInvalidSource)
	assert.ErrorIs(t, err, source.ErrInvalidURL)

	calls, _ := rig.resolver.counts()
	assert.Zero(t, calls)
}

func TestPlayWhileConnectingWaitsForConnection(t *testing.T) {
	rig := newTestRig(t)
	gate := make(chan struct{})
	rig.connector.gates["42"] = gate

	require.NoError(t, rig.manager.Join("g1", "42", "text"))
	require.NoError(t, rig.manager.Play("g1", "https://valid/track", "text"))

	snap, ok := rig.manager.Snapshot("g1")
	require.True(t, ok)
	assert.Equal(t, Connecting, snap.ConnectionState)
	assert.Equal(t, "https://valid/track", snap.Pending)

	close(gate)
	rig.waitFor(t, EventJoined, "g1")
	rig.waitFor(t, EventNowPlaying, "g1")

	snap, _ = rig.manager.Snapshot("g1")
	assert.Equal(t, Playing, snap.PlayerState)
}

func TestStopTwiceReturnsNotPlaying(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")
	rig.play(t, "g1", "https://valid/track")

	require.NoError(t, rig.manager.Stop("g1"))

	snap, ok := rig.manager.Snapshot("g1")
	require.True(t, ok)
	assert.Equal(t, Idle, snap.PlayerState)
	assert.Nil(t, snap.Track)
	assert.Equal(t, Connected, snap.ConnectionState)
	assert.False(t, rig.connector.connections()[0].isDisconnected(), "stop must not touch the connection")
	assert.Eventually(t, func() bool { return rig.player.active.Load() == 0 }, waitTimeout, 5*time.Millisecond)

	assert.ErrorIs(t, rig.manager.Stop("g1"), ErrNotPlaying)
}

func TestStopWithoutSession(t *testing.T) {
	rig := newTestRig(t)
	assert.ErrorIs(t, rig.manager.Stop("g1"), ErrNoActiveSession)
}

func TestStopCancelsPendingPlay(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")
	gate := rig.resolver.gate("https://slow/track")

	require.NoError(t, rig.manager.Play("g1", "https://slow/track", "text"))
	require.NoError(t, rig.manager.Stop("g1"))

	close(gate)
	require.Eventually(t, func() bool {
		_, completed := rig.resolver.counts()
		return completed == 1
	}, waitTimeout, 5*time.Millisecond)

	snap, ok := rig.manager.Snapshot("g1")
	require.True(t, ok)
	assert.Equal(t, Idle, snap.PlayerState)
	assert.Nil(t, snap.Track)
	assert.Empty(t, rig.player.startedURLs())
	assert.ErrorIs(t, rig.manager.Stop("g1"), ErrNotPlaying)
}

func TestLeaveWhilePlayingRemovesSession(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")
	rig.play(t, "g1", "https://valid/track")

	require.NoError(t, rig.manager.Leave("g1"))
	rig.waitFor(t, EventLeft, "g1")

	_, ok := rig.manager.Snapshot("g1")
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return rig.player.active.Load() == 0 }, waitTimeout, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return rig.connector.connections()[0].isDisconnected() }, waitTimeout, 5*time.Millisecond)

	assert.ErrorIs(t, rig.manager.Leave("g1"), ErrNoActiveSession)
}

func TestLeaveWhileConnectingReleasesLateConnection(t *testing.T) {
	rig := newTestRig(t)
	gate := make(chan struct{})
	rig.connector.gates["42"] = gate

	require.NoError(t, rig.manager.Join("g1", "42", "text"))
	require.NoError(t, rig.manager.Leave("g1"))
	close(gate)

	_, ok := rig.manager.Snapshot("g1")
	assert.False(t, ok)
	// The connect attempt is cancelled with the session; if it still
	// completes, the connection is dropped.
	for _, conn := range rig.connector.connections() {
		assert.Eventually(t, conn.isDisconnected, waitTimeout, 5*time.Millisecond)
	}
}

func TestStalePlayResultIsDiscarded(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")
	gateA := rig.resolver.gate("https://valid/a")

	require.NoError(t, rig.manager.Play("g1", "https://valid/a", "text"))
	rig.play(t, "g1", "https://valid/b")

	close(gateA)
	require.Eventually(t, func() bool {
		_, completed := rig.resolver.counts()
		return completed == 2
	}, waitTimeout, 5*time.Millisecond)

	snap, ok := rig.manager.Snapshot("g1")
	require.True(t, ok)
	require.NotNil(t, snap.Track)
	assert.Equal(t, "https://valid/b", snap.Track.SourceURL)
	assert.Equal(t, []string{"https://valid/b"}, rig.player.startedURLs())
}

func TestPlayReplacesCurrentTrack(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")
	rig.play(t, "g1", "https://valid/a")
	rig.play(t, "g1", "https://valid/b")

	snap, _ := rig.manager.Snapshot("g1")
	require.NotNil(t, snap.Track)
	assert.Equal(t, "https://valid/b", snap.Track.SourceURL)
	assert.Equal(t, int32(1), rig.player.active.Load())
}

func TestGuildsAreIsolated(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "a", "1")
	rig.join(t, "b", "2")
	rig.play(t, "a", "https://valid/track")

	assert.ErrorIs(t, rig.manager.Stop("b"), ErrNotPlaying)
	require.NoError(t, rig.manager.Leave("b"))

	snap, ok := rig.manager.Snapshot("a")
	require.True(t, ok)
	assert.Equal(t, Playing, snap.PlayerState)
	assert.Equal(t, "1", snap.VoiceChannelID)

	snaps := rig.manager.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "a", snaps[0].GuildID)
}

func TestTrackEndsNaturally(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")
	rig.play(t, "g1", "https://valid/track")

	rig.player.ending("https://valid/track") <- nil
	ev := rig.waitFor(t, EventTrackEnded, "g1")
	assert.Equal(t, "https://valid/track", ev.Track.SourceURL)

	snap, ok := rig.manager.Snapshot("g1")
	require.True(t, ok)
	assert.Equal(t, Idle, snap.PlayerState)
	assert.Nil(t, snap.Track)
	assert.Equal(t, Connected, snap.ConnectionState)
}

func TestPlaybackErrorRecoversToIdle(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")
	rig.play(t, "g1", "https://valid/track")

	rig.player.ending("https://valid/track") <- errors.New("ffmpeg exited")
	ev := rig.waitFor(t, EventPlaybackError, "g1")
	assert.EqualError(t, ev.Err, "ffmpeg exited")

	snap, ok := rig.manager.Snapshot("g1")
	require.True(t, ok)
	assert.Equal(t, Idle, snap.PlayerState)
	assert.Nil(t, snap.Track)

	// The session stays usable.
	rig.play(t, "g1", "https://valid/next")
}

func TestConnectionLostRemovesSession(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "g1", "42")
	rig.play(t, "g1", "https://valid/track")

	rig.manager.ConnectionLost("g1", "other")
	_, ok := rig.manager.Snapshot("g1")
	require.True(t, ok, "a drop of another channel is ignored")

	rig.manager.ConnectionLost("g1", "42")
	ev := rig.waitFor(t, EventConnectionLost, "g1")
	assert.ErrorIs(t, ev.Err, ErrConnectionLost)

	_, ok = rig.manager.Snapshot("g1")
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return rig.player.active.Load() == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestCloseDropsAllSessions(t *testing.T) {
	rig := newTestRig(t)
	rig.join(t, "a", "1")
	rig.join(t, "b", "2")
	rig.play(t, "a", "https://valid/track")

	rig.manager.Close()

	assert.Empty(t, rig.manager.Snapshots())
	assert.Equal(t, int32(0), rig.player.active.Load())
	for _, conn := range rig.connector.connections() {
		assert.True(t, conn.isDisconnected())
	}
	assert.ErrorIs(t, rig.manager.Join("a", "1", "text"), ErrManagerClosed)

	for range rig.manager.Events() {
	}
}

// guildLink mimics a platform that keeps one voice connection per guild: it
// logs connects and disconnects in order and flags overlapping connections.
type guildLink struct {
	mu      sync.Mutex
	log     []string
	live    map[string]int
	overlap bool
	gates   map[string]chan struct{}
}

func newGuildLink() *guildLink {
	return &guildLink{live: make(map[string]int), gates: make(map[string]chan struct{})}
}

type linkConn struct {
	fakeConn
	link    *guildLink
	guildID string
}

func (c *linkConn) Disconnect() error {
	c.link.mu.Lock()
	c.link.log = append(c.link.log, "disconnect "+c.channelID)
	c.link.live[c.guildID]--
	c.link.mu.Unlock()
	return c.fakeConn.Disconnect()
}

// Connect ignores ctx while gated, like a join call that cannot be aborted.
func (l *guildLink) Connect(ctx context.Context, guildID, channelID string) (Connection, error) {
	l.mu.Lock()
	gate := l.gates[channelID]
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live[guildID] > 0 {
		l.overlap = true
	}
	l.live[guildID]++
	l.log = append(l.log, "connect "+channelID)
	return &linkConn{fakeConn: fakeConn{channelID: channelID}, link: l, guildID: guildID}, nil
}

func (l *guildLink) entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.log...)
}

// lingeringPlayer takes a while to let go of the connection once cancelled.
type lingeringPlayer struct {
	linger time.Duration
}

func (p lingeringPlayer) Play(ctx context.Context, conn Connection, audio *source.Audio) error {
	<-ctx.Done()
	time.Sleep(p.linger)
	return ctx.Err()
}

func newLinkRig(t *testing.T, link *guildLink) *testRig {
	t.Helper()

	rig := &testRig{resolver: newFakeResolver(), metrics: pipeline.NewBasicMetricsCollector(nil)}
	rig.manager = NewManager(
		Config{ConnectTimeout: time.Second, ResolveTimeout: time.Second, EventBuffer: 64},
		link, rig.resolver, lingeringPlayer{linger: 150 * time.Millisecond}, pipeline.NullLogger(),
	)
	t.Cleanup(rig.manager.Close)
	return rig
}

func TestRejoinAfterLeaveWaitsForDisconnect(t *testing.T) {
	link := newGuildLink()
	rig := newLinkRig(t, link)

	rig.join(t, "g", "1")
	require.NoError(t, rig.manager.Play("g", "https://valid/track", "text"))
	rig.waitFor(t, EventNowPlaying, "g")

	require.NoError(t, rig.manager.Leave("g"))
	rig.join(t, "g", "1")

	assert.Equal(t, []string{"connect 1", "disconnect 1", "connect 1"}, link.entries())
	assert.False(t, link.overlap)

	snap, ok := rig.manager.Snapshot("g")
	require.True(t, ok)
	assert.Equal(t, Connected, snap.ConnectionState)
}

func TestReconnectAfterConnectionLostWaitsForDisconnect(t *testing.T) {
	link := newGuildLink()
	rig := newLinkRig(t, link)

	rig.join(t, "g", "1")
	require.NoError(t, rig.manager.Play("g", "https://valid/track", "text"))
	rig.waitFor(t, EventNowPlaying, "g")

	rig.manager.ConnectionLost("g", "1")
	rig.join(t, "g", "2")

	assert.Equal(t, []string{"connect 1", "disconnect 1", "connect 2"}, link.entries())
	assert.False(t, link.overlap)
}

func TestReplaceWhileConnectingWaitsForFirstAttempt(t *testing.T) {
	link := newGuildLink()
	gate := make(chan struct{})
	link.gates["1"] = gate
	rig := newLinkRig(t, link)

	require.NoError(t, rig.manager.Join("g", "1", "text"))
	require.NoError(t, rig.manager.Join("g", "2", "text"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, link.entries(), "second attempt waits for the first")

	close(gate)
	ev := rig.waitFor(t, EventJoined, "g")
	assert.Equal(t, "2", ev.ChannelID)

	assert.Equal(t, []string{"connect 1", "disconnect 1", "connect 2"}, link.entries())
	assert.False(t, link.overlap)
}
