package voice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
	"github.com/latoulicious/tarumae-voice/pkg/source"
)

// Config bounds the asynchronous work started by the manager.
type Config struct {
	ConnectTimeout time.Duration
	ResolveTimeout time.Duration
	EventBuffer    int
}

// DefaultConfig returns the timeouts used when none are configured.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 15 * time.Second,
		ResolveTimeout: 30 * time.Second,
		EventBuffer:    256,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records command, session and resolve metrics into collector.
func WithMetrics(collector pipeline.MetricsCollector) Option {
	return func(m *Manager) {
		if collector != nil {
			m.metrics = collector
		}
	}
}

// Manager owns one voice session per guild and routes commands to it.
//
// Commands return as soon as their outcome is known without network I/O.
// Connection setup, source resolution and playback run in goroutines and
// report back through Events.
type Manager struct {
	cfg       Config
	connector Connector
	resolver  source.Resolver
	player    Player
	logger    pipeline.Logger
	metrics   pipeline.MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	reqSeq atomic.Uint64

	mu       sync.RWMutex
	sessions map[string]*session
	// lastRelease holds the release channel of the newest session per guild.
	lastRelease map[string]chan struct{}
	closed      bool

	eventsMu     sync.RWMutex
	events       chan Event
	eventsClosed bool
}

// NewManager creates a manager. Zero config values fall back to DefaultConfig.
func NewManager(cfg Config, connector Connector, resolver source.Resolver, player Player, logger pipeline.Logger, opts ...Option) *Manager {
	defaults := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = defaults.ResolveTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}
	if logger == nil {
		logger = pipeline.NullLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		connector:   connector,
		resolver:    resolver,
		player:      player,
		logger:      logger.With(pipeline.String("component", "voice_manager")),
		metrics:     pipeline.NewBasicMetricsCollector(nil),
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*session),
		lastRelease: make(map[string]chan struct{}),
		events:      make(chan Event, cfg.EventBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events delivers session state changes. The channel is closed by Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Join connects the guild to voiceChannelID. It returns once the session is
// Connecting; EventJoined or EventJoinFailed follows.
func (m *Manager) Join(guildID, voiceChannelID, replyTo string) error {
	err := m.join(guildID, voiceChannelID, replyTo)
	m.recordCommand("join", err)
	return err
}

func (m *Manager) join(guildID, voiceChannelID, replyTo string) error {
	if voiceChannelID == "" {
		return ErrNotInVoiceChannel
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	var prev detached
	if old := m.sessions[guildID]; old != nil {
		old.mu.Lock()
		if old.channelID == voiceChannelID {
			state := old.connState
			ev := old.eventLocked(EventJoined, replyTo, nil, nil)
			old.mu.Unlock()
			m.mu.Unlock()

			if state == Connected {
				m.emit(ev)
			}
			return nil
		}

		m.logger.Info("Replacing voice connection",
			pipeline.String("guild_id", guildID),
			pipeline.String("from_channel", old.channelID),
			pipeline.String("to_channel", voiceChannelID),
		)
		prev = old.detachLocked()
		old.mu.Unlock()
	}

	sess := newSession(m.ctx, guildID, voiceChannelID)
	m.sessions[guildID] = sess
	m.recordSessionsLocked()
	after := m.lastRelease[guildID]
	m.lastRelease[guildID] = sess.released
	m.wg.Add(2)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.teardown(prev)
	}()
	go m.connect(sess, after, replyTo)
	return nil
}

// connect brings up the session's connection once the guild's previous
// session has released its own. after is nil for the first session.
func (m *Manager) connect(sess *session, after <-chan struct{}, replyTo string) {
	defer m.wg.Done()

	logger := m.logger.With(
		pipeline.String("guild_id", sess.guildID),
		pipeline.String("session_id", sess.id),
		pipeline.String("channel_id", sess.channelID),
	)

	// The platform keeps a single voice connection per guild.
	if after != nil {
		<-after
	}

	ctx, cancel := context.WithTimeout(sess.ctx, m.cfg.ConnectTimeout)
	defer cancel()

	var (
		conn  Connection
		err   error
		start = time.Now()
	)
	if err = ctx.Err(); err == nil {
		conn, err = m.connector.Connect(ctx, sess.guildID, sess.channelID)
		m.metrics.RecordTiming("voice.connect.duration", time.Since(start), map[string]string{"result": resultTag(err)})
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		if err == nil {
			m.releaseOrphan(sess, conn)
		}
		m.markReleased(sess.guildID, sess.released)
		logger.Debug("Discarding connection result of a closed session", pipeline.Error(err))
		return
	}
	if err == nil {
		sess.conn = conn
		sess.connState = Connected
		sess.playerState = Idle
		close(sess.ready)
		ev := sess.eventLocked(EventJoined, replyTo, nil, nil)
		sess.mu.Unlock()

		logger.Info("Joined voice channel", pipeline.Duration("took", time.Since(start)))
		m.emit(ev)
		return
	}
	sess.mu.Unlock()

	logger.Error("Failed to join voice channel", pipeline.Error(err))
	failure := fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	if ev, ok := m.removeSession(sess, EventJoinFailed, replyTo, failure); ok {
		m.emit(ev)
	}
	m.markReleased(sess.guildID, sess.released)
}

// releaseOrphan disconnects a connection that came up after its session was
// dropped. A replacing session is still waiting on the release.
func (m *Manager) releaseOrphan(sess *session, conn Connection) {
	if err := conn.Disconnect(); err != nil {
		m.logger.Warn("Failed to disconnect orphaned voice connection",
			pipeline.String("guild_id", sess.guildID),
			pipeline.Error(err),
		)
	}
}

// Play validates input and starts resolving it. It returns nil once the
// request is accepted; EventNowPlaying or EventPlayFailed follows. A newer
// Play, Stop or Leave discards the result of an earlier one.
func (m *Manager) Play(guildID, input, replyTo string) error {
	err := m.play(guildID, input, replyTo)
	m.recordCommand("play", err)
	return err
}

func (m *Manager) play(guildID, input, replyTo string) error {
	sess := m.session(guildID)
	if sess == nil {
		return ErrNoActiveSession
	}
	if err := m.resolver.Validate(input); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrNoActiveSession
	}

	if sess.pending != nil {
		sess.pending.cancel()
	}
	ctx, cancel := context.WithTimeout(sess.ctx, m.cfg.ResolveTimeout)
	req := &playRequest{
		id:      m.reqSeq.Add(1),
		input:   input,
		replyTo: replyTo,
		cancel:  cancel,
	}
	sess.pending = req

	m.wg.Add(1)
	go m.resolve(ctx, sess, req)
	return nil
}

func (m *Manager) resolve(ctx context.Context, sess *session, req *playRequest) {
	defer m.wg.Done()
	defer req.cancel()

	logger := m.logger.With(
		pipeline.String("guild_id", sess.guildID),
		pipeline.String("session_id", sess.id),
		pipeline.Int64("request_id", int64(req.id)),
	)

	start := time.Now()
	audio, err := m.resolver.Resolve(ctx, req.input)
	m.metrics.RecordTiming("voice.resolve.duration", time.Since(start), map[string]string{"result": resultTag(err)})

	var failure error
	if err != nil {
		failure = fmt.Errorf("%w: %w", ErrInvalidSource, err)
	} else {
		select {
		case <-sess.ready:
		case <-ctx.Done():
			failure = fmt.Errorf("%w: connection not ready: %w", ErrConnectionFailed, ctx.Err())
		}
	}

	sess.mu.Lock()
	if sess.closed || sess.pending != req {
		sess.mu.Unlock()
		logger.Debug("Discarding stale play request", pipeline.String("input", req.input))
		return
	}
	sess.pending = nil

	if failure != nil {
		ev := sess.eventLocked(EventPlayFailed, req.replyTo, nil, failure)
		sess.mu.Unlock()

		logger.Warn("Failed to resolve audio source",
			pipeline.String("input", req.input),
			pipeline.Error(failure),
		)
		m.emit(ev)
		return
	}

	track := &Track{
		SourceURL: audio.SourceURL,
		Title:     audio.Title,
		Duration:  audio.Duration,
		audio:     audio,
	}
	if track.SourceURL == "" {
		track.SourceURL = req.input
	}
	if track.Title == "" {
		track.Title = track.SourceURL
	}

	prev := sess.playback
	if prev != nil {
		prev.cancel()
	}

	pbCtx, pbCancel := context.WithCancel(sess.ctx)
	pb := &playback{
		track:   track,
		replyTo: req.replyTo,
		cancel:  pbCancel,
		done:    make(chan struct{}),
	}
	sess.playback = pb
	sess.current = track
	sess.playerState = Playing
	conn := sess.conn
	ev := sess.eventLocked(EventNowPlaying, req.replyTo, track, nil)

	m.wg.Add(1)
	go m.runPlayback(pbCtx, sess, pb, prev, conn)
	sess.mu.Unlock()

	logger.Info("Now playing",
		pipeline.String("title", track.Title),
		pipeline.String("source_url", track.SourceURL),
		pipeline.Duration("resolve_took", time.Since(start)),
	)
	m.emit(ev)
}

func (m *Manager) runPlayback(ctx context.Context, sess *session, pb, prev *playback, conn Connection) {
	defer m.wg.Done()
	defer close(pb.done)

	// One sender per connection: wait for the replaced track to let go.
	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
		}
	}

	var err error
	if ctx.Err() != nil {
		err = ctx.Err()
	} else {
		err = m.player.Play(ctx, conn, pb.track.audio)
	}
	m.playbackEnded(sess, pb, err)
}

// playbackEnded applies the end of a playback to its session, unless the
// session has moved on to another track or was closed.
func (m *Manager) playbackEnded(sess *session, pb *playback, err error) {
	sess.mu.Lock()
	if sess.closed || sess.playback != pb {
		sess.mu.Unlock()
		return
	}

	sess.playback = nil
	sess.current = nil

	var ev Event
	if err != nil && !errors.Is(err, context.Canceled) {
		sess.playerState = Errored
		m.logger.Error("Playback failed",
			pipeline.String("guild_id", sess.guildID),
			pipeline.String("session_id", sess.id),
			pipeline.String("title", pb.track.Title),
			pipeline.String("state", sess.playerState.String()),
			pipeline.Error(err),
		)
		ev = sess.eventLocked(EventPlaybackError, pb.replyTo, pb.track, err)
	} else {
		ev = sess.eventLocked(EventTrackEnded, pb.replyTo, pb.track, nil)
	}
	sess.playerState = Idle
	sess.mu.Unlock()

	m.emit(ev)
}

// Stop halts the current track. A play still being resolved is cancelled and
// counts as stopped.
func (m *Manager) Stop(guildID string) error {
	err := m.stop(guildID)
	m.recordCommand("stop", err)
	return err
}

func (m *Manager) stop(guildID string) error {
	sess := m.session(guildID)
	if sess == nil {
		return ErrNoActiveSession
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return ErrNoActiveSession
	}

	hadPending := sess.pending != nil
	if hadPending {
		sess.pending.cancel()
		sess.pending = nil
	}

	if sess.playerState != Playing {
		sess.mu.Unlock()
		if hadPending {
			return nil
		}
		return ErrNotPlaying
	}

	pb := sess.playback
	sess.playback = nil
	sess.current = nil
	sess.playerState = Idle
	if pb != nil {
		pb.cancel()
	}
	var track *Track
	if pb != nil {
		track = pb.track
	}
	ev := sess.eventLocked(EventStopped, "", track, nil)
	sess.mu.Unlock()

	m.emit(ev)
	return nil
}

// Leave halts any track, removes the guild's session and disconnects it.
func (m *Manager) Leave(guildID string) error {
	err := m.leave(guildID)
	m.recordCommand("leave", err)
	return err
}

func (m *Manager) leave(guildID string) error {
	m.mu.Lock()
	sess := m.sessions[guildID]
	if sess == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}

	delete(m.sessions, guildID)
	m.recordSessionsLocked()

	sess.mu.Lock()
	ev := sess.eventLocked(EventLeft, "", nil, nil)
	d := sess.detachLocked()
	sess.mu.Unlock()

	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.teardown(d)
	}()

	m.logger.Info("Left voice channel",
		pipeline.String("guild_id", guildID),
		pipeline.String("session_id", sess.id),
	)
	m.emit(ev)
	return nil
}

// ConnectionLost drops the session of a guild whose connection went away
// without a leave. channelID, when set, must match the session's channel.
func (m *Manager) ConnectionLost(guildID, channelID string) {
	m.mu.Lock()
	sess := m.sessions[guildID]
	if sess == nil {
		m.mu.Unlock()
		return
	}

	sess.mu.Lock()
	if sess.connState != Connected || (channelID != "" && channelID != sess.channelID) {
		sess.mu.Unlock()
		m.mu.Unlock()
		return
	}

	delete(m.sessions, guildID)
	m.recordSessionsLocked()
	ev := sess.eventLocked(EventConnectionLost, "", sess.current, ErrConnectionLost)
	d := sess.detachLocked()
	sess.mu.Unlock()

	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.teardown(d)
	}()

	m.logger.Warn("Voice connection lost",
		pipeline.String("guild_id", guildID),
		pipeline.String("session_id", sess.id),
		pipeline.String("channel_id", ev.ChannelID),
	)
	m.emit(ev)
}

// removeSession deletes sess from the map if it is still the guild's session.
func (m *Manager) removeSession(sess *session, t EventType, replyTo string, err error) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[sess.guildID] != sess {
		return Event{}, false
	}
	delete(m.sessions, sess.guildID)
	m.recordSessionsLocked()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return Event{}, false
	}
	ev := sess.eventLocked(t, replyTo, nil, err)
	sess.detachLocked()
	return ev, true
}

// teardown waits for the playback goroutine of a detached session to exit,
// then closes its connection.
func (m *Manager) teardown(d detached) {
	if d.playback != nil {
		<-d.playback.done
	}
	if d.conn == nil {
		return
	}
	if err := d.conn.Disconnect(); err != nil {
		m.logger.Warn("Failed to disconnect voice connection",
			pipeline.String("guild_id", d.guildID),
			pipeline.Error(err),
		)
	}
	if d.released != nil {
		m.markReleased(d.guildID, d.released)
	}
}

// markReleased lets the guild's next session connect.
func (m *Manager) markReleased(guildID string, released chan struct{}) {
	close(released)

	m.mu.Lock()
	if m.lastRelease[guildID] == released {
		delete(m.lastRelease, guildID)
	}
	m.mu.Unlock()
}

// Snapshot returns the state of a guild's session.
func (m *Manager) Snapshot(guildID string) (Snapshot, bool) {
	sess := m.session(guildID)
	if sess == nil {
		return Snapshot{}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return Snapshot{}, false
	}
	return sess.snapshotLocked(), true
}

// Snapshots returns the state of every session, ordered by guild id.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		if !sess.closed {
			snapshots = append(snapshots, sess.snapshotLocked())
		}
		sess.mu.Unlock()
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].GuildID < snapshots[j].GuildID })
	return snapshots
}

// Close drops every session, waits for all background work and closes the
// event channel.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancel()

	var leftovers []detached
	for guildID, sess := range m.sessions {
		sess.mu.Lock()
		leftovers = append(leftovers, sess.detachLocked())
		sess.mu.Unlock()
		delete(m.sessions, guildID)
	}
	m.recordSessionsLocked()
	m.mu.Unlock()

	for _, d := range leftovers {
		m.teardown(d)
	}
	m.wg.Wait()

	m.eventsMu.Lock()
	m.eventsClosed = true
	close(m.events)
	m.eventsMu.Unlock()

	m.logger.Info("Voice manager closed", pipeline.Int("sessions", len(leftovers)))
}

func (m *Manager) session(guildID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[guildID]
}

func (m *Manager) emit(ev Event) {
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()
	if m.eventsClosed {
		return
	}

	select {
	case m.events <- ev:
	default:
		m.logger.Warn("Event buffer full, dropping event",
			pipeline.String("event", ev.Type.String()),
			pipeline.String("guild_id", ev.GuildID),
		)
	}
}

func (m *Manager) recordCommand(command string, err error) {
	m.metrics.RecordCounter("voice.commands", 1, map[string]string{
		"command": command,
		"result":  resultTag(err),
	})
}

func (m *Manager) recordSessionsLocked() {
	m.metrics.RecordGauge("voice.sessions.active", float64(len(m.sessions)), nil)
}

func resultTag(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoActiveSession):
		return "no_session"
	case errors.Is(err, ErrNotPlaying):
		return "not_playing"
	case errors.Is(err, ErrNotInVoiceChannel):
		return "not_in_voice"
	case errors.Is(err, ErrInvalidSource):
		return "invalid_source"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
