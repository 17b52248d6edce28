package call

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/device"
	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/protocol"
	"github.com/1ureka/duocall/internal/util"
)

// Options configures a Coordinator.
type Options struct {
	Self       Peer
	Audio      AudioSettings
	MicBoost   bool
	BusyPolicy config.BusyPolicy

	// TickInterval is the duration counter step. Zero means one second.
	TickInterval time.Duration
	// StatsInterval enables the traffic probe while Active. Zero disables it.
	StatsInterval time.Duration
	// SignalTimeout bounds each call.* emit. Zero means five seconds.
	SignalTimeout time.Duration

	Ringer   Ringer   // nil means silent
	Recorder Recorder // nil disables history
}

// session is the mutable call state. The zero value is Idle.
type session struct {
	phase   Phase
	isVideo bool
	peer    Peer
	dir     Direction

	startedAt   time.Time
	connectedAt time.Time
	duration    time.Duration

	mic     bool
	cam     bool
	speaker bool
}

type remote struct {
	audio media.RemoteTrack
	video media.RemoteTrack
}

// Coordinator owns the call state and every media resource of the call.
// All methods are safe for concurrent use.
type Coordinator struct {
	opts   Options
	sig    signalAdapter
	tr     *transportAdapter
	inv    *device.Inventory
	ringer Ringer
	rec    Recorder
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	st         session
	gen        uint64
	boosted    bool
	audio      media.LocalAudioTrack
	video      media.LocalTrack
	remotes    map[uint32]*remote
	stopTimers context.CancelFunc
	started    bool
	unbind     []func()

	subsMu sync.Mutex
	subs   map[chan Update]struct{}
}

// New creates an idle Coordinator. Call Start to begin receiving events.
func New(sig Signaler, client media.Client, tokens TokenSource, inv *device.Inventory, opts Options) *Coordinator {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.SignalTimeout <= 0 {
		opts.SignalTimeout = 5 * time.Second
	}
	if opts.BusyPolicy == "" {
		opts.BusyPolicy = config.BusyIgnore
	}
	ringer := opts.Ringer
	if ringer == nil {
		ringer = nopRinger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		opts:    opts,
		sig:     signalAdapter{sig: sig, timeout: opts.SignalTimeout},
		tr:      &transportAdapter{client: client, tokens: tokens, audio: opts.Audio},
		inv:     inv,
		ringer:  ringer,
		rec:     opts.Recorder,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		gen:     1,
		boosted: opts.MicBoost,
		remotes: make(map[uint32]*remote),
		subs:    make(map[chan Update]struct{}),
	}
}

// Start registers the signaling handlers, the transport event pump and the
// device watch. Calling it again does nothing.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	if err := c.inv.Refresh(); err != nil {
		util.LogWarning("failed to enumerate microphones: %v", err)
	}

	unbind := c.sig.bind(callHandlers{
		initiate: c.handleIncoming,
		accepted: c.handleAccepted,
		rejected: c.handleRejected,
		ended:    c.handleEnded,
	})

	events, stopEvents := c.tr.client.Watch()
	go c.pump(events)
	unbind = append(unbind, stopEvents, c.inv.Watch(c.tr.client))

	c.mu.Lock()
	c.unbind = unbind
	c.mu.Unlock()
}

// Close ends any call and removes every subscription made by Start. The
// Coordinator cannot be restarted.
func (c *Coordinator) Close() {
	c.LeaveCall()

	c.mu.Lock()
	unbind := c.unbind
	c.unbind = nil
	c.mu.Unlock()

	for _, fn := range unbind {
		fn()
	}
	c.cancel()
	c.closeSubscribers()
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Phase:          c.st.phase,
		IsVideo:        c.st.isVideo,
		Peer:           c.st.peer,
		Direction:      c.st.dir,
		StartedAt:      c.st.startedAt,
		ConnectedAt:    c.st.connectedAt,
		Duration:       c.st.duration,
		HasLocalTracks: c.audio != nil || c.video != nil,
		MicEnabled:     c.st.mic,
		VideoEnabled:   c.st.cam,
		SpeakerEnabled: c.st.speaker,
		MicBoosted:     c.boosted,
	}
	for uid, r := range c.remotes {
		p := Participant{UID: uid, HasAudio: r.audio != nil, HasVideo: r.video != nil}
		if r.audio != nil {
			p.AudioPlaying = r.audio.Playing()
		}
		s.RemoteParticipants = append(s.RemoteParticipants, p)
	}
	sort.Slice(s.RemoteParticipants, func(i, j int) bool {
		return s.RemoteParticipants[i].UID < s.RemoteParticipants[j].UID
	})
	return s
}

// StartCall dials peer. It does nothing unless Idle and connected to the
// relay.
func (c *Coordinator) StartCall(peer Peer, isVideo bool) {
	if peer.ID == "" || peer.ID == c.opts.Self.ID {
		util.LogDebug("startCall: invalid peer %q", peer.ID)
		return
	}
	if !c.sig.connected() {
		util.LogDebug("startCall: signaling not connected")
		return
	}

	c.mu.Lock()
	if c.st.phase != Idle {
		phase := c.st.phase
		c.mu.Unlock()
		util.LogDebug("startCall ignored while %s", phase)
		return
	}
	c.st = c.newSession(Dialing, peer, Outgoing, isVideo)
	gen := c.gen
	c.mu.Unlock()

	err := c.sig.initiate(peer.ID, protocol.InitiatePayload{
		CallerID:      c.opts.Self.ID,
		CallerName:    c.opts.Self.DisplayName,
		CallerAvatar:  c.opts.Self.AvatarRef,
		RecipientID:   peer.ID,
		RecipientName: peer.DisplayName,
		IsVideo:       isVideo,
		Timestamp:     c.now().UnixMilli(),
	})
	if err != nil {
		c.fail(gen, fmt.Errorf("failed to send call.initiate: %w", err))
		return
	}
	util.LogInfo("calling %s (%s)", peer.ID, kindLabel(isVideo))
	c.notify(nil)
}

// AcceptCall answers the ringing call and blocks until media is connected or
// the attempt has failed. Failures are reported as notices.
func (c *Coordinator) AcceptCall(ctx context.Context) {
	c.mu.Lock()
	if c.st.phase != Ringing {
		phase := c.st.phase
		c.mu.Unlock()
		util.LogDebug("acceptCall ignored while %s", phase)
		return
	}
	c.st.phase = Connecting
	gen, peer, isVideo := c.gen, c.st.peer, c.st.isVideo
	c.mu.Unlock()

	c.ringer.Stop()
	c.notify(nil)

	err := c.sig.accepted(peer.ID, protocol.AcceptedPayload{
		CallerID:    peer.ID,
		RecipientID: c.opts.Self.ID,
		IsVideo:     isVideo,
	})
	if err != nil {
		c.fail(gen, fmt.Errorf("failed to send call.accepted: %w", err))
		return
	}
	c.connect(ctx, gen, peer, isVideo)
}

// RejectCall declines the ringing call.
func (c *Coordinator) RejectCall() {
	c.mu.Lock()
	if c.st.phase != Ringing {
		phase := c.st.phase
		c.mu.Unlock()
		util.LogDebug("rejectCall ignored while %s", phase)
		return
	}
	gen, peer := c.gen, c.st.peer
	c.mu.Unlock()

	if err := c.sig.rejected(peer.ID, protocol.PeersPayload{CallerID: peer.ID, RecipientID: c.opts.Self.ID}); err != nil {
		util.LogWarning("failed to send call.rejected: %v", err)
	}
	c.end(ending{gen: gen, reason: endLocalRejected})
}

// LeaveCall ends the call from any phase. It is the single cleanup path and
// is safe to call repeatedly.
func (c *Coordinator) LeaveCall() {
	c.end(ending{reason: endLocal, emitEnded: true})
}

// handleIncoming reacts to call.initiate.
func (c *Coordinator) handleIncoming(env *protocol.Envelope) {
	var p protocol.InitiatePayload
	if err := env.Unmarshal(&p); err != nil {
		util.LogDebug("bad call.initiate: %v", err)
		return
	}
	caller := Peer{ID: p.CallerID, DisplayName: p.CallerName, AvatarRef: p.CallerAvatar}
	if env.From != "" {
		caller.ID = env.From
	}
	if caller.ID == "" || (p.RecipientID != "" && p.RecipientID != c.opts.Self.ID) {
		util.LogDebug("call.initiate not meant for %s", c.opts.Self.ID)
		return
	}

	c.mu.Lock()
	if c.st.phase != Idle {
		c.mu.Unlock()
		c.busy(caller)
		return
	}
	c.st = c.newSession(Ringing, caller, Incoming, p.IsVideo)
	gen := c.gen
	c.mu.Unlock()

	c.ringer.Start(caller)
	if c.stale(gen) {
		// ended before the bell started
		c.ringer.Stop()
		return
	}
	c.notify(nil)
}

// busy applies the busy policy to a second incoming call. The current call
// is never affected.
func (c *Coordinator) busy(caller Peer) {
	util.LogInfo("call from %s while busy (%s)", caller.ID, c.opts.BusyPolicy)
	if c.opts.BusyPolicy == config.BusyDecline {
		err := c.sig.rejected(caller.ID, protocol.PeersPayload{CallerID: caller.ID, RecipientID: c.opts.Self.ID})
		if err != nil {
			util.LogWarning("failed to decline %s: %v", caller.ID, err)
		}
	}
	c.notify(&Notice{Kind: NoticeBusy, Message: fmt.Sprintf("missed a call from %s while busy", caller.ID)})
}

// handleAccepted reacts to call.accepted. Joining runs in the background so
// the signaling read loop is never blocked.
func (c *Coordinator) handleAccepted(env *protocol.Envelope) {
	var p protocol.AcceptedPayload
	if err := env.Unmarshal(&p); err != nil {
		util.LogDebug("bad call.accepted: %v", err)
		return
	}
	from := env.From
	if from == "" {
		from = p.RecipientID
	}

	c.mu.Lock()
	if c.st.phase != Dialing || c.st.peer.ID != from {
		phase := c.st.phase
		c.mu.Unlock()
		util.LogDebug("call.accepted from %s ignored while %s", from, phase)
		return
	}
	c.st.phase = Connecting
	gen, peer, isVideo := c.gen, c.st.peer, c.st.isVideo
	c.mu.Unlock()

	c.notify(nil)
	go c.connect(c.ctx, gen, peer, isVideo)
}

func (c *Coordinator) handleRejected(env *protocol.Envelope) {
	c.handleRemoteEnd(env, endRemoteRejected)
}

func (c *Coordinator) handleEnded(env *protocol.Envelope) {
	c.handleRemoteEnd(env, endRemoteEnded)
}

// handleRemoteEnd tears the call down without signaling back.
func (c *Coordinator) handleRemoteEnd(env *protocol.Envelope, reason endReason) {
	from := env.From
	if from == "" {
		var p protocol.PeersPayload
		if err := env.Unmarshal(&p); err != nil {
			util.LogDebug("bad %s: %v", env.Type, err)
			return
		}
		from = p.CallerID
		if from == c.opts.Self.ID {
			from = p.RecipientID
		}
	}

	c.mu.Lock()
	if c.st.phase == Idle || c.st.peer.ID != from {
		c.mu.Unlock()
		util.LogDebug("%s from %s does not match the current call", env.Type, from)
		return
	}
	gen := c.gen
	c.mu.Unlock()

	util.LogInfo("%s ended the call (%s)", from, env.Type)
	c.end(ending{gen: gen, reason: reason})
}

// connect joins the shared channel and publishes local media. Any result
// produced after gen has moved on is discarded.
func (c *Coordinator) connect(ctx context.Context, gen uint64, peer Peer, isVideo bool) {
	channel := DeriveChannelName(c.opts.Self.ID, peer.ID)

	if _, err := c.tr.join(ctx, channel); err != nil {
		if errors.Is(err, media.ErrAborted) || c.stale(gen) {
			util.LogDebug("join of %s abandoned: %v", channel, err)
			return
		}
		c.fail(gen, fmt.Errorf("failed to join %s: %w", channel, err))
		return
	}
	if c.stale(gen) {
		// The call ended while the join was in flight, so end() found
		// nothing to leave.
		if err := c.tr.leave(); err != nil {
			util.LogDebug("leaving %s after the call ended: %v", channel, err)
		}
		return
	}

	c.mu.Lock()
	boosted := c.boosted
	c.mu.Unlock()

	audio, video, err := c.tr.createTracks(ctx, c.inv.Selected(), boosted, isVideo)
	if err != nil {
		if c.stale(gen) {
			return
		}
		c.fail(gen, err)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.tr.release(audio, video)
		return
	}
	c.audio = audio
	if video != nil {
		c.video = video
	}
	mic, cam := c.st.mic, c.st.cam
	c.mu.Unlock()

	// Toggles made while connecting apply to the fresh tracks.
	tracks := []media.LocalTrack{audio}
	if !mic {
		audio.SetEnabled(false)
	}
	if video != nil {
		tracks = append(tracks, video)
		if !cam {
			video.SetEnabled(false)
		}
	}

	if err := c.tr.publish(ctx, tracks...); err != nil {
		if errors.Is(err, media.ErrAborted) || c.stale(gen) {
			return
		}
		c.fail(gen, fmt.Errorf("failed to publish: %w", err))
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.st.phase != Connecting {
		c.mu.Unlock()
		return
	}
	c.st.phase = Active
	c.st.connectedAt = c.now()
	c.st.duration = 0
	timers, stop := context.WithCancel(c.ctx)
	c.stopTimers = stop
	c.mu.Unlock()

	c.startTimers(timers, gen)
	util.LogSuccess("connected with %s on %s", peer.ID, channel)
	c.notify(nil)
}

// startTimers runs the duration counter and the stats probe until ctx ends.
func (c *Coordinator) startTimers(ctx context.Context, gen uint64) {
	util.StartStatsProbe(ctx, c.opts.StatsInterval, c.tr.stats)

	go func() {
		ticker := time.NewTicker(c.opts.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			c.mu.Lock()
			if c.gen != gen || c.st.phase != Active {
				c.mu.Unlock()
				return
			}
			c.st.duration += c.opts.TickInterval
			c.mu.Unlock()
			c.notify(nil)
		}
	}()
}

func (c *Coordinator) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != gen
}

// fail ends the call attempt of gen with a connection-failed notice.
func (c *Coordinator) fail(gen uint64, err error) {
	util.LogError("call failed: %v", err)
	c.end(ending{
		gen:       gen,
		reason:    endFailed,
		emitEnded: true,
		notice:    &Notice{Kind: NoticeConnectionFailed, Message: "connection failed", Err: err},
	})
}

// ending describes one transition into Idle. A zero gen matches any call.
type ending struct {
	gen       uint64
	reason    endReason
	emitEnded bool
	notice    *Notice
}

// end resets to Idle and then releases everything the call held.
func (c *Coordinator) end(e ending) {
	c.mu.Lock()
	if e.gen != 0 && e.gen != c.gen {
		c.mu.Unlock()
		return
	}
	prev := c.st
	audio, video := c.audio, c.video
	remotes := c.remotes
	stop := c.stopTimers

	c.st = session{}
	c.gen++
	c.audio, c.video = nil, nil
	c.remotes = make(map[uint32]*remote)
	c.stopTimers = nil
	c.mu.Unlock()

	c.ringer.Stop()
	if stop != nil {
		stop()
	}

	var local []media.LocalTrack
	if audio != nil {
		local = append(local, audio)
	}
	if video != nil {
		local = append(local, video)
	}
	if err := c.tr.release(local...); err != nil {
		util.LogDebug("releasing local tracks: %v", err)
	}
	for _, r := range remotes {
		stopRemote(r)
	}
	if err := c.tr.leave(); err != nil {
		util.LogDebug("leaving channel: %v", err)
	}

	if prev.phase == Idle {
		if e.notice != nil {
			c.notify(e.notice)
		}
		return
	}

	if e.emitEnded && prev.peer.ID != "" {
		if err := c.sig.ended(prev.peer.ID, peersOf(c.opts.Self.ID, prev)); err != nil {
			util.LogDebug("call.ended not sent: %v", err)
		}
	}
	c.record(prev, e.reason)
	util.LogInfo("call with %s over (%s, %s)", prev.peer.ID, prev.phase, util.FormatDuration(prev.duration))
	c.notify(e.notice)
}

func (c *Coordinator) newSession(phase Phase, peer Peer, dir Direction, isVideo bool) session {
	return session{
		phase:     phase,
		isVideo:   isVideo,
		peer:      peer,
		dir:       dir,
		startedAt: c.now(),
		mic:       true,
		cam:       isVideo,
		speaker:   true,
	}
}

func peersOf(self string, s session) protocol.PeersPayload {
	if s.dir == Outgoing {
		return protocol.PeersPayload{CallerID: self, RecipientID: s.peer.ID}
	}
	return protocol.PeersPayload{CallerID: s.peer.ID, RecipientID: self}
}

func stopRemote(r *remote) {
	if r.audio != nil {
		r.audio.Stop()
	}
	if r.video != nil {
		r.video.Stop()
	}
}

func kindLabel(isVideo bool) string {
	if isVideo {
		return "video"
	}
	return "voice"
}
