package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/protocol"
	"github.com/1ureka/duocall/internal/util"
)

// bindPeer installs pc as the session's PeerConnection and wires its
// callbacks. It returns false if the session is already closed.
func (c *Client) bindPeer(s *session, pc *webrtc.PeerConnection) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.pc = pc
	s.described = false
	s.candidates = nil
	s.mu.Unlock()

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		data, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		// best-effort: a lost candidate only narrows the candidate set
		c.emit(s, protocol.RTCCandidate, protocol.CandidatePayload{UID: s.uid, Candidate: data})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.onTrack(s, pc, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		if !c.current(s) || s.peer() != pc {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if c.state == media.Reconnecting || c.state == media.Connecting {
				c.setStateLocked(media.Connected)
			}
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			if c.state == media.Connected {
				c.setStateLocked(media.Reconnecting)
			}
		}
	})
	return true
}

// subscribe registers the rtc.* handlers for s. Envelopes for other
// channels or stale sessions are ignored.
func (c *Client) subscribe(s *session) []func() {
	handlers := map[string]func(*protocol.Envelope){
		protocol.RTCJoined:      func(env *protocol.Envelope) { c.onJoined(s, env) },
		protocol.RTCError:       func(env *protocol.Envelope) { c.onError(s, env) },
		protocol.RTCPeerJoined:  func(env *protocol.Envelope) { c.onPeerJoined(s, env) },
		protocol.RTCPeerLeft:    func(env *protocol.Envelope) { c.onPeerLeft(s, env) },
		protocol.RTCOffer:       func(env *protocol.Envelope) { c.onOffer(s, env) },
		protocol.RTCAnswer:      func(env *protocol.Envelope) { c.onAnswer(s, env) },
		protocol.RTCCandidate:   func(env *protocol.Envelope) { c.onCandidate(s, env) },
		protocol.RTCRenegotiate: func(env *protocol.Envelope) { c.onRenegotiate(s, env) },
		protocol.RTCPublish:     func(env *protocol.Envelope) { c.onPublish(s, env) },
		protocol.RTCUnpublish:   func(env *protocol.Envelope) { c.onUnpublish(s, env) },
	}

	unsub := make([]func(), 0, len(handlers))
	for typ, h := range handlers {
		unsub = append(unsub, c.sig.On(typ, func(env *protocol.Envelope) {
			if env.Channel != s.channel || !c.current(s) {
				return
			}
			h(env)
		}))
	}
	return unsub
}

func (c *Client) emit(s *session, typ string, payload any) {
	if err := c.sig.EmitChannel(s.ctx, typ, s.channel, payload); err != nil {
		util.LogDebug("failed to send %s: %v", typ, err)
	}
}

func (c *Client) onJoined(s *session, env *protocol.Envelope) {
	var p protocol.JoinedPayload
	if err := env.Unmarshal(&p); err != nil {
		util.LogWarning("%v", err)
		return
	}
	select {
	case s.joined <- joinResult{members: p.UIDs}:
	default:
	}
}

func (c *Client) onError(s *session, env *protocol.Envelope) {
	var p protocol.ErrorPayload
	_ = env.Unmarshal(&p)
	select {
	case s.joined <- joinResult{err: fmt.Errorf("transport: join refused: %s", p.Reason)}:
	default:
		util.LogWarning("relay error in %s: %s", s.channel, p.Reason)
	}
}

func (c *Client) onPeerJoined(s *session, env *protocol.Envelope) {
	var p protocol.MemberPayload
	if err := env.Unmarshal(&p); err != nil {
		return
	}
	s.mu.Lock()
	s.remoteUID = p.UID
	s.mu.Unlock()
	util.LogDebug("uid %d joined %s", p.UID, s.channel)
}

// onPeerLeft drops the remote side and prepares a fresh PeerConnection so
// that a rejoining peer can negotiate from scratch.
func (c *Client) onPeerLeft(s *session, env *protocol.Envelope) {
	var p protocol.MemberPayload
	if err := env.Unmarshal(&p); err != nil {
		return
	}

	s.negMu.Lock()
	defer s.negMu.Unlock()

	s.mu.Lock()
	remotes := s.resetRemoteLocked()
	old := s.pc
	s.remoteUID = 0
	s.offerer = false
	s.pendingNeg = false
	s.senders = make(map[media.Kind]*webrtc.RTPSender)
	published := make([]*localTrack, 0, len(s.published))
	for _, t := range s.published {
		published = append(published, t)
	}
	s.mu.Unlock()

	for _, rt := range remotes {
		rt.close()
	}
	for _, t := range published {
		t.unbind()
	}
	c.events.Emit(media.Event{Type: media.EventUserLeft, UID: p.UID})

	if old != nil {
		old.Close()
	}
	pc, err := newPeerConnection(c.api, c.opts.STUNServers)
	if err != nil {
		util.LogError("failed to recreate PeerConnection: %v", err)
		return
	}
	if !c.bindPeer(s, pc) {
		pc.Close()
	}
}

// startOffer makes s the offering side towards remote: it pre-creates one
// sendrecv transceiver per kind, binds already published tracks and sends
// the first offer.
func (c *Client) startOffer(s *session, remote uint32) {
	s.negMu.Lock()

	s.mu.Lock()
	s.offerer = true
	s.remoteUID = remote
	pc := s.pc
	s.mu.Unlock()

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		tr, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			util.LogError("failed to add %s transceiver: %v", kind, err)
			continue
		}
		s.mu.Lock()
		s.senders[kindOf(kind)] = tr.Sender()
		s.mu.Unlock()
	}

	announce := c.bindPublishedLocked(s)
	s.negMu.Unlock()

	c.negotiate(s)
	for _, kind := range announce {
		c.emit(s, protocol.RTCPublish, protocol.KindPayload{UID: s.uid, Kind: string(kind)})
	}
}

// bindPublishedLocked attaches published tracks that have a sender but are
// not bound yet. Callers hold s.negMu.
func (c *Client) bindPublishedLocked(s *session) []media.Kind {
	s.mu.Lock()
	type pair struct {
		t      *localTrack
		sender *webrtc.RTPSender
	}
	var todo []pair
	for kind, t := range s.published {
		if sender := s.senders[kind]; sender != nil && !t.bound() {
			todo = append(todo, pair{t, sender})
		}
	}
	s.mu.Unlock()

	var kinds []media.Kind
	for _, p := range todo {
		if err := p.t.bind(p.sender); err != nil {
			util.LogError("failed to bind %s track: %v", p.t.Kind(), err)
			continue
		}
		kinds = append(kinds, p.t.Kind())
	}
	return kinds
}

// negotiate creates and sends an offer. Only the offering side calls it.
func (c *Client) negotiate(s *session) {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	pc := s.peer()
	if pc == nil {
		return
	}
	if pc.SignalingState() != webrtc.SignalingStateStable {
		s.mu.Lock()
		s.pendingNeg = true
		s.mu.Unlock()
		return
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		util.LogError("CreateOffer failed: %v", err)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		util.LogError("SetLocalDescription failed: %v", err)
		return
	}
	c.emit(s, protocol.RTCOffer, protocol.SessionPayload{UID: s.uid, SDP: offer.SDP})
}

func (c *Client) onOffer(s *session, env *protocol.Envelope) {
	var p protocol.SessionPayload
	if err := env.Unmarshal(&p); err != nil {
		util.LogWarning("%v", err)
		return
	}

	s.negMu.Lock()

	s.mu.Lock()
	s.remoteUID = p.UID
	pc := s.pc
	s.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}); err != nil {
		s.negMu.Unlock()
		util.LogError("SetRemoteDescription(offer) failed: %v", err)
		return
	}
	c.flushCandidates(s, pc)

	// Answerer: tracks published before the offer attach to the offered
	// transceivers now.
	s.mu.Lock()
	var attach []*localTrack
	for kind, t := range s.published {
		if s.senders[kind] == nil {
			attach = append(attach, t)
		}
	}
	s.mu.Unlock()

	var announce []media.Kind
	for _, t := range attach {
		sender, err := pc.AddTrack(t.current())
		if err != nil {
			util.LogError("AddTrack(%s) failed: %v", t.Kind(), err)
			continue
		}
		s.mu.Lock()
		s.senders[t.Kind()] = sender
		s.mu.Unlock()
		if err := t.bind(sender); err != nil {
			util.LogError("failed to bind %s track: %v", t.Kind(), err)
			continue
		}
		announce = append(announce, t.Kind())
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		s.negMu.Unlock()
		util.LogError("CreateAnswer failed: %v", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		s.negMu.Unlock()
		util.LogError("SetLocalDescription failed: %v", err)
		return
	}
	s.negMu.Unlock()

	c.emit(s, protocol.RTCAnswer, protocol.SessionPayload{UID: s.uid, SDP: answer.SDP})
	for _, kind := range announce {
		c.emit(s, protocol.RTCPublish, protocol.KindPayload{UID: s.uid, Kind: string(kind)})
	}
}

func (c *Client) onAnswer(s *session, env *protocol.Envelope) {
	var p protocol.SessionPayload
	if err := env.Unmarshal(&p); err != nil {
		util.LogWarning("%v", err)
		return
	}

	s.negMu.Lock()
	pc := s.peer()
	err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP})
	if err == nil {
		c.flushCandidates(s, pc)
	}
	s.negMu.Unlock()

	if err != nil {
		util.LogError("SetRemoteDescription(answer) failed: %v", err)
		return
	}

	s.mu.Lock()
	again := s.pendingNeg
	s.pendingNeg = false
	s.mu.Unlock()
	if again {
		c.negotiate(s)
	}
}

// flushCandidates marks the remote description as applied and adds any
// candidates that arrived before it.
func (c *Client) flushCandidates(s *session, pc *webrtc.PeerConnection) {
	s.mu.Lock()
	s.described = true
	pending := s.candidates
	s.candidates = nil
	s.mu.Unlock()

	for _, cand := range pending {
		if err := pc.AddICECandidate(cand); err != nil {
			util.LogDebug("AddICECandidate failed: %v", err)
		}
	}
}

func (c *Client) onCandidate(s *session, env *protocol.Envelope) {
	var p protocol.CandidatePayload
	if err := env.Unmarshal(&p); err != nil {
		return
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(p.Candidate, &init); err != nil {
		util.LogDebug("failed to parse ICE candidate: %v", err)
		return
	}

	s.mu.Lock()
	if !s.described {
		s.candidates = append(s.candidates, init)
		s.mu.Unlock()
		return
	}
	pc := s.pc
	s.mu.Unlock()

	if err := pc.AddICECandidate(init); err != nil {
		util.LogDebug("AddICECandidate failed: %v", err)
	}
}

func (c *Client) onRenegotiate(s *session, _ *protocol.Envelope) {
	s.mu.Lock()
	offerer := s.offerer
	s.mu.Unlock()
	if !offerer {
		return
	}
	c.negotiate(s)
}

func (c *Client) onPublish(s *session, env *protocol.Envelope) {
	var p protocol.KindPayload
	if err := env.Unmarshal(&p); err != nil {
		return
	}
	kind := media.Kind(p.Kind)

	s.mu.Lock()
	s.announced[kind] = true
	ev, ok := c.announceLocked(s, kind)
	s.mu.Unlock()

	if ok {
		c.events.Emit(ev)
	}
}

func (c *Client) onUnpublish(s *session, env *protocol.Envelope) {
	var p protocol.KindPayload
	if err := env.Unmarshal(&p); err != nil {
		return
	}
	kind := media.Kind(p.Kind)

	s.mu.Lock()
	s.announced[kind] = false
	rt := s.remotes[kind]
	wasPublished := rt != nil && rt.published
	if rt != nil {
		rt.published = false
	}
	uid := s.remoteUID
	s.mu.Unlock()

	if wasPublished {
		rt.Stop()
		c.events.Emit(media.Event{Type: media.EventUserUnpublished, UID: uid, Kind: kind})
	}
}

// onTrack registers a new remote track. It is reported as published once
// the remote has also announced the kind.
func (c *Client) onTrack(s *session, pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	kind := kindOf(track.Kind())

	s.mu.Lock()
	if s.closed || s.pc != pc {
		s.mu.Unlock()
		return
	}
	rt := newRemoteTrack(s.remoteUID, kind, track, pc, c.opts.Sink)
	old := s.remotes[kind]
	s.remotes[kind] = rt
	ev, ok := c.announceLocked(s, kind)
	s.mu.Unlock()

	if old != nil {
		old.close()
	}
	go rt.read()

	util.LogDebug("remote %s track from uid %d (ssrc %d)", kind, rt.uid, track.SSRC())
	if ok {
		c.events.Emit(ev)
	}
}

// announceLocked reports a remote kind as published when both the track and
// the announcement are present. Callers hold s.mu.
func (c *Client) announceLocked(s *session, kind media.Kind) (media.Event, bool) {
	rt := s.remotes[kind]
	if rt == nil || rt.published || !s.announced[kind] {
		return media.Event{}, false
	}
	rt.published = true
	return media.Event{Type: media.EventUserPublished, UID: rt.uid, Kind: kind}, true
}

// Subscribe implements media.Client.
func (c *Client) Subscribe(ctx context.Context, uid uint32, kind media.Kind) (media.RemoteTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := c.active()
	if s == nil {
		return nil, fmt.Errorf("transport: not joined")
	}

	s.mu.Lock()
	rt := s.remotes[kind]
	ok := rt != nil && rt.published && (uid == 0 || rt.uid == uid)
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("transport: uid %d has no published %s track", uid, kind)
	}
	if kind == media.KindVideo {
		rt.requestKeyframe()
	}
	return rt, nil
}

func kindOf(t webrtc.RTPCodecType) media.Kind {
	if t == webrtc.RTPCodecTypeVideo {
		return media.KindVideo
	}
	return media.KindAudio
}
