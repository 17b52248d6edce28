package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/media"
)

// session is the state of one joined channel.
type session struct {
	channel string
	uid     uint32

	ctx    context.Context
	cancel context.CancelFunc
	joined chan joinResult

	// negMu serializes SDP operations and sender changes.
	negMu sync.Mutex

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	remoteUID  uint32
	offerer    bool
	described  bool // a remote description is applied
	pendingNeg bool // renegotiation requested while an offer was outstanding
	candidates []webrtc.ICECandidateInit
	published  map[media.Kind]*localTrack
	senders    map[media.Kind]*webrtc.RTPSender
	announced  map[media.Kind]bool // kinds the remote says it publishes
	remotes    map[media.Kind]*remoteTrack
	unsub      []func()
	closed     bool
}

func newSession(channel string, uid uint32) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		channel:   channel,
		uid:       uid,
		ctx:       ctx,
		cancel:    cancel,
		joined:    make(chan joinResult, 1),
		published: make(map[media.Kind]*localTrack),
		senders:   make(map[media.Kind]*webrtc.RTPSender),
		announced: make(map[media.Kind]bool),
		remotes:   make(map[media.Kind]*remoteTrack),
	}
}

func (s *session) peer() *webrtc.PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc
}

// setUnsub stores signaling unsubscribers, or runs them at once if the
// session was already closed.
func (s *session) setUnsub(fns []func()) {
	s.mu.Lock()
	if !s.closed {
		s.unsub = fns
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// resetRemoteLocked drops remote tracks and returns them for stopping.
func (s *session) resetRemoteLocked() []*remoteTrack {
	out := make([]*remoteTrack, 0, len(s.remotes))
	for _, rt := range s.remotes {
		out = append(out, rt)
	}
	s.remotes = make(map[media.Kind]*remoteTrack)
	s.announced = make(map[media.Kind]bool)
	return out
}

// close unsubscribes from signaling, unbinds local tracks and closes the
// PeerConnection. Safe to call multiple times.
func (s *session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	unsub := s.unsub
	s.unsub = nil
	remotes := s.resetRemoteLocked()
	published := s.published
	s.published = make(map[media.Kind]*localTrack)
	s.senders = make(map[media.Kind]*webrtc.RTPSender)
	pc := s.pc
	s.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
	for _, rt := range remotes {
		rt.close()
	}
	for _, t := range published {
		t.unbind()
	}
	if pc == nil {
		return nil
	}
	if err := pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		return err
	}
	return nil
}
