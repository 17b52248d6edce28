// Package transport implements media.Client on top of pion/webrtc. Channel
// rendezvous and SDP/ICE exchange travel over the shared signaling connection
// as rtc.* events; local capture uses pion/mediadevices.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/protocol"
	"github.com/1ureka/duocall/internal/util"
)

// Signaler is the part of the relay connection the transport needs.
type Signaler interface {
	EmitChannel(ctx context.Context, typ, channel string, payload any) error
	On(typ string, h func(*protocol.Envelope)) func()
}

// Options configures a Client.
type Options struct {
	STUNServers []string
	// HotplugDir is watched for capture device changes; empty disables it.
	HotplugDir string
	// Sink receives remote RTP while a remote track is playing. Nil discards.
	Sink Sink
}

// Client is a media.Client backed by one PeerConnection per joined channel.
type Client struct {
	sig    Signaler
	api    *webrtc.API
	codecs *mediadevices.CodecSelector
	opts   Options
	events *media.Broadcaster

	hotplug *hotplug

	mu    sync.Mutex
	state media.ConnState
	sess  *session
}

// Compile-time interface check.
var _ media.Client = (*Client)(nil)

// NewClient builds the pion API and starts hot-plug detection.
func NewClient(sig Signaler, opts Options) (*Client, error) {
	api, codecs, err := newAPI()
	if err != nil {
		return nil, fmt.Errorf("failed to build media engine: %w", err)
	}
	if opts.Sink == nil {
		opts.Sink = DiscardSink{}
	}

	c := &Client{
		sig:    sig,
		api:    api,
		codecs: codecs,
		opts:   opts,
		events: media.NewBroadcaster(),
		state:  media.Disconnected,
	}

	if opts.HotplugDir != "" {
		hp, err := newHotplug(opts.HotplugDir, hotplugSettle, func() {
			c.events.Emit(media.Event{Type: media.EventDeviceChanged})
		})
		if err != nil {
			util.LogDebug("device hot-plug detection disabled: %v", err)
		} else {
			c.hotplug = hp
		}
	}
	return c, nil
}

// Close leaves any joined channel and stops background watchers.
func (c *Client) Close() error {
	err := c.Leave()
	if c.hotplug != nil {
		err = errors.Join(err, c.hotplug.close())
	}
	c.events.Close()
	return err
}

// Watch implements media.Client.
func (c *Client) Watch() (<-chan media.Event, func()) {
	return c.events.Subscribe()
}

// ConnectionState implements media.Client.
func (c *Client) ConnectionState() media.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setStateLocked(s media.ConnState) {
	if c.state == s {
		return
	}
	util.LogDebug("media connection: %s -> %s", c.state, s)
	c.state = s
	c.events.Emit(media.Event{Type: media.EventConnectionState, State: s})
}

// joinResult is delivered by the rtc.joined / rtc.error handlers.
type joinResult struct {
	members []uint32
	err     error
}

// Join implements media.Client. It returns once the relay has admitted uid
// into channel; media negotiation continues in the background.
func (c *Client) Join(ctx context.Context, channel, tok string, uid uint32) error {
	c.mu.Lock()
	if c.state != media.Disconnected {
		c.mu.Unlock()
		return fmt.Errorf("transport: already in a channel (%s)", c.state)
	}
	s := newSession(channel, uid)
	c.sess = s
	c.setStateLocked(media.Connecting)
	c.mu.Unlock()

	pc, err := newPeerConnection(c.api, c.opts.STUNServers)
	if err != nil {
		c.abandon(s)
		return fmt.Errorf("failed to create PeerConnection: %w", err)
	}
	if !c.bindPeer(s, pc) {
		pc.Close()
		return media.ErrAborted
	}
	s.setUnsub(c.subscribe(s))

	if err := c.sig.EmitChannel(ctx, protocol.RTCJoin, channel, protocol.JoinPayload{Token: tok, UID: uid}); err != nil {
		c.abandon(s)
		return fmt.Errorf("failed to send join: %w", err)
	}

	select {
	case res := <-s.joined:
		if res.err != nil {
			c.abandon(s)
			return res.err
		}

		c.mu.Lock()
		if c.sess != s {
			c.mu.Unlock()
			return media.ErrAborted
		}
		c.setStateLocked(media.Connected)
		c.mu.Unlock()

		if len(res.members) > 0 {
			c.startOffer(s, res.members[0])
		}
		util.LogDebug("joined %s as uid %d (%d already present)", channel, uid, len(res.members))
		return nil

	case <-s.ctx.Done():
		return media.ErrAborted

	case <-ctx.Done():
		c.abandon(s)
		return fmt.Errorf("%w: %v", media.ErrAborted, ctx.Err())
	}
}

// Leave implements media.Client. Leaving with a Join in flight makes that
// Join return media.ErrAborted. Leaving when not joined is a no-op.
func (c *Client) Leave() error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(media.Disconnecting)
	c.mu.Unlock()

	err := c.sig.EmitChannel(context.Background(), protocol.RTCLeave, s.channel, protocol.MemberPayload{UID: s.uid})
	if err != nil {
		util.LogDebug("leave notification not sent: %v", err)
	}
	return c.abandon(s)
}

// abandon releases everything owned by s and returns to Disconnected, unless
// a newer session has already replaced it.
func (c *Client) abandon(s *session) error {
	c.mu.Lock()
	current := c.sess == s
	if current {
		c.sess = nil
		c.setStateLocked(media.Disconnected)
	}
	c.mu.Unlock()

	if !current {
		return nil
	}
	return s.close()
}

// current returns s if it is still the active session.
func (c *Client) current(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == s
}

// active returns the active session, or nil.
func (c *Client) active() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Microphones implements media.Client.
func (c *Client) Microphones() ([]media.Device, error) {
	var out []media.Device
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.AudioInput {
			continue
		}
		label := d.Label
		if label == "" {
			label = d.DeviceID
		}
		out = append(out, media.Device{ID: d.DeviceID, Label: label})
	}
	return out, nil
}

// Stats implements media.Client.
func (c *Client) Stats() (media.Stats, error) {
	s := c.active()
	if s == nil {
		return media.Stats{}, errors.New("transport: not joined")
	}
	pc := s.peer()
	if pc == nil {
		return media.Stats{}, errors.New("transport: no peer connection")
	}

	var out media.Stats
	for _, st := range pc.GetStats() {
		switch v := st.(type) {
		case webrtc.TransportStats:
			out.BytesSent += v.BytesSent
			out.BytesRecv += v.BytesReceived
		case webrtc.InboundRTPStreamStats:
			out.PacketsLost += int64(v.PacketsLost)
		}
	}
	return out, nil
}
