package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/protocol"
	"github.com/1ureka/duocall/internal/util"
)

// localTrack wraps a captured mediadevices track. The underlying track can be
// swapped (microphone change) while the RTP sender stays in place.
type localTrack struct {
	client *Client
	kind   media.Kind
	opts   media.AudioOptions
	gain   atomic.Int32

	mu       sync.Mutex
	track    mediadevices.Track
	deviceID string
	enabled  bool
	sender   *webrtc.RTPSender
	closed   bool
}

var (
	_ media.LocalTrack      = (*localTrack)(nil)
	_ media.LocalAudioTrack = (*localTrack)(nil)
)

func (t *localTrack) Kind() media.Kind { return t.kind }

func (t *localTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *localTrack) DeviceID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deviceID
}

func (t *localTrack) current() mediadevices.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.track
}

func (t *localTrack) bound() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sender != nil
}

// bind attaches the track to sender, honoring the enabled flag.
func (t *localTrack) bind(sender *webrtc.RTPSender) error {
	t.mu.Lock()
	t.sender = sender
	var next webrtc.TrackLocal
	if t.enabled {
		next = t.track
	}
	t.mu.Unlock()
	return sender.ReplaceTrack(next)
}

// unbind detaches the track from its sender, if any.
func (t *localTrack) unbind() {
	t.mu.Lock()
	sender := t.sender
	t.sender = nil
	t.mu.Unlock()
	if sender != nil {
		if err := sender.ReplaceTrack(nil); err != nil {
			util.LogDebug("failed to detach %s track: %v", t.kind, err)
		}
	}
}

// SetEnabled implements media.LocalTrack. A disabled track keeps its device
// open but sends nothing.
func (t *localTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("transport: track closed")
	}
	t.enabled = enabled
	sender := t.sender
	var next webrtc.TrackLocal
	if enabled {
		next = t.track
	}
	t.mu.Unlock()

	if sender == nil {
		return nil
	}
	return sender.ReplaceTrack(next)
}

// SetVolume implements media.LocalAudioTrack.
func (t *localTrack) SetVolume(percent int) {
	if percent < 0 {
		percent = 0
	}
	t.gain.Store(int32(percent))
}

func (t *localTrack) Volume() int {
	return int(t.gain.Load())
}

// SetDevice implements media.LocalAudioTrack. The new capture replaces the
// old one on the same sender, so no renegotiation happens.
func (t *localTrack) SetDevice(ctx context.Context, deviceID string) error {
	if t.kind != media.KindAudio {
		return errors.New("transport: not an audio track")
	}

	next, err := t.client.captureAudio(ctx, deviceID, t)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		next.Close()
		return errors.New("transport: track closed")
	}
	prev, prevID := t.track, t.deviceID
	t.track, t.deviceID = next, deviceID
	sender, enabled := t.sender, t.enabled
	t.mu.Unlock()

	if sender != nil && enabled {
		if err := sender.ReplaceTrack(next); err != nil {
			t.mu.Lock()
			t.track, t.deviceID = prev, prevID
			t.mu.Unlock()
			next.Close()
			return fmt.Errorf("failed to switch microphone: %w", err)
		}
	}

	prev.Close()
	util.LogDebug("microphone switched to %q", deviceID)
	return nil
}

// Close implements media.LocalTrack.
func (t *localTrack) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	track := t.track
	t.mu.Unlock()

	t.unbind()
	return track.Close()
}

// watchEnded reports md's unexpected end, e.g. the device was unplugged.
// Ends of replaced or closed tracks are ignored.
func (t *localTrack) watchEnded(md mediadevices.Track) {
	md.OnEnded(func(err error) {
		t.mu.Lock()
		stale := t.closed || t.track != md
		t.mu.Unlock()
		if stale {
			return
		}
		util.LogWarning("local %s track ended: %v", t.kind, err)
		t.client.events.Emit(media.Event{Type: media.EventLocalTrackEnded, Kind: t.kind, Err: err})
	})
}

// CreateMicrophoneTrack implements media.Client.
func (c *Client) CreateMicrophoneTrack(ctx context.Context, deviceID string, opts media.AudioOptions) (media.LocalAudioTrack, error) {
	if opts.Gain <= 0 {
		opts.Gain = media.NormalGain
	}
	t := &localTrack{client: c, kind: media.KindAudio, opts: opts, enabled: true, deviceID: deviceID}
	t.gain.Store(int32(opts.Gain))

	md, err := c.captureAudio(ctx, deviceID, t)
	if err != nil {
		return nil, err
	}
	t.track = md
	return t, nil
}

// captureAudio opens a microphone and applies t's gain stage to it.
func (c *Client) captureAudio(ctx context.Context, deviceID string, t *localTrack) (mediadevices.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The capture driver has no echo-cancellation, noise-suppression or
	// gain-control stages; the flags are carried for logging only.
	util.LogDebug("capturing microphone %q (aec=%t ns=%t agc=%t)",
		deviceID, t.opts.EchoCancellation, t.opts.NoiseSuppression, t.opts.AutoGain)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(mc *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				mc.DeviceID = prop.String(deviceID)
			}
			mc.ChannelCount = prop.Int(1)
			mc.SampleRate = prop.Int(48000)
		},
		Codec: c.codecs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open microphone: %w", err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("failed to open microphone: no audio track")
	}
	md := tracks[0]
	if at, ok := md.(*mediadevices.AudioTrack); ok {
		at.Transform(gainTransform(&t.gain))
	}

	if err := ctx.Err(); err != nil {
		md.Close()
		return nil, err
	}
	t.watchEnded(md)
	return md, nil
}

// CreateCameraTrack implements media.Client.
func (c *Client) CreateCameraTrack(ctx context.Context) (media.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			// Raw formats only; some MJPEG nodes emit frames the VP8
			// encoder cannot digest.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		},
		Codec: c.codecs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open camera: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("failed to open camera: no video track")
	}

	t := &localTrack{client: c, kind: media.KindVideo, enabled: true, track: tracks[0]}
	if err := ctx.Err(); err != nil {
		t.Close()
		return nil, err
	}
	t.watchEnded(tracks[0])
	return t, nil
}

// Publish implements media.Client. Offering side: tracks go onto the
// pre-created transceivers. Answering side: tracks attach when the offer
// arrives, or right away followed by a renegotiation request.
func (c *Client) Publish(ctx context.Context, tracks ...media.LocalTrack) error {
	s := c.active()
	if s == nil {
		return errors.New("transport: not joined")
	}

	s.negMu.Lock()

	var announce []media.Kind
	renegotiate := false
	for _, lt := range tracks {
		t, ok := lt.(*localTrack)
		if !ok {
			s.negMu.Unlock()
			return fmt.Errorf("transport: foreign track type %T", lt)
		}
		if err := ctx.Err(); err != nil {
			s.negMu.Unlock()
			return fmt.Errorf("%w: %v", media.ErrAborted, err)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			s.negMu.Unlock()
			return media.ErrAborted
		}
		s.published[t.kind] = t
		sender := s.senders[t.kind]
		described := s.described
		pc := s.pc
		s.mu.Unlock()

		switch {
		case sender != nil:
			if err := t.bind(sender); err != nil {
				s.negMu.Unlock()
				return fmt.Errorf("failed to publish %s: %w", t.kind, err)
			}
			announce = append(announce, t.kind)

		case described:
			sender, err := pc.AddTrack(t.current())
			if err != nil {
				s.negMu.Unlock()
				return fmt.Errorf("failed to publish %s: %w", t.kind, err)
			}
			s.mu.Lock()
			s.senders[t.kind] = sender
			s.mu.Unlock()
			if err := t.bind(sender); err != nil {
				s.negMu.Unlock()
				return fmt.Errorf("failed to publish %s: %w", t.kind, err)
			}
			announce = append(announce, t.kind)
			renegotiate = true

		default:
			util.LogDebug("%s track queued until the peer's offer", t.kind)
		}
	}
	s.negMu.Unlock()

	if renegotiate {
		c.emit(s, protocol.RTCRenegotiate, protocol.MemberPayload{UID: s.uid})
	}
	for _, kind := range announce {
		c.emit(s, protocol.RTCPublish, protocol.KindPayload{UID: s.uid, Kind: string(kind)})
	}
	return nil
}

// Unpublish implements media.Client. Senders are kept so a later Publish
// does not need renegotiation.
func (c *Client) Unpublish(tracks ...media.LocalTrack) error {
	s := c.active()
	if s == nil {
		return nil
	}

	s.negMu.Lock()
	var gone []media.Kind
	for _, lt := range tracks {
		t, ok := lt.(*localTrack)
		if !ok {
			continue
		}
		s.mu.Lock()
		if s.published[t.kind] == t {
			delete(s.published, t.kind)
			gone = append(gone, t.kind)
		}
		s.mu.Unlock()
		t.unbind()
	}
	s.negMu.Unlock()

	for _, kind := range gone {
		c.emit(s, protocol.RTCUnpublish, protocol.KindPayload{UID: s.uid, Kind: string(kind)})
	}
	return nil
}
