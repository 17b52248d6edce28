// Package media defines the transport capabilities the call coordinator
// depends on. The pion-backed implementation lives in package transport.
package media

import (
	"context"
	"errors"
)

// Microphone gain in percent.
const (
	NormalGain  = 100
	BoostedGain = 800
)

// ErrAborted is returned by an in-flight operation that was cancelled because
// the session was left. Callers must not treat it as a failure.
var ErrAborted = errors.New("media: operation aborted")

// Kind is a media track kind.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ConnState is the transport's connection state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
	Disconnecting
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Live reports whether a Leave is needed to release the session.
func (s ConnState) Live() bool {
	return s == Connecting || s == Connected || s == Reconnecting
}

// AudioOptions configures microphone capture.
type AudioOptions struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
	Gain             int // percent; 0 means NormalGain
}

// Device is a capture device.
type Device struct {
	ID    string
	Label string
}

// Stats is a cumulative traffic sample for the joined session.
type Stats struct {
	BytesSent   uint64
	BytesRecv   uint64
	PacketsLost int64
}

// EventType identifies a transport event.
type EventType int

const (
	EventUserPublished EventType = iota
	EventUserUnpublished
	EventUserLeft
	EventLocalTrackEnded
	EventDeviceChanged
	EventConnectionState
)

func (t EventType) String() string {
	switch t {
	case EventUserPublished:
		return "user-published"
	case EventUserUnpublished:
		return "user-unpublished"
	case EventUserLeft:
		return "user-left"
	case EventLocalTrackEnded:
		return "local-track-ended"
	case EventDeviceChanged:
		return "device-changed"
	case EventConnectionState:
		return "connection-state"
	}
	return "unknown"
}

// Event is delivered to Watch subscribers.
type Event struct {
	Type  EventType
	UID   uint32    // remote user for publish/unpublish/left
	Kind  Kind      // media kind where relevant
	State ConnState // for EventConnectionState
	Err   error     // cause of a local track ending
}

// LocalTrack is a captured local track.
type LocalTrack interface {
	Kind() Kind
	// SetEnabled mutes or unmutes the track without releasing the device.
	SetEnabled(enabled bool) error
	Enabled() bool
	Close() error
}

// LocalAudioTrack is a microphone track.
type LocalAudioTrack interface {
	LocalTrack
	// SetVolume sets capture gain in percent.
	SetVolume(percent int)
	Volume() int
	// SetDevice switches capture to another microphone without republishing.
	SetDevice(ctx context.Context, deviceID string) error
	DeviceID() string
}

// RemoteTrack is a subscribed remote track.
type RemoteTrack interface {
	UID() uint32
	Kind() Kind
	Play() error
	Stop()
	Playing() bool
}

// Client is a real-time media session.
type Client interface {
	// Join enters channel as uid. Leave during a pending Join makes it return
	// ErrAborted.
	Join(ctx context.Context, channel, token string, uid uint32) error
	Leave() error
	ConnectionState() ConnState

	CreateMicrophoneTrack(ctx context.Context, deviceID string, opts AudioOptions) (LocalAudioTrack, error)
	CreateCameraTrack(ctx context.Context) (LocalTrack, error)
	Publish(ctx context.Context, tracks ...LocalTrack) error
	Unpublish(tracks ...LocalTrack) error
	Subscribe(ctx context.Context, uid uint32, kind Kind) (RemoteTrack, error)

	Microphones() ([]Device, error)
	Stats() (Stats, error)

	// Watch subscribes to transport events until cancel is called.
	Watch() (events <-chan Event, cancel func())
}
