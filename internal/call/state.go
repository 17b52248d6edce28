// Package call coordinates a single peer-to-peer voice or video call, from
// the first intent until teardown.
package call

import "time"

// Phase is the lifecycle stage of the call.
type Phase int

const (
	Idle Phase = iota
	Dialing
	Ringing
	Connecting
	Active
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Dialing:
		return "dialing"
	case Ringing:
		return "ringing"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	}
	return "unknown"
}

// inCall reports whether media may exist in this phase.
func (p Phase) inCall() bool {
	return p == Connecting || p == Active
}

// Peer identifies a user.
type Peer struct {
	ID          string
	DisplayName string
	AvatarRef   string
}

// Direction tells who started the call.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Participant is a remote user in the media channel.
type Participant struct {
	UID          uint32
	HasAudio     bool
	HasVideo     bool
	AudioPlaying bool
}

// State is a read-only snapshot of the call.
type State struct {
	Phase     Phase
	IsVideo   bool
	Peer      Peer
	Direction Direction

	StartedAt   time.Time
	ConnectedAt time.Time
	Duration    time.Duration

	HasLocalTracks     bool
	RemoteParticipants []Participant

	MicEnabled     bool
	VideoEnabled   bool
	SpeakerEnabled bool
	MicBoosted     bool
}

// NoticeKind classifies user-visible notices.
type NoticeKind int

const (
	NoticeConnectionFailed NoticeKind = iota
	NoticeMicrophoneLost
	NoticeDeviceSwapFailed
	NoticeBusy
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeConnectionFailed:
		return "connection-failed"
	case NoticeMicrophoneLost:
		return "microphone-lost"
	case NoticeDeviceSwapFailed:
		return "device-swap-failed"
	case NoticeBusy:
		return "busy"
	}
	return "unknown"
}

// Notice is a non-fatal condition the user should see.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}

// Update is delivered to subscribers after every state change. Notice is set
// when the change carries one.
type Update struct {
	State  State
	Notice *Notice
}
