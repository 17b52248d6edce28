// Package protocol defines the envelope and event payloads exchanged with the
// signaling relay.
package protocol

import "encoding/json"

// Call events. These are addressed to a user id.
const (
	CallInitiate = "call.initiate"
	CallAccepted = "call.accepted"
	CallRejected = "call.rejected"
	CallEnded    = "call.ended"
)

// Media rendezvous events. These are addressed to a channel.
const (
	RTCJoin        = "rtc.join"
	RTCJoined      = "rtc.joined"
	RTCError       = "rtc.error"
	RTCPeerJoined  = "rtc.peer-joined"
	RTCPeerLeft    = "rtc.peer-left"
	RTCLeave       = "rtc.leave"
	RTCOffer       = "rtc.offer"
	RTCAnswer      = "rtc.answer"
	RTCCandidate   = "rtc.candidate"
	RTCRenegotiate = "rtc.renegotiate"
	RTCPublish     = "rtc.publish"
	RTCUnpublish   = "rtc.unpublish"
)

// Envelope is the JSON frame carried over the signaling WebSocket.
// The relay stamps From with the sender's user id.
type Envelope struct {
	ID      string          `json:"id"`
	Seq     uint32          `json:"seq"`
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InitiatePayload is sent by the caller to the recipient.
type InitiatePayload struct {
	CallerID      string `json:"callerId"`
	CallerName    string `json:"callerName"`
	CallerAvatar  string `json:"callerAvatar"`
	RecipientID   string `json:"recipientId"`
	RecipientName string `json:"recipientName"`
	IsVideo       bool   `json:"isVideo"`
	Timestamp     int64  `json:"timestamp"` // unix millis
}

// AcceptedPayload is sent by the recipient back to the caller.
type AcceptedPayload struct {
	CallerID    string `json:"callerId"`
	RecipientID string `json:"recipientId"`
	IsVideo     bool   `json:"isVideo"`
}

// PeersPayload identifies both parties; used by call.rejected and call.ended.
type PeersPayload struct {
	CallerID    string `json:"callerId"`
	RecipientID string `json:"recipientId"`
}

// JoinPayload asks the relay to admit uid into the envelope's channel.
type JoinPayload struct {
	Token string `json:"token"`
	UID   uint32 `json:"uid"`
}

// JoinedPayload lists the members already present in the channel.
type JoinedPayload struct {
	UIDs []uint32 `json:"uids"`
}

// MemberPayload names a single channel member.
type MemberPayload struct {
	UID uint32 `json:"uid"`
}

// ErrorPayload carries a relay-side rejection.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// SessionPayload carries an SDP offer or answer.
type SessionPayload struct {
	UID uint32 `json:"uid"`
	SDP string `json:"sdp"`
}

// CandidatePayload carries a JSON-encoded ICECandidateInit.
type CandidatePayload struct {
	UID       uint32          `json:"uid"`
	Candidate json.RawMessage `json:"candidate"`
}

// KindPayload names a media kind ("audio" or "video").
type KindPayload struct {
	UID  uint32 `json:"uid"`
	Kind string `json:"kind"`
}
