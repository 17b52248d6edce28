package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MaxEnvelopeSize bounds a single signaling frame. SDP bodies are the largest
// payloads and stay well under this.
const MaxEnvelopeSize = 64 * 1024

var (
	ErrMissingType = errors.New("protocol: envelope has no type")
	ErrTooLarge    = errors.New("protocol: envelope exceeds size limit")
)

// NewEnvelope builds an envelope with a fresh id and the JSON encoding of payload.
// A nil payload leaves Payload empty.
func NewEnvelope(typ string, payload any) (*Envelope, error) {
	env := &Envelope{ID: uuid.NewString(), Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Encode serializes an envelope for transmission.
func Encode(env *Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, ErrMissingType
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return data, nil
}

// Decode deserializes and validates a received frame.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}

// Unmarshal decodes the envelope payload into v.
func (e *Envelope) Unmarshal(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	return nil
}
