package protocol_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/1ureka/duocall/internal/protocol"
)

// TestNewEnvelopeCarriesPayload verifies that the payload survives encoding and
// can be read back with Unmarshal.
func TestNewEnvelopeCarriesPayload(t *testing.T) {
	env, err := protocol.NewEnvelope(protocol.CallInitiate, protocol.InitiatePayload{
		CallerID:    "me",
		CallerName:  "Me",
		RecipientID: "u1",
		IsVideo:     true,
		Timestamp:   1700000000000,
	})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.ID == "" {
		t.Fatal("expected a generated envelope id")
	}

	data, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	var p protocol.InitiatePayload
	if err := decoded.Unmarshal(&p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if p.CallerID != "me" || p.RecipientID != "u1" || !p.IsVideo {
		t.Errorf("payload mismatch: %+v", p)
	}
}

// TestPayloadFieldNames pins the wire names the other client implementations
// rely on.
func TestPayloadFieldNames(t *testing.T) {
	raw, err := json.Marshal(protocol.AcceptedPayload{CallerID: "a", RecipientID: "b", IsVideo: true})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"callerId":"a","recipientId":"b","isVideo":true}`
	if string(raw) != want {
		t.Errorf("got %s, want %s", raw, want)
	}
}

// TestDecodeRejectsInvalid verifies the validation errors returned by Decode.
func TestDecodeRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"missing type", []byte(`{"id":"x","payload":{}}`), protocol.ErrMissingType},
		{"empty type", []byte(`{"type":""}`), protocol.ErrMissingType},
		{"oversized", []byte(`{"type":"x","to":"` + strings.Repeat("a", protocol.MaxEnvelopeSize) + `"}`), protocol.ErrTooLarge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.Decode(tc.data)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	if _, err := protocol.Decode([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed frame, got nil")
	}
}

// TestEncodeRequiresType verifies that untyped envelopes are never sent.
func TestEncodeRequiresType(t *testing.T) {
	if _, err := protocol.Encode(&protocol.Envelope{ID: "x"}); !errors.Is(err, protocol.ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

// TestUnmarshalEmptyPayload verifies that a payload-less envelope is reported.
func TestUnmarshalEmptyPayload(t *testing.T) {
	env := &protocol.Envelope{Type: protocol.CallEnded}
	var p protocol.PeersPayload
	if err := env.Unmarshal(&p); err == nil {
		t.Fatal("expected error for empty payload, got nil")
	}
}

// TestSeqGenMonotonic verifies that sequence numbers start at 1 and increase.
func TestSeqGenMonotonic(t *testing.T) {
	s := protocol.NewSeqGen()
	for want := uint32(1); want <= 5; want++ {
		if got := s.Next(); got != want {
			t.Fatalf("Next() = %d, want %d", got, want)
		}
	}
}
