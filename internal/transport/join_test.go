package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/protocol"
)

// fakeSignaler records emitted envelopes and lets tests inject replies.
type fakeSignaler struct {
	mu       sync.Mutex
	sent     []*protocol.Envelope
	handlers map[string][]func(*protocol.Envelope)
	onEmit   func(env *protocol.Envelope)
}

var _ Signaler = (*fakeSignaler)(nil)

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{handlers: make(map[string][]func(*protocol.Envelope))}
}

func (f *fakeSignaler) EmitChannel(_ context.Context, typ, channel string, payload any) error {
	env, err := protocol.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	env.Channel = channel
	f.mu.Lock()
	f.sent = append(f.sent, env)
	hook := f.onEmit
	f.mu.Unlock()
	if hook != nil {
		go hook(env)
	}
	return nil
}

func (f *fakeSignaler) On(typ string, h func(*protocol.Envelope)) func() {
	f.mu.Lock()
	f.handlers[typ] = append(f.handlers[typ], h)
	idx := len(f.handlers[typ]) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.handlers[typ][idx] = nil
		f.mu.Unlock()
	}
}

func (f *fakeSignaler) deliver(typ, channel string, payload any) {
	env, _ := protocol.NewEnvelope(typ, payload)
	env.Channel = channel
	f.mu.Lock()
	hs := append([]func(*protocol.Envelope){}, f.handlers[typ]...)
	f.mu.Unlock()
	for _, h := range hs {
		if h != nil {
			h(env)
		}
	}
}

func (f *fakeSignaler) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, env := range f.sent {
		out = append(out, env.Type)
	}
	return out
}

func newTestClient(t *testing.T, sig *fakeSignaler) *Client {
	t.Helper()
	c, err := NewClient(sig, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestJoinAdmitted(t *testing.T) {
	sig := newFakeSignaler()
	sig.onEmit = func(env *protocol.Envelope) {
		if env.Type == protocol.RTCJoin {
			sig.deliver(protocol.RTCJoined, env.Channel, protocol.JoinedPayload{})
		}
	}
	c := newTestClient(t, sig)

	require.NoError(t, c.Join(context.Background(), "call_a_b", "tok", 7))
	assert.Equal(t, media.Connected, c.ConnectionState())

	require.NoError(t, c.Leave())
	assert.Equal(t, media.Disconnected, c.ConnectionState())
	assert.Contains(t, sig.types(), protocol.RTCLeave)

	// leaving twice is harmless
	require.NoError(t, c.Leave())
}

func TestJoinRefused(t *testing.T) {
	sig := newFakeSignaler()
	sig.onEmit = func(env *protocol.Envelope) {
		if env.Type == protocol.RTCJoin {
			sig.deliver(protocol.RTCError, env.Channel, protocol.ErrorPayload{Reason: "channel is full"})
		}
	}
	c := newTestClient(t, sig)

	err := c.Join(context.Background(), "call_a_b", "tok", 7)
	require.Error(t, err)
	assert.False(t, errors.Is(err, media.ErrAborted))
	assert.Equal(t, media.Disconnected, c.ConnectionState())
}

func TestLeaveAbortsPendingJoin(t *testing.T) {
	sig := newFakeSignaler()
	c := newTestClient(t, sig)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Join(context.Background(), "call_a_b", "tok", 7) }()

	require.Eventually(t, func() bool { return c.ConnectionState() == media.Connecting }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(sig.types()) > 0 }, time.Second, time.Millisecond)
	require.NoError(t, c.Leave())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, media.ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("Join did not return after Leave")
	}
	assert.Equal(t, media.Disconnected, c.ConnectionState())
}

func TestJoinContextCancelled(t *testing.T) {
	sig := newFakeSignaler()
	c := newTestClient(t, sig)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Join(ctx, "call_a_b", "tok", 7)
	assert.ErrorIs(t, err, media.ErrAborted)
	assert.Equal(t, media.Disconnected, c.ConnectionState())
}

func TestJoinTwiceFails(t *testing.T) {
	sig := newFakeSignaler()
	sig.onEmit = func(env *protocol.Envelope) {
		if env.Type == protocol.RTCJoin {
			sig.deliver(protocol.RTCJoined, env.Channel, protocol.JoinedPayload{})
		}
	}
	c := newTestClient(t, sig)

	require.NoError(t, c.Join(context.Background(), "call_a_b", "tok", 7))
	assert.Error(t, c.Join(context.Background(), "call_a_c", "tok", 8))
}

func TestEnvelopesForOtherChannelsIgnored(t *testing.T) {
	sig := newFakeSignaler()
	sig.onEmit = func(env *protocol.Envelope) {
		if env.Type == protocol.RTCJoin {
			sig.deliver(protocol.RTCJoined, "call_x_y", protocol.JoinedPayload{})
		}
	}
	c := newTestClient(t, sig)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Join(ctx, "call_a_b", "tok", 7), media.ErrAborted)
}
