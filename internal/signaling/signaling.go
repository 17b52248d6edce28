// Package signaling is the client side of the relay connection. One
// WebSocket is shared by every feature; handlers subscribe to the event
// types they own.
package signaling

import (
	"context"
	"sync"

	"github.com/1ureka/duocall/internal/protocol"
	"github.com/1ureka/duocall/internal/util"
)

// Handler receives envelopes of a subscribed type. Handlers run on the read
// goroutine and must not block.
type Handler = func(*protocol.Envelope)

// Client is a live relay connection.
type Client struct {
	user   string
	sender *sender

	mu       sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextID   uint64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	err       error
}

// Dial connects to the relay as user and starts the read loop.
func Dial(ctx context.Context, relayURL, user string) (*Client, error) {
	conn, err := connect(ctx, relayURL, user)
	if err != nil {
		return nil, err
	}

	cCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		user:     user,
		sender:   &sender{conn: conn, seq: protocol.NewSeqGen()},
		handlers: make(map[string]map[uint64]Handler),
		ctx:      cCtx,
		cancel:   cancel,
	}

	r := &receiver{conn: conn, dispatch: c.dispatch}
	go func() {
		err := r.watch()
		c.mu.Lock()
		if c.ctx.Err() == nil {
			c.err = err
			util.LogWarning("signaling connection lost: %v", err)
		}
		c.mu.Unlock()
		cancel()
		conn.Close()
	}()

	return c, nil
}

// User returns the id this connection is registered under.
func (c *Client) User() string { return c.user }

// Emit sends an event addressed to a user.
func (c *Client) Emit(ctx context.Context, typ, to string, payload any) error {
	env, err := protocol.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	env.To = to
	return c.send(ctx, env)
}

// EmitChannel sends an event to the other members of a media channel.
func (c *Client) EmitChannel(ctx context.Context, typ, channel string, payload any) error {
	env, err := protocol.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	env.Channel = channel
	return c.send(ctx, env)
}

func (c *Client) send(ctx context.Context, env *protocol.Envelope) error {
	if !c.Connected() {
		return context.Canceled
	}
	return c.sender.send(ctx, env)
}

// On registers h for envelopes of type typ. The returned func removes it and
// is safe to call more than once.
func (c *Client) On(typ string, h Handler) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.handlers[typ] == nil {
		c.handlers[typ] = make(map[uint64]Handler)
	}
	c.handlers[typ][id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers[typ], id)
		c.mu.Unlock()
	}
}

func (c *Client) dispatch(env *protocol.Envelope) {
	c.mu.RLock()
	hs := make([]Handler, 0, len(c.handlers[env.Type]))
	for _, h := range c.handlers[env.Type] {
		hs = append(hs, h)
	}
	c.mu.RUnlock()

	if len(hs) == 0 {
		util.LogDebug("no handler for %s from %s", env.Type, env.From)
		return
	}
	for _, h := range hs {
		h(env)
	}
}

// Connected reports whether the connection is still usable.
func (c *Client) Connected() bool {
	return c.ctx.Err() == nil
}

// Done returns a channel that is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the read error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close ends the connection. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.sender.close()
		c.sender.conn.Close()
	})
	return nil
}
