package call

import (
	"context"
	"time"

	"github.com/1ureka/duocall/internal/protocol"
)

// Signaler is the shared signaling connection. *signaling.Client satisfies it.
type Signaler interface {
	Emit(ctx context.Context, typ, to string, payload any) error
	On(typ string, h func(*protocol.Envelope)) func()
	Connected() bool
}

// signalAdapter sends and receives the call.* events and nothing else, so
// other features can share the connection.
type signalAdapter struct {
	sig     Signaler
	timeout time.Duration
}

func (s signalAdapter) connected() bool { return s.sig.Connected() }

func (s signalAdapter) emit(typ, to string, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.sig.Emit(ctx, typ, to, payload)
}

func (s signalAdapter) initiate(to string, p protocol.InitiatePayload) error {
	return s.emit(protocol.CallInitiate, to, p)
}

func (s signalAdapter) accepted(to string, p protocol.AcceptedPayload) error {
	return s.emit(protocol.CallAccepted, to, p)
}

func (s signalAdapter) rejected(to string, p protocol.PeersPayload) error {
	return s.emit(protocol.CallRejected, to, p)
}

func (s signalAdapter) ended(to string, p protocol.PeersPayload) error {
	return s.emit(protocol.CallEnded, to, p)
}

// callHandlers receive the four call.* events.
type callHandlers struct {
	initiate func(*protocol.Envelope)
	accepted func(*protocol.Envelope)
	rejected func(*protocol.Envelope)
	ended    func(*protocol.Envelope)
}

// bind registers h and returns the funcs that remove each handler.
func (s signalAdapter) bind(h callHandlers) []func() {
	return []func(){
		s.sig.On(protocol.CallInitiate, h.initiate),
		s.sig.On(protocol.CallAccepted, h.accepted),
		s.sig.On(protocol.CallRejected, h.rejected),
		s.sig.On(protocol.CallEnded, h.ended),
	}
}
