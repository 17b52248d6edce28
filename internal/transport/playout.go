package transport

import (
	"context"

	"github.com/pion/rtp"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/util"
)

const playoutBufferSize = 64 // queued packets per remote track

// playout is a goroutine-based writer that serializes one remote track's
// packets into the Sink. Packets are dropped rather than queued when the
// sink falls behind; late media is useless.
type playout struct {
	uid   uint32
	kind  media.Kind
	inbox chan *rtp.Packet

	ctx    context.Context
	cancel context.CancelFunc
}

// newPlayout starts the background loop. It exits when close is called.
func newPlayout(uid uint32, kind media.Kind, sink Sink) *playout {
	ctx, cancel := context.WithCancel(context.Background())
	p := &playout{
		uid:    uid,
		kind:   kind,
		inbox:  make(chan *rtp.Packet, playoutBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	go p.loop(sink)
	return p
}

// loop is the single-writer goroutine.
func (p *playout) loop(sink Sink) {
	for {
		select {
		case pkt := <-p.inbox:
			if err := sink.WriteRTP(p.uid, p.kind, pkt); err != nil {
				util.LogError("playback of uid %d %s failed: %v", p.uid, p.kind, err)
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// push enqueues a packet, dropping it when the queue is full.
func (p *playout) push(pkt *rtp.Packet) {
	select {
	case p.inbox <- pkt:
	case <-p.ctx.Done():
	default:
	}
}

func (p *playout) close() {
	p.cancel()
}
