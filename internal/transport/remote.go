package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/util"
)

// Sink consumes remote RTP while a track is playing.
type Sink interface {
	WriteRTP(uid uint32, kind media.Kind, pkt *rtp.Packet) error
}

// DiscardSink drops every packet.
type DiscardSink struct{}

func (DiscardSink) WriteRTP(uint32, media.Kind, *rtp.Packet) error { return nil }

// rtpWriter is implemented by pion's oggwriter and ivfwriter.
type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// RecordingSink writes remote audio to Ogg/Opus and video to IVF/VP8 files,
// one file per uid and kind.
type RecordingSink struct {
	dir string

	mu      sync.Mutex
	writers map[string]rtpWriter
}

// NewRecordingSink creates dir if needed.
func NewRecordingSink(dir string) (*RecordingSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &RecordingSink{dir: dir, writers: make(map[string]rtpWriter)}, nil
}

// WriteRTP implements Sink.
func (s *RecordingSink) WriteRTP(uid uint32, kind media.Kind, pkt *rtp.Packet) error {
	key := fmt.Sprintf("uid%d-%s", uid, kind)

	s.mu.Lock()
	w, ok := s.writers[key]
	if !ok {
		var err error
		switch kind {
		case media.KindVideo:
			w, err = ivfwriter.New(filepath.Join(s.dir, key+".ivf"))
		default:
			w, err = oggwriter.New(filepath.Join(s.dir, key+".ogg"), 48000, 2)
		}
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.writers[key] = w
	}
	s.mu.Unlock()

	return w.WriteRTP(pkt)
}

// Close flushes and closes every file.
func (s *RecordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for key, w := range s.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.writers, key)
	}
	return firstErr
}

// remoteTrack is a subscribed remote track. Packets are always read so the
// interceptors keep working; they reach the sink only while playing.
type remoteTrack struct {
	uid   uint32
	kind  media.Kind
	track *webrtc.TrackRemote
	pc    *webrtc.PeerConnection
	out   *playout

	playing   atomic.Bool
	published bool // guarded by session.mu
}

var _ media.RemoteTrack = (*remoteTrack)(nil)

func newRemoteTrack(uid uint32, kind media.Kind, track *webrtc.TrackRemote, pc *webrtc.PeerConnection, sink Sink) *remoteTrack {
	return &remoteTrack{
		uid:   uid,
		kind:  kind,
		track: track,
		pc:    pc,
		out:   newPlayout(uid, kind, sink),
	}
}

func (r *remoteTrack) UID() uint32      { return r.uid }
func (r *remoteTrack) Kind() media.Kind { return r.kind }
func (r *remoteTrack) Playing() bool    { return r.playing.Load() }

// Play implements media.RemoteTrack.
func (r *remoteTrack) Play() error {
	if r.playing.Swap(true) {
		return nil
	}
	if r.kind == media.KindVideo {
		r.requestKeyframe()
	}
	return nil
}

// Stop implements media.RemoteTrack.
func (r *remoteTrack) Stop() {
	r.playing.Store(false)
}

// requestKeyframe asks the sender for a fresh VP8 keyframe.
func (r *remoteTrack) requestKeyframe() {
	err := r.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(r.track.SSRC())},
	})
	if err != nil {
		util.LogDebug("PLI for uid %d failed: %v", r.uid, err)
	}
}

// read pumps RTP until the track ends (PeerConnection closed).
func (r *remoteTrack) read() {
	for {
		pkt, _, err := r.track.ReadRTP()
		if err != nil {
			return
		}
		if r.playing.Load() {
			r.out.push(pkt)
		}
	}
}

func (r *remoteTrack) close() {
	r.playing.Store(false)
	r.out.close()
}
