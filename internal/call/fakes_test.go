package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/1ureka/duocall/internal/history"
	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/protocol"
)

var (
	_ Signaler              = (*fakeSignaler)(nil)
	_ media.Client          = (*fakeClient)(nil)
	_ media.LocalAudioTrack = (*fakeTrack)(nil)
	_ media.RemoteTrack     = (*fakeRemote)(nil)
	_ Recorder              = (*fakeRecorder)(nil)
	_ Ringer                = (*fakeRinger)(nil)
)

type emitted struct {
	typ, to string
	payload any
}

type fakeSignaler struct {
	mu           sync.Mutex
	emits        []emitted
	handlers     map[string]map[int]func(*protocol.Envelope)
	next         int
	disconnected bool
	emitErr      error
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{handlers: make(map[string]map[int]func(*protocol.Envelope))}
}

func (f *fakeSignaler) Emit(_ context.Context, typ, to string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitted{typ: typ, to: to, payload: payload})
	return nil
}

func (f *fakeSignaler) On(typ string, h func(*protocol.Envelope)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	if f.handlers[typ] == nil {
		f.handlers[typ] = make(map[int]func(*protocol.Envelope))
	}
	f.handlers[typ][id] = h
	return func() {
		f.mu.Lock()
		delete(f.handlers[typ], id)
		f.mu.Unlock()
	}
}

func (f *fakeSignaler) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disconnected
}

// deliver dispatches an inbound envelope as the relay would.
func (f *fakeSignaler) deliver(typ, from string, payload any) {
	env, err := protocol.NewEnvelope(typ, payload)
	if err != nil {
		panic(err)
	}
	env.From = from

	f.mu.Lock()
	var hs []func(*protocol.Envelope)
	for _, h := range f.handlers[typ] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(env)
	}
}

func (f *fakeSignaler) sent(typ string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.emits {
		if e.typ == typ {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeSignaler) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

type fakeClient struct {
	events *media.Broadcaster

	mu         sync.Mutex
	state      media.ConnState
	joins      []string
	tokens     []string
	uids       []uint32
	leaves     int
	blockJoin  bool
	joinErr    error
	leaveCh    chan struct{}
	micErr     error
	publishErr error
	swapErr    error
	created    []*fakeTrack
	published  []media.LocalTrack
	remotes    map[string]*fakeRemote
	devices    []media.Device
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events:  media.NewBroadcaster(),
		remotes: make(map[string]*fakeRemote),
		devices: []media.Device{{ID: "mic-a", Label: "Mic A"}, {ID: "mic-b", Label: "Mic B"}},
	}
}

func (f *fakeClient) Join(ctx context.Context, channel, tok string, uid uint32) error {
	f.mu.Lock()
	f.joins = append(f.joins, channel)
	f.tokens = append(f.tokens, tok)
	f.uids = append(f.uids, uid)
	if f.joinErr != nil {
		f.mu.Unlock()
		return f.joinErr
	}
	f.state = media.Connecting
	leave := make(chan struct{})
	f.leaveCh = leave
	block := f.blockJoin
	f.mu.Unlock()

	if block {
		select {
		case <-leave:
		case <-ctx.Done():
		}
		return media.ErrAborted
	}

	f.mu.Lock()
	f.state = media.Connected
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	f.state = media.Disconnected
	if f.leaveCh != nil {
		close(f.leaveCh)
		f.leaveCh = nil
	}
	return nil
}

func (f *fakeClient) ConnectionState() media.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeClient) CreateMicrophoneTrack(_ context.Context, deviceID string, opts media.AudioOptions) (media.LocalAudioTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.micErr != nil {
		return nil, f.micErr
	}
	t := &fakeTrack{kind: media.KindAudio, device: deviceID, opts: opts, enabled: true, client: f}
	t.volume.Store(int32(opts.Gain))
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeClient) CreateCameraTrack(context.Context) (media.LocalTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTrack{kind: media.KindVideo, enabled: true, client: f}
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeClient) Publish(_ context.Context, tracks ...media.LocalTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, tracks...)
	return nil
}

func (f *fakeClient) Unpublish(tracks ...media.LocalTrack) error {
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, uid uint32, kind media.Kind) (media.RemoteTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != media.Connected {
		return nil, errors.New("not joined")
	}
	key := fmt.Sprintf("%s/%d", kind, uid)
	r := f.remotes[key]
	if r == nil {
		r = &fakeRemote{uid: uid, kind: kind}
		f.remotes[key] = r
	}
	return r, nil
}

func (f *fakeClient) Microphones() ([]media.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.Device(nil), f.devices...), nil
}

func (f *fakeClient) Stats() (media.Stats, error) { return media.Stats{}, nil }

func (f *fakeClient) Watch() (<-chan media.Event, func()) { return f.events.Subscribe() }

func (f *fakeClient) leaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaves
}

func (f *fakeClient) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins)
}

func (f *fakeClient) remote(key string) *fakeRemote {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remotes[key]
}

func (f *fakeClient) tracks() []*fakeTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTrack(nil), f.created...)
}

type fakeTrack struct {
	kind   media.Kind
	opts   media.AudioOptions
	client *fakeClient
	volume atomic.Int32

	mu      sync.Mutex
	device  string
	enabled bool
	closed  bool
}

func (t *fakeTrack) Kind() media.Kind { return t.kind }

func (t *fakeTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	return nil
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTrack) SetVolume(percent int) { t.volume.Store(int32(percent)) }
func (t *fakeTrack) Volume() int           { return int(t.volume.Load()) }

func (t *fakeTrack) SetDevice(_ context.Context, deviceID string) error {
	t.client.mu.Lock()
	err := t.client.swapErr
	t.client.mu.Unlock()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.device = deviceID
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) DeviceID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.device
}

type fakeRemote struct {
	uid     uint32
	kind    media.Kind
	playing atomic.Bool
}

func (r *fakeRemote) UID() uint32      { return r.uid }
func (r *fakeRemote) Kind() media.Kind { return r.kind }
func (r *fakeRemote) Play() error      { r.playing.Store(true); return nil }
func (r *fakeRemote) Stop()            { r.playing.Store(false) }
func (r *fakeRemote) Playing() bool    { return r.playing.Load() }

type fakeRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (r *fakeRecorder) Record(_ context.Context, e history.Entry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return int64(len(r.entries)), nil
}

func (r *fakeRecorder) all() []history.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.Entry(nil), r.entries...)
}

type fakeRinger struct {
	ringing atomic.Bool
	starts  atomic.Int32
	onStart func() // runs before the bell starts
}

func (r *fakeRinger) Start(Peer) {
	if r.onStart != nil {
		r.onStart()
	}
	r.ringing.Store(true)
	r.starts.Add(1)
}
func (r *fakeRinger) Stop()      { r.ringing.Store(false) }
