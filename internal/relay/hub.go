package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/duocall/internal/protocol"
	"github.com/1ureka/duocall/internal/token"
	"github.com/1ureka/duocall/internal/util"
)

// maxMembers is the capacity of a media channel; calls are one-to-one.
const maxMembers = 2

// peer is one user's signaling connection.
type peer struct {
	user string
	conn *websocket.Conn
	mu   sync.Mutex

	rooms map[string]uint32 // channel -> uid; guarded by Hub.mu
}

// write sends an envelope to the peer, guarded by a mutex.
func (p *peer) write(env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// delivery is a write scheduled while holding the hub lock and performed
// after releasing it.
type delivery struct {
	to  *peer
	env *protocol.Envelope
}

// Hub routes envelopes between connected users and media channel members.
type Hub struct {
	issuer  *token.Issuer
	metrics *metrics

	mu    sync.Mutex
	users map[string]*peer
	rooms map[string]map[uint32]*peer
}

func newHub(issuer *token.Issuer, m *metrics) *Hub {
	return &Hub{
		issuer:  issuer,
		metrics: m,
		users:   make(map[string]*peer),
		rooms:   make(map[string]map[uint32]*peer),
	}
}

// attach registers a connection for user. A previous connection of the same
// user is detached and closed.
func (h *Hub) attach(user string, conn *websocket.Conn) *peer {
	p := &peer{user: user, conn: conn, rooms: make(map[string]uint32)}

	h.mu.Lock()
	old := h.users[user]
	h.users[user] = p
	h.mu.Unlock()

	if old != nil {
		util.LogInfo("user %s reconnected, dropping previous connection", user)
		h.detach(old)
		old.conn.Close()
	}

	h.refreshGauges()
	return p
}

// detach removes p from every channel it joined and from the user table.
func (h *Hub) detach(p *peer) {
	h.mu.Lock()
	var out []delivery
	for channel := range p.rooms {
		out = append(out, h.leaveLocked(p, channel)...)
	}
	if h.users[p.user] == p {
		delete(h.users, p.user)
	}
	h.mu.Unlock()

	h.deliver(out)
	h.refreshGauges()
}

// route handles one envelope received from p.
func (h *Hub) route(p *peer, env *protocol.Envelope) {
	env.From = p.user
	h.metrics.events.WithLabelValues(env.Type).Inc()

	var out []delivery
	switch {
	case env.Type == protocol.RTCJoin:
		out = h.join(p, env)
		h.refreshGauges()

	case env.Type == protocol.RTCLeave:
		h.mu.Lock()
		out = h.leaveLocked(p, env.Channel)
		h.mu.Unlock()
		h.refreshGauges()

	case env.Channel != "":
		h.mu.Lock()
		if _, ok := p.rooms[env.Channel]; ok {
			for _, m := range h.rooms[env.Channel] {
				if m != p {
					out = append(out, delivery{m, env})
				}
			}
		} else {
			util.LogDebug("%s sent %s to channel %s without joining", p.user, env.Type, env.Channel)
		}
		h.mu.Unlock()

	case env.To != "":
		h.mu.Lock()
		dst, ok := h.users[env.To]
		h.mu.Unlock()
		if !ok {
			util.LogDebug("dropping %s from %s: %s is offline", env.Type, p.user, env.To)
			return
		}
		out = append(out, delivery{dst, env})

	default:
		util.LogDebug("dropping unaddressed %s from %s", env.Type, p.user)
	}

	h.deliver(out)
}

// join admits p into env.Channel after checking the token and capacity.
func (h *Hub) join(p *peer, env *protocol.Envelope) []delivery {
	var req protocol.JoinPayload
	if err := env.Unmarshal(&req); err != nil {
		return h.refuse(p, env.Channel, "bad_request", err.Error())
	}
	if err := h.issuer.Verify(req.Token, env.Channel, req.UID); err != nil {
		return h.refuse(p, env.Channel, "token", err.Error())
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[env.Channel]
	if room == nil {
		room = make(map[uint32]*peer)
		h.rooms[env.Channel] = room
	}
	if _, taken := room[req.UID]; taken {
		return h.refuse(p, env.Channel, "uid_taken", "uid already in channel")
	}
	if len(room) >= maxMembers {
		return h.refuse(p, env.Channel, "full", "channel is full")
	}

	existing := make([]uint32, 0, len(room))
	var out []delivery
	for uid, m := range room {
		existing = append(existing, uid)
		out = append(out, delivery{m, h.envelope(protocol.RTCPeerJoined, env.Channel, protocol.MemberPayload{UID: req.UID})})
	}
	room[req.UID] = p
	p.rooms[env.Channel] = req.UID

	util.LogDebug("%s joined %s as uid %d (%d members)", p.user, env.Channel, req.UID, len(room))
	return append(out, delivery{p, h.envelope(protocol.RTCJoined, env.Channel, protocol.JoinedPayload{UIDs: existing})})
}

// refuse builds an rtc.error reply. It does not touch hub state and may be
// called with or without h.mu held.
func (h *Hub) refuse(p *peer, channel, reason, detail string) []delivery {
	h.metrics.rejectedJoins.WithLabelValues(reason).Inc()
	util.LogDebug("refusing %s into %s: %s", p.user, channel, detail)
	return []delivery{{p, h.envelope(protocol.RTCError, channel, protocol.ErrorPayload{Reason: detail})}}
}

// leaveLocked removes p from channel and notifies the remaining member.
func (h *Hub) leaveLocked(p *peer, channel string) []delivery {
	uid, ok := p.rooms[channel]
	if !ok {
		return nil
	}
	delete(p.rooms, channel)

	room := h.rooms[channel]
	delete(room, uid)
	if len(room) == 0 {
		delete(h.rooms, channel)
		return nil
	}

	var out []delivery
	for _, m := range room {
		out = append(out, delivery{m, h.envelope(protocol.RTCPeerLeft, channel, protocol.MemberPayload{UID: uid})})
	}
	return out
}

func (h *Hub) envelope(typ, channel string, payload any) *protocol.Envelope {
	env, err := protocol.NewEnvelope(typ, payload)
	if err != nil {
		// payloads here are fixed structs; marshal cannot fail
		panic(err)
	}
	env.Channel = channel
	return env
}

func (h *Hub) deliver(out []delivery) {
	for _, d := range out {
		if err := d.to.write(d.env); err != nil {
			util.LogDebug("write %s to %s failed: %v", d.env.Type, d.to.user, err)
		}
	}
}

func (h *Hub) refreshGauges() {
	h.mu.Lock()
	users, rooms := len(h.users), len(h.rooms)
	h.mu.Unlock()
	h.metrics.users.Set(float64(users))
	h.metrics.channels.Set(float64(rooms))
}

// Online reports whether user has an open connection.
func (h *Hub) Online(user string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.users[user]
	return ok
}

// closeAll closes every open connection; read loops then detach them.
func (h *Hub) closeAll() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.users))
	for _, p := range h.users {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
}

// errUnknownUser is returned by the WS handler for a missing user query.
var errUnknownUser = errors.New("missing user query parameter")
