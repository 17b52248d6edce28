package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/protocol"
	"github.com/1ureka/duocall/internal/token"
)

func newTestRelay(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(&config.Relay{AppID: "test", TokenSecret: "secret", TokenTTL: time.Minute})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.closeAll()
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, env *protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func recv(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func issue(t *testing.T, ts *httptest.Server, channel string, uid uint32) string {
	t.Helper()
	body, _ := json.Marshal(token.Request{ChannelName: channel, UID: uid, Role: token.RolePublisher})
	resp, err := http.Post(ts.URL+"/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var g token.Grant
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&g))
	assert.Equal(t, "test", g.AppID)
	return g.Token
}

func joinEnv(t *testing.T, channel, tok string, uid uint32) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.RTCJoin, protocol.JoinPayload{Token: tok, UID: uid})
	require.NoError(t, err)
	env.Channel = channel
	return env
}

func TestRouteToUser(t *testing.T) {
	s, ts := newTestRelay(t)
	alice := dial(t, ts, "alice")
	bob := dial(t, ts, "bob")
	require.Eventually(t, func() bool { return s.hub.Online("alice") && s.hub.Online("bob") }, time.Second, 5*time.Millisecond)

	env, err := protocol.NewEnvelope(protocol.CallInitiate, protocol.InitiatePayload{CallerID: "alice", RecipientID: "bob"})
	require.NoError(t, err)
	env.To = "bob"
	env.From = "mallory"
	send(t, alice, env)

	got := recv(t, bob)
	assert.Equal(t, protocol.CallInitiate, got.Type)
	assert.Equal(t, "alice", got.From, "relay must stamp the sender")
}

func TestChannelJoinAndForward(t *testing.T) {
	s, ts := newTestRelay(t)
	alice := dial(t, ts, "alice")
	bob := dial(t, ts, "bob")
	carol := dial(t, ts, "carol")
	require.Eventually(t, func() bool { return s.hub.Online("carol") }, time.Second, 5*time.Millisecond)

	const ch = "call_alice_bob"

	send(t, alice, joinEnv(t, ch, issue(t, ts, ch, 1), 1))
	joined := recv(t, alice)
	require.Equal(t, protocol.RTCJoined, joined.Type)
	var jp protocol.JoinedPayload
	require.NoError(t, joined.Unmarshal(&jp))
	assert.Empty(t, jp.UIDs)

	send(t, bob, joinEnv(t, ch, issue(t, ts, ch, 2), 2))
	peerJoined := recv(t, alice)
	assert.Equal(t, protocol.RTCPeerJoined, peerJoined.Type)
	joined = recv(t, bob)
	require.NoError(t, joined.Unmarshal(&jp))
	assert.Equal(t, []uint32{1}, jp.UIDs)

	// third member is refused
	send(t, carol, joinEnv(t, ch, issue(t, ts, ch, 3), 3))
	refused := recv(t, carol)
	assert.Equal(t, protocol.RTCError, refused.Type)

	// negotiation is forwarded to the other member only
	offer, err := protocol.NewEnvelope(protocol.RTCOffer, protocol.SessionPayload{UID: 2, SDP: "v=0"})
	require.NoError(t, err)
	offer.Channel = ch
	send(t, bob, offer)
	got := recv(t, alice)
	assert.Equal(t, protocol.RTCOffer, got.Type)
	assert.Equal(t, "bob", got.From)

	// disconnect notifies the remaining member
	bob.Close()
	left := recv(t, alice)
	assert.Equal(t, protocol.RTCPeerLeft, left.Type)
	var mp protocol.MemberPayload
	require.NoError(t, left.Unmarshal(&mp))
	assert.Equal(t, uint32(2), mp.UID)
}

func TestJoinRejectsForgedToken(t *testing.T) {
	_, ts := newTestRelay(t)
	alice := dial(t, ts, "alice")

	tok := issue(t, ts, "call_a_b", 1)
	send(t, alice, joinEnv(t, "call_a_c", tok, 1))
	assert.Equal(t, protocol.RTCError, recv(t, alice).Type)
}

func TestTokenEndpointValidation(t *testing.T) {
	_, ts := newTestRelay(t)

	resp, err := http.Post(ts.URL+"/token", "application/json", strings.NewReader(`{"channelName":"","uid":1,"role":"publisher"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/token", "application/json", strings.NewReader(`{"channelName":"c","uid":1,"role":"admin"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestRelay(t)
	issue(t, ts, "call_a_b", 1)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "duocall_relay_tokens_issued_total 1")
}

func TestWSRequiresUser(t *testing.T) {
	_, ts := newTestRelay(t)
	resp, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
