package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerify(t *testing.T) {
	iss := NewIssuer("app", "secret", time.Minute)

	tok, err := iss.Issue("call_a_b", 42, RolePublisher)
	require.NoError(t, err)
	require.NoError(t, iss.Verify(tok, "call_a_b", 42))

	assert.ErrorIs(t, iss.Verify(tok, "call_a_c", 42), ErrInvalid)
	assert.ErrorIs(t, iss.Verify(tok, "call_a_b", 43), ErrInvalid)
	assert.ErrorIs(t, iss.Verify("garbage", "call_a_b", 42), ErrInvalid)

	other := NewIssuer("app", "other-secret", time.Minute)
	assert.ErrorIs(t, other.Verify(tok, "call_a_b", 42), ErrInvalid)
}

func TestVerifyExpired(t *testing.T) {
	iss := NewIssuer("app", "secret", time.Minute)
	base := time.Unix(1700000000, 0)
	iss.now = func() time.Time { return base }

	tok, err := iss.Issue("call_a_b", 1, RolePublisher)
	require.NoError(t, err)

	iss.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.ErrorIs(t, iss.Verify(tok, "call_a_b", 1), ErrExpired)
}

func TestClientFetch(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(Grant{Token: "tok", AppID: "app"})
	}))
	defer srv.Close()

	g, err := NewClient(srv.URL).Fetch(context.Background(), "call_a_b", 7)
	require.NoError(t, err)
	assert.Equal(t, Grant{Token: "tok", AppID: "app"}, g)
	assert.Equal(t, Request{ChannelName: "call_a_b", UID: 7, Role: RolePublisher}, got)
}

func TestClientFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), "call_a_b", 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":""}`))
	}))
	defer empty.Close()

	_, err = NewClient(empty.URL).Fetch(context.Background(), "call_a_b", 7)
	assert.Error(t, err)
}
