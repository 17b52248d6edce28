// Package token issues and fetches media channel join tokens.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RolePublisher is the only role a call participant requests.
const RolePublisher = "publisher"

var (
	ErrInvalid = errors.New("token: invalid")
	ErrExpired = errors.New("token: expired")
)

// claims is the signed body of a token.
type claims struct {
	AppID   string `json:"app"`
	Channel string `json:"ch"`
	UID     uint32 `json:"uid"`
	Role    string `json:"role"`
	Expiry  int64  `json:"exp"`
}

// Issuer signs tokens binding a uid to a channel for a limited time.
type Issuer struct {
	appID  string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. A non-positive ttl defaults to ten minutes.
func NewIssuer(appID, secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Issuer{appID: appID, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// AppID returns the application id tokens are issued for.
func (i *Issuer) AppID() string { return i.appID }

// Issue returns a token for uid in channel.
func (i *Issuer) Issue(channel string, uid uint32, role string) (string, error) {
	if channel == "" {
		return "", fmt.Errorf("%w: empty channel", ErrInvalid)
	}
	body, err := json.Marshal(claims{
		AppID:   i.appID,
		Channel: channel,
		UID:     uid,
		Role:    role,
		Expiry:  i.now().Add(i.ttl).Unix(),
	})
	if err != nil {
		return "", err
	}

	enc := base64.RawURLEncoding
	payload := enc.EncodeToString(body)
	return payload + "." + enc.EncodeToString(i.sign(payload)), nil
}

// Verify checks that tok was issued by this Issuer for uid in channel and has
// not expired.
func (i *Issuer) Verify(tok, channel string, uid uint32) error {
	payload, sig, ok := strings.Cut(tok, ".")
	if !ok {
		return fmt.Errorf("%w: malformed", ErrInvalid)
	}

	enc := base64.RawURLEncoding
	mac, err := enc.DecodeString(sig)
	if err != nil || !hmac.Equal(mac, i.sign(payload)) {
		return fmt.Errorf("%w: bad signature", ErrInvalid)
	}

	body, err := enc.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: malformed body", ErrInvalid)
	}
	var c claims
	if err := json.Unmarshal(body, &c); err != nil {
		return fmt.Errorf("%w: malformed body", ErrInvalid)
	}

	switch {
	case c.AppID != i.appID:
		return fmt.Errorf("%w: app mismatch", ErrInvalid)
	case c.Channel != channel:
		return fmt.Errorf("%w: channel mismatch", ErrInvalid)
	case c.UID != uid:
		return fmt.Errorf("%w: uid mismatch", ErrInvalid)
	case i.now().Unix() > c.Expiry:
		return ErrExpired
	}
	return nil
}

func (i *Issuer) sign(payload string) []byte {
	h := hmac.New(sha256.New, i.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}
