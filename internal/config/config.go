// Package config holds the client settings and the relay configuration.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	ini "gopkg.in/ini.v1"
)

// BusyPolicy decides what happens to a call.initiate that arrives while
// another call is in progress.
type BusyPolicy string

const (
	BusyIgnore  BusyPolicy = "ignore"
	BusyDecline BusyPolicy = "decline"
)

// Config stores the client settings loaded from settings.ini and CLI flags.
type Config struct {
	// [identity]
	UserID      string
	DisplayName string
	AvatarRef   string

	// [signaling]
	RelayURL string // ws(s)://host/ws
	TokenURL string // http(s)://host/token; derived from RelayURL when empty

	// [media]
	Microphone       string // preferred device id
	MicBoost         bool
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
	STUNServers      []string
	HotplugDir       string
	RecordDir        string // remote media is saved here when set
	StatsInterval    time.Duration

	// [call]
	BusyPolicy   BusyPolicy
	RingInterval time.Duration

	// [history]
	HistoryPath string

	// [logging]
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// Load reads settings from an ini file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(cfg)
}

// Parse builds a Config from already loaded ini data and applies defaults.
func Parse(cfg *ini.File) (*Config, error) {
	c := &Config{}

	sec := cfg.Section("identity")
	c.UserID = sec.Key("id").String()
	c.DisplayName = sec.Key("name").String()
	c.AvatarRef = sec.Key("avatar").String()

	sec = cfg.Section("signaling")
	c.RelayURL = sec.Key("url").MustString("ws://127.0.0.1:8080/ws")
	c.TokenURL = sec.Key("token_url").String()

	sec = cfg.Section("media")
	c.Microphone = sec.Key("microphone").String()
	c.MicBoost = sec.Key("mic_boost").MustBool(false)
	c.EchoCancellation = sec.Key("enable_aec").MustBool(true)
	c.NoiseSuppression = sec.Key("enable_ns").MustBool(true)
	c.AutoGain = sec.Key("enable_agc").MustBool(true)
	c.STUNServers = sec.Key("stun_servers").Strings(",")
	if len(c.STUNServers) == 0 {
		c.STUNServers = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}
	}
	c.HotplugDir = sec.Key("hotplug_dir").MustString("/dev/snd")
	c.RecordDir = sec.Key("record_dir").String()
	c.StatsInterval = sec.Key("stats_interval").MustDuration(10 * time.Second)

	sec = cfg.Section("call")
	c.BusyPolicy = BusyPolicy(strings.ToLower(sec.Key("busy_policy").MustString(string(BusyIgnore))))
	c.RingInterval = sec.Key("ring_interval").MustDuration(3 * time.Second)

	sec = cfg.Section("history")
	c.HistoryPath = sec.Key("path").MustString("duocall-history.db")

	sec = cfg.Section("logging")
	c.LogLevel = sec.Key("level").MustString("info")
	c.LogFile = sec.Key("file").String()
	c.LogMaxSizeMB = sec.Key("max_size_mb").MustInt(100)
	c.LogMaxBackups = sec.Key("max_backups").MustInt(1)

	return c, nil
}

// Validate checks the fields needed to place and receive calls.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("identity id must be set")
	}
	switch c.BusyPolicy {
	case BusyIgnore, BusyDecline:
	default:
		return fmt.Errorf("invalid busy_policy %q: must be 'ignore' or 'decline'", c.BusyPolicy)
	}
	if _, err := NormalizeWSURL(c.RelayURL); err != nil {
		return err
	}
	return nil
}

// TokenEndpoint returns TokenURL, or the /token path on the relay host.
func (c *Config) TokenEndpoint() (string, error) {
	if c.TokenURL != "" {
		return c.TokenURL, nil
	}
	u, err := url.Parse(c.RelayURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", c.RelayURL)
	}
	scheme := "https"
	if u.Scheme == "ws" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/token", scheme, u.Host), nil
}

// NormalizeWSURL validates and normalizes a raw WebSocket URL string.
func NormalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
