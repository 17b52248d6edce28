package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Relay configures the development signaling relay and token issuer.
type Relay struct {
	Addr        string        `env:"DUOCALL_RELAY_ADDR" env-default:":8080"`
	TokenSecret string        `env:"DUOCALL_TOKEN_SECRET" env-required:"true"`
	AppID       string        `env:"DUOCALL_APP_ID" env-default:"duocall-dev"`
	TokenTTL    time.Duration `env:"DUOCALL_TOKEN_TTL" env-default:"10m"`
}

// LoadRelay reads the relay configuration from the environment.
func LoadRelay() (*Relay, error) {
	var r Relay
	if err := cleanenv.ReadEnv(&r); err != nil {
		return nil, fmt.Errorf("relay config: %w", err)
	}
	if r.TokenSecret == "" {
		return nil, fmt.Errorf("relay config: DUOCALL_TOKEN_SECRET must not be empty")
	}
	return &r, nil
}
