// Command duorelay is the development signaling relay and token issuer for
// duocall.
//
// Configuration is read from the environment:
//
//	DUOCALL_RELAY_ADDR    listen address (default :8080)
//	DUOCALL_TOKEN_SECRET  HMAC secret for join tokens (required)
//	DUOCALL_APP_ID        app id stamped into tokens
//	DUOCALL_TOKEN_TTL     token lifetime (default 10m)
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/1ureka/duocall/internal/app"
	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	cfg, err := config.LoadRelay()
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := app.RunRelay(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}
