package app

import (
	"context"

	"github.com/pterm/pterm"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/relay"
	"github.com/1ureka/duocall/internal/util"
)

// RunRelay serves the relay until ctx is cancelled.
func RunRelay(ctx context.Context, cfg *config.Relay) error {
	server := relay.NewServer(cfg)
	port, err := server.Start(cfg.Addr)
	if err != nil {
		return err
	}
	defer server.Close()

	pterm.DefaultBox.WithTitle("duocall relay").Println(
		pterm.Sprintf("Port   : %d\nApp ID : %s\nRoutes : /ws /token /healthz /metrics", port, cfg.AppID),
	)
	util.LogSuccess("relay listening on port %d", port)

	<-ctx.Done()
	util.LogInfo("relay shutting down")
	return nil
}
