// Command duocall places and receives one-to-one voice and video calls. Call intent
// travels over the relay's WebSocket; media flows peer-to-peer over WebRTC.
//
// Settings come from an ini file (-config) and may be overridden by flags
// (-id, -name, -relay, -mic, -debug). A missing id is asked for interactively.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/duocall/internal/app"
	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "settings.ini", "Path to the settings file")
	idFlag := flag.String("id", "", "User id to register with the relay")
	nameFlag := flag.String("name", "", "Display name shown to the callee")
	relayFlag := flag.String("relay", "", "Relay WebSocket URL, e.g. ws://127.0.0.1:8080/ws")
	micFlag := flag.String("mic", "", "Preferred microphone device id")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if *idFlag != "" {
		cfg.UserID = *idFlag
	}
	if *nameFlag != "" {
		cfg.DisplayName = *nameFlag
	}
	if *relayFlag != "" {
		cfg.RelayURL = *relayFlag
	}
	if *micFlag != "" {
		cfg.Microphone = *micFlag
	}

	if !util.SetLevel(cfg.LogLevel) {
		util.LogWarning("unknown log level %q, using info", cfg.LogLevel)
	}
	if *debugMode {
		util.EnableDebug()
	}
	closeLog := util.EnableFileLog(util.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	defer closeLog()

	pterm.Info.Println(fmt.Sprintf("duocall v%s", version))
	pterm.Println()

	if cfg.UserID == "" {
		cfg.UserID = askUserID()
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.UserID
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	cfg.RelayURL, _ = config.NormalizeWSURL(cfg.RelayURL)

	if err := app.RunClient(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("signed off")
}

// askUserID prompts until a non-empty id is entered.
func askUserID() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Your user id").
			Show()

		if id := strings.TrimSpace(raw); id != "" {
			pterm.Println()
			return id
		}

		pterm.Println()
		util.LogWarning("user id must not be empty")
	}
}
