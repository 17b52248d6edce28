// Package app contains the top-level orchestration for the calling client and
// the relay.
package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"

	"github.com/1ureka/duocall/internal/call"
	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/device"
	"github.com/1ureka/duocall/internal/history"
	"github.com/1ureka/duocall/internal/signaling"
	"github.com/1ureka/duocall/internal/token"
	"github.com/1ureka/duocall/internal/transport"
	"github.com/1ureka/duocall/internal/util"
)

// RunClient orchestrates the full client lifecycle:
//  1. Open the call history
//  2. Connect to the relay
//  3. Build the media transport, device inventory and coordinator
//  4. Run the console until quit, Ctrl+C or relay loss
func RunClient(ctx context.Context, cfg *config.Config) error {
	// ── 1. History ─────────────────────────────────────────────────────
	var rec call.Recorder
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		util.LogWarning("call history disabled: %v", err)
	} else {
		defer store.Close()
		rec = store
	}

	// ── 2. Relay ───────────────────────────────────────────────────────
	sig, err := signaling.Dial(ctx, cfg.RelayURL, cfg.UserID)
	if err != nil {
		return err
	}
	defer sig.Close()
	util.LogSuccess("connected to %s as %s", cfg.RelayURL, cfg.UserID)

	endpoint, err := cfg.TokenEndpoint()
	if err != nil {
		return err
	}

	// ── 3. Media ───────────────────────────────────────────────────────
	var sink transport.Sink
	if cfg.RecordDir != "" {
		rs, err := transport.NewRecordingSink(cfg.RecordDir)
		if err != nil {
			return err
		}
		defer rs.Close()
		sink = rs
	}

	client, err := transport.NewClient(sig, transport.Options{
		STUNServers: cfg.STUNServers,
		HotplugDir:  cfg.HotplugDir,
		Sink:        sink,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	inv := device.NewInventory(client, cfg.Microphone)
	coord := call.New(sig, client, token.NewClient(endpoint), inv, call.Options{
		Self: call.Peer{ID: cfg.UserID, DisplayName: cfg.DisplayName, AvatarRef: cfg.AvatarRef},
		Audio: call.AudioSettings{
			EchoCancellation: cfg.EchoCancellation,
			NoiseSuppression: cfg.NoiseSuppression,
			AutoGain:         cfg.AutoGain,
		},
		MicBoost:      cfg.MicBoost,
		BusyPolicy:    cfg.BusyPolicy,
		StatsInterval: cfg.StatsInterval,
		Ringer:        call.NewBellRinger(os.Stdout, cfg.RingInterval),
		Recorder:      rec,
	})
	coord.Start()
	defer coord.Close()

	// ── 4. Console ─────────────────────────────────────────────────────
	updates, stopUpdates := coord.Subscribe()
	defer stopUpdates()
	go render(updates)

	con := &console{ctx: ctx, coord: coord, store: store, out: os.Stdout}
	con.help()

	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sig.Done():
			if err := sig.Err(); err != nil {
				return fmt.Errorf("relay connection lost: %w", err)
			}
			return nil
		case line, ok := <-lines:
			if !ok || con.exec(line) {
				return nil
			}
		}
	}
}

// readLines feeds stdin lines into a channel that is closed at EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// render prints phase changes and notices. Duration ticks are not printed.
func render(updates <-chan call.Update) {
	last := call.Idle
	for u := range updates {
		if u.Notice != nil {
			pterm.Warning.Println(u.Notice.Message)
		}
		if u.State.Phase != last {
			last = u.State.Phase
			pterm.Info.Println(describe(u.State))
		}
	}
}
