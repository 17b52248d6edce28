package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/duocall/internal/call"
	"github.com/1ureka/duocall/internal/history"
	"github.com/1ureka/duocall/internal/util"
)

// console maps text commands onto the coordinator.
type console struct {
	ctx   context.Context
	coord *call.Coordinator
	store *history.Store // nil when history is disabled
	out   io.Writer
}

// parseCommand splits a console line into a lower-case verb and its
// arguments.
func parseCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// exec runs one command line and reports whether the console should exit.
func (c *console) exec(line string) bool {
	verb, args := parseCommand(line)
	switch verb {
	case "":
	case "call":
		if len(args) == 0 {
			util.LogWarning("usage: call <id> [video]")
			return false
		}
		video := len(args) > 1 && strings.EqualFold(args[1], "video")
		c.coord.StartCall(call.Peer{ID: args[0]}, video)
	case "accept":
		go c.coord.AcceptCall(c.ctx)
	case "reject":
		c.coord.RejectCall()
	case "hangup", "leave":
		c.coord.LeaveCall()
	case "mic":
		fmt.Fprintf(c.out, "microphone %s\n", onOff(c.coord.ToggleMic()))
	case "cam":
		fmt.Fprintf(c.out, "camera %s\n", onOff(c.coord.ToggleVideo()))
	case "speaker":
		fmt.Fprintf(c.out, "speaker %s\n", onOff(c.coord.ToggleSpeaker()))
	case "boost":
		fmt.Fprintf(c.out, "mic boost %s\n", onOff(c.coord.ToggleMicBoost()))
	case "mics":
		c.listMicrophones()
	case "use":
		if len(args) == 0 {
			util.LogWarning("usage: use <device id>")
			return false
		}
		c.coord.SetMicrophone(c.ctx, args[0])
	case "status":
		fmt.Fprintln(c.out, describe(c.coord.Snapshot()))
	case "history":
		c.showHistory()
	case "help":
		c.help()
	case "quit", "exit":
		return true
	default:
		util.LogWarning("unknown command %q, type help", verb)
	}
	return false
}

func (c *console) help() {
	fmt.Fprintln(c.out, pterm.Bold.Sprint("Commands"))
	fmt.Fprintln(c.out, "  call <id> [video]  start a call")
	fmt.Fprintln(c.out, "  accept | reject    answer the ringing call")
	fmt.Fprintln(c.out, "  hangup             end the call")
	fmt.Fprintln(c.out, "  mic | cam | speaker | boost")
	fmt.Fprintln(c.out, "  mics | use <id>    list or select microphones")
	fmt.Fprintln(c.out, "  status | history | quit")
}

func (c *console) listMicrophones() {
	devices, selected := c.coord.Microphones()
	if len(devices) == 0 {
		fmt.Fprintln(c.out, "no microphones found")
		return
	}
	data := pterm.TableData{{"", "ID", "Label"}}
	for _, d := range devices {
		mark := ""
		if d.ID == selected {
			mark = "*"
		}
		data = append(data, []string{mark, d.ID, d.Label})
	}
	pterm.DefaultTable.WithHasHeader().WithWriter(c.out).WithData(data).Render()
}

func (c *console) showHistory() {
	if c.store == nil {
		fmt.Fprintln(c.out, "call history is disabled")
		return
	}
	entries, err := c.store.Recent(c.ctx, 10)
	if err != nil {
		util.LogError("failed to read history: %v", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "no calls yet")
		return
	}
	pterm.DefaultTable.WithHasHeader().WithWriter(c.out).WithData(historyTable(entries)).Render()
}

func historyTable(entries []history.Entry) pterm.TableData {
	data := pterm.TableData{{"When", "Peer", "Direction", "Kind", "Outcome", "Duration"}}
	for _, e := range entries {
		dir := "in"
		if e.Outgoing {
			dir = "out"
		}
		data = append(data, []string{
			e.StartedAt.Format(time.DateTime),
			peerLabel(call.Peer{ID: e.PeerID, DisplayName: e.PeerName}),
			dir,
			kindOf(e.IsVideo),
			string(e.Outcome),
			util.FormatDuration(e.Duration),
		})
	}
	return data
}

// describe renders a state snapshot on one line.
func describe(s call.State) string {
	if s.Phase == call.Idle {
		return "idle"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s call with %s", s.Phase, kindOf(s.IsVideo), peerLabel(s.Peer))
	if s.Phase == call.Active {
		fmt.Fprintf(&b, " %s", util.FormatDuration(s.Duration))
	}
	if s.Phase == call.Active || s.Phase == call.Connecting {
		fmt.Fprintf(&b, " | mic %s", onOff(s.MicEnabled))
		if s.IsVideo {
			fmt.Fprintf(&b, ", cam %s", onOff(s.VideoEnabled))
		}
		fmt.Fprintf(&b, ", speaker %s", onOff(s.SpeakerEnabled))
		fmt.Fprintf(&b, " | %d remote", len(s.RemoteParticipants))
	}
	if s.MicBoosted {
		b.WriteString(" | boost")
	}
	return b.String()
}

func peerLabel(p call.Peer) string {
	if p.DisplayName == "" || p.DisplayName == p.ID {
		return p.ID
	}
	return fmt.Sprintf("%s (%s)", p.DisplayName, p.ID)
}

func kindOf(isVideo bool) string {
	if isVideo {
		return "video"
	}
	return "voice"
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
