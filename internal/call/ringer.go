package call

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/1ureka/duocall/internal/util"
)

// Ringer is the local indication of an incoming call.
type Ringer interface {
	Start(caller Peer)
	Stop()
}

type nopRinger struct{}

func (nopRinger) Start(Peer) {}
func (nopRinger) Stop()      {}

// BellRinger writes a terminal bell to out every interval until stopped.
type BellRinger struct {
	out      io.Writer
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

// NewBellRinger creates a BellRinger. A non-positive interval means 2s.
func NewBellRinger(out io.Writer, interval time.Duration) *BellRinger {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &BellRinger{out: out, interval: interval}
}

// Start begins ringing. Starting an already ringing bell does nothing.
func (r *BellRinger) Start(caller Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	stop := make(chan struct{})
	r.stop = stop

	name := caller.DisplayName
	if name == "" {
		name = caller.ID
	}
	util.LogInfo("incoming call from %s", name)

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			fmt.Fprint(r.out, "\a")
			select {
			case <-ticker.C:
			case <-stop:
				return
			}
		}
	}()
}

// Stop silences the bell. Safe to call when not ringing.
func (r *BellRinger) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

// Ringing reports whether the bell is active.
func (r *BellRinger) Ringing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}
