package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/1ureka/duocall/internal/util"
)

// hotplugSettle coalesces the burst of node events one plug produces.
const hotplugSettle = 500 * time.Millisecond

// hotplug watches a device directory (e.g. /dev/snd) and calls onChange
// once per settled burst of create/remove events.
type hotplug struct {
	watcher  *fsnotify.Watcher
	onChange func()
	settle   time.Duration

	closed    chan struct{}
	closeOnce sync.Once
}

func newHotplug(dir string, settle time.Duration, onChange func()) (*hotplug, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	h := &hotplug{
		watcher:  watcher,
		onChange: onChange,
		settle:   settle,
		closed:   make(chan struct{}),
	}
	go h.watchLoop()
	return h, nil
}

func (h *hotplug) watchLoop() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-h.closed:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(h.settle)
			} else {
				timer.Reset(h.settle)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			util.LogDebug("capture devices changed")
			h.onChange()

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			util.LogDebug("hot-plug watcher error: %v", err)
		}
	}
}

func (h *hotplug) close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closed)
		err = h.watcher.Close()
	})
	return err
}
