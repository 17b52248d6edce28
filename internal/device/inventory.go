// Package device keeps the list of available microphones and the user's
// selection.
package device

import (
	"sync"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/util"
)

// Enumerator lists microphones. media.Client satisfies it.
type Enumerator interface {
	Microphones() ([]media.Device, error)
}

// Watcher delivers transport events. media.Client satisfies it.
type Watcher interface {
	Watch() (<-chan media.Event, func())
}

// Inventory is the microphone list and current selection.
type Inventory struct {
	enum Enumerator

	mu       sync.RWMutex
	devices  []media.Device
	selected string
	onChange []func([]media.Device)
}

// NewInventory creates an Inventory with preferred as the initial selection.
// Call Refresh to populate it.
func NewInventory(enum Enumerator, preferred string) *Inventory {
	return &Inventory{enum: enum, selected: preferred}
}

// Refresh re-enumerates microphones. When nothing is selected, or the
// selected device disappeared, the first available one is selected.
func (inv *Inventory) Refresh() error {
	devices, err := inv.enum.Microphones()
	if err != nil {
		return err
	}

	inv.mu.Lock()
	inv.devices = append([]media.Device(nil), devices...)
	if !inv.hasLocked(inv.selected) {
		prev := inv.selected
		inv.selected = ""
		if len(devices) > 0 {
			inv.selected = devices[0].ID
		}
		if prev != "" {
			util.LogInfo("microphone %q is gone, now using %q", prev, inv.selected)
		}
	}
	listeners := append([]func([]media.Device){}, inv.onChange...)
	snapshot := append([]media.Device(nil), inv.devices...)
	inv.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return nil
}

// List returns a copy of the known microphones.
func (inv *Inventory) List() []media.Device {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return append([]media.Device(nil), inv.devices...)
}

// Selected returns the selected device id, or "" when there is none.
func (inv *Inventory) Selected() string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.selected
}

// Select records id as the selection and reports whether it is a known
// device. Unknown ids are still recorded.
func (inv *Inventory) Select(id string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.selected = id
	return inv.hasLocked(id)
}

// OnChange registers fn to run after every Refresh.
func (inv *Inventory) OnChange(fn func([]media.Device)) {
	inv.mu.Lock()
	inv.onChange = append(inv.onChange, fn)
	inv.mu.Unlock()
}

// Watch refreshes the list on every device-change event until the returned
// stop func is called.
func (inv *Inventory) Watch(w Watcher) (stop func()) {
	events, cancel := w.Watch()
	go func() {
		for ev := range events {
			if ev.Type != media.EventDeviceChanged {
				continue
			}
			if err := inv.Refresh(); err != nil {
				util.LogWarning("failed to enumerate microphones: %v", err)
			}
		}
	}()
	return cancel
}

func (inv *Inventory) hasLocked(id string) bool {
	if id == "" {
		return false
	}
	for _, d := range inv.devices {
		if d.ID == id {
			return true
		}
	}
	return false
}
