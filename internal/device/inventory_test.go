package device

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/duocall/internal/media"
)

type fakeEnum struct {
	mu      sync.Mutex
	devices []media.Device
	err     error
	events  *media.Broadcaster
}

func (f *fakeEnum) Microphones() ([]media.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, f.err
}

func (f *fakeEnum) Watch() (<-chan media.Event, func()) { return f.events.Subscribe() }

func (f *fakeEnum) set(devices ...media.Device) {
	f.mu.Lock()
	f.devices = devices
	f.mu.Unlock()
}

var (
	builtin = media.Device{ID: "hw:0", Label: "Built-in"}
	headset = media.Device{ID: "hw:1", Label: "Headset"}
)

func TestRefreshSelectsFirst(t *testing.T) {
	enum := &fakeEnum{devices: []media.Device{builtin, headset}}
	inv := NewInventory(enum, "")

	require.NoError(t, inv.Refresh())
	assert.Equal(t, "hw:0", inv.Selected())
	assert.Equal(t, []media.Device{builtin, headset}, inv.List())
}

func TestRefreshKeepsPreferred(t *testing.T) {
	enum := &fakeEnum{devices: []media.Device{builtin, headset}}
	inv := NewInventory(enum, "hw:1")

	require.NoError(t, inv.Refresh())
	assert.Equal(t, "hw:1", inv.Selected())
}

func TestRefreshFallsBackWhenSelectionDisappears(t *testing.T) {
	enum := &fakeEnum{devices: []media.Device{builtin, headset}}
	inv := NewInventory(enum, "hw:1")
	require.NoError(t, inv.Refresh())

	enum.set(builtin)
	require.NoError(t, inv.Refresh())
	assert.Equal(t, "hw:0", inv.Selected())

	enum.set()
	require.NoError(t, inv.Refresh())
	assert.Equal(t, "", inv.Selected())
	assert.Empty(t, inv.List())
}

func TestRefreshErrorKeepsState(t *testing.T) {
	enum := &fakeEnum{devices: []media.Device{builtin}}
	inv := NewInventory(enum, "")
	require.NoError(t, inv.Refresh())

	enum.err = errors.New("driver busy")
	assert.Error(t, inv.Refresh())
	assert.Equal(t, []media.Device{builtin}, inv.List())
}

func TestSelectUnknownIsRecorded(t *testing.T) {
	enum := &fakeEnum{devices: []media.Device{builtin}}
	inv := NewInventory(enum, "")
	require.NoError(t, inv.Refresh())

	assert.False(t, inv.Select("usb-99"))
	assert.Equal(t, "usb-99", inv.Selected())
	assert.True(t, inv.Select("hw:0"))
}

func TestListIsACopy(t *testing.T) {
	enum := &fakeEnum{devices: []media.Device{builtin}}
	inv := NewInventory(enum, "")
	require.NoError(t, inv.Refresh())

	list := inv.List()
	list[0].Label = "changed"
	assert.Equal(t, "Built-in", inv.List()[0].Label)
}

func TestWatchRefreshesOnDeviceChange(t *testing.T) {
	enum := &fakeEnum{devices: []media.Device{builtin}, events: media.NewBroadcaster()}
	inv := NewInventory(enum, "")
	require.NoError(t, inv.Refresh())

	changed := make(chan []media.Device, 1)
	inv.OnChange(func(d []media.Device) { changed <- d })

	stop := inv.Watch(enum)
	defer stop()

	enum.set(builtin, headset)
	enum.events.Emit(media.Event{Type: media.EventUserLeft})
	enum.events.Emit(media.Event{Type: media.EventDeviceChanged})

	select {
	case d := <-changed:
		assert.Len(t, d, 2)
	case <-time.After(time.Second):
		t.Fatal("inventory did not refresh")
	}
}
