package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnStateLive(t *testing.T) {
	live := map[ConnState]bool{
		Disconnected:  false,
		Connecting:    true,
		Connected:     true,
		Reconnecting:  true,
		Disconnecting: false,
	}
	for s, want := range live {
		assert.Equal(t, want, s.Live(), s.String())
	}
}

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster()
	a, cancelA := b.Subscribe()
	c, cancelC := b.Subscribe()

	b.Emit(Event{Type: EventDeviceChanged})
	assert.Equal(t, EventDeviceChanged, (<-a).Type)
	assert.Equal(t, EventDeviceChanged, (<-c).Type)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)

	b.Emit(Event{Type: EventUserLeft, UID: 7})
	assert.Equal(t, uint32(7), (<-c).UID)

	b.Close()
	cancelC()
	_, open = <-c
	assert.False(t, open)
}
