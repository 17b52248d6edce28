package call

import (
	"errors"
	"fmt"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/util"
)

// pump handles transport events until the subscription is closed.
func (c *Coordinator) pump(events <-chan media.Event) {
	for ev := range events {
		switch ev.Type {
		case media.EventUserPublished:
			c.onPublished(ev)
		case media.EventUserUnpublished:
			c.onUnpublished(ev)
		case media.EventUserLeft:
			c.onLeft(ev)
		case media.EventLocalTrackEnded:
			c.onTrackEnded(ev)
		case media.EventConnectionState:
			c.onConnectionState(ev)
		}
	}
}

// onPublished subscribes to the new remote track. Audio plays at once unless
// the speaker is off.
func (c *Coordinator) onPublished(ev media.Event) {
	c.mu.Lock()
	if !c.st.phase.inCall() {
		phase := c.st.phase
		c.mu.Unlock()
		util.LogDebug("uid %d published %s while %s", ev.UID, ev.Kind, phase)
		return
	}
	gen := c.gen
	c.mu.Unlock()

	rt, err := c.tr.client.Subscribe(c.ctx, ev.UID, ev.Kind)
	if err != nil {
		util.LogWarning("failed to subscribe to uid %d %s: %v", ev.UID, ev.Kind, err)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		rt.Stop()
		return
	}
	r := c.remotes[ev.UID]
	if r == nil {
		r = &remote{}
		c.remotes[ev.UID] = r
	}
	play := true
	switch ev.Kind {
	case media.KindAudio:
		if r.audio != nil && r.audio != rt {
			r.audio.Stop()
		}
		r.audio = rt
		play = c.st.speaker
	case media.KindVideo:
		if r.video != nil && r.video != rt {
			r.video.Stop()
		}
		r.video = rt
	}
	if play {
		if err := rt.Play(); err != nil {
			util.LogWarning("failed to play uid %d %s: %v", ev.UID, ev.Kind, err)
		}
	}
	c.mu.Unlock()

	util.LogInfo("uid %d is sending %s", ev.UID, ev.Kind)
	c.notify(nil)
}

func (c *Coordinator) onUnpublished(ev media.Event) {
	c.mu.Lock()
	r := c.remotes[ev.UID]
	if r == nil {
		c.mu.Unlock()
		return
	}
	var gone media.RemoteTrack
	switch ev.Kind {
	case media.KindAudio:
		gone, r.audio = r.audio, nil
	case media.KindVideo:
		gone, r.video = r.video, nil
	}
	if r.audio == nil && r.video == nil {
		delete(c.remotes, ev.UID)
	}
	c.mu.Unlock()

	if gone != nil {
		gone.Stop()
	}
	c.notify(nil)
}

func (c *Coordinator) onLeft(ev media.Event) {
	c.mu.Lock()
	r := c.remotes[ev.UID]
	delete(c.remotes, ev.UID)
	c.mu.Unlock()

	if r == nil {
		return
	}
	stopRemote(r)
	util.LogInfo("uid %d left the channel", ev.UID)
	c.notify(nil)
}

// onTrackEnded reports a lost microphone. The call goes on.
func (c *Coordinator) onTrackEnded(ev media.Event) {
	c.mu.Lock()
	live := c.st.phase.inCall()
	hasAudio := c.audio != nil
	c.mu.Unlock()

	if !live {
		return
	}
	if ev.Kind == media.KindVideo {
		util.LogWarning("camera stopped: %v", ev.Err)
		return
	}
	if !hasAudio {
		return
	}
	c.notify(&Notice{
		Kind:    NoticeMicrophoneLost,
		Message: fmt.Sprintf("microphone lost: %v", ev.Err),
		Err:     ev.Err,
	})
}

// onConnectionState ends an active call whose transport dropped out from
// under it. Stale events from an earlier session are ignored by checking the
// client's current state.
func (c *Coordinator) onConnectionState(ev media.Event) {
	util.LogDebug("media connection %s", ev.State)
	if ev.State != media.Disconnected {
		return
	}

	c.mu.Lock()
	active := c.st.phase == Active
	gen := c.gen
	c.mu.Unlock()

	if !active || c.tr.client.ConnectionState() != media.Disconnected {
		return
	}
	c.fail(gen, errors.New("media connection lost"))
}
