package call

import (
	"context"
	"fmt"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/util"
)

// ToggleMic mutes or unmutes the microphone and returns the new flag. Outside
// Connecting and Active it changes nothing.
func (c *Coordinator) ToggleMic() bool {
	c.mu.Lock()
	if !c.st.phase.inCall() {
		v, phase := c.st.mic, c.st.phase
		c.mu.Unlock()
		util.LogDebug("toggleMic ignored while %s", phase)
		return v
	}
	c.st.mic = !c.st.mic
	v, audio := c.st.mic, c.audio
	c.mu.Unlock()

	if audio != nil {
		if err := audio.SetEnabled(v); err != nil {
			util.LogWarning("failed to switch microphone: %v", err)
		}
	}
	c.notify(nil)
	return v
}

// ToggleVideo turns the camera on or off in a video call and returns the new
// flag.
func (c *Coordinator) ToggleVideo() bool {
	c.mu.Lock()
	if !c.st.phase.inCall() || !c.st.isVideo {
		v, phase := c.st.cam, c.st.phase
		c.mu.Unlock()
		util.LogDebug("toggleVideo ignored while %s", phase)
		return v
	}
	c.st.cam = !c.st.cam
	v, video := c.st.cam, c.video
	c.mu.Unlock()

	if video != nil {
		if err := video.SetEnabled(v); err != nil {
			util.LogWarning("failed to switch camera: %v", err)
		}
	}
	c.notify(nil)
	return v
}

// ToggleSpeaker stops or resumes playback of every remote audio track and
// returns the new flag.
func (c *Coordinator) ToggleSpeaker() bool {
	c.mu.Lock()
	if !c.st.phase.inCall() {
		v, phase := c.st.speaker, c.st.phase
		c.mu.Unlock()
		util.LogDebug("toggleSpeaker ignored while %s", phase)
		return v
	}
	c.st.speaker = !c.st.speaker
	v := c.st.speaker
	for _, r := range c.remotes {
		if r.audio == nil {
			continue
		}
		if v {
			if err := r.audio.Play(); err != nil {
				util.LogWarning("failed to resume uid %d: %v", r.audio.UID(), err)
			}
		} else {
			r.audio.Stop()
		}
	}
	c.mu.Unlock()

	c.notify(nil)
	return v
}

// ToggleMicBoost switches capture gain between normal and boosted. The flag
// outlives the call and applies to the next capture.
func (c *Coordinator) ToggleMicBoost() bool {
	c.mu.Lock()
	c.boosted = !c.boosted
	v, audio := c.boosted, c.audio
	c.mu.Unlock()

	if audio != nil {
		audio.SetVolume(gainFor(v))
	}
	c.notify(nil)
	return v
}

// SetMicrophone selects a microphone and moves the live capture to it. A
// failed swap keeps the call and the new selection.
func (c *Coordinator) SetMicrophone(ctx context.Context, deviceID string) {
	if !c.inv.Select(deviceID) {
		util.LogWarning("microphone %q is not currently available", deviceID)
	}

	c.mu.Lock()
	audio := c.audio
	c.mu.Unlock()

	if audio == nil {
		c.notify(nil)
		return
	}
	if err := audio.SetDevice(ctx, deviceID); err != nil {
		c.notify(&Notice{
			Kind:    NoticeDeviceSwapFailed,
			Message: fmt.Sprintf("could not switch to microphone %q", deviceID),
			Err:     err,
		})
		return
	}
	util.LogInfo("microphone switched to %s", deviceID)
	c.notify(nil)
}

// Microphones returns the known microphones and the selected id.
func (c *Coordinator) Microphones() ([]media.Device, string) {
	return c.inv.List(), c.inv.Selected()
}

func gainFor(boosted bool) int {
	if boosted {
		return media.BoostedGain
	}
	return media.NormalGain
}
