package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/token"
	"github.com/1ureka/duocall/internal/util"
)

//go:generate mockgen -destination=tokensource_mock_test.go -package=call . TokenSource

// TokenSource issues join tokens. *token.Client satisfies it.
type TokenSource interface {
	Fetch(ctx context.Context, channel string, uid uint32) (token.Grant, error)
}

// AudioSettings are the capture processing flags requested for every
// microphone track.
type AudioSettings struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

// transportAdapter is the only path from the coordinator to the media client.
type transportAdapter struct {
	client media.Client
	tokens TokenSource
	audio  AudioSettings
}

// join fetches a token for a fresh random uid and joins channel with it.
func (a *transportAdapter) join(ctx context.Context, channel string) (uint32, error) {
	uid := util.RandomUID()
	grant, err := a.tokens.Fetch(ctx, channel, uid)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch token: %w", err)
	}
	util.LogDebug("token granted for %s (app %s, uid %d)", channel, grant.AppID, uid)

	if err := a.client.Join(ctx, channel, grant.Token, uid); err != nil {
		return 0, err
	}
	return uid, nil
}

// createTracks captures the microphone and, for video calls, the camera.
// Nothing is returned open on error.
func (a *transportAdapter) createTracks(ctx context.Context, micID string, boosted, isVideo bool) (media.LocalAudioTrack, media.LocalTrack, error) {
	gain := media.NormalGain
	if boosted {
		gain = media.BoostedGain
	}
	audio, err := a.client.CreateMicrophoneTrack(ctx, micID, media.AudioOptions{
		EchoCancellation: a.audio.EchoCancellation,
		NoiseSuppression: a.audio.NoiseSuppression,
		AutoGain:         a.audio.AutoGain,
		Gain:             gain,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open microphone: %w", err)
	}
	if !isVideo {
		return audio, nil, nil
	}

	video, err := a.client.CreateCameraTrack(ctx)
	if err != nil {
		audio.Close()
		return nil, nil, fmt.Errorf("failed to open camera: %w", err)
	}
	return audio, video, nil
}

func (a *transportAdapter) publish(ctx context.Context, tracks ...media.LocalTrack) error {
	if len(tracks) == 0 {
		return nil
	}
	return a.client.Publish(ctx, tracks...)
}

// release unpublishes and closes tracks, ignoring nil entries.
func (a *transportAdapter) release(tracks ...media.LocalTrack) error {
	var live []media.LocalTrack
	for _, t := range tracks {
		if t != nil {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		return nil
	}

	var errs []error
	if a.client.ConnectionState().Live() {
		errs = append(errs, a.client.Unpublish(live...))
	}
	for _, t := range live {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}

// leave exits the channel unless the client is already out of it.
func (a *transportAdapter) leave() error {
	if !a.client.ConnectionState().Live() {
		return nil
	}
	return a.client.Leave()
}

func (a *transportAdapter) stats() (util.Traffic, error) {
	s, err := a.client.Stats()
	if err != nil {
		return util.Traffic{}, err
	}
	return util.Traffic{BytesSent: s.BytesSent, BytesRecv: s.BytesRecv, PacketsLost: s.PacketsLost}, nil
}
