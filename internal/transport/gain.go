package transport

import (
	"math"
	"sync/atomic"

	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/wave"
)

// gainTransform scales captured samples by gain percent. The value is read
// per chunk, so boost toggles apply to the live track.
func gainTransform(gain *atomic.Int32) audio.TransformFunc {
	return func(r audio.Reader) audio.Reader {
		return audio.ReaderFunc(func() (wave.Audio, func(), error) {
			chunk, release, err := r.Read()
			if err != nil {
				return chunk, release, err
			}
			applyGain(chunk, float32(gain.Load())/100)
			return chunk, release, nil
		})
	}
}

// applyGain scales chunk in place, clipping at the sample range.
func applyGain(chunk wave.Audio, g float32) {
	if g == 1 {
		return
	}
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		scaleInt16(c.Data, g)
	case *wave.Int16NonInterleaved:
		for _, ch := range c.Data {
			scaleInt16(ch, g)
		}
	case *wave.Float32Interleaved:
		scaleFloat32(c.Data, g)
	case *wave.Float32NonInterleaved:
		for _, ch := range c.Data {
			scaleFloat32(ch, g)
		}
	}
}

func scaleInt16(data []int16, g float32) {
	for i, v := range data {
		s := float32(v) * g
		switch {
		case s > math.MaxInt16:
			data[i] = math.MaxInt16
		case s < math.MinInt16:
			data[i] = math.MinInt16
		default:
			data[i] = int16(s)
		}
	}
}

func scaleFloat32(data []float32, g float32) {
	for i, v := range data {
		s := v * g
		switch {
		case s > 1:
			data[i] = 1
		case s < -1:
			data[i] = -1
		default:
			data[i] = s
		}
	}
}
