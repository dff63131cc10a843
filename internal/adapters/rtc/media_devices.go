//go:build mediadevices

package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/core"
)

const SourceDevices = "devices"

func init() {
	registerSource(SourceDevices, func() core.MediaSource { return DeviceSource{} })
}

// DeviceSource captures the local camera and microphone. Both must be
// available: a call never starts with partial media.
type DeviceSource struct{}

func (DeviceSource) Acquire(_ context.Context) (core.LocalMedia, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	devices := mediadevices.EnumerateDevices()
	for _, d := range devices {
		log.Debug().Str("module", "rtc.media").Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("media device")
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: codecSelector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420, frame.FormatRGBA}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		},
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	tracks := stream.GetTracks()
	m := &deviceMedia{}
	for _, t := range tracks {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "rtc.media").Msg("local track ended")
			}
		})
		m.tracks = append(m.tracks, t)
		m.closers = append(m.closers, t)
	}
	log.Info().Str("module", "rtc.media").Int("tracks", len(tracks)).Msg("local media captured")
	return m, nil
}

type deviceMedia struct {
	tracks  []webrtc.TrackLocal
	closers []mediadevices.Track
	once    sync.Once
}

func (m *deviceMedia) Tracks() []webrtc.TrackLocal { return m.tracks }

func (m *deviceMedia) Stop() {
	m.once.Do(func() {
		for _, t := range m.closers {
			_ = t.Close()
		}
	})
}
