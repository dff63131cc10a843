package rtc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/core"
)

const SourceSynthetic = "synthetic"

var (
	sourcesMu sync.RWMutex
	sources   = map[string]func() core.MediaSource{
		SourceSynthetic: func() core.MediaSource { return SyntheticSource{} },
	}
)

func registerSource(name string, fn func() core.MediaSource) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	sources[name] = fn
}

// NewSource returns the media source registered under name. Capture from
// real devices is only compiled in with the mediadevices build tag.
func NewSource(name string) (core.MediaSource, error) {
	if name == "" {
		name = SourceSynthetic
	}
	sourcesMu.RLock()
	fn, ok := sources[name]
	sourcesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown media source %q (have %v)", name, SourceNames())
	}
	return fn(), nil
}

func SourceNames() []string {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()
	out := make([]string, 0, len(sources))
	for name := range sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// opusSilence is a single Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource produces an Opus audio track carrying silence and an idle
// VP8 video track. It lets the client negotiate calls on hosts without a
// camera or microphone.
type SyntheticSource struct{}

func (SyntheticSource) Acquire(ctx context.Context) (core.LocalMedia, error) {
	stream := "coachrtc-" + uuid.NewString()
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", stream)
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", stream)
	if err != nil {
		return nil, fmt.Errorf("video track: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &sampleMedia{tracks: []webrtc.TrackLocal{audio, video}, cancel: cancel}
	go m.pumpSilence(ctx, audio)
	return m, nil
}

type sampleMedia struct {
	tracks []webrtc.TrackLocal
	cancel context.CancelFunc
	once   sync.Once
}

func (m *sampleMedia) Tracks() []webrtc.TrackLocal { return m.tracks }

func (m *sampleMedia) Stop() {
	m.once.Do(func() {
		m.cancel()
		log.Debug().Str("module", "rtc.media").Msg("synthetic media stopped")
	})
}

func (m *sampleMedia) pumpSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	const frame = 20 * time.Millisecond
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: opusSilence, Duration: frame}); err != nil {
				log.Debug().Err(err).Str("module", "rtc.media").Msg("write silence")
				return
			}
		}
	}
}
