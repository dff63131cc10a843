package rtc

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// TrackStats counts what arrived on one remote track.
type TrackStats struct {
	Kind    string `json:"kind"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	LastSeq uint16 `json:"last_seq"`
}

// RemoteSink drains remote tracks. Rendering is the UI's business; the sink
// only keeps the receive side flowing and counts packets.
type RemoteSink struct {
	mu     sync.Mutex
	tracks map[string]*TrackStats
}

func NewRemoteSink() *RemoteSink {
	return &RemoteSink{tracks: make(map[string]*TrackStats)}
}

// Consume blocks until the track ends or ctx is done.
func (s *RemoteSink) Consume(ctx context.Context, track *webrtc.TrackRemote) {
	id := track.ID()
	s.mu.Lock()
	s.tracks[id] = &TrackStats{Kind: track.Kind().String()}
	s.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc.sink").Str("track_id", id).Msg("remote track ended")
			return
		}
		s.Record(id, pkt)
	}
}

func (s *RemoteSink) Record(trackID string, pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tracks[trackID]
	if !ok {
		st = &TrackStats{}
		s.tracks[trackID] = st
	}
	st.Packets++
	st.Bytes += uint64(len(pkt.Payload))
	st.LastSeq = pkt.SequenceNumber
}

func (s *RemoteSink) Stats() map[string]TrackStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TrackStats, len(s.tracks))
	for id, st := range s.tracks {
		out[id] = *st
	}
	return out
}
