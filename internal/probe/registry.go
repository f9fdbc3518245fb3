package probe

import (
	"sort"
	"sync"
	"time"

	"rtp-header-probe/pkg/rtp"
)

// Stream is a point-in-time view of one SSRC observed on a listener. The
// header-derived fields describe the most recently decoded packet; nothing
// here tracks loss, reordering, or timing beyond the last-seen instant.
type Stream struct {
	SSRC          uint32
	Packets       uint64
	Bytes         uint64
	FirstSeen     time.Time
	LastSeen      time.Time
	LastSource    string
	LastSequence  uint16
	LastTimestamp uint32
	Version       uint8
	PayloadType   uint8
	Marker        bool
	Padding       bool
	CSRCCount     uint8
	HasExtension  bool
	ExtensionID   uint16
}

// Registry tracks the streams seen on one listener, keyed by SSRC.
type Registry struct {
	mu      sync.Mutex
	streams map[uint32]*Stream
}

func NewRegistry() *Registry {
	return &Registry{streams: make(map[uint32]*Stream)}
}

// Observe folds one decoded header into the stream it belongs to, creating
// the stream on first sight.
func (r *Registry) Observe(now time.Time, source string, size int, header rtp.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[header.SSRC]
	if !ok {
		stream = &Stream{SSRC: header.SSRC, FirstSeen: now}
		r.streams[header.SSRC] = stream
	}
	stream.Packets++
	stream.Bytes += uint64(size)
	stream.LastSeen = now
	stream.LastSource = source
	stream.LastSequence = header.Sequence
	stream.LastTimestamp = header.Timestamp
	stream.Version = header.Info.Version()
	stream.PayloadType = header.Info.PayloadType()
	stream.Marker = header.Info.HasMarker()
	stream.Padding = header.Info.HasPadding()
	stream.CSRCCount = header.Info.CSRCCount()
	stream.HasExtension = header.Extension != nil
	stream.ExtensionID = 0
	if header.Extension != nil {
		stream.ExtensionID = header.Extension.ID
	}
}

// Snapshot returns copies of the tracked streams ordered by SSRC.
func (r *Registry) Snapshot() []Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	streams := make([]Stream, 0, len(r.streams))
	for _, stream := range r.streams {
		streams = append(streams, *stream)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].SSRC < streams[j].SSRC })
	return streams
}

// Len returns the number of tracked streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Cleanup drops streams idle longer than maxIdle as of now and reports how
// many were dropped.
func (r *Registry) Cleanup(now time.Time, maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for ssrc, stream := range r.streams {
		if now.Sub(stream.LastSeen) > maxIdle {
			delete(r.streams, ssrc)
			removed++
		}
	}
	return removed
}
