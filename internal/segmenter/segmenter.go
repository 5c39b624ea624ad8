// Package segmenter records a session as HLS: MPEG-TS segments cut on
// keyframes plus a sliding-window media playlist, all kept in storage.
package segmenter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rapidcast/internal/metrics"
	"rapidcast/internal/muxer"
	"rapidcast/internal/session"
	"rapidcast/internal/storage"
	"rapidcast/pkg/models"
)

var (
	ErrNotOpen = errors.New("recorder is not open")

	validName = regexp.MustCompile(`^[A-Za-z0-9_\-]+(/[A-Za-z0-9_\-]+)*$`)
)

// Config controls segment length and the playlist window
type Config struct {
	SegmentDuration time.Duration
	MaxSegments     int // 0 keeps every segment
}

// DefaultConfig matches typical live HLS settings
func DefaultConfig() Config {
	return Config{
		SegmentDuration: 2 * time.Second,
		MaxSegments:     10,
	}
}

// ParseURL returns the recording name of an hls:// URL
func ParseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid HLS URL: %w", err)
	}
	if u.Scheme != "hls" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid recording name %q", name)
	}
	return name, nil
}

// Recorder is a session muxer that writes HLS to storage
type Recorder struct {
	storage storage.Storage
	cfg     Config
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	name     string
	ts       *muxer.TSWriter
	segment  *bytes.Buffer
	hasVideo bool
	started  bool
	segStart int64 // ms
	lastTS   int64
	nextSeq  uint64

	mu       sync.RWMutex
	playlist *models.Playlist
}

// NewRecorder creates a recorder writing to s. m may be nil.
func NewRecorder(s storage.Storage, cfg Config, log logrus.FieldLogger, m *metrics.Metrics) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = DefaultConfig().SegmentDuration
	}
	return &Recorder{
		storage: s,
		cfg:     cfg,
		log:     log.WithField("output", "hls"),
		metrics: m,
	}
}

// OpenOutput starts a recording named by the hls:// URL
func (r *Recorder) OpenOutput(ctx context.Context, rawURL string) error {
	name, err := ParseURL(rawURL)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.name = name
	r.nextSeq = 0
	r.started = false

	r.mu.Lock()
	r.playlist = &models.Playlist{
		Name:           name,
		TargetDuration: int(r.cfg.SegmentDuration.Round(time.Second).Seconds()),
		MaxSegments:    r.cfg.MaxSegments,
		LastUpdated:    time.Now(),
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordOutputConnection("hls")
	}
	r.log.WithField("name", name).Info("Recording started")
	return nil
}

func (r *Recorder) WriteHeader(video, audio *models.CodecInfo) error {
	if r.name == "" {
		return ErrNotOpen
	}
	r.segment = &bytes.Buffer{}
	ts, err := muxer.NewTSWriter(r.segment, video, audio)
	if err != nil {
		return err
	}
	r.ts = ts
	r.hasVideo = video != nil
	return nil
}

// WritePacket appends a packet to the current segment. With video present
// segments start on keyframes and anything before the first keyframe is
// skipped.
func (r *Recorder) WritePacket(pkt *models.EncodedPacket) error {
	if r.ts == nil {
		return ErrNotOpen
	}

	boundary := pkt.Stream == models.StreamVideo && pkt.KeyFrame
	if !r.hasVideo {
		boundary = true
	}

	if !r.started {
		if !boundary {
			return nil
		}
		r.started = true
		r.segStart = pkt.Timestamp
	} else if boundary && pkt.Timestamp-r.segStart >= r.cfg.SegmentDuration.Milliseconds() {
		if err := r.finalize(pkt.Timestamp); err != nil {
			return err
		}
	}

	if err := r.ts.WritePacket(pkt); err != nil {
		return err
	}
	r.lastTS = pkt.Timestamp
	return nil
}

// WriteTrailer closes the last segment and ends the playlist
func (r *Recorder) WriteTrailer() error {
	if r.ts == nil {
		return ErrNotOpen
	}
	if r.started && r.segment.Len() > 0 {
		if err := r.finalize(r.lastTS); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.playlist.Ended = true
	r.mu.Unlock()
	return r.writePlaylist()
}

func (r *Recorder) CloseOutput() error {
	if r.name != "" {
		r.log.WithField("name", r.name).Info("Recording closed")
	}
	r.ts = nil
	r.segment = nil
	r.name = ""
	return nil
}

// playlistSnapshot returns a copy of the current playlist state
func (r *Recorder) playlistSnapshot() models.Playlist {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.playlist == nil {
		return models.Playlist{}
	}
	p := *r.playlist
	p.Segments = append([]*models.Segment(nil), r.playlist.Segments...)
	return p
}

// finalize stores the current segment, ending at end (ms), and starts a new one
func (r *Recorder) finalize(end int64) error {
	if err := r.ts.Flush(); err != nil {
		return err
	}
	data := r.segment.Bytes()

	duration := float64(end-r.segStart) / 1000
	if duration <= 0 {
		duration = r.cfg.SegmentDuration.Seconds()
	}

	seq := r.nextSeq
	r.nextSeq++
	seg := &models.Segment{
		Name:        r.name,
		SequenceNum: seq,
		Duration:    duration,
		FilePath:    segmentPath(r.name, seq),
		FileSize:    int64(len(data)),
		CreatedAt:   time.Now(),
	}

	if err := r.storage.Write(seg.FilePath, data); err != nil {
		return fmt.Errorf("failed to write segment %d: %w", seq, err)
	}

	r.segment = &bytes.Buffer{}
	if err := r.ts.SetOutput(r.segment); err != nil {
		return err
	}
	r.segStart = end

	r.mu.Lock()
	removed := r.playlist.AddSegment(seg)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordSegment(duration, seg.FileSize)
	}
	r.log.WithFields(logrus.Fields{
		"segment":  seq,
		"duration": duration,
		"bytes":    seg.FileSize,
	}).Debug("Segment written")

	if removed != nil {
		if err := r.storage.Delete(removed.FilePath); err != nil {
			r.log.WithError(err).WithField("segment", removed.SequenceNum).Warn("Failed to delete expired segment")
		} else if r.metrics != nil {
			r.metrics.RecordSegmentDeleted()
		}
	}

	return r.writePlaylist()
}

func (r *Recorder) writePlaylist() error {
	r.mu.RLock()
	text := GeneratePlaylist(r.playlist)
	name := r.playlist.Name
	r.mu.RUnlock()

	if err := r.storage.Write(playlistPath(name), []byte(text)); err != nil {
		return fmt.Errorf("failed to write playlist: %w", err)
	}
	return nil
}

var _ session.Muxer = (*Recorder)(nil)
