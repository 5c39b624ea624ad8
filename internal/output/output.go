// Package output picks the session muxer for an output URL.
package output

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"rapidcast/internal/metrics"
	"rapidcast/internal/muxer"
	"rapidcast/internal/rtmp"
	"rapidcast/internal/segmenter"
	"rapidcast/internal/session"
	"rapidcast/internal/srt"
	"rapidcast/internal/storage"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported output scheme")
	ErrNoStorage         = errors.New("HLS output requires storage")
)

// Config holds the per-scheme output settings
type Config struct {
	SRTLatency time.Duration
	HLS        segmenter.Config
}

// Factory creates muxers by URL scheme
type Factory struct {
	cfg     Config
	storage storage.Storage
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewFactory creates a factory. store may be nil when no HLS output is used.
func NewFactory(cfg Config, store storage.Storage, log logrus.FieldLogger, m *metrics.Metrics) *Factory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.SRTLatency <= 0 {
		cfg.SRTLatency = srt.DefaultLatency
	}
	return &Factory{
		cfg:     cfg,
		storage: store,
		log:     log,
		metrics: m,
	}
}

// Scheme returns the lower-case scheme of rawURL
func Scheme(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid output URL: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("output URL %q has no scheme", rawURL)
	}
	return strings.ToLower(u.Scheme), nil
}

// New returns the muxer for rawURL. With record set a non-HLS output is
// teed into an HLS recording named after the session.
func (f *Factory) New(rawURL, sessionID string, record bool) (session.Muxer, error) {
	scheme, err := Scheme(rawURL)
	if err != nil {
		return nil, err
	}

	log := f.log.WithField("session", sessionID)

	var primary session.Muxer
	switch scheme {
	case "rtmp":
		primary = rtmp.NewPublisher(log, f.metrics)
	case "srt":
		primary = srt.NewSender(log, f.metrics, srt.WithLatency(f.cfg.SRTLatency))
	case "hls":
		return f.recorder(log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	if !record {
		return primary, nil
	}

	rec, err := f.recorder(log)
	if err != nil {
		return nil, err
	}
	return muxer.NewTee(primary, log, muxer.Target{
		Muxer: rec,
		URL:   RecordingURL(sessionID),
	}), nil
}

// RecordingURL is the hls:// URL a session is recorded under
func RecordingURL(sessionID string) string {
	return "hls://" + sessionID
}

func (f *Factory) recorder(log logrus.FieldLogger) (*segmenter.Recorder, error) {
	if f.storage == nil {
		return nil, ErrNoStorage
	}
	return segmenter.NewRecorder(f.storage, f.cfg.HLS, log, f.metrics), nil
}
