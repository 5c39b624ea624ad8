// Package srt sends a session as MPEG-TS over an SRT caller connection.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	srtgo "github.com/zsiec/srtgo"

	"rapidcast/internal/metrics"
	"rapidcast/internal/muxer"
	"rapidcast/internal/session"
	"rapidcast/pkg/models"
)

// PayloadSize is the SRT payload size: 7 MPEG-TS packets
const PayloadSize = 188 * 7

// DefaultLatency is the SRT receiver latency
const DefaultLatency = 120 * time.Millisecond

const dialTimeout = 10 * time.Second

var ErrNotConnected = errors.New("srt sender is not connected")

// Target is a parsed srt:// URL
type Target struct {
	Addr     string
	StreamID string
	Latency  time.Duration
}

// ParseURL parses srt://host:port[?streamid=...&latency=ms]
func ParseURL(raw string, defaultLatency time.Duration) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid SRT URL: %w", err)
	}
	if u.Scheme != "srt" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("SRT URL needs host and port: %s", raw)
	}

	t := &Target{Addr: u.Host, StreamID: u.Query().Get("streamid"), Latency: defaultLatency}
	if v := u.Query().Get("latency"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid latency %q", v)
		}
		t.Latency = time.Duration(ms) * time.Millisecond
	}
	return t, nil
}

// DialFunc opens a connection to an SRT listener
type DialFunc func(target *Target) (io.WriteCloser, error)

func dialSRT(target *Target) (io.WriteCloser, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = target.Latency
	cfg.StreamID = target.StreamID

	conn, err := srtgo.Dial(target.Addr, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// packetWriter splits writes into SRT-sized payloads
type packetWriter struct {
	w io.Writer
}

func (p *packetWriter) Write(b []byte) (int, error) {
	written := 0
	for len(b) > 0 {
		n := min(len(b), PayloadSize)
		if _, err := p.w.Write(b[:n]); err != nil {
			return written, err
		}
		written += n
		b = b[n:]
	}
	return written, nil
}

// countingWriter reports bytes that reached the connection
type countingWriter struct {
	w     io.Writer
	count func(int)
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	if n > 0 {
		c.count(n)
	}
	return n, err
}

// Sender is a session muxer writing MPEG-TS to an SRT listener
type Sender struct {
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	latency time.Duration
	dial    DialFunc

	mu     sync.Mutex
	target *Target
	conn   io.WriteCloser
	ts     *muxer.TSWriter
}

// Option configures a Sender
type Option func(*Sender)

// WithLatency sets the default latency for URLs that don't carry one
func WithLatency(d time.Duration) Option {
	return func(s *Sender) { s.latency = d }
}

// WithDialer replaces the SRT dialer
func WithDialer(dial DialFunc) Option {
	return func(s *Sender) { s.dial = dial }
}

// NewSender creates an unconnected sender. m may be nil.
func NewSender(log logrus.FieldLogger, m *metrics.Metrics, opts ...Option) *Sender {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Sender{
		log:     log.WithField("output", "srt"),
		metrics: m,
		latency: DefaultLatency,
		dial:    dialSRT,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenOutput dials the listener. The dial is abandoned when ctx is done
// or after ten seconds.
func (s *Sender) OpenOutput(ctx context.Context, rawURL string) error {
	target, err := ParseURL(rawURL, s.latency)
	if err != nil {
		return err
	}

	type dialResult struct {
		conn io.WriteCloser
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := s.dial(target)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	var conn io.WriteCloser
	select {
	case res := <-ch:
		if res.err != nil {
			s.recordError()
			return fmt.Errorf("SRT dial failed: %w", res.err)
		}
		conn = res.conn
	case <-timer.C:
		abandon()
		s.recordError()
		return fmt.Errorf("SRT dial timed out after %s", dialTimeout)
	case <-ctx.Done():
		abandon()
		return ctx.Err()
	}

	s.mu.Lock()
	s.target = target
	s.conn = conn
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordOutputConnection("srt")
	}
	s.log.WithFields(logrus.Fields{
		"addr":      target.Addr,
		"stream_id": target.StreamID,
		"latency":   target.Latency,
	}).Info("Connected to SRT listener")
	return nil
}

// WriteHeader starts the MPEG-TS stream
func (s *Sender) WriteHeader(video, audio *models.CodecInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}

	var out io.Writer = &packetWriter{w: s.conn}
	if s.metrics != nil {
		out = &countingWriter{w: out, count: func(n int) { s.metrics.RecordOutputBytes("srt", n) }}
	}

	ts, err := muxer.NewTSWriter(out, video, audio)
	if err != nil {
		return err
	}
	s.ts = ts
	return nil
}

// WritePacket writes one packet as TS packets
func (s *Sender) WritePacket(pkt *models.EncodedPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ts == nil {
		return ErrNotConnected
	}
	if err := s.ts.WritePacket(pkt); err != nil {
		s.recordError()
		return err
	}
	return nil
}

// WriteTrailer flushes buffered TS packets
func (s *Sender) WriteTrailer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ts == nil {
		return ErrNotConnected
	}
	return s.ts.Flush()
}

// CloseOutput closes the connection
func (s *Sender) CloseOutput() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.ts = nil
	s.log.Info("SRT connection closed")
	return err
}

func (s *Sender) recordError() {
	if s.metrics != nil {
		s.metrics.RecordOutputError("srt")
	}
}

var _ session.Muxer = (*Sender)(nil)
