// Package pipeline assembles a session, its output and its capture
// sources from a start request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"rapidcast/internal/audiobuf"
	"rapidcast/internal/capture"
	"rapidcast/internal/metrics"
	"rapidcast/internal/output"
	"rapidcast/internal/session"
	"rapidcast/pkg/models"
)

// Encoders creates fresh encoders for every session
type Encoders struct {
	Video func(log logrus.FieldLogger) session.VideoEncoder
	Audio func(log logrus.FieldLogger) session.AudioEncoder
}

// ErrFileInputDisabled is returned by Build when a request names an input
// file but no input directory is configured
var ErrFileInputDisabled = errors.New("file inputs are disabled")

// Config holds the defaults applied to every request
type Config struct {
	Session      session.Options
	ChunkSamples int
	Realtime     bool
	Record       bool
	ToneHz       float64

	// InputDir is the only directory Build opens request files from
	InputDir string
}

// Builder turns start requests into runnable pipelines
type Builder struct {
	cfg      Config
	outputs  *output.Factory
	encoders Encoders
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

func NewBuilder(cfg Config, outputs *output.Factory, encoders Encoders, log logrus.FieldLogger, m *metrics.Metrics) (*Builder, error) {
	if encoders.Video == nil || encoders.Audio == nil {
		return nil, fmt.Errorf("video and audio encoder constructors are required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.ToneHz <= 0 {
		cfg.ToneHz = 440
	}
	return &Builder{
		cfg:      cfg,
		outputs:  outputs,
		encoders: encoders,
		log:      log,
		metrics:  m,
	}, nil
}

// Pipeline is one session with its sources, ready to run
type Pipeline struct {
	session *session.Session
	pump    *capture.Pump
	opts    session.Options
	closers []io.Closer
	log     logrus.FieldLogger
}

// Options applies the request on top of the configured defaults
func (b *Builder) Options(req *models.StartSessionRequest) session.Options {
	opts := b.cfg.Session
	opts.OutputURL = req.OutputURL
	if req.Width > 0 {
		opts.Width = req.Width
	}
	if req.Height > 0 {
		opts.Height = req.Height
	}
	if req.FrameRate > 0 {
		opts.FrameRate = req.FrameRate
	}
	if req.SampleRate > 0 {
		opts.SampleRate = req.SampleRate
	}
	if req.NoAudio {
		opts.AudioEnabled = false
	}
	return opts
}

// Build creates the session and opens its sources. Nothing is connected
// until Run. Input files are resolved inside the configured input
// directory and may not escape it.
func (b *Builder) Build(req *models.StartSessionRequest) (*Pipeline, error) {
	return b.build(req, b.openInput)
}

// BuildLocal is Build for trusted callers: input files are host paths.
func (b *Builder) BuildLocal(req *models.StartSessionRequest) (*Pipeline, error) {
	return b.build(req, os.Open)
}

func (b *Builder) openInput(name string) (*os.File, error) {
	if b.cfg.InputDir == "" {
		return nil, ErrFileInputDisabled
	}
	return os.OpenInRoot(b.cfg.InputDir, name)
}

func (b *Builder) build(req *models.StartSessionRequest, open func(string) (*os.File, error)) (_ *Pipeline, err error) {
	opts := b.Options(req)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	log := b.log.WithField("session", id)

	mux, err := b.outputs.New(opts.OutputURL, id, b.cfg.Record || req.Record)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{opts: opts, log: log}
	defer func() {
		if err != nil {
			p.closeSources()
		}
	}()

	video, err := b.videoSource(p, open, req.VideoFile, opts)
	if err != nil {
		return nil, err
	}

	var audio capture.AudioSource
	var audioEnc session.AudioEncoder
	if opts.AudioEnabled {
		audio, err = b.audioSource(p, open, req.AudioFile, opts)
		if err != nil {
			return nil, err
		}
		audioEnc = b.encoders.Audio(log)
	}

	p.session = session.New(b.encoders.Video(log), audioEnc, mux,
		session.WithID(id),
		session.WithLogger(b.log),
		session.WithMetrics(b.metrics),
	)

	capacity := opts.AudioCapacity
	if capacity <= 0 {
		capacity = audiobuf.DefaultCapacity
	}
	p.pump, err = capture.NewPump(capture.Config{
		Width:          opts.Width,
		Height:         opts.Height,
		FrameRate:      opts.FrameRate,
		SampleRate:     opts.SampleRate,
		Channels:       opts.Channels,
		ChunkSamples:   b.cfg.ChunkSamples,
		BufferCapacity: capacity,
		Realtime:       b.cfg.Realtime,
	}, p.session, video, audio, log)
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (b *Builder) videoSource(p *Pipeline, open func(string) (*os.File, error), file string, opts session.Options) (capture.VideoSource, error) {
	if file == "" {
		return capture.NewTestPattern(opts.Width, opts.Height, 0)
	}
	f, err := open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open video file: %w", err)
	}
	p.closers = append(p.closers, f)
	return capture.NewRawVideoReader(f), nil
}

func (b *Builder) audioSource(p *Pipeline, open func(string) (*os.File, error), file string, opts session.Options) (capture.AudioSource, error) {
	if file == "" {
		return capture.NewTone(opts.SampleRate, opts.Channels, b.cfg.ToneHz, 0)
	}
	f, err := open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	p.closers = append(p.closers, f)
	return capture.NewPCMReader(f), nil
}

// ID returns the session ID
func (p *Pipeline) ID() string {
	return p.session.ID()
}

// Info returns the session's registry record
func (p *Pipeline) Info() *models.SessionInfo {
	return p.session.Info()
}

// Run opens the session and pumps the sources into it until they are
// exhausted or ctx is cancelled
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.closeSources()

	if err := p.session.Open(ctx, p.opts); err != nil {
		return err
	}
	return p.pump.Run(ctx)
}

// Close releases the sources of a pipeline that will never run. Run
// closes them itself.
func (p *Pipeline) Close() error {
	p.closeSources()
	return nil
}

func (p *Pipeline) closeSources() {
	var result *multierror.Error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	p.closers = nil
	if err := result.ErrorOrNil(); err != nil {
		p.log.WithError(err).Warn("Failed to close sources")
	}
}
