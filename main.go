package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rapidcast/config"
	"rapidcast/httpServer"
	"rapidcast/internal/auth"
	"rapidcast/internal/libav"
	"rapidcast/internal/metrics"
	"rapidcast/internal/output"
	"rapidcast/internal/pipeline"
	"rapidcast/internal/segmenter"
	"rapidcast/internal/session"
	"rapidcast/internal/storage"
	"rapidcast/internal/streammanager"
	"rapidcast/pkg/models"
)

var cli struct {
	Stream streamCmd `cmd:"" help:"Stream a capture source to an output."`
	Serve  serveCmd  `cmd:"" help:"Run the control API and serve recordings."`
}

type streamCmd struct {
	Output    string        `arg:"" optional:"" help:"Output URL (rtmp://, srt:// or hls://). Defaults to OUTPUT_URL."`
	VideoFile string        `help:"Raw NV12 input file. A test pattern is used when empty." type:"existingfile"`
	AudioFile string        `help:"Raw s16le input file. A test tone is used when empty." type:"existingfile"`
	Width     int           `help:"Frame width."`
	Height    int           `help:"Frame height."`
	FPS       int           `name:"fps" help:"Frame rate."`
	NoAudio   bool          `help:"Stream video only."`
	Record    bool          `help:"Also record the stream as HLS."`
	Duration  time.Duration `help:"Stop after this long. Runs until the sources end or interrupted when zero."`
}

type serveCmd struct {
	Addr string `help:"HTTP listen address. Defaults to HTTP_ADDR."`
}

// app holds what both commands share
type app struct {
	ctx     context.Context
	cfg     *config.Config
	log     *logrus.Logger
	metrics *metrics.Metrics
	storage storage.Storage
	builder *pipeline.Builder
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("rapidcast"),
		kong.Description("Live capture to RTMP, SRT and HLS"),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := kctx.Run(a); err != nil {
		a.log.WithError(err).Error("Exiting")
		os.Exit(1)
	}
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	libav.SetLogLevel(log.GetLevel())

	store, err := storage.New(ctx, storage.Config{
		Type:      cfg.StorageType,
		Dir:       cfg.StorageDir,
		ProjectID: cfg.GCSProjectID,
		Bucket:    cfg.GCSBucketName,
		BaseDir:   cfg.GCSBaseDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.WithField("type", cfg.StorageType).Info("Storage initialized")

	m := metrics.New()

	outputs := output.NewFactory(output.Config{
		SRTLatency: cfg.SRTLatency,
		HLS: segmenter.Config{
			SegmentDuration: cfg.HLSSegmentDuration,
			MaxSegments:     cfg.HLSMaxSegments,
		},
	}, store, log, m)

	builder, err := pipeline.NewBuilder(pipeline.Config{
		Session: session.Options{
			Width:         cfg.VideoWidth,
			Height:        cfg.VideoHeight,
			FrameRate:     cfg.VideoFrameRate,
			VideoBitrate:  cfg.VideoBitrate,
			GOPSize:       cfg.VideoGOP,
			Profile:       cfg.VideoProfile,
			Preset:        cfg.VideoPreset,
			Tune:          cfg.VideoTune,
			AudioEnabled:  cfg.AudioEnabled,
			SampleRate:    cfg.AudioSampleRate,
			Channels:      cfg.AudioChannels,
			AudioBitrate:  cfg.AudioBitrate,
			AudioCapacity: cfg.AudioBufferCapacity,
		},
		ChunkSamples: cfg.AudioChunkSamples,
		Realtime:     true,
		Record:       cfg.Record,
		InputDir:     cfg.InputDir,
	}, outputs, pipeline.Encoders{
		Video: func(log logrus.FieldLogger) session.VideoEncoder { return libav.NewH264Encoder(log) },
		Audio: func(log logrus.FieldLogger) session.AudioEncoder { return libav.NewAACEncoder(log) },
	}, log, m)
	if err != nil {
		return nil, err
	}

	return &app{
		ctx:     ctx,
		cfg:     cfg,
		log:     log,
		metrics: m,
		storage: store,
		builder: builder,
	}, nil
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

func (c *streamCmd) Run(a *app) error {
	req := &models.StartSessionRequest{
		OutputURL: c.Output,
		Width:     c.Width,
		Height:    c.Height,
		FrameRate: c.FPS,
		NoAudio:   c.NoAudio,
		Record:    c.Record,
		VideoFile: c.VideoFile,
		AudioFile: c.AudioFile,
	}
	if req.OutputURL == "" {
		req.OutputURL = a.cfg.OutputURL
	}
	if req.OutputURL == "" {
		return errors.New("no output URL given and OUTPUT_URL is not set")
	}

	p, err := a.builder.BuildLocal(req)
	if err != nil {
		return err
	}

	ctx := a.ctx
	if c.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Duration)
		defer cancel()
	}

	a.log.WithFields(logrus.Fields{
		"session": p.ID(),
		"output":  req.OutputURL,
	}).Info("Starting stream")

	if err := p.Run(ctx); err != nil {
		return err
	}

	stats := p.Info().Snapshot()
	a.log.WithFields(logrus.Fields{
		"video_packets": stats.VideoPackets,
		"audio_packets": stats.AudioPackets,
		"bytes":         stats.BytesOut,
		"mux_errors":    stats.MuxErrors,
	}).Info("Stream finished")
	return nil
}

func (c *serveCmd) Run(a *app) error {
	addr := c.Addr
	if addr == "" {
		addr = a.cfg.HTTPAddr
	}

	sessions := streammanager.New(a.cfg.MaxSessions)
	launch := func(req *models.StartSessionRequest) (httpServer.Runner, error) {
		p, err := a.builder.Build(req)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	authManager := auth.New(a.cfg.ControlTokenTTL)
	srv := httpServer.New(a.ctx, sessions, launch, authManager, a.storage, a.metrics, a.log)

	g, ctx := errgroup.WithContext(a.ctx)

	g.Go(func() error {
		return authManager.Run(ctx, time.Minute)
	})

	g.Go(func() error {
		a.log.WithField("addr", addr).Info("HTTP server listening")
		return srv.Run(ctx, addr)
	})

	g.Go(func() error {
		<-ctx.Done()
		sessions.StopAll()
		a.log.Info("All sessions stopped")
		return nil
	})

	return g.Wait()
}
