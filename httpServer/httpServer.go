package httpServer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"rapidcast/internal/auth"
	"rapidcast/internal/metrics"
	"rapidcast/internal/storage"
	"rapidcast/internal/streammanager"
	"rapidcast/pkg/models"
)

// stopTimeout bounds how long a stop request waits for the session to finish
const stopTimeout = 10 * time.Second

// Runner is a built session ready to run. Close releases a runner that
// is discarded without being run.
type Runner interface {
	ID() string
	Info() *models.SessionInfo
	Run(ctx context.Context) error
	Close() error
}

// LaunchFunc builds a session for a start request
type LaunchFunc func(req *models.StartSessionRequest) (Runner, error)

// Server wraps the HTTP server with dependencies
type Server struct {
	ctx      context.Context
	router   *gin.Engine
	sessions *streammanager.Manager
	launch   LaunchFunc
	auth     *auth.Manager
	storage  storage.Storage
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

// New creates a new HTTP server. Sessions started through the API are
// cancelled when ctx is. Without an auth manager stop and remove are
// open to every client. authManager, store and m may be nil.
func New(ctx context.Context, sessions *streammanager.Manager, launch LaunchFunc, authManager *auth.Manager, store storage.Storage, m *metrics.Metrics, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		ctx:      ctx,
		sessions: sessions,
		launch:   launch,
		auth:     authManager,
		storage:  store,
		metrics:  m,
		log:      log,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if s.metrics != nil {
		router.Use(s.metricsMiddleware())
	}

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.POST("/v1/sessions", s.handleStartSession)
		api.GET("/v1/sessions", s.handleListSessions)
		api.GET("/v1/sessions/:id", s.handleGetSession)
		api.POST("/v1/sessions/:id/stop", s.requireControlToken(), s.handleStopSession)
		api.DELETE("/v1/sessions/:id", s.requireControlToken(), s.handleDeleteSession)
	}

	router.GET("/live/*filepath", s.handleRecording)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = router
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler implementations

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleStartSession(c *gin.Context) {
	var req models.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runner, err := s.launch(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := runner.ID()

	resp := models.StartSessionResponse{
		ID:        id,
		OutputURL: req.OutputURL,
		StatusURL: "/api/v1/sessions/" + id,
	}
	if s.auth != nil {
		token, err := s.auth.Issue(id)
		if err != nil {
			runner.Close()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
			return
		}
		resp.ControlToken = token.Token
		resp.ExpiresAt = token.ExpiresAt.Format(time.RFC3339)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	finish, err := s.sessions.Register(runner.Info(), cancel)
	if err != nil {
		cancel()
		if cerr := runner.Close(); cerr != nil {
			s.log.WithError(cerr).WithField("session", id).Warn("Failed to release rejected session")
		}
		if s.auth != nil && resp.ControlToken != "" {
			s.auth.RevokeToken(resp.ControlToken)
		}
		status := http.StatusConflict
		if errors.Is(err, streammanager.ErrLimit) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	log := s.log.WithField("session", id)
	go func() {
		defer cancel()
		err := runSession(ctx, runner)
		if err != nil {
			log.WithError(err).Error("Session failed")
		} else {
			log.Info("Session finished")
		}
		finish(err)
	}()

	c.JSON(http.StatusCreated, resp)
}

// runSession runs r, turning a panic into an error so one broken session
// cannot take the server down
func runSession(ctx context.Context, r Runner) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.Close()
			err = fmt.Errorf("session panicked: %v", p)
		}
	}()
	return r.Run(ctx)
}

func (s *Server) handleListSessions(c *gin.Context) {
	infos := s.sessions.List()

	views := make([]models.SessionView, len(infos))
	for i, info := range infos {
		views[i] = s.sessionToView(info)
	}

	c.JSON(http.StatusOK, models.SessionListResponse{
		Sessions: views,
		Total:    len(views),
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	info, exists := s.sessions.Get(c.Param("id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, s.sessionToView(info))
}

func (s *Server) handleStopSession(c *gin.Context) {
	id := c.Param("id")

	done, err := s.sessions.Stop(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	select {
	case <-done:
	case <-time.After(stopTimeout):
		c.JSON(http.StatusAccepted, gin.H{
			"message": "session is stopping",
			"id":      id,
		})
		return
	case <-c.Request.Context().Done():
		return
	}

	info, _ := s.sessions.Get(id)
	c.JSON(http.StatusOK, s.sessionToView(info))
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	err := s.sessions.Remove(c.Param("id"))
	switch {
	case errors.Is(err, streammanager.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, streammanager.ErrStillActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		if s.auth != nil {
			s.auth.Revoke(c.Param("id"))
		}
		c.Status(http.StatusNoContent)
	}
}

// handleRecording serves HLS playlists and segments from storage
func (s *Server) handleRecording(c *gin.Context) {
	if s.storage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording is not enabled"})
		return
	}

	name := strings.TrimPrefix(path.Clean(c.Param("filepath")), "/")
	switch path.Ext(name) {
	case ".m3u8", ".ts":
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	rs, err := s.storage.ReadSeeker(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		s.log.WithError(err).WithField("path", name).Error("Failed to read recording")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read recording"})
		return
	}
	if closer, ok := rs.(io.Closer); ok {
		defer closer.Close()
	}

	c.Header("Content-Type", storage.ContentType(name))
	c.Header("Cache-Control", storage.CacheControl(name))
	c.Header("Access-Control-Allow-Origin", "*")

	http.ServeContent(c.Writer, c.Request, path.Base(name), time.Time{}, rs)
}

// Helper functions

func (s *Server) sessionToView(info *models.SessionInfo) models.SessionView {
	view := models.SessionView{
		ID:        info.ID,
		OutputURL: info.Output(),
		State:     string(info.GetState()),
		Stats:     info.Snapshot(),
	}

	running, err := s.sessions.Result(info.ID)
	view.Running = running
	if err != nil && !errors.Is(err, streammanager.ErrNotFound) {
		view.Error = err.Error()
	}

	started, stopped := info.Times()
	if !started.IsZero() {
		view.StartedAt = started.Format(time.RFC3339)
		end := time.Now()
		if stopped != nil {
			view.StoppedAt = stopped.Format(time.RFC3339)
			end = *stopped
		}
		view.Duration = int(end.Sub(started).Seconds())
	}

	video, audio := info.Codecs()
	if video != nil {
		view.VideoCodec = video.Codec
		view.Resolution = fmt.Sprintf("%dx%d", video.Width, video.Height)
		view.Bitrate = video.Bitrate
	}
	if audio != nil {
		view.AudioCodec = audio.Codec
		view.SampleRate = audio.SampleRate
		view.Channels = audio.Channels
	}

	return view
}

// requireControlToken checks the bearer token against the session in the path
func (s *Server) requireControlToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.auth == nil {
			c.Next()
			return
		}

		id := c.Param("id")
		if _, exists := s.sessions.Get(id); !exists {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if err := s.auth.Validate(token, id); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("HTTP request")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}
