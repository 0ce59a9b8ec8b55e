// Package api serves the detector's status and detection history to the
// browser dashboard. It only reads the files written by the file sink.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ColonelBlimp/alarmwatch/internal/sink"
)

// DefaultStaleAfter is how old the status file may be before a detector
// without a Running probe is reported as stopped.
const DefaultStaleAfter = 30 * time.Second

// Options configures the HTTP router.
type Options struct {
	StatusPath string
	EventsPath string

	// Running reports whether detection is active in this process. When nil,
	// the detector is considered running while the status file is fresh.
	Running func() bool
	// StaleAfter bounds status file age for the freshness check.
	StaleAfter time.Duration

	Logger *slog.Logger
	Debug  bool
}

// NewRouter builds the gin engine with logging, recovery and CORS.
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}

	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(opts.Logger))
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	h := &handlers{opts: opts}

	api := engine.Group("/api")
	api.GET("/status", h.status)
	api.GET("/detections", h.detections)
	api.GET("/health", h.health)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return engine
}

type handlers struct {
	opts Options
}

func (h *handlers) status(c *gin.Context) {
	rec, err := sink.ReadStatus(h.opts.StatusPath)
	switch {
	case errors.Is(err, sink.ErrNoStatus):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "detector not running"})
	case err != nil:
		h.opts.Logger.Warn("read status", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, rec)
	}
}

func (h *handlers) detections(c *gin.Context) {
	events, err := sink.ReadEvents(h.opts.EventsPath)
	if err != nil {
		h.opts.Logger.Warn("read detections", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *handlers) health(c *gin.Context) {
	detector := "stopped"
	if h.detectorRunning() {
		detector = "running"
	}
	c.JSON(http.StatusOK, gin.H{"api": "ok", "detector": detector})
}

func (h *handlers) detectorRunning() bool {
	if h.opts.Running != nil {
		return h.opts.Running()
	}
	info, err := os.Stat(h.opts.StatusPath)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) <= h.opts.StaleAfter
}

func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Serve runs the HTTP server on addr until ctx is done, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("api stopped")
	return nil
}
