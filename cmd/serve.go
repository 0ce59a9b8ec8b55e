package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/alarmwatch/internal/api"
)

// defaultListenAddr is used by serve when listen_addr is not configured.
const defaultListenAddr = ":5000"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API for a detector running elsewhere",
	Long: `Serves /api/status, /api/detections, /api/health and /metrics from the
files written by a detector process sharing the same configuration.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	logger := newLogger(s, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := s.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	// A detector writes status every StatusInterval frames; allow a few
	// missed writes before reporting it stopped.
	stale := 3 * time.Duration(s.StatusInterval) * s.FrameDuration()
	if stale < api.DefaultStaleAfter {
		stale = api.DefaultStaleAfter
	}

	router := api.NewRouter(api.Options{
		StatusPath: s.StatusPath,
		EventsPath: s.EventsPath,
		StaleAfter: stale,
		Logger:     logger,
		Debug:      s.LogLevel == "debug",
	})

	if err := api.Serve(ctx, addr, router, logger); err != nil {
		return setupError(err)
	}
	return nil
}
