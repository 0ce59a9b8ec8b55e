// cmd/root.go
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ColonelBlimp/alarmwatch/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X github.com/ColonelBlimp/alarmwatch/cmd.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "alarmwatch",
	Short: "Acoustic smoke and fire alarm detector",
	Long: `Listens to an audio input for the beep pattern of a smoke or fire alarm
and records a detection event when the pattern is heard. Status snapshots and
detections are written for the dashboard API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDetection,
}

// Execute runs the root command and exits with a status that reflects the
// failure class.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().String("device-name", "", "audio device name substring (overrides --device)")
	rootCmd.PersistentFlags().StringP("backend", "b", "malgo", "audio backend: malgo or portaudio")
	rootCmd.PersistentFlags().Float64P("threshold", "t", -20, "alarm threshold in dBFS")
	rootCmd.PersistentFlags().StringP("listen", "l", "", "address for the dashboard API, e.g. :5000")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	// The root command runs detection, so it accepts the run flags too
	addRunFlags(rootCmd)
}

// bindFlags binds flags to viper keys. It runs from initConfig so the
// bindings survive viper.Reset between test executions.
func bindFlags() {
	flags := rootCmd.PersistentFlags()
	_ = viper.BindPFlag("device_index", flags.Lookup("device"))
	_ = viper.BindPFlag("device_name", flags.Lookup("device-name"))
	_ = viper.BindPFlag("audio_backend", flags.Lookup("backend"))
	_ = viper.BindPFlag("alarm_threshold_db", flags.Lookup("threshold"))
	_ = viper.BindPFlag("listen_addr", flags.Lookup("listen"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("log_format", flags.Lookup("log-format"))
}

func initConfig() {
	bindFlags()
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(ExitUsage)
	}
}

// loadSettings reads and validates the configuration.
func loadSettings() (*config.Settings, error) {
	s, err := config.Get()
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Err: err}
	}
	return s, nil
}

// newLogger builds the process logger from settings. Settings are already
// validated, so the level always parses.
func newLogger(s *config.Settings, w io.Writer) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(s.LogLevel))

	opts := &slog.HandlerOptions{Level: level}
	if s.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
