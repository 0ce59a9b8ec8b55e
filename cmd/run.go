package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ColonelBlimp/alarmwatch/internal/api"
	"github.com/ColonelBlimp/alarmwatch/internal/audio"
	"github.com/ColonelBlimp/alarmwatch/internal/clock"
	"github.com/ColonelBlimp/alarmwatch/internal/config"
	"github.com/ColonelBlimp/alarmwatch/internal/dsp"
	"github.com/ColonelBlimp/alarmwatch/internal/monitor"
	"github.com/ColonelBlimp/alarmwatch/internal/observe"
	"github.com/ColonelBlimp/alarmwatch/internal/pattern"
	"github.com/ColonelBlimp/alarmwatch/internal/recovery"
	"github.com/ColonelBlimp/alarmwatch/internal/sink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen for fire alarm beep patterns (default command)",
	Long: `Reads audio frames from the capture device, or from a WAV recording with
--input, and records a detection whenever the alarm beep pattern is heard.
With --listen the dashboard API is served from the same process.`,
	Args: cobra.NoArgs,
	RunE: runDetection,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(c *cobra.Command) {
	c.Flags().StringP("input", "i", "", "replay a WAV recording instead of capturing")
}

func runDetection(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	logger := newLogger(s, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return setupError(fmt.Errorf("metrics: %w", err))
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warn("shutdown metrics", "err", err)
		}
	}()

	input, _ := cmd.Flags().GetString("input")
	src, clk, err := openSource(ctx, s, input)
	if err != nil {
		return setupError(fmt.Errorf("audio: %w", err))
	}

	out, closeSinks, err := openSinks(ctx, s)
	if err != nil {
		_ = src.Close()
		return setupError(fmt.Errorf("sink: %w", err))
	}
	defer closeSinks()

	loop, err := newLoop(s, src, clk, out, logger)
	if err != nil {
		_ = src.Close()
		return setupError(err)
	}

	var running atomic.Bool
	running.Store(true)

	g, gctx := errgroup.WithContext(ctx)
	apiCtx, stopAPI := context.WithCancel(gctx)
	defer stopAPI()

	g.Go(recovery.Guard("detector", func() error {
		defer stopAPI()
		defer running.Store(false)
		return loop.Run(gctx)
	}))

	if s.ListenAddr != "" {
		router := api.NewRouter(api.Options{
			StatusPath: s.StatusPath,
			EventsPath: s.EventsPath,
			Running:    running.Load,
			Logger:     logger,
			Debug:      s.LogLevel == "debug",
		})
		g.Go(recovery.Guard("api", func() error {
			if err := api.Serve(apiCtx, s.ListenAddr, router, logger); err != nil {
				return setupError(fmt.Errorf("api: %w", err))
			}
			return nil
		}))
	}

	err = g.Wait()
	stats := loop.Stats()
	logger.Info("detection finished",
		"frames", stats.Frames,
		"detections", stats.Detections,
		"recoveries", stats.Recoveries,
		"sink_errors", stats.SinkErrors,
	)
	return err
}

// openSource opens the configured capture backend, or the WAV recording when
// input is set. Replay gets a clock that advances one frame per frame read.
func openSource(ctx context.Context, s *config.Settings, input string) (audio.FrameSource, clock.Clock, error) {
	if input != "" {
		w, err := audio.OpenWAV(input)
		if err != nil {
			return nil, nil, err
		}
		frame := time.Duration(float64(s.FrameSize) / float64(w.SampleRate()) * float64(time.Second))
		return w, clock.NewStream(time.Now(), frame), nil
	}

	switch s.AudioBackend {
	case "portaudio":
		p, err := audio.OpenPortAudio(s.DeviceIndex, s.SampleRate, s.FrameSize)
		if err != nil {
			return nil, nil, err
		}
		return p, clock.System{}, nil
	default:
		c := audio.New(audio.Config{
			DeviceIndex: s.DeviceIndex,
			DeviceName:  s.DeviceName,
			SampleRate:  uint32(s.SampleRate),
			PeriodSize:  audio.DefaultConfig().PeriodSize,
		})
		if err := c.Init(); err != nil {
			_ = c.Close()
			return nil, nil, err
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, nil, err
		}
		return c, clock.System{}, nil
	}
}

// openSinks opens the file sink and, when configured, the Redis fan-out.
func openSinks(ctx context.Context, s *config.Settings) (monitor.Sink, func(), error) {
	files, err := sink.OpenFile(s.EventsPath, s.StatusPath)
	if err != nil {
		return nil, nil, err
	}
	if s.RedisAddr == "" {
		return files, func() { _ = files.Close() }, nil
	}

	rds, err := sink.NewRedis(ctx, sink.RedisConfig{
		Addr:     s.RedisAddr,
		Password: s.RedisPassword,
		DB:       s.RedisDB,
		Prefix:   s.RedisPrefix,
	})
	if err != nil {
		_ = files.Close()
		return nil, nil, err
	}
	closeAll := func() {
		_ = files.Close()
		_ = rds.Close()
	}
	return sink.Multi{files, rds}, closeAll, nil
}

// newLoop builds the analyzer and pattern machine for src and wires the loop.
func newLoop(s *config.Settings, src audio.FrameSource, clk clock.Clock, out monitor.Sink, logger *slog.Logger) (*monitor.Loop, error) {
	analyzer, err := dsp.NewAnalyzer(dsp.AnalyzerConfig{
		FrameSize:  s.FrameSize,
		SampleRate: src.SampleRate(),
		MinFreq:    s.BandMinHz,
		MaxFreq:    s.BandMaxHz,
		FullScale:  s.FullScale,
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	if analyzer.BandBins() == 0 {
		logger.Warn("alarm band contains no FFT bins, nothing will be detected",
			"band_min_hz", s.BandMinHz, "band_max_hz", s.BandMaxHz, "bin_width_hz", analyzer.BinWidth())
	}

	machine, err := pattern.NewMachine(pattern.Config{
		MinBeepFrames:     s.MinBeepFrames,
		MaxBeepFrames:     s.MaxBeepFrames,
		MaxGapFrames:      s.MaxGapFrames,
		InactivityTimeout: s.InactivityTimeout,
		RequiredBeeps:     s.RequiredBeeps,
	}, clk.Now())
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}

	return monitor.New(monitor.Config{
		StatusInterval:     s.StatusInterval,
		ThresholdDB:        s.AlarmThresholdDB,
		SilenceThresholdDB: s.SilenceThresholdDB,
	}, monitor.Deps{
		Source:   src,
		Analyzer: analyzer,
		Machine:  machine,
		Sink:     out,
		Clock:    clk,
		Logger:   logger,
	})
}
