package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ColonelBlimp/alarmwatch/internal/audio"
	"github.com/ColonelBlimp/alarmwatch/internal/clock"
	"github.com/ColonelBlimp/alarmwatch/internal/dsp"
	"github.com/ColonelBlimp/alarmwatch/internal/observe"
	"github.com/ColonelBlimp/alarmwatch/internal/pattern"
)

// DefaultStatusInterval is the number of frames between status snapshots.
const DefaultStatusInterval = 10

var (
	// ErrReadFailed indicates a read error the source could not recover from
	ErrReadFailed = errors.New("unrecoverable audio read failure")
	// ErrInvalidStatusInterval indicates the status interval must be at least 1
	ErrInvalidStatusInterval = errors.New("status interval must be at least 1")
	// ErrMissingDependency indicates a required collaborator was nil
	ErrMissingDependency = errors.New("missing loop dependency")
	// ErrSampleRateMismatch indicates the source and analyzer disagree on sample rate
	ErrSampleRateMismatch = errors.New("source sample rate does not match analyzer")
)

// Config holds the loop parameters.
type Config struct {
	// StatusInterval is K: a snapshot is emitted on frame 0 and every K frames after
	StatusInterval int
	// ThresholdDB is the classification threshold for "tone present"
	ThresholdDB float64
	// SilenceThresholdDB only affects the status line
	SilenceThresholdDB float64
}

// DefaultConfig returns the standard loop parameters.
func DefaultConfig() Config {
	return Config{
		StatusInterval:     DefaultStatusInterval,
		ThresholdDB:        -20,
		SilenceThresholdDB: -45,
	}
}

// Deps are the collaborators a Loop drives. Logger, Metrics and Clock are
// optional.
type Deps struct {
	Source   audio.FrameSource
	Analyzer *dsp.Analyzer
	Machine  *pattern.Machine
	Sink     Sink
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *observe.Metrics
}

// Stats summarises a finished run.
type Stats struct {
	Frames     uint64
	Detections uint64
	Statuses   uint64
	Recoveries uint64
	SinkErrors uint64
}

// Loop is the single-threaded detection pipeline. A Loop owns its source:
// Run closes it on every exit path. A Loop runs once.
type Loop struct {
	config   Config
	source   audio.FrameSource
	analyzer *dsp.Analyzer
	machine  *pattern.Machine
	sink     Sink
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *observe.Metrics

	frame     []int32
	triggered bool
	stats     Stats
}

// New validates the configuration and wires a Loop.
func New(cfg Config, deps Deps) (*Loop, error) {
	if cfg.StatusInterval < 1 {
		return nil, ErrInvalidStatusInterval
	}
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("%w: source", ErrMissingDependency)
	case deps.Analyzer == nil:
		return nil, fmt.Errorf("%w: analyzer", ErrMissingDependency)
	case deps.Machine == nil:
		return nil, fmt.Errorf("%w: machine", ErrMissingDependency)
	case deps.Sink == nil:
		return nil, fmt.Errorf("%w: sink", ErrMissingDependency)
	}

	acfg := deps.Analyzer.Config()
	if rate := deps.Source.SampleRate(); rate != acfg.SampleRate {
		return nil, fmt.Errorf("%w: source %d Hz, analyzer %d Hz", ErrSampleRateMismatch, rate, acfg.SampleRate)
	}

	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	return &Loop{
		config:   cfg,
		source:   deps.Source,
		analyzer: deps.Analyzer,
		machine:  deps.Machine,
		sink:     deps.Sink,
		clock:    deps.Clock,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		frame:    make([]int32, acfg.FrameSize),
	}, nil
}

// Run processes frames until ctx is done, the source reaches end of input,
// or a read error cannot be recovered. Cancellation and end of input return
// nil; an unrecoverable read returns an error wrapping ErrReadFailed.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		if cerr := l.source.Close(); cerr != nil {
			l.logger.Warn("close audio source", "err", cerr)
		}
	}()

	l.logger.Info("detection started",
		"sample_rate", l.source.SampleRate(),
		"frame_size", len(l.frame),
		"threshold_db", l.config.ThresholdDB,
	)

	for {
		if ctx.Err() != nil {
			l.logger.Info("detection stopped", "frames", l.stats.Frames, "detections", l.stats.Detections)
			return nil
		}

		if err := l.source.Read(ctx, l.frame); err != nil {
			switch {
			case ctx.Err() != nil:
				continue
			case errors.Is(err, io.EOF):
				l.logger.Info("end of input", "frames", l.stats.Frames, "detections", l.stats.Detections)
				return nil
			}

			l.logger.Warn("audio read failed, recovering", "err", err)
			l.stats.Recoveries++
			l.metrics.RecordRecovery(ctx, readErrorReason(err))

			if rerr := l.source.Recover(); rerr != nil {
				l.logger.Error("audio recovery failed", "err", rerr)
				return fmt.Errorf("%w: %w", ErrReadFailed, errors.Join(err, rerr))
			}
			continue
		}

		if t, ok := l.clock.(clock.Ticker); ok {
			t.Tick()
		}
		l.process(ctx)
	}
}

// process runs one frame through analysis and the pattern machine.
func (l *Loop) process(ctx context.Context) {
	started := time.Now()
	now := l.clock.Now()

	reading := l.analyzer.Analyze(l.frame)
	present := dsp.Present(reading, l.config.ThresholdDB)
	triggered := l.machine.Update(present, now)
	state := l.machine.State()

	l.metrics.FramesProcessed.Add(ctx, 1)
	if present {
		l.metrics.PresentFrames.Add(ctx, 1)
	}
	l.metrics.PeakMagnitude.Record(ctx, reading.PeakMagnitudeDB)
	l.metrics.BeepCount.Record(ctx, int64(state.BeepCount))

	l.logger.Debug("frame",
		"freq", reading.PeakFrequency,
		"db", reading.PeakMagnitudeDB,
		"present", present,
		"state", state.Phase.String(),
		"frames", state.Frames,
		"beeps", state.BeepCount,
	)

	if triggered && !l.triggered {
		l.detect(ctx, now, reading, state)
	}
	l.triggered = triggered

	if l.stats.Frames%uint64(l.config.StatusInterval) == 0 {
		l.status(ctx, now, reading, state, triggered)
	}
	l.stats.Frames++

	l.metrics.FrameDuration.Record(ctx, time.Since(started).Seconds())
}

func (l *Loop) detect(ctx context.Context, now time.Time, r dsp.Reading, s pattern.State) {
	ev := DetectionEvent{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Frequency:   r.PeakFrequency,
		MagnitudeDB: r.PeakMagnitudeDB,
		BeepCount:   s.BeepCount,
	}

	l.stats.Detections++
	l.metrics.Detections.Add(ctx, 1)
	l.logger.Warn("FIRE ALARM DETECTED",
		"id", ev.ID,
		"freq", ev.Frequency,
		"db", fmt.Sprintf("%.1f", ev.MagnitudeDB),
		"beeps", ev.BeepCount,
	)

	if err := l.sink.Detection(ctx, ev); err != nil {
		l.stats.SinkErrors++
		l.metrics.RecordSinkError(ctx, "detection")
		l.logger.Warn("write detection", "err", err)
	}
}

func (l *Loop) status(ctx context.Context, now time.Time, r dsp.Reading, s pattern.State, triggered bool) {
	st := StatusSnapshot{
		Timestamp:   now,
		Phase:       s.Phase,
		Frequency:   r.PeakFrequency,
		MagnitudeDB: r.PeakMagnitudeDB,
		BeepCount:   s.BeepCount,
		Triggered:   triggered,
	}

	signal := "tone"
	if r.PeakMagnitudeDB < l.config.SilenceThresholdDB {
		signal = "silence"
	}

	l.stats.Statuses++
	l.metrics.StatusWrites.Add(ctx, 1)
	l.logger.Info("status",
		"state", st.Phase.String(),
		"freq", st.Frequency,
		"db", fmt.Sprintf("%.1f", st.MagnitudeDB),
		"signal", signal,
		"beeps", st.BeepCount,
		"alarm", st.Triggered,
	)

	if err := l.sink.Status(ctx, st); err != nil {
		l.stats.SinkErrors++
		l.metrics.RecordSinkError(ctx, "status")
		l.logger.Warn("write status", "err", err)
	}
}

// Stats returns the counters of the run. Call after Run returns.
func (l *Loop) Stats() Stats {
	return l.stats
}

func readErrorReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrOverrun):
		return "overrun"
	case errors.Is(err, audio.ErrDeviceStopped):
		return "stopped"
	default:
		return "other"
	}
}
