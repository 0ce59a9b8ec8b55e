package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/alarmwatch/internal/dsp"
)

// meterFloorDB is the level drawn as an empty bar.
const meterFloorDB = -60.0

const meterWidth = 40

var meterCmd = &cobra.Command{
	Use:   "meter",
	Short: "Show the input level to help set thresholds",
	Long: `Prints one line per frame with the RMS level in dBFS (DC offset removed),
the peak sample and the DC offset. No detection is performed.`,
	Args: cobra.NoArgs,
	RunE: runMeter,
}

func init() {
	meterCmd.Flags().StringP("input", "i", "", "meter a WAV recording instead of capturing")
	rootCmd.AddCommand(meterCmd)
}

func runMeter(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	logger := newLogger(s, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	input, _ := cmd.Flags().GetString("input")
	src, _, err := openSource(ctx, s, input)
	if err != nil {
		return setupError(fmt.Errorf("audio: %w", err))
	}
	defer src.Close()

	out := cmd.OutOrStdout()
	frame := make([]int32, s.FrameSize)
	for {
		if err := src.Read(ctx, frame); err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, io.EOF):
				return nil
			}
			logger.Warn("audio read failed, recovering", "err", err)
			if rerr := src.Recover(); rerr != nil {
				return &ExitError{Code: ExitReadFailure, Err: errors.Join(err, rerr)}
			}
			continue
		}

		level := dsp.MeasureLevel(frame, s.FullScale)
		fmt.Fprintln(out, formatLevel(level, s.FullScale, s.SilenceThresholdDB))
	}
}

// formatLevel renders one meter line.
func formatLevel(l dsp.Level, fullScale, silenceDB float64) string {
	filled := int((l.DB - meterFloorDB) / -meterFloorDB * meterWidth)
	filled = max(0, min(meterWidth, filled))
	bar := strings.Repeat("#", filled) + strings.Repeat(".", meterWidth-filled)

	label := ""
	if l.Silent(silenceDB) {
		label = " silent"
	}
	peak := 100 * float64(l.Peak) / fullScale
	return fmt.Sprintf("%7.1f dBFS [%s] peak %5.1f%% dc %+d%s", l.DB, bar, peak, l.DCOffset, label)
}
