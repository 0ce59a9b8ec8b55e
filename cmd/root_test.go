package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/alarmwatch/internal/config"
	"github.com/ColonelBlimp/alarmwatch/internal/dsp"
	"github.com/ColonelBlimp/alarmwatch/internal/monitor"
)

func resetViperForTest() {
	viper.Reset()
}

// resetFlags restores every flag to its default so values set by one
// Execute do not leak into the next.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// setupHome points the config search at a temp home holding yaml.
func setupHome(t *testing.T, yaml string) {
	t.Helper()
	resetViperForTest()
	resetFlags(rootCmd)

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")

	dir := filepath.Join(home, ".config", config.AppName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

// writeBeeps writes a 48 kHz 16-bit mono recording of beeps tone bursts at
// freq Hz. Each burst and each gap lasts onFrames/offFrames frames of
// frameSize samples, and tailFrames of silence follow the last burst.
func writeBeeps(t *testing.T, freq float64, beeps, onFrames, offFrames, tailFrames int) string {
	t.Helper()

	const (
		sampleRate = 48000
		frameSize  = 4096
		amplitude  = 0.5 * math.MaxInt16
	)

	var data []int
	n := 0
	appendFrames := func(frames int, tone bool) {
		for i := 0; i < frames*frameSize; i++ {
			v := 0
			if tone {
				v = int(amplitude * math.Sin(2*math.Pi*freq*float64(n)/sampleRate))
			}
			data = append(data, v)
			n++
		}
	}
	for b := 0; b < beeps; b++ {
		appendFrames(onFrames, true)
		appendFrames(offFrames, false)
	}
	appendFrames(tailFrames, false)

	path := filepath.Join(t.TempDir(), "beeps.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func outputConfig(dir string) string {
	return fmt.Sprintf("events_path: %q\nstatus_path: %q\n",
		filepath.Join(dir, "detections.jsonl"), filepath.Join(dir, "status.json"))
}

func readDetections(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer f.Close()

	var events []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev map[string]any
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestRootCmd_HasExpectedFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name      string
		shorthand string
	}{
		{"device", "d"},
		{"device-name", ""},
		{"backend", "b"},
		{"threshold", "t"},
		{"listen", "l"},
		{"debug", "D"},
		{"log-format", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Errorf("flag %q not found", tt.name)
				return
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("flag %q shorthand = %q, want %q", tt.name, flag.Shorthand, tt.shorthand)
			}
			if flag.Usage == "" {
				t.Errorf("flag %q has no description", tt.name)
			}
		})
	}
}

func TestRootCmd_FlagDefaults(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name         string
		defaultValue string
	}{
		{"device", "-1"},
		{"backend", "malgo"},
		{"threshold", "-20"},
		{"listen", ""},
		{"debug", "false"},
		{"log-format", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Fatalf("flag %q not found", tt.name)
			}
			if flag.DefValue != tt.defaultValue {
				t.Errorf("flag %q default = %q, want %q", tt.name, flag.DefValue, tt.defaultValue)
			}
		})
	}
}

func TestRootCmd_Properties(t *testing.T) {
	if rootCmd.Use != "alarmwatch" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "alarmwatch")
	}
	if rootCmd.Short == "" {
		t.Error("rootCmd.Short is empty")
	}
	if rootCmd.Long == "" {
		t.Error("rootCmd.Long is empty")
	}
	if rootCmd.Flags().Lookup("input") == nil {
		t.Error("root command should accept --input like run")
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	for _, name := range []string{"run", "serve", "devices", "meter"} {
		t.Run(name, func(t *testing.T) {
			c, _, err := rootCmd.Find([]string{name})
			if err != nil {
				t.Fatalf("Find(%q) error = %v", name, err)
			}
			if c.Name() != name {
				t.Errorf("Find(%q) = %q", name, c.Name())
			}
		})
	}
}

func TestRootCmd_HelpOutput(t *testing.T) {
	setupHome(t, "")

	output, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("Execute() with --help error = %v", err)
	}
	for _, want := range []string{"alarmwatch", "--device", "--threshold", "meter", "serve"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output should contain %q", want)
		}
	}
}

func TestRootCmd_VersionFlag(t *testing.T) {
	setupHome(t, "")

	output, err := execute(t, "--version")
	if err != nil {
		t.Fatalf("Execute() with --version error = %v", err)
	}
	if !strings.Contains(output, version) {
		t.Errorf("version output = %q, want it to contain %q", output, version)
	}
}

func TestInitConfig(t *testing.T) {
	setupHome(t, "required_beeps: 4\nband_min_hz: 2900\n")

	// Should not exit
	initConfig()

	if got := viper.GetInt("required_beeps"); got != 4 {
		t.Errorf("viper.GetInt(required_beeps) = %d, want 4", got)
	}
	if got := viper.GetFloat64("band_min_hz"); got != 2900 {
		t.Errorf("viper.GetFloat64(band_min_hz) = %v, want 2900", got)
	}
}

func TestInitConfig_FlagOverridesFile(t *testing.T) {
	setupHome(t, "alarm_threshold_db: -30\n")

	if err := rootCmd.PersistentFlags().Set("threshold", "-12.5"); err != nil {
		t.Fatal(err)
	}
	initConfig()

	s, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}
	if s.AlarmThresholdDB != -12.5 {
		t.Errorf("AlarmThresholdDB = %v, want -12.5", s.AlarmThresholdDB)
	}
	resetFlags(rootCmd)
}

func TestRun_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"sample rate out of range", "sample_rate: 1000000\n"},
		{"inverted band", "band_min_hz: 3600\nband_max_hz: 3000\n"},
		{"silence above alarm", "silence_threshold_db: -10\nalarm_threshold_db: -20\n"},
		{"zero status interval", "status_interval: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupHome(t, tt.yaml)

			_, err := execute(t, "run")
			if err == nil {
				t.Fatal("expected error for invalid config, got nil")
			}
			if !strings.Contains(err.Error(), "invalid config") {
				t.Errorf("expected config error, got: %v", err)
			}
			if code := ExitCode(err); code != ExitUsage {
				t.Errorf("ExitCode() = %d, want %d", code, ExitUsage)
			}
		})
	}
}

func TestRun_MissingInput(t *testing.T) {
	dir := t.TempDir()
	setupHome(t, outputConfig(dir))

	_, err := execute(t, "run", "--input", filepath.Join(dir, "missing.wav"))
	if err == nil {
		t.Fatal("expected error for missing recording, got nil")
	}
	if code := ExitCode(err); code != ExitSetup {
		t.Errorf("ExitCode() = %d, want %d", code, ExitSetup)
	}
}

func TestRun_DetectsAlarmInRecording(t *testing.T) {
	dir := t.TempDir()
	setupHome(t, outputConfig(dir))
	input := writeBeeps(t, 3200, 3, 5, 5, 10)

	output, err := execute(t, "run", "--input", input)
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, output)
	}

	events := readDetections(t, filepath.Join(dir, "detections.jsonl"))
	if len(events) != 1 {
		t.Fatalf("got %d detections, want 1", len(events))
	}
	if events[0]["event"] != monitor.EventFireAlarm {
		t.Errorf("event = %v, want %q", events[0]["event"], monitor.EventFireAlarm)
	}
	if id, _ := events[0]["id"].(string); id == "" {
		t.Error("id is empty")
	}

	status, err := os.ReadFile(filepath.Join(dir, "status.json"))
	if err != nil {
		t.Fatalf("status file not written: %v", err)
	}
	if !json.Valid(status) {
		t.Errorf("status file is not JSON: %s", status)
	}
}

func TestRun_NoDetectionForTwoBeeps(t *testing.T) {
	dir := t.TempDir()
	setupHome(t, outputConfig(dir))
	input := writeBeeps(t, 3200, 2, 5, 5, 10)

	if _, err := execute(t, "run", "--input", input); err != nil {
		t.Fatalf("run error = %v", err)
	}

	events, err := os.ReadFile(filepath.Join(dir, "detections.jsonl"))
	if err != nil {
		t.Fatalf("events file not created: %v", err)
	}
	if len(bytes.TrimSpace(events)) != 0 {
		t.Errorf("expected no detections, got %s", events)
	}
}

func TestMeter_Recording(t *testing.T) {
	setupHome(t, outputConfig(t.TempDir()))
	input := writeBeeps(t, 3200, 1, 2, 2, 0)

	output, err := execute(t, "meter", "--input", input)
	if err != nil {
		t.Fatalf("meter error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d meter lines, want 4:\n%s", len(lines), output)
	}
	for i, line := range lines {
		if !strings.Contains(line, "dBFS") {
			t.Errorf("line %d missing dBFS: %q", i, line)
		}
		silent := strings.HasSuffix(line, "silent")
		if want := i >= 2; silent != want {
			t.Errorf("line %d silent = %v, want %v: %q", i, silent, want, line)
		}
	}
}

func TestFormatLevel_Bar(t *testing.T) {
	tests := []struct {
		name   string
		db     float64
		filled int
	}{
		{"full scale", 0, meterWidth},
		{"half way", meterFloorDB / 2, meterWidth / 2},
		{"at floor", meterFloorDB, 0},
		{"below floor", -200, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := formatLevel(dsp.Level{DB: tt.db}, 1, -1000)
			if got := strings.Count(line, "#"); got != tt.filled {
				t.Errorf("bar has %d filled cells, want %d: %q", got, tt.filled, line)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitUsage},
		{"setup", setupError(errors.New("no device")), ExitSetup},
		{"read failure", fmt.Errorf("%w: device gone", monitor.ErrReadFailed), ExitReadFailure},
		{"wrapped exit error", fmt.Errorf("outer: %w", &ExitError{Code: ExitReadFailure, Err: errors.New("x")}), ExitReadFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
		level  string
		check  func(string) bool
	}{
		{"text info", "text", "info", func(s string) bool { return strings.Contains(s, "msg=hello") }},
		{"json info", "json", "info", func(s string) bool { return strings.Contains(s, `"msg":"hello"`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&config.Settings{LogFormat: tt.format, LogLevel: tt.level}, &buf)
			logger.Debug("hidden")
			logger.Info("hello")
			if !tt.check(buf.String()) {
				t.Errorf("unexpected log output: %q", buf.String())
			}
			if strings.Contains(buf.String(), "hidden") {
				t.Error("debug record written at info level")
			}
		})
	}

	var buf bytes.Buffer
	logger := newLogger(&config.Settings{LogFormat: "text", LogLevel: "debug"}, &buf)
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level logger should enable debug records")
	}
}
