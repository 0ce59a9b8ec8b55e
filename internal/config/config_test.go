package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
}

// isolateHome points HOME and XDG_CONFIG_HOME at a fresh temp dir and
// returns the directory Init will use for the default config.
func isolateHome(t *testing.T) (home, configDir string) {
	t.Helper()
	home = t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	return home, filepath.Join(home, ".config", AppName)
}

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestInit_WithDefaults(t *testing.T) {
	resetViper()
	_, configDir := isolateHome(t)
	writeConfig(t, configDir, "config.yaml", DefaultConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
	}{
		{"audio_backend", "malgo"},
		{"device_index", -1},
		{"sample_rate", 48000},
		{"frame_size", 4096},
		{"band_min_hz", 3000},
		{"band_max_hz", 3600},
		{"alarm_threshold_db", -20.0},
		{"silence_threshold_db", -45.0},
		{"min_beep_frames", 3},
		{"max_beep_frames", 15},
		{"max_gap_frames", 30},
		{"required_beeps", 3},
		{"status_interval", 10},
		{"events_path", "detections.jsonl"},
		{"status_path", "status.json"},
		{"log_format", "text"},
		{"debug", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := viper.Get(tt.key)
			if got != tt.expected {
				t.Errorf("viper.Get(%q) = %v (%T), want %v", tt.key, got, got, tt.expected)
			}
		})
	}
}

func TestInit_CreatesConfigIfMissing(t *testing.T) {
	resetViper()
	_, configDir := isolateHome(t)

	origDir, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origDir) }()

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Errorf("Init() did not create config file at %s", configPath)
	}
}

func TestInit_ReadsLocalConfigFirst(t *testing.T) {
	resetViper()
	home, configDir := isolateHome(t)
	writeConfig(t, configDir, "config.yaml", "required_beeps: 4")

	origDir, _ := os.Getwd()
	if err := os.Chdir(home); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origDir) }()

	writeConfig(t, home, "config.yaml", "required_beeps: 5")

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := viper.GetInt("required_beeps"); got != 5 {
		t.Errorf("viper.GetInt(required_beeps) = %d, want 5 (local config)", got)
	}
}

func TestInit_DotConfigTakesPrecedence(t *testing.T) {
	resetViper()
	home, _ := isolateHome(t)

	origDir, _ := os.Getwd()
	if err := os.Chdir(home); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origDir) }()

	writeConfig(t, home, "config.yaml", "status_interval: 20")
	writeConfig(t, home, ".config.yaml", "status_interval: 40")

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := viper.GetInt("status_interval"); got != 40 {
		t.Errorf("viper.GetInt(status_interval) = %d, want 40 (.config.yaml)", got)
	}
}

func TestInit_InvalidConfigFile(t *testing.T) {
	resetViper()
	_, configDir := isolateHome(t)
	writeConfig(t, configDir, "config.yaml", "invalid: yaml: content: [[[")

	origDir, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origDir) }()

	if err := Init(); err == nil {
		t.Error("Init() should return error for invalid YAML")
	}
}

func TestGet_ReturnsSettings(t *testing.T) {
	resetViper()
	_, configDir := isolateHome(t)
	writeConfig(t, configDir, "config.yaml", DefaultConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	settings, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if settings.DeviceIndex != -1 {
		t.Errorf("Settings.DeviceIndex = %d, want -1", settings.DeviceIndex)
	}
	if settings.SampleRate != 48000 {
		t.Errorf("Settings.SampleRate = %d, want 48000", settings.SampleRate)
	}
	if settings.FrameSize != 4096 {
		t.Errorf("Settings.FrameSize = %d, want 4096", settings.FrameSize)
	}
	if settings.FullScale != 2147483648 {
		t.Errorf("Settings.FullScale = %v, want 2147483648", settings.FullScale)
	}
	if settings.InactivityTimeout != 10*time.Second {
		t.Errorf("Settings.InactivityTimeout = %v, want 10s", settings.InactivityTimeout)
	}
	if settings.AlarmThresholdDB != -20 {
		t.Errorf("Settings.AlarmThresholdDB = %v, want -20", settings.AlarmThresholdDB)
	}
	if settings.LogLevel != "info" {
		t.Errorf("Settings.LogLevel = %q, want info", settings.LogLevel)
	}
}

func TestGet_DebugForcesDebugLevel(t *testing.T) {
	resetViper()
	_, configDir := isolateHome(t)
	writeConfig(t, configDir, "config.yaml", "debug: true\nlog_level: warn\n")

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	settings, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if settings.LogLevel != "debug" {
		t.Errorf("Settings.LogLevel = %q, want debug", settings.LogLevel)
	}
}

func TestGet_InvalidSettings(t *testing.T) {
	resetViper()
	_, configDir := isolateHome(t)
	writeConfig(t, configDir, "config.yaml", "frame_size: 1000\n")

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, err := Get()
	if err == nil {
		t.Fatal("Get() should fail for non power of 2 frame_size")
	}
	if !strings.Contains(err.Error(), "frame_size") {
		t.Errorf("Get() error = %v, want mention of frame_size", err)
	}
}

func TestEnsureConfigExists_CreatesDirectory(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "subdir", "config")

	if err := ensureConfigExists(configPath); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(configPath, "config.yaml"))
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if string(content) != DefaultConfig {
		t.Errorf("config content does not match DefaultConfig")
	}
}

func TestEnsureConfigExists_DoesNotOverwrite(t *testing.T) {
	configPath := t.TempDir()
	existingContent := "existing: true"
	writeConfig(t, configPath, "config.yaml", existingContent)

	if err := ensureConfigExists(configPath); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(configPath, "config.yaml"))
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if string(content) != existingContent {
		t.Errorf("ensureConfigExists() overwrote existing config")
	}
}

func TestConstants(t *testing.T) {
	if AppName != "alarmwatch" {
		t.Errorf("AppName = %q, want %q", AppName, "alarmwatch")
	}
	if ConfigType != "yaml" {
		t.Errorf("ConfigType = %q, want %q", ConfigType, "yaml")
	}
}

func TestDefaultConfig_ContainsExpectedKeys(t *testing.T) {
	expectedKeys := []string{
		"audio_backend",
		"device_index",
		"device_name",
		"sample_rate",
		"frame_size",
		"full_scale",
		"band_min_hz",
		"band_max_hz",
		"alarm_threshold_db",
		"silence_threshold_db",
		"min_beep_frames",
		"max_beep_frames",
		"max_gap_frames",
		"inactivity_timeout",
		"required_beeps",
		"status_interval",
		"events_path",
		"status_path",
		"listen_addr",
		"redis_addr",
		"log_level",
		"log_format",
		"debug",
	}

	for _, key := range expectedKeys {
		if !strings.Contains(DefaultConfig, key+":") {
			t.Errorf("DefaultConfig missing key: %s", key)
		}
	}
}

// Validation tests

func TestSettings_Validate_ValidSettings(t *testing.T) {
	if err := validSettings().Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil for valid settings", err)
	}
}

func TestSettings_Validate_SampleRate(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		wantErr    bool
	}{
		{"too low", 7999, true},
		{"minimum", 8000, false},
		{"typical 44100", 44100, false},
		{"typical 48000", 48000, false},
		{"maximum", 192000, false},
		{"too high", 192001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.SampleRate = tt.sampleRate
			s.BandMinHz, s.BandMaxHz = 1000, 1500
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_FrameSize(t *testing.T) {
	tests := []struct {
		name      string
		frameSize int
		wantErr   bool
	}{
		{"too small", 128, true},
		{"minimum", 256, false},
		{"typical 4096", 4096, false},
		{"maximum", 65536, false},
		{"too large", 131072, true},
		{"not power of 2", 4000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.FrameSize = tt.frameSize
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_Band(t *testing.T) {
	tests := []struct {
		name     string
		min, max float64
		wantErr  bool
	}{
		{"default band", 3000, 3600, false},
		{"single frequency", 3200, 3200, false},
		{"negative min", -1, 3600, true},
		{"inverted", 3600, 3000, true},
		{"at nyquist", 3000, 24000, true},
		{"above nyquist", 3000, 30000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.BandMinHz, s.BandMaxHz = tt.min, tt.max
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_BeepPattern(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr bool
	}{
		{"zero min beep", func(s *Settings) { s.MinBeepFrames = 0 }, true},
		{"max below min", func(s *Settings) { s.MaxBeepFrames = 2 }, true},
		{"max equals min", func(s *Settings) { s.MaxBeepFrames = 3 }, false},
		{"zero gap", func(s *Settings) { s.MaxGapFrames = 0 }, true},
		{"zero timeout", func(s *Settings) { s.InactivityTimeout = 0 }, true},
		{"zero required", func(s *Settings) { s.RequiredBeeps = 0 }, true},
		{"one required", func(s *Settings) { s.RequiredBeeps = 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_Backend(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
	}{
		{"malgo", false},
		{"portaudio", false},
		{"alsa", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			s := validSettings()
			s.AudioBackend = tt.backend
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_Thresholds(t *testing.T) {
	s := validSettings()
	s.SilenceThresholdDB = -10
	if err := s.Validate(); err == nil {
		t.Error("Validate() should reject silence threshold above alarm threshold")
	}
}

func TestSettings_Validate_MultipleErrors(t *testing.T) {
	s := &Settings{
		AudioBackend:   "bad", // invalid
		SampleRate:     0,     // invalid
		FrameSize:      10,    // invalid
		FullScale:      0,     // invalid
		MinBeepFrames:  0,     // invalid
		MaxGapFrames:   0,     // invalid
		RequiredBeeps:  0,     // invalid
		StatusInterval: 0,     // invalid
		LogLevel:       "x",   // invalid
		LogFormat:      "xml", // invalid
	}

	err := s.Validate()
	if err == nil {
		t.Fatal("Validate() should return error for multiple invalid fields")
	}

	errStr := err.Error()
	expectedSubstrings := []string{
		"audio_backend",
		"sample_rate",
		"frame_size",
		"full_scale",
		"min_beep_frames",
		"max_gap_frames",
		"inactivity_timeout",
		"required_beeps",
		"status_interval",
		"events_path",
		"status_path",
		"log_level",
		"log_format",
	}

	for _, substr := range expectedSubstrings {
		if !strings.Contains(errStr, substr) {
			t.Errorf("Validate() error should mention %q, got: %v", substr, errStr)
		}
	}
}

func TestSettings_FrameDuration(t *testing.T) {
	s := validSettings()
	s.FrameSize = 4800
	if got := s.FrameDuration(); got != 100*time.Millisecond {
		t.Errorf("FrameDuration() = %v, want 100ms", got)
	}

	s.SampleRate = 0
	if got := s.FrameDuration(); got != 0 {
		t.Errorf("FrameDuration() with zero rate = %v, want 0", got)
	}
}

// validSettings returns a Settings struct with all valid values
func validSettings() *Settings {
	return &Settings{
		AudioBackend:       "malgo",
		DeviceIndex:        -1,
		SampleRate:         48000,
		FrameSize:          4096,
		FullScale:          2147483648,
		BandMinHz:          3000,
		BandMaxHz:          3600,
		AlarmThresholdDB:   -20,
		SilenceThresholdDB: -45,
		MinBeepFrames:      3,
		MaxBeepFrames:      15,
		MaxGapFrames:       30,
		InactivityTimeout:  10 * time.Second,
		RequiredBeeps:      3,
		StatusInterval:     10,
		EventsPath:         "detections.jsonl",
		StatusPath:         "status.json",
		RedisPrefix:        "alarmwatch:",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}
