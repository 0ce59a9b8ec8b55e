// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	AppName       = "alarmwatch"
	ConfigType    = "yaml"
	DefaultConfig = `# Alarm Watch Configuration

# Audio source
audio_backend: "malgo"  # malgo (default capture) or portaudio (needs -tags portaudio)
device_index: -1        # -1 for default device
device_name: ""         # substring match on device name, overrides device_index
sample_rate: 48000      # Audio sample rate in Hz
frame_size: 4096        # Samples per analysis frame (power of 2)
full_scale: 2147483648  # Sample magnitude that maps to 1.0 (S32_LE)

# Target band
band_min_hz: 3000       # Lowest frequency considered part of the alarm tone
band_max_hz: 3600       # Highest frequency considered part of the alarm tone

# Thresholds
alarm_threshold_db: -20.0    # Band peak must exceed this to count as "present"
silence_threshold_db: -45.0  # Below this the meter and status line report silence

# Beep pattern
min_beep_frames: 3      # Shorter tones are treated as noise
max_beep_frames: 15     # Longer tones are not beeps
max_gap_frames: 30      # Longer gaps abandon the pattern
inactivity_timeout: 10s # Wall-clock limit between transitions
required_beeps: 3       # Beeps needed to raise an alarm

# Output
status_interval: 10     # Emit a status snapshot every N frames
events_path: "detections.jsonl"
status_path: "status.json"
listen_addr: ""         # e.g. ":5000" to serve the API alongside detection

# Redis fan-out (disabled when addr is empty)
redis_addr: ""
redis_password: ""
redis_db: 0
redis_prefix: "alarmwatch:"

# Logging
log_level: "info"       # debug, info, warn, error
log_format: "text"      # text or json
debug: false            # Shortcut for log_level=debug
`
)

// Settings holds all application configuration
type Settings struct {
	// Audio source
	AudioBackend string  `mapstructure:"audio_backend"`
	DeviceIndex  int     `mapstructure:"device_index"`
	DeviceName   string  `mapstructure:"device_name"`
	SampleRate   int     `mapstructure:"sample_rate"`
	FrameSize    int     `mapstructure:"frame_size"`
	FullScale    float64 `mapstructure:"full_scale"`

	// Target band
	BandMinHz float64 `mapstructure:"band_min_hz"`
	BandMaxHz float64 `mapstructure:"band_max_hz"`

	// Thresholds
	AlarmThresholdDB   float64 `mapstructure:"alarm_threshold_db"`
	SilenceThresholdDB float64 `mapstructure:"silence_threshold_db"`

	// Beep pattern
	MinBeepFrames     int           `mapstructure:"min_beep_frames"`
	MaxBeepFrames     int           `mapstructure:"max_beep_frames"`
	MaxGapFrames      int           `mapstructure:"max_gap_frames"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	RequiredBeeps     int           `mapstructure:"required_beeps"`

	// Output
	StatusInterval int    `mapstructure:"status_interval"`
	EventsPath     string `mapstructure:"events_path"`
	StatusPath     string `mapstructure:"status_path"`
	ListenAddr     string `mapstructure:"listen_addr"`

	// Redis fan-out
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	Debug     bool   `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/alarmwatch/
func Init() error {
	viper.SetDefault("audio_backend", "malgo")
	viper.SetDefault("device_index", -1)
	viper.SetDefault("device_name", "")
	viper.SetDefault("sample_rate", 48000)
	viper.SetDefault("frame_size", 4096)
	viper.SetDefault("full_scale", 2147483648.0)
	viper.SetDefault("band_min_hz", 3000)
	viper.SetDefault("band_max_hz", 3600)
	viper.SetDefault("alarm_threshold_db", -20.0)
	viper.SetDefault("silence_threshold_db", -45.0)
	viper.SetDefault("min_beep_frames", 3)
	viper.SetDefault("max_beep_frames", 15)
	viper.SetDefault("max_gap_frames", 30)
	viper.SetDefault("inactivity_timeout", "10s")
	viper.SetDefault("required_beeps", 3)
	viper.SetDefault("status_interval", 10)
	viper.SetDefault("events_path", "detections.jsonl")
	viper.SetDefault("status_path", "status.json")
	viper.SetDefault("listen_addr", "")
	viper.SetDefault("redis_addr", "")
	viper.SetDefault("redis_password", "")
	viper.SetDefault("redis_db", 0)
	viper.SetDefault("redis_prefix", "alarmwatch:")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config found - create default in ~/.config/alarmwatch/
			if err = ensureConfigExists(filepath.Join(configDir, AppName)); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if s.Debug {
		s.LogLevel = "debug"
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Audio source
	validBackends := map[string]bool{"malgo": true, "portaudio": true}
	if !validBackends[s.AudioBackend] {
		errs = append(errs, fmt.Errorf("audio_backend must be malgo or portaudio, got %q", s.AudioBackend))
	}
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", s.SampleRate))
	}
	if s.FrameSize < 256 || s.FrameSize > 65536 {
		errs = append(errs, fmt.Errorf("frame_size must be between 256 and 65536, got %d", s.FrameSize))
	}
	if s.FrameSize&(s.FrameSize-1) != 0 {
		errs = append(errs, fmt.Errorf("frame_size should be a power of 2, got %d", s.FrameSize))
	}
	if s.FullScale <= 0 {
		errs = append(errs, fmt.Errorf("full_scale must be positive, got %v", s.FullScale))
	}

	// Target band
	if s.BandMinHz < 0 {
		errs = append(errs, fmt.Errorf("band_min_hz must not be negative, got %v", s.BandMinHz))
	}
	if s.BandMinHz > s.BandMaxHz {
		errs = append(errs, fmt.Errorf("band_min_hz (%v) must not exceed band_max_hz (%v)", s.BandMinHz, s.BandMaxHz))
	}
	// Nyquist check: the band must be representable at this sample rate
	if nyquist := float64(s.SampleRate) / 2; s.BandMaxHz >= nyquist {
		errs = append(errs, fmt.Errorf("band_max_hz (%v Hz) must be less than Nyquist frequency (%v Hz)", s.BandMaxHz, nyquist))
	}

	// Thresholds
	if s.SilenceThresholdDB > s.AlarmThresholdDB {
		errs = append(errs, fmt.Errorf("silence_threshold_db (%v) must not exceed alarm_threshold_db (%v)", s.SilenceThresholdDB, s.AlarmThresholdDB))
	}

	// Beep pattern
	if s.MinBeepFrames < 1 {
		errs = append(errs, fmt.Errorf("min_beep_frames must be at least 1, got %d", s.MinBeepFrames))
	}
	if s.MaxBeepFrames < s.MinBeepFrames {
		errs = append(errs, fmt.Errorf("max_beep_frames (%d) must not be less than min_beep_frames (%d)", s.MaxBeepFrames, s.MinBeepFrames))
	}
	if s.MaxGapFrames < 1 {
		errs = append(errs, fmt.Errorf("max_gap_frames must be at least 1, got %d", s.MaxGapFrames))
	}
	if s.InactivityTimeout <= 0 {
		errs = append(errs, fmt.Errorf("inactivity_timeout must be positive, got %v", s.InactivityTimeout))
	}
	if s.RequiredBeeps < 1 {
		errs = append(errs, fmt.Errorf("required_beeps must be at least 1, got %d", s.RequiredBeeps))
	}

	// Output
	if s.StatusInterval < 1 {
		errs = append(errs, fmt.Errorf("status_interval must be at least 1, got %d", s.StatusInterval))
	}
	if s.EventsPath == "" {
		errs = append(errs, errors.New("events_path must not be empty"))
	}
	if s.StatusPath == "" {
		errs = append(errs, errors.New("status_path must not be empty"))
	}
	if s.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("redis_db must not be negative, got %d", s.RedisDB))
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[s.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", s.LogLevel))
	}
	if s.LogFormat != "text" && s.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", s.LogFormat))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// FrameDuration is the wall-clock length of one analysis frame.
func (s *Settings) FrameDuration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s.FrameSize) / float64(s.SampleRate) * float64(time.Second))
}
