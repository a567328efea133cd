package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MemoFileName is the fixed name of the single memo file inside the storage directory.
const MemoFileName = "MyAudioMemo.m4a"

const envPrefix = "AUDIOMEMO"

type Config struct {
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
}

type StorageConfig struct {
	// Directory overrides the user's documents directory. Empty means auto-detect.
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type AudioConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"` // "pulse", "auto"
	FFmpeg      string        `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Source      string        `mapstructure:"source" yaml:"source"` // empty = default source
	Sink        string        `mapstructure:"sink" yaml:"sink"`     // empty = default sink
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	Latency     time.Duration `mapstructure:"latency" yaml:"latency"`
}

var defaultConfig = Config{
	Audio: AudioConfig{
		Backend:     "auto",
		FFmpeg:      "ffmpeg",
		StopTimeout: 5 * time.Second,
		Latency:     100 * time.Millisecond,
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Load reads configFile (if it exists) and AUDIOMEMO_* environment overrides
// on top of the defaults. A missing file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error accessing config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding configuration: %w", err)
	}

	cfg.Storage.Directory = expandPath(cfg.Storage.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.directory", defaultConfig.Storage.Directory)
	v.SetDefault("audio.backend", defaultConfig.Audio.Backend)
	v.SetDefault("audio.ffmpeg", defaultConfig.Audio.FFmpeg)
	v.SetDefault("audio.source", defaultConfig.Audio.Source)
	v.SetDefault("audio.sink", defaultConfig.Audio.Sink)
	v.SetDefault("audio.stop_timeout", defaultConfig.Audio.StopTimeout)
	v.SetDefault("audio.latency", defaultConfig.Audio.Latency)
}

// Validate checks the values that cannot be fixed up silently
func (c *Config) Validate() error {
	switch strings.ToLower(c.Audio.Backend) {
	case "", "auto", "pulse":
	default:
		return fmt.Errorf("audio.backend: unsupported backend '%s' (valid: pulse, auto)", c.Audio.Backend)
	}

	if strings.TrimSpace(c.Audio.FFmpeg) == "" {
		return fmt.Errorf("audio.ffmpeg: must not be empty")
	}

	if c.Audio.StopTimeout <= 0 {
		return fmt.Errorf("audio.stop_timeout: must be positive, got %s", c.Audio.StopTimeout)
	}

	if c.Audio.Latency < 0 {
		return fmt.Errorf("audio.latency: must not be negative, got %s", c.Audio.Latency)
	}

	return nil
}

// ResolveDirectory returns the writable directory holding the memo file,
// creating it when missing.
func (s StorageConfig) ResolveDirectory() (string, error) {
	dir := s.Directory
	if dir == "" {
		var err error
		dir, err = documentsDirectory()
		if err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	probe, err := os.CreateTemp(dir, ".audiomemo-probe-*")
	if err != nil {
		return "", fmt.Errorf("storage directory %s is not writable: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return dir, nil
}

// documentsDirectory follows the XDG user-dirs convention and falls back to ~/Documents
func documentsDirectory() (string, error) {
	if dir := os.Getenv("XDG_DOCUMENTS_DIR"); dir != "" {
		return expandPath(dir), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	if homeDir == "" {
		return "", fmt.Errorf("failed to resolve home directory: empty path")
	}

	return filepath.Join(homeDir, "Documents"), nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
