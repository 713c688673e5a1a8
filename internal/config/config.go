// Package config provides configuration management for speakavatar
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Avatar   AvatarConfig   `mapstructure:"avatar"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Window   WindowConfig   `mapstructure:"window"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BackendConfig configures the speak backend client
type BackendConfig struct {
	BaseURL          string        `mapstructure:"base_url"` // empty runs in local mode
	Timeout          time.Duration `mapstructure:"timeout"`
	AuthToken        string        `mapstructure:"auth_token"`
	CurrentLang      string        `mapstructure:"current_lang"`
	TargetLang       string        `mapstructure:"target_lang"`
	Style            string        `mapstructure:"style"`
	NeuralOnly       bool          `mapstructure:"neural_only"`
	SampleRateHz     int           `mapstructure:"sample_rate_hz"`
	ReturnTranscript bool          `mapstructure:"return_transcript"`
}

// AvatarConfig configures the head model
type AvatarConfig struct {
	Gender        string `mapstructure:"gender"` // male or female
	MaleModel     string `mapstructure:"male_model"`
	FemaleModel   string `mapstructure:"female_model"`
	MorphMeshName string `mapstructure:"morph_mesh_name"` // preferred mesh, matched by substring
	AutoFrameFace bool   `mapstructure:"auto_frame_face"`
	IdleAnimation bool   `mapstructure:"idle_animation"`
	RandomSeed    int64  `mapstructure:"random_seed"` // 0 seeds from the clock
}

// ModelPath returns the glTF path for the configured gender
func (a AvatarConfig) ModelPath() string {
	if strings.EqualFold(a.Gender, "male") {
		return a.MaleModel
	}
	return a.FemaleModel
}

// PlaybackConfig configures the playhead clock and audio output
type PlaybackConfig struct {
	SpeakingRateWPM float64       `mapstructure:"speaking_rate_wpm"`
	AudioPlayer     []string      `mapstructure:"audio_player"` // argv; the file path is appended
	MaxFrameDelta   time.Duration `mapstructure:"max_frame_delta"`
}

// WindowConfig configures the viewer window
type WindowConfig struct {
	Title  string `mapstructure:"title"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	VSync  bool   `mapstructure:"vsync"`

	// ShaderDir holds basic.vert/basic.frag overrides, reloaded on save.
	// Empty uses the built-in shader.
	ShaderDir string `mapstructure:"shader_dir"`
}

// StreamConfig configures the frame stream server
type StreamConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	Interval       time.Duration `mapstructure:"interval"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:          "http://localhost:8000",
			Timeout:          60 * time.Second,
			CurrentLang:      "en",
			TargetLang:       "en",
			ReturnTranscript: false,
		},
		Avatar: AvatarConfig{
			Gender:        "female",
			MaleModel:     "assets/male.glb",
			FemaleModel:   "assets/female.glb",
			AutoFrameFace: true,
			IdleAnimation: true,
		},
		Playback: PlaybackConfig{
			SpeakingRateWPM: 175,
			AudioPlayer:     []string{},
			MaxFrameDelta:   100 * time.Millisecond,
		},
		Window: WindowConfig{
			Title:  "speakavatar",
			Width:  640,
			Height: 720,
			VSync:  true,
		},
		Stream: StreamConfig{
			Enabled:        false,
			Addr:           ":8090",
			AllowedOrigins: []string{"http://localhost:5173"},
			Interval:       33 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    true,
		},
	}
}

// Load reads configuration from ~/.speakavatar and the environment
func Load() (*Config, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return DefaultConfig(), err
	}
	return LoadFrom(dir)
}

// LoadFrom reads config.yaml from dir, writing the defaults there first if
// the file does not exist. SPEAKAVATAR_SECTION_KEY variables override the
// file.
func LoadFrom(dir string) (*Config, error) {
	cfg := DefaultConfig()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(dir)

	defaults, err := sectionMaps(cfg)
	if err != nil {
		return cfg, err
	}
	for key, m := range defaults {
		viper.SetDefault(key, m)
	}

	viper.SetEnvPrefix("SPEAKAVATAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		if err := SaveTo(dir, cfg); err != nil {
			return cfg, err
		}
		if err := viper.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Watch calls fn with the freshly parsed config whenever the file changes.
// Parse failures keep the previous config and are not reported.
func Watch(fn func(*Config)) {
	viper.OnConfigChange(onChange(fn))
	viper.WatchConfig()
}

func onChange(fn func(*Config)) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		fn(cfg)
	}
}

// Save writes the configuration to ~/.speakavatar/config.yaml
func Save(cfg *Config) error {
	dir, err := GetConfigDir()
	if err != nil {
		return err
	}
	return SaveTo(dir, cfg)
}

// SaveTo writes the configuration to dir/config.yaml
func SaveTo(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	sections, err := sectionMaps(cfg)
	if err != nil {
		return err
	}

	// Written through its own instance: values Set on the global one would
	// override later edits to the file.
	w := viper.New()
	for key, m := range sections {
		w.Set(key, m)
	}

	return w.WriteConfigAs(filepath.Join(dir, "config.yaml"))
}

// sectionMaps flattens each section through its mapstructure tags, so the
// file uses the same keys Unmarshal reads back.
func sectionMaps(cfg *Config) (map[string]map[string]interface{}, error) {
	sections := map[string]interface{}{
		"backend":  cfg.Backend,
		"avatar":   cfg.Avatar,
		"playback": cfg.Playback,
		"window":   cfg.Window,
		"stream":   cfg.Stream,
		"logging":  cfg.Logging,
	}

	out := make(map[string]map[string]interface{}, len(sections))
	for key, section := range sections {
		var m map[string]interface{}
		if err := mapstructure.Decode(section, &m); err != nil {
			return nil, err
		}
		out[key] = m
	}
	return out, nil
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".speakavatar"), nil
}
