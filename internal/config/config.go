// Package config provides the configuration schema and loader for voxstream.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], starting from [Default].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	ASR       ASRConfig       `yaml:"asr"`
	Audio     AudioConfig     `yaml:"audio"`
	Transport TransportConfig `yaml:"transport"`
	Runner    RunnerConfig    `yaml:"runner"`
}

// ServerConfig holds the admin HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the health and metrics server
	// (e.g. ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// ASRConfig describes the recognizer service.
type ASRConfig struct {
	// APIKey is exchanged for session tokens. Usually supplied through the
	// VOXSTREAM_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// TokenURL is the base URL of the token service.
	TokenURL string `yaml:"token_url"`

	// TokenInitPath and TokenRefreshPath override the token endpoints.
	TokenInitPath    string `yaml:"token_init_path"`
	TokenRefreshPath string `yaml:"token_refresh_path"`

	// Language selects the entry of Endpoints to stream to (e.g. "en-US").
	Language string `yaml:"language"`

	// Endpoints maps a language tag to its recognizer websocket URL.
	Endpoints map[string]string `yaml:"endpoints"`

	Policy PolicyConfig `yaml:"policy"`
}

// Endpoint returns the websocket URL for the configured language.
func (c ASRConfig) Endpoint() (string, bool) {
	u, ok := c.Endpoints[c.Language]
	return u, ok
}

// PolicyConfig is the recognizer behaviour requested in the handshake.
type PolicyConfig struct {
	SingleUtterance bool `yaml:"single_utterance"`
	KeepConnection  bool `yaml:"keep_connection"`

	// PartialInterval is the partial-result cadence in milliseconds.
	PartialInterval int `yaml:"partial_interval"`

	ReuseTolerance int `yaml:"reuse_tolerance"`

	// SilenceThreshold is the trailing silence in milliseconds that ends an
	// utterance.
	SilenceThreshold int `yaml:"silence_threshold"`
}

// AudioConfig configures capture and encoding.
type AudioConfig struct {
	// Device is the input device name. Empty selects the system default.
	Device string `yaml:"device"`

	// FramesPerBlock is the capture block size.
	FramesPerBlock int `yaml:"frames_per_block"`

	// Channels requested from the device. Only the first is streamed.
	Channels int `yaml:"channels"`

	// TargetRate is the recognizer sample rate in Hz.
	TargetRate int `yaml:"target_rate"`

	// Volume is the linear gain applied during PCM encoding. It must be
	// positive; mute with pause instead.
	Volume float64 `yaml:"volume"`

	// RecordDir, when set, receives one WAV file per session.
	RecordDir string `yaml:"record_dir"`
}

// TransportConfig configures the recognizer link.
type TransportConfig struct {
	// SendQueue is the number of messages the link buffers before audio
	// frames are dropped.
	SendQueue int `yaml:"send_queue"`

	// StopTimeout bounds the wait for the recognizer to close after stop.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// RunnerConfig controls how successive sessions are run.
type RunnerConfig struct {
	// MaxSessions stops the runner after this many sessions. Zero runs until
	// interrupted.
	MaxSessions int `yaml:"max_sessions"`

	// MaxRetries bounds consecutive failed session starts.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the initial delay after a failed start. It doubles on every
	// consecutive failure up to MaxBackoff.
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns the built-in configuration every loaded file is applied on
// top of.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9090",
			LogLevel:   LogInfo,
		},
		ASR: ASRConfig{
			TokenURL:         "https://chatda.api.emotechlab.com",
			TokenInitPath:    "/token/init",
			TokenRefreshPath: "/da/user/token",
			Language:         "en-US",
			Endpoints: map[string]string{
				"en-US": "wss://chatda.api.emotechlab.com/asr/ws/en",
				"ar-AE": "wss://chatda.api.emotechlab.com/asr/ws/ar",
			},
			Policy: PolicyConfig{
				SingleUtterance:  true,
				KeepConnection:   false,
				PartialInterval:  500,
				ReuseTolerance:   100,
				SilenceThreshold: 1000,
			},
		},
		Audio: AudioConfig{
			FramesPerBlock: 1024,
			Channels:       1,
			TargetRate:     16000,
			Volume:         1,
		},
		Transport: TransportConfig{
			SendQueue:   4,
			StopTimeout: 5 * time.Second,
		},
		Runner: RunnerConfig{
			MaxRetries: 10,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}
