package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAPIKey   = "VOXSTREAM_API_KEY"
	EnvLanguage = "VOXSTREAM_LANGUAGE"
)

// Load reads the YAML configuration file at path on top of [Default],
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of [Default], applies
// environment overrides and validates the result. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads KEY=value pairs from the given dotenv files into the process
// environment without overriding variables that are already set. With no
// arguments it reads ".env" and silently ignores its absence.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: load env files: %w", err)
	}
	return nil
}

// ApplyEnv copies the supported environment variables into cfg.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvAPIKey); ok && v != "" {
		cfg.ASR.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvLanguage); ok && v != "" {
		cfg.ASR.Language = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// ASR
	if cfg.ASR.APIKey == "" {
		slog.Warn("asr.api_key is empty; set " + EnvAPIKey + " or the recognizer will reject token requests")
	}
	if err := validateURL(cfg.ASR.TokenURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("asr.token_url: %w", err))
	}
	if endpoint, ok := cfg.ASR.Endpoint(); !ok {
		errs = append(errs, fmt.Errorf("asr.language %q has no entry in asr.endpoints", cfg.ASR.Language))
	} else if err := validateURL(endpoint, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("asr.endpoints[%s]: %w", cfg.ASR.Language, err))
	}
	p := cfg.ASR.Policy
	if p.PartialInterval < 0 {
		errs = append(errs, fmt.Errorf("asr.policy.partial_interval %d must not be negative", p.PartialInterval))
	}
	if p.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("asr.policy.silence_threshold %d must not be negative", p.SilenceThreshold))
	}

	// Audio
	if cfg.Audio.FramesPerBlock <= 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_block %d must be positive", cfg.Audio.FramesPerBlock))
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.TargetRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.target_rate %d must be positive", cfg.Audio.TargetRate))
	}
	if cfg.Audio.Volume <= 0 {
		errs = append(errs, fmt.Errorf("audio.volume %.2f must be positive", cfg.Audio.Volume))
	} else if cfg.Audio.Volume > 1 {
		slog.Warn("audio.volume above 1 will clip loud input", "volume", cfg.Audio.Volume)
	}

	// Transport
	if cfg.Transport.SendQueue < 1 {
		errs = append(errs, fmt.Errorf("transport.send_queue %d must be at least 1", cfg.Transport.SendQueue))
	}
	if cfg.Transport.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("transport.stop_timeout %s must not be negative", cfg.Transport.StopTimeout))
	}

	// Runner
	if cfg.Runner.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("runner.max_sessions %d must not be negative", cfg.Runner.MaxSessions))
	}
	if cfg.Runner.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("runner.max_retries %d must not be negative", cfg.Runner.MaxRetries))
	}
	if cfg.Runner.Backoff > 0 && cfg.Runner.MaxBackoff > 0 && cfg.Runner.MaxBackoff < cfg.Runner.Backoff {
		errs = append(errs, fmt.Errorf("runner.max_backoff %s is below runner.backoff %s", cfg.Runner.MaxBackoff, cfg.Runner.Backoff))
	}

	return errors.Join(errs...)
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q must use scheme %v", raw, schemes)
}
