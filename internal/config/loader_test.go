package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxstream/internal/config"
)

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	def := config.Default()
	if cfg.Audio.TargetRate != 16000 || cfg.Audio.FramesPerBlock != 1024 {
		t.Errorf("audio = %+v, want defaults", cfg.Audio)
	}
	if cfg.ASR.Policy != def.ASR.Policy {
		t.Errorf("policy = %+v, want %+v", cfg.ASR.Policy, def.ASR.Policy)
	}
	if got, _ := cfg.ASR.Endpoint(); got != "wss://chatda.api.emotechlab.com/asr/ws/en" {
		t.Errorf("endpoint = %q", got)
	}
}

func TestLoadFromReader_Overrides(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  listen_addr: "127.0.0.1:9999"
  log_level: debug
asr:
  language: de-DE
  endpoints:
    de-DE: wss://asr.example.com/asr/ws/de
  policy:
    single_utterance: false
    silence_threshold: 700
audio:
  target_rate: 8000
  volume: 0.5
  record_dir: /tmp/rec
transport:
  send_queue: 8
  stop_timeout: 2s
runner:
  max_sessions: 3
  backoff: 250ms
  max_backoff: 4s
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel.Level() != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.Server.LogLevel)
	}
	if got, ok := cfg.ASR.Endpoint(); !ok || got != "wss://asr.example.com/asr/ws/de" {
		t.Errorf("endpoint = %q, %v", got, ok)
	}
	p := cfg.ASR.Policy
	if p.SingleUtterance || p.SilenceThreshold != 700 || p.PartialInterval != 500 {
		t.Errorf("policy = %+v, want partial overrides on defaults", p)
	}
	if cfg.Audio.TargetRate != 8000 || cfg.Audio.Volume != 0.5 || cfg.Audio.RecordDir != "/tmp/rec" {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Audio.FramesPerBlock != 1024 {
		t.Errorf("frames_per_block default lost: %d", cfg.Audio.FramesPerBlock)
	}
	if cfg.Transport.SendQueue != 8 || cfg.Transport.StopTimeout != 2*time.Second {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.Runner.MaxSessions != 3 || cfg.Runner.Backoff != 250*time.Millisecond || cfg.Runner.MaxRetries != 10 {
		t.Errorf("runner = %+v", cfg.Runner)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("audio:\n  sample_rate: 44100\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		yaml   string
		substr string
	}{
		{"log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"unknown language", "asr:\n  language: fr-FR\n", "no entry in asr.endpoints"},
		{"endpoint scheme", "asr:\n  endpoints:\n    en-US: https://example.com/asr\n", "asr.endpoints[en-US]"},
		{"token url", "asr:\n  token_url: ftp://example.com\n", "asr.token_url"},
		{"channels", "audio:\n  channels: 6\n", "audio.channels"},
		{"target rate", "audio:\n  target_rate: 0\n", "audio.target_rate"},
		{"negative volume", "audio:\n  volume: -1\n", "audio.volume"},
		{"zero volume", "audio:\n  volume: 0\n", "audio.volume"},
		{"send queue", "transport:\n  send_queue: 0\n", "transport.send_queue"},
		{"backoff order", "runner:\n  backoff: 10s\n  max_backoff: 1s\n", "runner.max_backoff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error %q does not mention %q", err, tt.substr)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Audio.TargetRate = 0
	cfg.Transport.SendQueue = 0
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"audio.target_rate", "transport.send_queue"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxstream.yaml")
	if err := os.WriteFile(path, []byte("audio:\n  target_rate: 22050\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.TargetRate != 22050 {
		t.Errorf("target_rate = %d", cfg.Audio.TargetRate)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// Not parallel: mutates the process environment.
func TestEnvOverrides(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "from-env")
	t.Setenv(config.EnvLanguage, "ar-AE")

	cfg, err := config.LoadFromReader(strings.NewReader("asr:\n  api_key: from-file\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.ASR.APIKey != "from-env" {
		t.Errorf("api key = %q, want from-env", cfg.ASR.APIKey)
	}
	if got, _ := cfg.ASR.Endpoint(); got != "wss://chatda.api.emotechlab.com/asr/ws/ar" {
		t.Errorf("endpoint = %q, want arabic endpoint", got)
	}
}

// Not parallel: mutates the process environment.
func TestLoadEnv_File(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")
	os.Unsetenv(config.EnvAPIKey)

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte(config.EnvAPIKey+"=dotenv-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := config.LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv(config.EnvAPIKey); got != "dotenv-key" {
		t.Errorf("%s = %q, want dotenv-key", config.EnvAPIKey, got)
	}

	if err := config.LoadEnv(filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Error("expected error for explicit missing env file")
	}
}
