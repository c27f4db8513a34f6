// Command voxstream streams microphone audio to a speech recognizer and
// prints every recognition result as a JSON line on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MrWong99/voxstream/internal/app"
	"github.com/MrWong99/voxstream/internal/config"
	"github.com/MrWong99/voxstream/internal/health"
	"github.com/MrWong99/voxstream/internal/observe"
	"github.com/MrWong99/voxstream/internal/session"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults only when empty)")
	envFile := flag.String("env", "", "dotenv file to load before reading the config (default: .env if present)")
	recordDir := flag.String("record-dir", "", "write a WAV file per session into this directory")
	language := flag.String("language", "", "recognizer language, overrides the config")
	flag.Parse()

	// ── Environment and configuration ─────────────────────────────────────────
	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	if err := config.LoadEnv(envFiles...); err != nil {
		fmt.Fprintf(os.Stderr, "voxstream: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath, *recordDir, *language)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxstream: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxstream: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Server.LogLevel.Level()})))

	slog.Info("voxstream starting",
		"version", version,
		"config", *configPath,
		"language", cfg.ASR.Language,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg, app.WithObserver(newPrinter(os.Stdout)))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Admin server ──────────────────────────────────────────────────────────
	var admin *http.Server
	if cfg.Server.ListenAddr != "" {
		admin = newAdminServer(cfg.Server.ListenAddr, tel.MetricsHandler, application)
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin server error", "err", err)
			}
		}()
		slog.Info("admin server listening", "addr", cfg.Server.ListenAddr)
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("listening, press Ctrl+C to stop")

	exit := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// loadConfig reads path when set and otherwise starts from the defaults.
// Flag overrides are applied last and the result is validated again.
func loadConfig(path, recordDir, language string) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
		config.ApplyEnv(cfg)
	}
	if recordDir != "" {
		cfg.Audio.RecordDir = recordDir
	}
	if language != "" {
		cfg.ASR.Language = language
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newAdminServer serves health probes, Prometheus metrics and the capture
// controls.
func newAdminServer(addr string, metrics http.Handler, application *app.App) *http.Server {
	mux := http.NewServeMux()
	health.New(health.Func("session", application.Ready)).Register(mux)
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /status", statusHandler(application))
	mux.HandleFunc("POST /pause", func(w http.ResponseWriter, r *http.Request) {
		application.Pause()
		statusHandler(application)(w, r)
	})
	mux.HandleFunc("POST /resume", func(w http.ResponseWriter, r *http.Request) {
		application.Resume()
		statusHandler(application)(w, r)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// status is the body of the capture control endpoints.
type status struct {
	State         string `json:"state"`
	SessionID     string `json:"session_id,omitempty"`
	Paused        bool   `json:"paused"`
	Streaming     bool   `json:"streaming"`
	HasToken      bool   `json:"has_token"`
	FramesSent    uint64 `json:"frames_sent"`
	FramesDropped uint64 `json:"frames_dropped"`
}

func statusHandler(application *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m := application.Sessions()
		sent, dropped := m.Frames()
		st := status{
			State:         m.State().String(),
			Paused:        application.Paused(),
			Streaming:     m.Streaming(),
			HasToken:      m.Token() != "",
			FramesSent:    sent,
			FramesDropped: dropped,
		}
		if m.State().Live() {
			st.SessionID = m.ID()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(st); err != nil {
			slog.Warn("failed to write status", "err", err)
		}
	}
}

// printer writes each recognizer message as one compact JSON line.
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newPrinter(w io.Writer) *printer {
	return &printer{enc: json.NewEncoder(w)}
}

// OnMessage implements [session.Observer].
func (p *printer) OnMessage(msg json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(msg); err != nil {
		slog.Warn("failed to print result", "err", err)
	}
}

var _ session.Observer = (*printer)(nil)
