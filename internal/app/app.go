// Package app wires capture, encoding and the recognition session into a
// running voxstream client.
//
// New builds every subsystem from the config, Run pumps microphone blocks
// through resample → encode → gate while running successive recognition
// sessions, and Shutdown releases the device.
//
// For testing, inject doubles via functional options (WithSource,
// WithTokenSource, WithMetrics). When an option is not provided, New creates
// the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxstream/internal/config"
	"github.com/MrWong99/voxstream/internal/observe"
	"github.com/MrWong99/voxstream/internal/session"
	"github.com/MrWong99/voxstream/internal/token"
	"github.com/MrWong99/voxstream/pkg/audio"
	"github.com/MrWong99/voxstream/pkg/audio/capture"
)

// ErrCaptureEnded is returned by Run when the capture source stops
// delivering blocks on its own.
var ErrCaptureEnded = errors.New("app: capture ended")

// App owns the capture source and the session manager.
type App struct {
	cfg *config.Config

	source      capture.Source
	tokens      session.TokenSource
	metrics     *observe.Metrics
	observer    session.Observer
	sessionOpts []session.Option

	enc       audio.Encoder
	recording *audio.Recording
	sessions  *session.Manager

	paused atomic.Bool

	mu      sync.Mutex
	lastErr error

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a capture source instead of opening the configured
// device.
func WithSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// WithTokenSource injects a token source instead of creating a token client.
func WithTokenSource(ts session.TokenSource) Option {
	return func(a *App) { a.tokens = ts }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithObserver receives every recognizer message.
func WithObserver(o session.Observer) Option {
	return func(a *App) { a.observer = o }
}

// WithSessionOptions passes extra options to the session manager.
func WithSessionOptions(opts ...session.Option) Option {
	return func(a *App) { a.sessionOpts = append(a.sessionOpts, opts...) }
}

// New creates an App from cfg. It opens the capture device unless one is
// injected.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	endpoint, ok := cfg.ASR.Endpoint()
	if !ok {
		return nil, fmt.Errorf("app: no recognizer endpoint for language %q", cfg.ASR.Language)
	}

	if a.source == nil {
		src, err := capture.Open(capture.Config{
			Device:    cfg.Audio.Device,
			BlockSize: cfg.Audio.FramesPerBlock,
			Channels:  cfg.Audio.Channels,
		})
		if err != nil {
			return nil, fmt.Errorf("app: open capture: %w", err)
		}
		a.source = src
	}
	a.closers = append(a.closers, a.source.Close)

	if a.tokens == nil {
		met := a.metrics
		a.tokens = token.NewClient(cfg.ASR.TokenURL,
			token.WithPaths(cfg.ASR.TokenInitPath, cfg.ASR.TokenRefreshPath),
			token.WithRequestHook(func(kind, status string) {
				met.RecordTokenRequest(context.Background(), kind, status)
			}),
		)
	}

	a.enc = audio.Encoder{Volume: cfg.Audio.Volume}
	if dir := cfg.Audio.RecordDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("app: create record dir: %w", err)
		}
		a.recording = audio.NewRecording(cfg.Audio.TargetRate, a.enc)
	}

	sessOpts := []session.Option{session.WithMetrics(a.metrics)}
	if a.observer != nil {
		sessOpts = append(sessOpts, session.WithObserver(a.observer))
	}
	sessOpts = append(sessOpts, a.sessionOpts...)

	a.sessions = session.NewManager(session.Config{
		APIKey:     cfg.ASR.APIKey,
		Endpoint:   endpoint,
		SampleRate: cfg.Audio.TargetRate,
		Policy: session.Policy{
			SingleUtterance:  cfg.ASR.Policy.SingleUtterance,
			KeepConnection:   cfg.ASR.Policy.KeepConnection,
			PartialInterval:  cfg.ASR.Policy.PartialInterval,
			ReuseTolerance:   cfg.ASR.Policy.ReuseTolerance,
			SilenceThreshold: cfg.ASR.Policy.SilenceThreshold,
		},
		StopTimeout: cfg.Transport.StopTimeout,
		QueueSize:   cfg.Transport.SendQueue,
	}, a.tokens, sessOpts...)
	a.sessions.OnClosed(a.sessionClosed)

	return a, nil
}

// Sessions exposes the session manager, e.g. for state inspection.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Run captures audio and runs recognition sessions until ctx is cancelled,
// the configured session limit is reached, retries are exhausted or capture
// ends. A graceful shutdown through ctx returns nil. The capture device is
// released before Run returns, whatever the outcome.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.releaseSource()

	blocks, err := a.source.Start(ctx)
	if err != nil {
		return fmt.Errorf("app: start capture: %w", err)
	}
	slog.Info("voxstream running",
		"native_rate", a.source.NativeRate(),
		"target_rate", a.cfg.Audio.TargetRate,
		"language", a.cfg.ASR.Language,
		"frame_bytes", 2*audio.ResampledLen(a.cfg.Audio.FramesPerBlock, a.source.NativeRate(), a.cfg.Audio.TargetRate),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return a.pump(gctx, blocks)
	})
	g.Go(func() error {
		defer cancel()
		return a.runSessions(gctx)
	})
	return g.Wait()
}

// releaseSource closes the capture source. Close is idempotent, so the
// closer run by Shutdown stays harmless.
func (a *App) releaseSource() {
	if err := a.source.Close(); err != nil {
		slog.Warn("capture close error", "err", err)
	}
}

// Pause discards captured blocks before they reach the session until Resume.
func (a *App) Pause() {
	if !a.paused.Swap(true) {
		slog.Info("capture paused")
	}
}

// Resume undoes Pause.
func (a *App) Resume() {
	if a.paused.Swap(false) {
		slog.Info("capture resumed")
	}
}

// Paused reports whether capture is paused.
func (a *App) Paused() bool { return a.paused.Load() }

// Ready returns the error that ended the last session if it was a failure,
// nil otherwise. Suitable as a readiness check.
func (a *App) Ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *App) setLastErr(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
}

// Shutdown stops the current session and releases the capture device. If
// ctx expires before all closers finish, the rest are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Stop(ctx); err != nil {
			slog.Warn("session stop error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// stopTimeout bounds a graceful stop triggered by shutdown.
func (a *App) stopTimeout() time.Duration {
	if d := a.cfg.Transport.StopTimeout; d > 0 {
		return d + time.Second
	}
	return 6 * time.Second
}
