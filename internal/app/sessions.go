package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/voxstream/internal/config"
	"github.com/MrWong99/voxstream/internal/session"
	"github.com/MrWong99/voxstream/internal/token"
)

// Default retry parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// backoff yields exponentially growing delays between failed session starts.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	maxRetries int

	current  time.Duration
	attempts int
}

func newBackoff(cfg config.RunnerConfig) *backoff {
	b := &backoff{
		initial:    cfg.Backoff,
		max:        cfg.MaxBackoff,
		maxRetries: cfg.MaxRetries,
	}
	if b.maxRetries <= 0 {
		b.maxRetries = defaultMaxRetries
	}
	if b.initial <= 0 {
		b.initial = defaultBackoff
	}
	if b.max <= 0 {
		b.max = defaultMaxBackoff
	}
	b.current = b.initial
	return b
}

// next returns the delay before the next attempt, or false once the retry
// budget is spent.
func (b *backoff) next() (time.Duration, bool) {
	if b.attempts >= b.maxRetries {
		return 0, false
	}
	b.attempts++
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d, true
}

func (b *backoff) reset() {
	b.current = b.initial
	b.attempts = 0
}

// ErrEmptySession marks a session the recognizer closed normally before any
// audio frame was forwarded. It is retried with backoff like a failed one.
var ErrEmptySession = errors.New("app: session ended without audio")

// retryable reports whether a failed session is worth another attempt.
func retryable(err error) bool {
	return errors.Is(err, session.ErrConnectionFailed) ||
		errors.Is(err, token.ErrTokenRequestFailed) ||
		errors.Is(err, ErrEmptySession)
}

// runSessions runs recognition sessions back to back. With single-utterance
// recognition each session ends after one utterance and the next one starts
// right away.
func (a *App) runSessions(ctx context.Context) error {
	limit := a.cfg.Runner.MaxSessions
	bo := newBackoff(a.cfg.Runner)

	for done := 0; limit == 0 || done < limit; {
		if ctx.Err() != nil {
			return nil
		}

		sent, err := a.runSession(ctx)
		if err == nil && sent == 0 && !a.Paused() {
			err = ErrEmptySession
		}
		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil:
			done++
			bo.reset()
			a.setLastErr(nil)
			if sent == 0 {
				// Paused: nothing to recognize, so do not redial at full speed.
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(bo.initial):
				}
			}
			continue
		case !retryable(err):
			a.setLastErr(err)
			return fmt.Errorf("app: session: %w", err)
		}

		a.setLastErr(err)
		wait, ok := bo.next()
		if !ok {
			slog.Error("session failed after max retries", "max_retries", bo.maxRetries, "err", err)
			return fmt.Errorf("app: giving up after %d retries: %w", bo.maxRetries, err)
		}
		slog.Warn("session failed, retrying",
			"attempt", bo.attempts,
			"max_retries", bo.maxRetries,
			"backoff", wait,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}

	slog.Info("session limit reached", "sessions", limit)
	return nil
}

// runSession runs one session to completion and reports how many frames it
// forwarded. Cancelling ctx stops it gracefully: the stop message is sent and
// the recognizer gets the chance to deliver its final result.
func (a *App) runSession(ctx context.Context) (uint64, error) {
	stopSession := func() {
		sctx, cancel := context.WithTimeout(context.Background(), a.stopTimeout())
		defer cancel()
		_ = a.sessions.Stop(sctx)
	}
	release := context.AfterFunc(ctx, stopSession)
	defer release()

	if a.recording != nil {
		a.recording.Reset()
	}

	sent0, dropped0 := a.sessions.Frames()
	if err := a.sessions.Start(context.WithoutCancel(ctx)); err != nil {
		return 0, err
	}
	if ctx.Err() != nil {
		// Cancelled before Start entered the state machine.
		stopSession()
	}

	<-a.sessions.Done()
	err := a.sessions.Err()
	sent, dropped := a.sessions.Frames()
	sent, dropped = sent-sent0, dropped-dropped0
	slog.Info("session finished",
		"session_id", a.sessions.ID(),
		"frames_sent", sent,
		"frames_dropped", dropped,
		"err", err,
	)
	return sent, err
}

// sessionClosed exports the recording of a finished session.
func (a *App) sessionClosed(sessionID string) {
	if a.recording == nil {
		return
	}
	samples := a.recording.Len()
	wav := a.recording.TakeWAV()
	if wav == nil {
		return
	}
	path := filepath.Join(a.cfg.Audio.RecordDir, "voxstream-"+sessionID+".wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		slog.Warn("failed to write session recording", "session_id", sessionID, "path", path, "err", err)
		return
	}
	slog.Info("session recording saved", "session_id", sessionID, "path", path, "samples", samples, "sample_rate", a.recording.SampleRate(), "bytes", len(wav))
}
