// Package mock provides an in-memory [capture.Source] for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and it exposes exported fields that the
// test can set to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Rate:   48000,
//	    Blocks: []audio.Block{{Samples: make([]float32, 1024), SampleRate: 48000, Channels: 1}},
//	}
//	blocks, err := src.Start(ctx)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxstream/pkg/audio"
	"github.com/MrWong99/voxstream/pkg/audio/capture"
)

var _ capture.Source = (*Source)(nil)

// Source is a scripted [capture.Source]. Set the exported fields before
// calling Start; inspect the CallCount* fields afterwards.
type Source struct {
	mu sync.Mutex

	// Rate is returned by NativeRate.
	Rate int

	// Blocks are emitted in order after Start.
	Blocks []audio.Block

	// Interval is the delay between emitted blocks. Zero emits back-to-back.
	Interval time.Duration

	// HoldOpen keeps the block channel open after all Blocks were emitted,
	// until Close is called or the context is cancelled.
	HoldOpen bool

	// StartErr, when non-nil, is returned by Start.
	StartErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	started bool
	closed  bool
	done    chan struct{}
}

// NativeRate implements [capture.Source].
func (s *Source) NativeRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rate
}

// Start implements [capture.Source].
func (s *Source) Start(ctx context.Context) (<-chan audio.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	if s.closed {
		return nil, capture.ErrClosed
	}
	if s.started {
		return nil, capture.ErrBusy
	}
	s.started = true
	s.done = make(chan struct{})

	blocks := append([]audio.Block(nil), s.Blocks...)
	out := make(chan audio.Block)
	go s.emit(ctx, blocks, s.Interval, s.HoldOpen, s.done, out)
	return out, nil
}

func (s *Source) emit(ctx context.Context, blocks []audio.Block, interval time.Duration, hold bool, done <-chan struct{}, out chan<- audio.Block) {
	defer close(out)
	for i, b := range blocks {
		if i > 0 && interval > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
		select {
		case out <- b:
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
	if hold {
		select {
		case <-ctx.Done():
		case <-done:
		}
	}
}

// Close implements [capture.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		if s.done != nil {
			close(s.done)
		}
	}
	return s.CloseErr
}

// Closed reports whether Close has been called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
