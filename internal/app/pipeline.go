package app

import (
	"context"
	"time"

	"github.com/MrWong99/voxstream/pkg/audio"
)

// pump feeds every captured block through the pipeline until the source
// closes its channel or ctx ends.
func (a *App) pump(ctx context.Context, blocks <-chan audio.Block) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-blocks:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrCaptureEnded
			}
			a.process(b)
		}
	}
}

// process resamples, encodes and offers one block to the session. It never
// blocks: a frame the session cannot take right now is dropped.
func (a *App) process(b audio.Block) {
	if a.paused.Load() {
		return
	}
	start := time.Now()

	rb := audio.ResampleBlock(b, a.cfg.Audio.TargetRate)
	frame := a.enc.Headerless(rb.Samples)
	if a.sessions.MaybeSend(frame) && a.recording != nil {
		a.recording.Append(rb)
	}

	a.metrics.BlockDuration.Record(context.Background(), time.Since(start).Seconds())
}
