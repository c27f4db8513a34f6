package transport

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// DropReason says why [Gate.MaybeSend] discarded a frame.
type DropReason string

const (
	DropEmpty        DropReason = "empty"
	DropNotStreaming DropReason = "not_streaming"
	DropNotWritable  DropReason = "not_writable"
)

// AudioMessage is the wire form of one audio frame.
type AudioMessage struct {
	Request string `json:"request"`
	Data    string `json:"data"`
}

// Hooks observe gate decisions. Either field may be nil.
type Hooks struct {
	// OnSent is called with the PCM byte count of every forwarded frame.
	OnSent func(bytes int)

	// OnDropped is called for every discarded frame.
	OnDropped func(reason DropReason)
}

// Gate decides whether an encoded PCM frame is forwarded. A frame goes out
// only while the gate is open (the session is streaming) and the attached
// link is writable at that instant; anything else is dropped, never queued
// or retried.
//
// Opening, shutting and sending are serialised, so once [Gate.Shut] returns
// no further frame can reach the link.
type Gate struct {
	hooks Hooks

	mu        sync.Mutex
	link      Link
	streaming bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewGate returns a shut gate with no link attached.
func NewGate(hooks Hooks) *Gate {
	return &Gate{hooks: hooks}
}

// Attach sets the link frames are forwarded to. The gate stays shut.
func (g *Gate) Attach(l Link) {
	g.mu.Lock()
	g.link = l
	g.streaming = false
	g.mu.Unlock()
}

// Detach shuts the gate and forgets the link.
func (g *Gate) Detach() {
	g.mu.Lock()
	g.link = nil
	g.streaming = false
	g.mu.Unlock()
}

// Open starts forwarding frames. It has no effect without an attached link.
func (g *Gate) Open() {
	g.mu.Lock()
	g.streaming = g.link != nil
	g.mu.Unlock()
}

// Shut stops forwarding frames.
func (g *Gate) Shut() {
	g.mu.Lock()
	g.streaming = false
	g.mu.Unlock()
}

// Streaming reports whether the gate is open.
func (g *Gate) Streaming() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streaming
}

// MaybeSend forwards frame as an audio message if the gate is open and the
// link can take it right now. It reports whether the frame was forwarded.
func (g *Gate) MaybeSend(frame []byte) bool {
	if len(frame) == 0 {
		g.drop(DropEmpty)
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.streaming || g.link == nil {
		g.drop(DropNotStreaming)
		return false
	}
	if !g.link.Writable() {
		g.drop(DropNotWritable)
		return false
	}

	data := EncodeBase64(frame)
	msg, err := json.Marshal(AudioMessage{Request: "audio", Data: data})
	if err != nil {
		g.drop(DropNotWritable)
		return false
	}
	if err := g.link.Send(msg); err != nil {
		g.drop(DropNotWritable)
		return false
	}

	g.sent.Add(1)
	if g.hooks.OnSent != nil {
		g.hooks.OnSent(len(frame))
	}
	return true
}

// Sent returns the number of forwarded frames.
func (g *Gate) Sent() uint64 { return g.sent.Load() }

// Dropped returns the number of discarded frames.
func (g *Gate) Dropped() uint64 { return g.dropped.Load() }

func (g *Gate) drop(reason DropReason) {
	g.dropped.Add(1)
	if g.hooks.OnDropped != nil {
		g.hooks.OnDropped(reason)
	}
}
