package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
)

// fakeLink records every message handed to it.
type fakeLink struct {
	mu       sync.Mutex
	writable bool
	sent     [][]byte
	control  [][]byte
	sendErr  error
	closed   chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{writable: true, closed: make(chan struct{})}
}

func (f *fakeLink) Writable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writable
}

func (f *fakeLink) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeLink) SendControl(_ context.Context, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.control = append(f.control, msg)
	return nil
}

func (f *fakeLink) Closed() <-chan struct{} { return f.closed }
func (f *fakeLink) Close() error            { return nil }

func (f *fakeLink) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// recordingHooks counts gate decisions per reason.
func recordingHooks() (Hooks, map[DropReason]int, *int) {
	drops := map[DropReason]int{}
	sent := new(int)
	var mu sync.Mutex
	return Hooks{
		OnSent: func(int) {
			mu.Lock()
			*sent++
			mu.Unlock()
		},
		OnDropped: func(r DropReason) {
			mu.Lock()
			drops[r]++
			mu.Unlock()
		},
	}, drops, sent
}

func TestGate_DropsWhenNotStreaming(t *testing.T) {
	t.Parallel()

	hooks, drops, _ := recordingHooks()
	link := newFakeLink()
	g := NewGate(hooks)
	g.Attach(link)

	if g.MaybeSend([]byte{1, 2}) {
		t.Fatal("frame forwarded while gate shut")
	}
	if link.sentCount() != 0 {
		t.Errorf("link received %d messages, want 0", link.sentCount())
	}
	if drops[DropNotStreaming] != 1 {
		t.Errorf("not_streaming drops = %d, want 1", drops[DropNotStreaming])
	}
}

func TestGate_DropsEmptyFrameEvenWhenStreaming(t *testing.T) {
	t.Parallel()

	hooks, drops, _ := recordingHooks()
	link := newFakeLink()
	g := NewGate(hooks)
	g.Attach(link)
	g.Open()

	if g.MaybeSend(nil) || g.MaybeSend([]byte{}) {
		t.Fatal("empty frame forwarded")
	}
	if link.sentCount() != 0 {
		t.Errorf("link received %d messages, want 0", link.sentCount())
	}
	if drops[DropEmpty] != 2 {
		t.Errorf("empty drops = %d, want 2", drops[DropEmpty])
	}
}

func TestGate_DropsWhenLinkNotWritable(t *testing.T) {
	t.Parallel()

	hooks, drops, _ := recordingHooks()
	link := newFakeLink()
	link.writable = false
	g := NewGate(hooks)
	g.Attach(link)
	g.Open()

	if g.MaybeSend([]byte{1, 2}) {
		t.Fatal("frame forwarded to unwritable link")
	}
	if link.sentCount() != 0 {
		t.Errorf("link received %d messages, want 0", link.sentCount())
	}
	if drops[DropNotWritable] != 1 {
		t.Errorf("not_writable drops = %d, want 1", drops[DropNotWritable])
	}
}

func TestGate_DropsOnBackpressure(t *testing.T) {
	t.Parallel()

	link := newFakeLink()
	link.sendErr = ErrBackpressure
	g := NewGate(Hooks{})
	g.Attach(link)
	g.Open()

	if g.MaybeSend([]byte{1, 2}) {
		t.Fatal("frame reported as sent despite backpressure")
	}
	if g.Dropped() != 1 || g.Sent() != 0 {
		t.Errorf("sent=%d dropped=%d, want 0/1", g.Sent(), g.Dropped())
	}
}

func TestGate_ForwardsAudioMessage(t *testing.T) {
	t.Parallel()

	hooks, _, sent := recordingHooks()
	link := newFakeLink()
	g := NewGate(hooks)
	g.Attach(link)
	g.Open()

	frame := []byte{0x01, 0x00, 0xff, 0x7f}
	if !g.MaybeSend(frame) {
		t.Fatal("frame not forwarded")
	}
	if *sent != 1 {
		t.Errorf("OnSent calls = %d, want 1", *sent)
	}

	var msg AudioMessage
	if err := json.Unmarshal(link.sent[0], &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Request != "audio" {
		t.Errorf("request = %q, want audio", msg.Request)
	}
	if msg.Data != base64.StdEncoding.EncodeToString(frame) {
		t.Errorf("data = %q", msg.Data)
	}
}

func TestGate_OpenWithoutLinkStaysShut(t *testing.T) {
	t.Parallel()

	g := NewGate(Hooks{})
	g.Open()
	if g.Streaming() {
		t.Error("gate opened without a link")
	}
	if g.MaybeSend([]byte{1, 2}) {
		t.Error("frame forwarded without a link")
	}
}

func TestGate_ShutAndDetach(t *testing.T) {
	t.Parallel()

	link := newFakeLink()
	g := NewGate(Hooks{})
	g.Attach(link)
	g.Open()
	if !g.MaybeSend([]byte{1, 2}) {
		t.Fatal("expected first frame to be forwarded")
	}

	g.Shut()
	if g.MaybeSend([]byte{1, 2}) {
		t.Error("frame forwarded after Shut")
	}

	g.Open()
	g.Detach()
	if g.MaybeSend([]byte{1, 2}) {
		t.Error("frame forwarded after Detach")
	}
	if link.sentCount() != 1 {
		t.Errorf("link received %d messages, want 1", link.sentCount())
	}
}

func TestGate_NoFrameAfterShutReturns(t *testing.T) {
	t.Parallel()

	link := newFakeLink()
	g := NewGate(Hooks{})
	g.Attach(link)
	g.Open()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					g.MaybeSend([]byte{1, 2})
				}
			}
		}()
	}

	g.Shut()
	after := link.sentCount()
	_ = link.SendControl(context.Background(), []byte(`{"request":"stop"}`))
	close(stop)
	wg.Wait()

	if got := link.sentCount(); got != after {
		t.Errorf("%d frames reached the link after Shut returned", got-after)
	}
}
