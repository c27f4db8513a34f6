// Package transport carries encoded PCM frames and control messages to the
// recognizer over a websocket and decides, frame by frame, whether audio may
// be forwarded at all.
//
// The audio path never blocks: a [Link] accepts a frame only when its send
// queue has room, and the [Gate] drops every frame it cannot forward
// immediately. A late audio frame is worse than a missing one.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

// DefaultQueueSize is the default capacity of a [WSLink] send queue.
const DefaultQueueSize = 4

var (
	// ErrLinkClosed is returned when sending on a closed link.
	ErrLinkClosed = errors.New("transport: link closed")

	// ErrBackpressure is returned by [Link.Send] when the send queue is full.
	ErrBackpressure = errors.New("transport: send queue full")
)

// Link is a duplex message channel to the recognizer.
type Link interface {
	// Writable reports whether the link is open and can accept a message
	// without blocking.
	Writable() bool

	// Send enqueues msg without blocking. It fails with [ErrBackpressure]
	// when the queue is full and [ErrLinkClosed] once the link is closed.
	Send(msg []byte) error

	// SendControl enqueues msg, waiting for queue space. Control messages
	// share the audio queue, so ordering relative to audio is preserved.
	SendControl(ctx context.Context, msg []byte) error

	// Closed is closed once the link is down, whether the peer closed it or
	// Close was called.
	Closed() <-chan struct{}

	// Close tears the link down. Safe to call more than once.
	Close() error
}

// MessageHandler receives every inbound text message.
type MessageHandler func(data []byte)

// WSLink is a [Link] over a coder/websocket connection. A single writer
// goroutine drains the send queue in order; a reader goroutine hands inbound
// messages to the configured handler.
type WSLink struct {
	conn      *websocket.Conn
	queue     chan []byte
	onMessage MessageHandler

	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	peerErr atomic.Pointer[error]
}

var _ Link = (*WSLink)(nil)

// LinkOption configures a [WSLink].
type LinkOption func(*WSLink)

// WithQueueSize sets the send queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) LinkOption {
	return func(l *WSLink) {
		if n > 0 {
			l.queue = make(chan []byte, n)
		}
	}
}

// WithMessageHandler registers the inbound message handler. Handlers run on
// the reader goroutine and must not block for long.
func WithMessageHandler(h MessageHandler) LinkOption {
	return func(l *WSLink) { l.onMessage = h }
}

// NewWSLink starts the reader and writer goroutines for conn. The link owns
// conn from here on.
func NewWSLink(conn *websocket.Conn, opts ...LinkOption) *WSLink {
	ctx, cancel := context.WithCancel(context.Background())
	l := &WSLink{
		conn:   conn,
		queue:  make(chan []byte, DefaultQueueSize),
		cancel: cancel,
		closed: make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}

	l.wg.Add(2)
	go l.readLoop(ctx)
	go l.writeLoop(ctx)
	return l
}

// Dial opens a websocket to url and wraps it in a [WSLink].
func Dial(ctx context.Context, url string, opts ...LinkOption) (*WSLink, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return NewWSLink(conn, opts...), nil
}

// Writable implements [Link].
func (l *WSLink) Writable() bool {
	select {
	case <-l.closed:
		return false
	default:
	}
	return len(l.queue) < cap(l.queue)
}

// Send implements [Link].
func (l *WSLink) Send(msg []byte) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	select {
	case l.queue <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

// SendControl implements [Link].
func (l *WSLink) SendControl(ctx context.Context, msg []byte) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	select {
	case l.queue <- msg:
		return nil
	case <-l.closed:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed implements [Link].
func (l *WSLink) Closed() <-chan struct{} { return l.closed }

// PeerErr returns the error that ended the read side, if any. A normal
// closure by the peer yields an error whose websocket.CloseStatus is
// StatusNormalClosure.
func (l *WSLink) PeerErr() error {
	if p := l.peerErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Close implements [Link].
func (l *WSLink) Close() error {
	l.markClosed()
	// Errors here only mean the connection was already gone.
	_ = l.conn.Close(websocket.StatusNormalClosure, "session closed")
	l.cancel()
	l.wg.Wait()
	return nil
}

func (l *WSLink) markClosed() {
	l.closeOnce.Do(func() { close(l.closed) })
}

func (l *WSLink) readLoop(ctx context.Context) {
	defer l.wg.Done()
	defer l.markClosed()
	for {
		typ, data, err := l.conn.Read(ctx)
		if err != nil {
			l.peerErr.Store(&err)
			return
		}
		if typ != websocket.MessageText {
			slog.Debug("transport: ignoring binary message", "bytes", len(data))
			continue
		}
		if l.onMessage != nil {
			l.onMessage(data)
		}
	}
}

func (l *WSLink) writeLoop(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case msg := <-l.queue:
			if err := l.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				slog.Debug("transport: write failed", "err", err)
				l.markClosed()
				return
			}
		case <-l.closed:
			return
		}
	}
}
