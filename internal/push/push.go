// Package push implements the asynchronous out-of-band notification
// fan-out center (§4.10). It is modeled as a bounded background loop for
// §9's "coroutine/async delivery loop" pattern: notifications are appended
// to a mutex-guarded slice, a one-slot channel wakes the single consumer
// goroutine (Run), and when Run's context is canceled it drains what is
// left in the slice and returns.
package push

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ContentKind classifies the originating message for notification-text
// synthesis (§4.10).
type ContentKind uint8

const (
	KindText ContentKind = iota
	KindFile
	KindImage
	KindAudio
	KindVideo
	KindMoney
)

// Notification is one out-of-band push request.
type Notification struct {
	ID       string
	Sender   string
	Receiver string
	Title    string
	Kind     ContentKind
	Image    string
	Badge    int
	Sound    string
}

// Handler is a registered push-service backend (APNs, FCM, web-push, ...).
// Handlers are invoked synchronously by the single drain goroutine; slow
// handlers should dispatch their own I/O asynchronously internally.
type Handler interface {
	Push(ctx context.Context, n Notification) error
}

// Back-pressure thresholds (§4.10).
const (
	warnQueueDepth = 65535
	maxQueueDepth  = 100000
)

// Center is the process-wide push notification fan-out. Constructed once
// at boot and threaded explicitly into deliver strategies (§9: avoid
// hidden globals).
type Center struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers []Handler

	queueMu sync.Mutex
	queue   []Notification
	notify  chan struct{}
	done    chan struct{}
	stopped bool
}

// NewCenter creates a Center with no registered handlers.
func NewCenter(logger *slog.Logger) *Center {
	return &Center{
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Register adds a push-service handler.
func (c *Center) Register(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// AddNotification enqueues a notification for asynchronous delivery
// (§4.10). Returns false if the queue is at capacity and the notification
// was dropped.
func (c *Center) AddNotification(sender, receiver, title string, kind ContentKind, image, sound string, badge int) bool {
	n := Notification{
		ID:       uuid.NewString(),
		Sender:   sender,
		Receiver: receiver,
		Title:    title,
		Kind:     kind,
		Image:    image,
		Badge:    badge,
		Sound:    sound,
	}

	c.queueMu.Lock()
	depth := len(c.queue)
	if depth >= maxQueueDepth {
		c.queueMu.Unlock()
		c.logger.Warn("push queue full, dropping notification",
			slog.Int("depth", depth), slog.String("receiver", receiver))
		return false
	}
	if depth >= warnQueueDepth {
		c.logger.Warn("push queue depth high",
			slog.Int("depth", depth))
	}
	c.queue = append(c.queue, n)
	c.queueMu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// Depth returns the current queue length, exported for metrics.
func (c *Center) Depth() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue)
}

// Run drains the notification queue until ctx is canceled. Intended to be
// run as the Center's single background goroutine (one per process, per
// §5).
func (c *Center) Run(ctx context.Context) error {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.drainRemaining(ctx)
			return ctx.Err()
		case <-c.notify:
			c.drainRemaining(ctx)
		}
	}
}

func (c *Center) drainRemaining(ctx context.Context) {
	for {
		c.queueMu.Lock()
		if len(c.queue) == 0 {
			c.queueMu.Unlock()
			return
		}
		n := c.queue[0]
		c.queue = c.queue[1:]
		c.queueMu.Unlock()

		c.dispatch(ctx, n)
	}
}

func (c *Center) dispatch(ctx context.Context, n Notification) {
	c.mu.RLock()
	handlers := append([]Handler(nil), c.handlers...)
	c.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Push(ctx, n); err != nil {
			c.logger.Warn("push handler failed",
				slog.String("notification_id", n.ID), slog.String("error", err.Error()))
		}
	}
}
