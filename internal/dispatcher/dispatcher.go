// Package dispatcher implements the process-wide delivery singleton (§4.5):
// strategy selection by receiver predicate, and a background goroutine that
// drains roaming-redirect jobs.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dim-network/station/internal/ident"
	"github.com/dim-network/station/internal/message"
)

// Strategy selects and executes one deliver strategy (§4.6).
type Strategy interface {
	Deliver(ctx context.Context, msg *message.ReliableMessage, receiver ident.ID) ([]*message.Content, error)
}

// RoamingJob is one queued addRoaming(user, station) request (§4.5).
type RoamingJob struct {
	User    string
	Station string
}

// Dispatcher is constructed once at boot and threaded explicitly into the
// messenger and deliver strategies (§9: no hidden globals).
type Dispatcher struct {
	user      Strategy
	bot       Strategy
	group     Strategy
	broadcast Strategy
	station   Strategy
	logger    *slog.Logger

	mu     sync.Mutex
	jobs   []RoamingJob
	notify chan struct{}
	done   chan struct{}
}

// Strategies bundles the five deliver strategies a Dispatcher routes to.
type Strategies struct {
	User      Strategy
	Bot       Strategy
	Group     Strategy
	Broadcast Strategy
	Station   Strategy
}

// New constructs a Dispatcher.
func New(strategies Strategies, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		user:      strategies.User,
		bot:       strategies.Bot,
		group:     strategies.Group,
		broadcast: strategies.Broadcast,
		station:   strategies.Station,
		logger:    logger,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// SetBroadcast installs the broadcast strategy after construction. Needed
// at boot because BroadcastDeliver itself holds a reference back to the
// Dispatcher it recurses into (§4.7); cmd/station constructs the
// Dispatcher first, then builds BroadcastDeliver around it, then calls
// SetBroadcast to close the cycle.
func (d *Dispatcher) SetBroadcast(s Strategy) {
	d.mu.Lock()
	d.broadcast = s
	d.mu.Unlock()
}

// Deliver selects a strategy by receiver predicate and runs it (§4.5:
// "select a strategy by receiver predicate (broadcast → Broadcast; group →
// Group; else → User/Bot/Station by receiver.type)").
func (d *Dispatcher) Deliver(ctx context.Context, msg *message.ReliableMessage, receiver ident.ID) ([]*message.Content, error) {
	strategy, err := d.selectStrategy(receiver)
	if err != nil {
		return nil, err
	}
	return strategy.Deliver(ctx, msg, receiver)
}

func (d *Dispatcher) selectStrategy(receiver ident.ID) (Strategy, error) {
	switch {
	case receiver.IsBroadcast():
		if d.broadcast == nil {
			return nil, fmt.Errorf("dispatcher: no broadcast strategy configured")
		}
		return d.broadcast, nil
	case receiver.IsGroup():
		if d.group == nil {
			return nil, fmt.Errorf("dispatcher: no group strategy configured")
		}
		return d.group, nil
	case receiver.IsStation():
		if d.station == nil {
			return nil, fmt.Errorf("dispatcher: no station strategy configured")
		}
		return d.station, nil
	case receiver.Type() == ident.TypeBot:
		if d.bot == nil {
			return nil, fmt.Errorf("dispatcher: no bot strategy configured")
		}
		return d.bot, nil
	default:
		if d.user == nil {
			return nil, fmt.Errorf("dispatcher: no user strategy configured")
		}
		return d.user, nil
	}
}

// AddRoaming enqueues a redirect job for the background loop (§4.5, §4.8).
// Satisfies messenger.Roamer so the content processor's login handler can
// call it directly.
func (d *Dispatcher) AddRoaming(_ context.Context, user, station string) {
	d.mu.Lock()
	d.jobs = append(d.jobs, RoamingJob{User: user, Station: station})
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// RoamingHandler processes one dequeued roaming job. internal/roamer
// implements this; Dispatcher only owns the queue and the loop, mirroring
// how PushCenter owns the queue while Handler implementations own delivery
// (§4.10, §9: small, swappable implementations behind one-method
// interfaces).
type RoamingHandler interface {
	HandleRoaming(ctx context.Context, job RoamingJob) error
}

// Run drains roaming jobs until ctx is canceled, handing each to handler
// (§5: "One Dispatcher background task: drains roaming redirect jobs").
func (d *Dispatcher) Run(ctx context.Context, handler RoamingHandler) error {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.drain(ctx, handler)
			return ctx.Err()
		case <-d.notify:
			d.drain(ctx, handler)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, handler RoamingHandler) {
	for {
		d.mu.Lock()
		if len(d.jobs) == 0 {
			d.mu.Unlock()
			return
		}
		job := d.jobs[0]
		d.jobs = d.jobs[1:]
		d.mu.Unlock()

		if err := handler.HandleRoaming(ctx, job); err != nil {
			d.logger.Warn("roaming job failed",
				slog.String("user", job.User), slog.String("station", job.Station),
				slog.String("error", err.Error()))
		}
	}
}

// PendingJobs returns the number of queued roaming jobs, exported for
// metrics/tests.
func (d *Dispatcher) PendingJobs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}
