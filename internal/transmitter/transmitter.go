// Package transmitter moves encoded events between the gate and the bus: four
// outbound streams keyed by destination and one inbound command stream.
package transmitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flashgate/internal/bus"
	"flashgate/internal/core"
	"flashgate/internal/event"
	"flashgate/pkg/telemetry"
)

const (
	fragmentLimit = 10
	idleSleep     = time.Millisecond
)

// StreamConfig addresses one stream on the bus
type StreamConfig struct {
	Channel  string
	StreamID int
}

// Config lists the streams the transmitter owns
type Config struct {
	Publishers map[core.Destination]StreamConfig
	Subscriber StreamConfig
}

// Transmitter publishes events with the gate's retry discipline and polls the
// command stream. Publish failures never propagate to callers: transient
// back-pressure blocks the offering task, everything else drops the event.
type Transmitter struct {
	pubs    map[core.Destination]bus.Publication
	sub     bus.Subscription
	handler bus.FragmentHandler
	logger  core.ILogger

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// New opens every configured stream on b
func New(b bus.Bus, cfg Config, logger core.ILogger) (*Transmitter, error) {
	t := &Transmitter{
		pubs:   make(map[core.Destination]bus.Publication, len(cfg.Publishers)),
		logger: logger.WithField("component", "transmitter"),
	}

	for dest, stream := range cfg.Publishers {
		pub, err := b.CreatePublication(stream.Channel, stream.StreamID)
		if err != nil {
			return nil, fmt.Errorf("publication %s: %w", dest, err)
		}
		t.pubs[dest] = pub
	}

	sub, err := b.CreateSubscription(cfg.Subscriber.Channel, cfg.Subscriber.StreamID)
	if err != nil {
		return nil, fmt.Errorf("command subscription: %w", err)
	}
	t.sub = sub
	return t, nil
}

// SetHandler registers the command handler. Must be called before Run.
func (t *Transmitter) SetHandler(h bus.FragmentHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Offer encodes ev once and publishes it to every listed destination
func (t *Transmitter) Offer(ctx context.Context, ev core.Event, dests ...core.Destination) {
	raw, err := event.Encode(ev)
	if err != nil {
		t.logger.Error("Failed to encode outbound event",
			"event_id", ev.EventID, "action", ev.Action, "error", err)
		return
	}
	for _, dest := range dests {
		t.offerRaw(ctx, raw, dest, ev)
	}
}

// Emit publishes ev to dest plus the LOGS mirror. Order book updates are the
// sole exception: they flow to their stream only, at too high a rate for the
// log plane.
func (t *Transmitter) Emit(ctx context.Context, ev core.Event, dest core.Destination) {
	if dest == core.DestinationOrderBook || dest == core.DestinationLogs {
		t.Offer(ctx, ev, dest)
		return
	}
	t.Offer(ctx, ev, dest, core.DestinationLogs)
}

func (t *Transmitter) offerRaw(ctx context.Context, raw []byte, dest core.Destination, ev core.Event) {
	pub, ok := t.pubs[dest]
	if !ok {
		t.logger.Error("No publication for destination", "destination", dest)
		return
	}

	for {
		err := pub.Offer(raw)
		switch {
		case err == nil:
			telemetry.GetGlobalMetrics().RecordPublish(ctx, string(dest), string(ev.Action))
			return

		case isAdminAction(err):
			// Transient back-pressure: block the emitting task until the
			// stream drains. This is the intended core→gate backpressure.
			telemetry.GetGlobalMetrics().RecordBusRetry(ctx, string(dest))
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}

		case isNotConnected(err):
			telemetry.GetGlobalMetrics().RecordDrop(ctx, string(dest), "not_connected")
			t.logger.Warn("No subscriber on stream, dropping event",
				"destination", dest, "event_id", ev.EventID, "action", ev.Action)
			return

		default:
			telemetry.GetGlobalMetrics().RecordDrop(ctx, string(dest), "error")
			t.logger.Error("Publish failed, dropping event",
				"destination", dest, "event_id", ev.EventID, "action", ev.Action, "error", err)
			return
		}
	}
}

// Run polls the command stream until ctx is canceled, sleeping briefly when
// no fragments are pending.
func (t *Transmitter) Run(ctx context.Context) error {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("transmitter: no handler registered")
	}

	t.logger.Info("Command poll loop started")
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Command poll loop stopped")
			return ctx.Err()
		default:
		}

		n, err := t.sub.Poll(handler, fragmentLimit)
		if err != nil {
			if err == bus.ErrClosed {
				t.logger.Info("Command subscription closed")
				return nil
			}
			t.logger.Error("Poll failed", "error", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				t.logger.Info("Command poll loop stopped")
				return ctx.Err()
			case <-time.After(idleSleep):
			}
		}
	}
}

// Close closes every stream once
func (t *Transmitter) Close() error {
	t.closeOnce.Do(func() {
		for dest, pub := range t.pubs {
			if err := pub.Close(); err != nil {
				t.logger.Warn("Failed to close publication", "destination", dest, "error", err)
			}
		}
		t.closeErr = t.sub.Close()
	})
	return t.closeErr
}

func isAdminAction(err error) bool {
	return errors.Is(err, bus.ErrAdminAction)
}

func isNotConnected(err error) bool {
	return errors.Is(err, bus.ErrNotConnected)
}
