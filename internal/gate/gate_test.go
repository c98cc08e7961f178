package gate

import (
	"encoding/json"
	"testing"
	"time"

	"flashgate/internal/bus"
	"flashgate/internal/cache"
	"flashgate/internal/core"
	"flashgate/internal/correlator"
	"flashgate/internal/event"
	"flashgate/internal/exchange"
	"flashgate/internal/exchange/mock"
	"flashgate/internal/transmitter"
	"flashgate/pkg/concurrency"
	"flashgate/pkg/logging"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var streamConfig = transmitter.Config{
	Publishers: map[core.Destination]transmitter.StreamConfig{
		core.DestinationOrderBook: {Channel: "gate.order_books", StreamID: 2001},
		core.DestinationBalance:   {Channel: "gate.balances", StreamID: 2002},
		core.DestinationCore:      {Channel: "gate.core", StreamID: 2003},
		core.DestinationLogs:      {Channel: "gate.logs", StreamID: 2004},
	},
	Subscriber: transmitter.StreamConfig{Channel: "core.commands", StreamID: 2005},
}

func testLogger() core.ILogger { return logging.GetGlobalLogger() }

// harness wires a dispatcher and loops against a mock driver and a loopback
// bus, with one subscription per outbound stream.
type harness struct {
	driver  *mock.Driver
	tx      *transmitter.Transmitter
	corr    *correlator.Correlator
	tracker *correlator.Tracker
	window  *window
	factory *event.Factory
	gate    *concurrency.PriorityGate
	subs    map[core.Destination]bus.Subscription
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	b := bus.NewLoopback()
	subs := make(map[core.Destination]bus.Subscription)
	for dest, stream := range streamConfig.Publishers {
		sub, err := b.CreateSubscription(stream.Channel, stream.StreamID)
		require.NoError(t, err)
		subs[dest] = sub
	}

	tx, err := transmitter.New(b, streamConfig, logging.GetGlobalLogger())
	require.NoError(t, err)
	t.Cleanup(func() { tx.Close() })

	return &harness{
		driver:  mock.New(),
		tx:      tx,
		corr:    correlator.New(cache.NewMemoryStore()),
		tracker: correlator.NewTracker(),
		window:  newWindow(),
		factory: event.NewFactory("exmo", "test-1", "alpha"),
		gate:    concurrency.NewPriorityGate(),
		subs:    subs,
	}
}

func (h *harness) dispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	pool, err := exchange.NewPrivatePool([]core.IDriver{h.driver})
	require.NoError(t, err)

	workers := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "test-dispatch",
		MaxWorkers: 2,
	}, logging.GetGlobalLogger())
	t.Cleanup(workers.Stop)

	return NewDispatcher(DispatcherDeps{
		Factory:       h.factory,
		Transmitter:   h.tx,
		Correlator:    h.corr,
		Tracker:       h.tracker,
		Pool:          pool,
		Gate:          h.gate,
		Workers:       workers,
		Window:        h.window,
		Logger:        logging.GetGlobalLogger(),
		Symbols:       []string{"BTC/USDT", "ETH/USDT"},
		DefaultAssets: []string{"BTC", "USDT"},
	})
}

func (h *harness) loops(t *testing.T, cfg LoopConfig) *Loops {
	t.Helper()

	pool, err := exchange.NewPrivatePool([]core.IDriver{h.driver})
	require.NoError(t, err)

	return NewLoops(LoopDeps{
		Config:      cfg,
		Factory:     h.factory,
		Transmitter: h.tx,
		Correlator:  h.corr,
		Tracker:     h.tracker,
		Stream:      h.driver,
		Private:     pool,
		Public:      exchange.NewPublicPool(h.driver, time.Millisecond),
		Gate:        h.gate,
		Window:      h.window,
		Logger:      logging.GetGlobalLogger(),
	})
}

// command encodes a raw command fragment the way the core sends it
func command(t *testing.T, eventID string, action core.Action, data any) []byte {
	t.Helper()
	raw, err := event.Encode(core.Event{
		EventID:   eventID,
		Type:      core.EventTypeCommand,
		Node:      core.NodeCore,
		Action:    action,
		Timestamp: event.Timestamp(),
		Data:      data,
	})
	require.NoError(t, err)
	return raw
}

// collect polls dest until n events arrived or the deadline passes
func (h *harness) collect(t *testing.T, dest core.Destination, n int) []core.Event {
	t.Helper()
	var out []core.Event
	deadline := time.Now().Add(2 * time.Second)
	for len(out) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d events on %s, got %d", n, dest, len(out))
		}
		_, err := h.subs[dest].Poll(func(data []byte) {
			var ev core.Event
			require.NoError(t, json.Unmarshal(data, &ev))
			out = append(out, ev)
		}, 100)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	return out
}

// drain returns whatever is currently queued on dest
func (h *harness) drain(t *testing.T, dest core.Destination) []core.Event {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	var out []core.Event
	_, err := h.subs[dest].Poll(func(data []byte) {
		var ev core.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		out = append(out, ev)
	}, 100)
	require.NoError(t, err)
	return out
}
