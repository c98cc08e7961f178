package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"flashgate/internal/bus"
	"flashgate/internal/cache"
	"flashgate/internal/config"
	"flashgate/internal/core"
	"flashgate/internal/correlator"
	"flashgate/internal/event"
	"flashgate/internal/exchange"
	"flashgate/internal/health"
	"flashgate/internal/transmitter"
	"flashgate/pkg/concurrency"
)

const dispatchWorkers = 16

// Gate is the assembled gateway: transmitter, dispatcher, subscription loops
// and the metrics reporter, wired from one runtime config.
type Gate struct {
	tx      *transmitter.Transmitter
	loops   *Loops
	metrics *metricsLoop
	workers *concurrency.WorkerPool

	private *exchange.PrivatePool
	public  *exchange.PublicPool
	stream  core.IDriver
	store   core.IStore

	logger    core.ILogger
	closeOnce sync.Once
	closeErr  error
}

// New assembles a gate from the runtime blob. It opens the correlation store
// and the exchange drivers; call Close to release them.
func New(ctx context.Context, rt *config.Runtime, b bus.Bus, logger core.ILogger) (*Gate, error) {
	gc := rt.Gate

	factory := event.NewFactory(gc.Info.Exchange, gc.Info.Instance, rt.Algo)

	store, err := cache.New(ctx, cache.Options{
		Backend: gc.Storage.Backend,
		Redis: cache.RedisOptions{
			Addr:     gc.Storage.Redis.Addr,
			Password: string(gc.Storage.Redis.Password),
			DB:       gc.Storage.Redis.DB,
		},
		SQLite: struct{ Path string }{Path: gc.Storage.SQLite.Path},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open correlation store: %w", err)
	}
	store = cache.Prefixed(store, gc.Storage.KeyPrefix)

	corr := correlator.New(store)
	tracker := correlator.NewTracker()

	privateDrivers, err := exchange.NewPrivateDrivers(gc.Exchange.ExchangeID, gc.AccountsOrDefault(), logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	privatePool, err := exchange.NewPrivatePool(privateDrivers)
	if err != nil {
		store.Close()
		return nil, err
	}

	publicDriver, err := exchange.NewDriver(gc.Exchange.ExchangeID, core.Credentials{}, logger)
	if err != nil {
		privatePool.Close()
		store.Close()
		return nil, err
	}
	publicPool := exchange.NewPublicPool(publicDriver, gc.Gate.OrderBookInterval())

	// Streams get their own driver so watch connections never compete with
	// the request pools.
	streamDriver, err := exchange.NewDriver(gc.Exchange.ExchangeID, gc.Exchange.Credentials.Credentials(), logger)
	if err != nil {
		publicPool.Close()
		privatePool.Close()
		store.Close()
		return nil, err
	}

	tx, err := transmitter.New(b, transmitter.Config{
		Publishers: map[core.Destination]transmitter.StreamConfig{
			core.DestinationOrderBook: {Channel: gc.Aeron.Publishers.OrderBooks.Channel, StreamID: gc.Aeron.Publishers.OrderBooks.StreamID},
			core.DestinationBalance:   {Channel: gc.Aeron.Publishers.Balances.Channel, StreamID: gc.Aeron.Publishers.Balances.StreamID},
			core.DestinationCore:      {Channel: gc.Aeron.Publishers.Core.Channel, StreamID: gc.Aeron.Publishers.Core.StreamID},
			core.DestinationLogs:      {Channel: gc.Aeron.Publishers.Logs.Channel, StreamID: gc.Aeron.Publishers.Logs.StreamID},
		},
		Subscriber: transmitter.StreamConfig{
			Channel:  gc.Aeron.Subscribers.Core.Channel,
			StreamID: gc.Aeron.Subscribers.Core.StreamID,
		},
	}, logger)
	if err != nil {
		streamDriver.Close()
		publicPool.Close()
		privatePool.Close()
		store.Close()
		return nil, err
	}

	w := newWindow()
	priorityGate := concurrency.NewPriorityGate()

	workers := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "dispatcher",
		MaxWorkers: dispatchWorkers,
	}, logger)

	dispatcher := NewDispatcher(DispatcherDeps{
		Factory:       factory,
		Transmitter:   tx,
		Correlator:    corr,
		Tracker:       tracker,
		Pool:          privatePool,
		Gate:          priorityGate,
		Workers:       workers,
		Window:        w,
		Logger:        logger,
		Symbols:       rt.Symbols,
		DefaultAssets: rt.Assets,
	})
	tx.SetHandler(dispatcher.Handle)

	loops := NewLoops(LoopDeps{
		Config: LoopConfig{
			Symbols:             rt.Symbols,
			Assets:              rt.Assets,
			Depth:               gc.Gate.OrderBookDepth,
			OrderBookMode:       gc.Collection.OrderBook,
			BalanceMode:         gc.Collection.Balance,
			OrdersMode:          gc.Collection.Order,
			OrderBookInterval:   gc.Gate.OrderBookInterval(),
			BalanceInterval:     gc.Gate.BalanceInterval(),
			OrderStatusInterval: gc.Gate.OrderStatusInterval(),
			SubscribeDelay:      gc.RateLimits.SubscribeDelay(),
		},
		Factory:     factory,
		Transmitter: tx,
		Correlator:  corr,
		Tracker:     tracker,
		Stream:      streamDriver,
		Private:     privatePool,
		Public:      publicPool,
		Gate:        priorityGate,
		Window:      w,
		Logger:      logger,
	})

	return &Gate{
		tx:      tx,
		loops:   loops,
		metrics: newMetricsLoop(w, factory, tx, gc.Gate.PingInterval(), logger),
		workers: workers,
		private: privatePool,
		public:  publicPool,
		stream:  streamDriver,
		store:   store,
		logger:  logger.WithField("component", "gate"),
	}, nil
}

// RegisterHealth adds the gate's own liveness checks to the monitor
func (g *Gate) RegisterHealth(monitor core.IHealthMonitor) {
	monitor.Register("store", health.StoreCheck(g.store))
}

// Run drives every long-lived task until ctx ends or one of them fails
func (g *Gate) Run(ctx context.Context) error {
	g.logger.Info("Gate starting")

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.tx.Run(ctx) })
	eg.Go(func() error { return g.loops.RunOrderBooks(ctx) })
	eg.Go(func() error { return g.loops.RunBalance(ctx) })
	eg.Go(func() error { return g.loops.RunOrders(ctx) })
	eg.Go(func() error { return g.metrics.Run(ctx) })

	err := eg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the gate's resources. Safe to call more than once.
func (g *Gate) Close() error {
	g.closeOnce.Do(func() {
		g.logger.Info("Gate shutting down")

		// Let in-flight commands finish before the pools go away.
		g.workers.Stop()

		var errs []error
		if err := g.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stream driver: %w", err))
		}
		if err := g.public.Close(); err != nil {
			errs = append(errs, fmt.Errorf("public pool: %w", err))
		}
		if err := g.private.Close(); err != nil {
			errs = append(errs, fmt.Errorf("private pool: %w", err))
		}
		if err := g.tx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transmitter: %w", err))
		}
		if err := g.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		if len(errs) > 0 {
			g.closeErr = fmt.Errorf("gate close: %v", errs)
		}
	})
	return g.closeErr
}
