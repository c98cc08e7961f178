package exchange

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"flashgate/internal/core"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// PrivatePool multiplexes authenticated drivers across concurrent commands.
// A scoped acquisition takes the next driver round-robin and a semaphore
// permit, so at most len(drivers) private calls run at once.
type PrivatePool struct {
	drivers []core.IDriver
	sem     *semaphore.Weighted
	next    atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// NewPrivatePool wraps one driver per credential set
func NewPrivatePool(drivers []core.IDriver) (*PrivatePool, error) {
	if len(drivers) == 0 {
		return nil, errors.New("private pool requires at least one driver")
	}
	return &PrivatePool{
		drivers: drivers,
		sem:     semaphore.NewWeighted(int64(len(drivers))),
	}, nil
}

// With runs fn against the next pooled driver, holding one permit for the
// duration of the call
func (p *PrivatePool) With(ctx context.Context, fn func(core.IDriver) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	i := p.next.Add(1) - 1
	return fn(p.drivers[i%uint64(len(p.drivers))])
}

// Size reports the number of pooled drivers
func (p *PrivatePool) Size() int {
	return len(p.drivers)
}

// Close closes every pooled driver once
func (p *PrivatePool) Close() error {
	p.closeOnce.Do(func() {
		for _, d := range p.drivers {
			if err := d.Close(); err != nil {
				p.closeErr = errors.Join(p.closeErr, err)
			}
		}
	})
	return p.closeErr
}

// PublicPool paces unauthenticated market data calls. The limiter enforces
// the configured delay between rounds so burst polling never exceeds the
// venue's public rate envelope.
type PublicPool struct {
	driver  core.IDriver
	limiter *rate.Limiter

	closeOnce sync.Once
	closeErr  error
}

// NewPublicPool wraps a single public driver with the given pacing interval
func NewPublicPool(driver core.IDriver, interval time.Duration) *PublicPool {
	if interval <= 0 {
		interval = time.Second
	}
	return &PublicPool{
		driver:  driver,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// With waits for the pacing limiter and runs fn against the public driver
func (p *PublicPool) With(ctx context.Context, fn func(core.IDriver) error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(p.driver)
}

// Close closes the public driver once
func (p *PublicPool) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.driver.Close()
	})
	return p.closeErr
}
