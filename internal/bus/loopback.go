package bus

import (
	"sync"
)

// Loopback is an in-process bus for tests and offline runs. Streams are
// matched by subject; each subscription gets its own unbounded queue.
// FailNext injects offer results to exercise the transmitter's retry policy.
type Loopback struct {
	mu     sync.Mutex
	queues map[string][]*loopbackSubscription
	faults map[string][]error
	closed bool
}

// NewLoopback creates an empty loopback bus
func NewLoopback() *Loopback {
	return &Loopback{
		queues: make(map[string][]*loopbackSubscription),
		faults: make(map[string][]error),
	}
}

// FailNext queues errs as the results of the next offers on the stream, in
// order. A nil entry means that offer succeeds.
func (b *Loopback) FailNext(channel string, streamID int, errs ...error) {
	subject := Subject(channel, streamID)
	b.mu.Lock()
	b.faults[subject] = append(b.faults[subject], errs...)
	b.mu.Unlock()
}

// CreatePublication opens an outbound stream
func (b *Loopback) CreatePublication(channel string, streamID int) (Publication, error) {
	return &loopbackPublication{bus: b, subject: Subject(channel, streamID)}, nil
}

// CreateSubscription opens an inbound stream
func (b *Loopback) CreateSubscription(channel string, streamID int) (Subscription, error) {
	sub := &loopbackSubscription{bus: b, subject: Subject(channel, streamID)}
	b.mu.Lock()
	b.queues[sub.subject] = append(b.queues[sub.subject], sub)
	b.mu.Unlock()
	return sub, nil
}

// Close marks the bus closed; subsequent offers fail with ErrClosed
func (b *Loopback) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *Loopback) offer(subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if faults := b.faults[subject]; len(faults) > 0 {
		err := faults[0]
		b.faults[subject] = faults[1:]
		if err != nil {
			return err
		}
	}

	subs := b.queues[subject]
	if len(subs) == 0 {
		return ErrNotConnected
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	for _, sub := range subs {
		sub.pending = append(sub.pending, cp)
	}
	return nil
}

type loopbackPublication struct {
	bus     *Loopback
	subject string
}

func (p *loopbackPublication) Offer(data []byte) error {
	return p.bus.offer(p.subject, data)
}

func (p *loopbackPublication) Close() error {
	return nil
}

type loopbackSubscription struct {
	bus     *Loopback
	subject string
	pending [][]byte
	closed  bool
}

func (s *loopbackSubscription) Poll(handler FragmentHandler, limit int) (int, error) {
	s.bus.mu.Lock()
	if s.closed {
		s.bus.mu.Unlock()
		return 0, ErrClosed
	}
	n := limit
	if n > len(s.pending) {
		n = len(s.pending)
	}
	batch := s.pending[:n]
	s.pending = s.pending[n:]
	s.bus.mu.Unlock()

	for _, msg := range batch {
		handler(msg)
	}
	return n, nil
}

func (s *loopbackSubscription) Close() error {
	s.bus.mu.Lock()
	s.closed = true
	s.bus.mu.Unlock()
	return nil
}
