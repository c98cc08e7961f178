package bus

import (
	"fmt"
	"strings"
	"time"

	"flashgate/internal/core"

	"github.com/nats-io/nats.go"
)

// subscriptionBuffer bounds how many undelivered messages a subscription
// holds before the connection's slow-consumer handling kicks in.
const subscriptionBuffer = 4096

// NATSBus adapts a NATS connection to the stream interfaces. The subject for
// a stream is the configured channel name joined with the stream id, so the
// same (channel, stream_id) addressing the core uses resolves to one subject.
type NATSBus struct {
	conn   *nats.Conn
	logger core.ILogger
}

// NewNATSBus connects to the given server url
func NewNATSBus(url string, logger core.ILogger) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Bus reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus at %s: %w", url, err)
	}
	return &NATSBus{conn: conn, logger: logger.WithField("component", "bus")}, nil
}

// Check reports connection liveness for the health monitor
func (b *NATSBus) Check() error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("bus not connected, status %s", b.conn.Status())
	}
	return nil
}

// Subject derives the NATS subject for a stream
func Subject(channel string, streamID int) string {
	channel = strings.Trim(strings.ReplaceAll(channel, "/", "."), ".")
	return fmt.Sprintf("%s.%d", channel, streamID)
}

// CreatePublication opens an outbound stream
func (b *NATSBus) CreatePublication(channel string, streamID int) (Publication, error) {
	return &natsPublication{conn: b.conn, subject: Subject(channel, streamID)}, nil
}

// CreateSubscription opens an inbound stream backed by a buffered channel;
// Poll drains the buffer without blocking.
func (b *NATSBus) CreateSubscription(channel string, streamID int) (Subscription, error) {
	subject := Subject(channel, streamID)
	ch := make(chan *nats.Msg, subscriptionBuffer)
	sub, err := b.conn.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub, ch: ch}, nil
}

// Close closes the underlying connection after flushing pending publishes
func (b *NATSBus) Close() error {
	if err := b.conn.Flush(); err != nil {
		b.logger.Warn("Bus flush on close failed", "error", err)
	}
	b.conn.Close()
	return nil
}

type natsPublication struct {
	conn    *nats.Conn
	subject string
}

func (p *natsPublication) Offer(data []byte) error {
	err := p.conn.Publish(p.subject, data)
	switch {
	case err == nil:
		return nil
	case err == nats.ErrConnectionClosed:
		return ErrClosed
	case p.conn.Status() == nats.RECONNECTING:
		// The server is away; treat as transient back-pressure so the
		// transmitter retries instead of dropping.
		return fmt.Errorf("%w: %v", ErrAdminAction, err)
	}
	return err
}

func (p *natsPublication) Close() error {
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
	ch  chan *nats.Msg
}

func (s *natsSubscription) Poll(handler FragmentHandler, limit int) (int, error) {
	if !s.sub.IsValid() {
		return 0, ErrClosed
	}
	n := 0
	for n < limit {
		select {
		case msg := <-s.ch:
			handler(msg.Data)
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

func (s *natsSubscription) Close() error {
	return s.sub.Unsubscribe()
}
