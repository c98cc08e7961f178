// Package bus abstracts the named-stream messaging substrate between the
// trading core and the gate. A stream is addressed by a channel name plus a
// numeric stream id; publications and subscriptions are unidirectional.
package bus

import "errors"

// Offer results the transmitter keys its retry policy on.
var (
	// ErrAdminAction signals transient back-pressure; the offer may succeed
	// if retried shortly.
	ErrAdminAction = errors.New("bus back-pressured")
	// ErrNotConnected means no subscriber is attached to the stream.
	ErrNotConnected = errors.New("bus not connected")
	// ErrClosed means the publication or subscription was closed.
	ErrClosed = errors.New("bus closed")
)

// FragmentHandler receives one reassembled message. The transport handles
// MTU fragmentation; handlers always see whole messages.
type FragmentHandler func(data []byte)

// Publication is one outbound stream
type Publication interface {
	Offer(data []byte) error
	Close() error
}

// Subscription is one inbound stream. Poll delivers up to limit pending
// messages to handler and returns how many it delivered.
type Subscription interface {
	Poll(handler FragmentHandler, limit int) (int, error)
	Close() error
}

// Bus creates streams over one underlying connection
type Bus interface {
	CreatePublication(channel string, streamID int) (Publication, error)
	CreateSubscription(channel string, streamID int) (Subscription, error)
	Close() error
}
