package event

import (
	"time"

	"flashgate/internal/core"

	"github.com/google/uuid"
)

// Factory stamps the static envelope fields on outbound events. One factory
// serves one gate process: one exchange, one instance, one algo.
type Factory struct {
	exchange string
	instance string
	algo     string
}

// NewFactory creates an event factory for this deployment
func NewFactory(exchange, instance, algo string) *Factory {
	return &Factory{
		exchange: exchange,
		instance: instance,
		algo:     algo,
	}
}

// Timestamp returns the current time in microseconds since the Unix epoch
func Timestamp() int64 {
	return time.Now().UnixMicro()
}

// Data builds a DATA event. An empty eventID allocates a fresh uuid;
// command handlers pass the inbound id through so the core can correlate.
func (f *Factory) Data(eventID string, action core.Action, data any) core.Event {
	return f.build(eventID, core.EventTypeData, action, "", data)
}

// Error builds an ERROR event carrying a failure description
func (f *Factory) Error(eventID string, action core.Action, message string, data any) core.Event {
	return f.build(eventID, core.EventTypeError, action, message, data)
}

func (f *Factory) build(eventID string, typ core.EventType, action core.Action, message string, data any) core.Event {
	if eventID == "" {
		eventID = uuid.NewString()
	}
	return core.Event{
		EventID:   eventID,
		Type:      typ,
		Exchange:  f.exchange,
		Node:      core.NodeGate,
		Instance:  f.instance,
		Algo:      f.algo,
		Action:    action,
		Message:   message,
		Timestamp: Timestamp(),
		Data:      data,
	}
}
