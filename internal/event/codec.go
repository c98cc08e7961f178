// Package event implements the JSON envelope codec and factory for the bus.
package event

import (
	"encoding/json"
	"fmt"

	"flashgate/internal/core"
	apperrors "flashgate/pkg/errors"
)

// envelope mirrors core.Event with the payload left raw so it can be decoded
// per action.
type envelope struct {
	EventID   string          `json:"event_id"`
	Type      core.EventType  `json:"event"`
	Exchange  string          `json:"exchange"`
	Node      core.Node       `json:"node"`
	Instance  string          `json:"instance"`
	Algo      string          `json:"algo"`
	Action    core.Action     `json:"action"`
	Message   string          `json:"message"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Encode renders an event for the wire. Prices and amounts inside the payload
// marshal as normalized decimal strings.
func Encode(ev core.Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return raw, nil
}

// Decode parses raw into an event. Unknown envelope keys are ignored; an
// unknown event type or action fails with a typed error. The envelope fields
// decoded so far are returned alongside the error so callers can still
// reference the event id.
func Decode(raw []byte) (core.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return core.Event{}, fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
	}

	ev := core.Event{
		EventID:   env.EventID,
		Type:      env.Type,
		Exchange:  env.Exchange,
		Node:      env.Node,
		Instance:  env.Instance,
		Algo:      env.Algo,
		Action:    env.Action,
		Message:   env.Message,
		Timestamp: env.Timestamp,
	}

	switch env.Type {
	case core.EventTypeCommand, core.EventTypeData, core.EventTypeError:
	default:
		return ev, fmt.Errorf("%w: event type %q", apperrors.ErrMalformedEvent, env.Type)
	}

	if !env.Action.Valid() {
		return ev, fmt.Errorf("%w: %q", apperrors.ErrUnknownAction, env.Action)
	}

	data, err := decodePayload(env.Action, env.Data)
	if err != nil {
		return ev, fmt.Errorf("%w: %s payload: %v", apperrors.ErrMalformedEvent, env.Action, err)
	}
	ev.Data = data
	return ev, nil
}

func decodePayload(action core.Action, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	switch action {
	case core.ActionCreateOrders:
		var params []core.CreateOrderParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, err
		}
		return params, nil

	case core.ActionCancelOrders, core.ActionGetOrders:
		var refs []core.OrderRef
		if err := json.Unmarshal(raw, &refs); err != nil {
			return nil, err
		}
		return refs, nil

	case core.ActionGetBalance:
		var assets []string
		if err := json.Unmarshal(raw, &assets); err != nil {
			return nil, err
		}
		return assets, nil

	case core.ActionCancelAllOrders:
		// Payload carries nothing actionable.
		return nil, nil

	case core.ActionOrderBookUpdate:
		var book core.OrderBook
		if err := json.Unmarshal(raw, &book); err != nil {
			return nil, err
		}
		return book, nil

	case core.ActionBalanceUpdate:
		var balance core.Balance
		if err := json.Unmarshal(raw, &balance); err != nil {
			return nil, err
		}
		return balance, nil

	case core.ActionOrdersUpdate:
		var orders []core.Order
		if err := json.Unmarshal(raw, &orders); err != nil {
			return nil, err
		}
		return orders, nil

	case core.ActionPing:
		var count int64
		if err := json.Unmarshal(raw, &count); err != nil {
			return nil, err
		}
		return count, nil

	case core.ActionMetrics:
		var report core.MetricsReport
		if err := json.Unmarshal(raw, &report); err != nil {
			return nil, err
		}
		return report, nil
	}

	return nil, fmt.Errorf("no payload shape for action %q", action)
}
