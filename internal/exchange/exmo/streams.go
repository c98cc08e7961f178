package exmo

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"flashgate/internal/core"
	"flashgate/internal/exchange/base"
	apperrors "flashgate/pkg/errors"
	"flashgate/pkg/websocket"
)

// streamBuffer bounds each watch channel. The loops drain tightly; a full
// buffer means the consumer stalled, and market data is droppable.
const streamBuffer = 64

// wsEnvelope is the EXMO stream frame
type wsEnvelope struct {
	TS    int64           `json:"ts"`
	Event string          `json:"event"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

type wsRequest struct {
	ID     int64    `json:"id"`
	Method string   `json:"method"`
	APIKey string   `json:"api_key,omitempty"`
	Sign   string   `json:"sign,omitempty"`
	Nonce  int64    `json:"nonce,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// WatchOrderBook streams depth snapshots for one symbol over the public
// WebSocket. The channel closes when ctx is canceled or the driver closes.
func (d *Driver) WatchOrderBook(ctx context.Context, symbol string, limit int) (<-chan core.OrderBook, error) {
	out := make(chan core.OrderBook, streamBuffer)
	topic := "spot/order_book_snapshots:" + toPair(symbol)

	client := d.openStream(d.publicWSURL, false, []string{topic}, func(env wsEnvelope) {
		if env.Event != "snapshot" && env.Event != "update" {
			return
		}
		var rb rawOrderBook
		if err := json.Unmarshal(env.Data, &rb); err != nil {
			d.logger.Warn("Bad order book frame", "symbol", symbol, "error", err)
			return
		}
		book, err := rb.toOrderBook(symbol, base.MicrosFromMillis(env.TS))
		if err != nil {
			d.logger.Warn("Bad order book level", "symbol", symbol, "error", err)
			return
		}
		select {
		case out <- base.ClampDepth(book, limit):
		default:
			d.logger.Warn("Order book stream consumer stalled, dropping snapshot", "symbol", symbol)
		}
	})

	go d.closeOnDone(ctx, client, func() { close(out) })
	return out, nil
}

// WatchBalance streams account snapshots over the private WebSocket. EXMO
// sends a full wallet snapshot on subscribe and per-currency deltas after;
// the driver folds deltas into the last snapshot and emits the whole balance.
func (d *Driver) WatchBalance(ctx context.Context) (<-chan core.Balance, error) {
	if d.creds.APIKey == "" {
		return nil, fmt.Errorf("%w: balance stream needs credentials", apperrors.ErrAuthenticationFailed)
	}

	out := make(chan core.Balance, streamBuffer)
	var mu sync.Mutex
	assets := make(map[string]core.AssetBalance)

	client := d.openStream(d.privateWSURL, true, []string{"spot/wallet"}, func(env wsEnvelope) {
		mu.Lock()
		defer mu.Unlock()

		switch env.Event {
		case "snapshot":
			var snap struct {
				Balances map[string]string `json:"balances"`
				Reserved map[string]string `json:"reserved"`
			}
			if err := json.Unmarshal(env.Data, &snap); err != nil {
				d.logger.Warn("Bad wallet snapshot", "error", err)
				return
			}
			assets = make(map[string]core.AssetBalance, len(snap.Balances))
			for asset, freeStr := range snap.Balances {
				free := parseDecimal(freeStr)
				used := parseDecimal(snap.Reserved[asset])
				assets[asset] = core.AssetBalance{Free: free, Used: used, Total: free.Add(used)}
			}
		case "update":
			var delta struct {
				Currency string `json:"currency"`
				Balance  string `json:"balance"`
				Reserved string `json:"reserved"`
			}
			if err := json.Unmarshal(env.Data, &delta); err != nil {
				d.logger.Warn("Bad wallet update", "error", err)
				return
			}
			free := parseDecimal(delta.Balance)
			used := parseDecimal(delta.Reserved)
			assets[delta.Currency] = core.AssetBalance{Free: free, Used: used, Total: free.Add(used)}
		default:
			return
		}

		snapshot := core.Balance{
			Assets:    make(map[string]core.AssetBalance, len(assets)),
			Timestamp: base.MicrosFromMillis(env.TS),
		}
		for asset, b := range assets {
			snapshot.Assets[asset] = b
		}
		select {
		case out <- snapshot:
		default:
			d.logger.Warn("Balance stream consumer stalled, dropping snapshot")
		}
	})

	go d.closeOnDone(ctx, client, func() { close(out) })
	return out, nil
}

// WatchOrders streams order lifecycle updates over the private WebSocket
func (d *Driver) WatchOrders(ctx context.Context) (<-chan core.Order, error) {
	if d.creds.APIKey == "" {
		return nil, fmt.Errorf("%w: order stream needs credentials", apperrors.ErrAuthenticationFailed)
	}

	out := make(chan core.Order, streamBuffer)

	client := d.openStream(d.privateWSURL, true, []string{"spot/orders"}, func(env wsEnvelope) {
		var rows []rawStreamOrder
		switch env.Event {
		case "snapshot":
			if err := json.Unmarshal(env.Data, &rows); err != nil {
				d.logger.Warn("Bad orders snapshot", "error", err)
				return
			}
		case "update":
			var row rawStreamOrder
			if err := json.Unmarshal(env.Data, &row); err != nil {
				d.logger.Warn("Bad order update", "error", err)
				return
			}
			rows = append(rows, row)
		default:
			return
		}

		for _, row := range rows {
			select {
			case out <- row.toOrder():
			default:
				d.logger.Warn("Order stream consumer stalled, dropping update")
			}
		}
	})

	go d.closeOnDone(ctx, client, func() { close(out) })
	return out, nil
}

// openStream starts a resilient WebSocket and (re-)subscribes on every
// connect, logging in first on the private endpoint.
func (d *Driver) openStream(url string, login bool, topics []string, onFrame func(wsEnvelope)) *websocket.Client {
	var client *websocket.Client
	client = websocket.NewClient(url, func(message []byte) {
		var env wsEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			d.logger.Warn("Unparseable stream frame", "error", err)
			return
		}
		if env.Event == "error" {
			d.logger.Error("Stream error frame", "message", env.Error, "topic", env.Topic)
			return
		}
		onFrame(env)
	}, d.logger)

	client.SetOnConnected(func() {
		if login {
			if err := client.Send(d.loginRequest()); err != nil {
				d.logger.Error("Stream login failed", "error", err)
				return
			}
		}
		sub := wsRequest{ID: d.wsID.Add(1), Method: "subscribe", Topics: topics}
		if err := client.Send(sub); err != nil {
			d.logger.Error("Stream subscribe failed", "topics", topics, "error", err)
		}
	})

	client.Start()

	d.mu.Lock()
	d.streams = append(d.streams, client)
	d.mu.Unlock()
	return client
}

// loginRequest builds the private-stream handshake: base64 HMAC-SHA512 of
// api_key+nonce under the secret key.
func (d *Driver) loginRequest() wsRequest {
	nonce := time.Now().UnixMilli()
	mac := hmac.New(sha512.New, []byte(d.creds.SecretKey))
	mac.Write([]byte(d.creds.APIKey + strconv.FormatInt(nonce, 10)))
	return wsRequest{
		ID:     d.wsID.Add(1),
		Method: "login",
		APIKey: d.creds.APIKey,
		Sign:   base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		Nonce:  nonce,
	}
}

func (d *Driver) closeOnDone(ctx context.Context, client *websocket.Client, onClosed func()) {
	<-ctx.Done()
	client.Stop()
	onClosed()
}

// rawStreamOrder is the order object on the spot/orders topic
type rawStreamOrder struct {
	OrderID          json.Number `json:"order_id"`
	ClientID         json.Number `json:"client_id"`
	Created          json.Number `json:"created"`
	Type             string      `json:"type"`
	Pair             string      `json:"pair"`
	Price            string      `json:"price"`
	Quantity         string      `json:"quantity"`
	OriginalQuantity string      `json:"original_quantity"`
	Status           string      `json:"status"`
	LastTradeTS      json.Number `json:"last_trade_ts"`
}

func (r rawStreamOrder) toOrder() core.Order {
	side, typ := sideAndType(r.Type)

	// quantity is what remains; original_quantity is the full size
	amount := parseDecimal(r.OriginalQuantity)
	remaining := parseDecimal(r.Quantity)
	if amount.IsZero() {
		amount = remaining
	}

	ts := numberToInt64(r.LastTradeTS)
	if ts == 0 {
		ts = numberToInt64(r.Created)
	}

	return core.Order{
		ID:            r.OrderID.String(),
		ClientOrderID: clientID(r.ClientID),
		Symbol:        fromPair(r.Pair),
		Type:          typ,
		Side:          side,
		Status:        base.NormalizeStatus(r.Status),
		Price:         parseDecimal(r.Price),
		Amount:        amount,
		Filled:        amount.Sub(remaining),
		Timestamp:     base.MicrosFromSeconds(ts),
	}
}
