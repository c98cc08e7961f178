// Package exmo implements the EXMO spot exchange driver over its public
// REST API v1.1 and WebSocket API v1.
package exmo

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"flashgate/internal/core"
	"flashgate/internal/exchange/base"
	apperrors "flashgate/pkg/errors"
	"flashgate/pkg/httpclient"
	"flashgate/pkg/websocket"

	"github.com/shopspring/decimal"
)

const (
	defaultRESTURL   = "https://api.exmo.com"
	defaultPublicWS  = "wss://ws-api.exmo.com/v1/public"
	defaultPrivateWS = "wss://ws-api.exmo.com/v1/private"

	defaultTimeout = 10 * time.Second
)

// Driver implements core.IDriver for EXMO
type Driver struct {
	creds  core.Credentials
	logger core.ILogger

	public  *httpclient.Client // unsigned market data calls
	private *httpclient.Client // signed account calls, nil without credentials

	publicWSURL  string
	privateWSURL string

	nonce atomic.Int64
	wsID  atomic.Int64

	mu      sync.Mutex
	streams []*websocket.Client

	closeOnce sync.Once
}

// Option overrides driver defaults
type Option func(*Driver)

// WithBaseURL points REST calls at a different host
func WithBaseURL(u string) Option {
	return func(d *Driver) {
		d.public = httpclient.NewClient(u, defaultTimeout, nil)
		if d.private != nil {
			d.private = httpclient.NewClient(u, defaultTimeout, newSigner(d.creds, &d.nonce))
		}
	}
}

// WithWSURLs points the stream endpoints at different hosts
func WithWSURLs(public, private string) Option {
	return func(d *Driver) {
		d.publicWSURL = public
		d.privateWSURL = private
	}
}

// New creates an EXMO driver. Credentials may be zero for a public-only
// driver; private calls then fail with an authentication error.
func New(creds core.Credentials, logger core.ILogger, opts ...Option) *Driver {
	d := &Driver{
		creds:        creds,
		logger:       logger.WithField("exchange", "exmo"),
		publicWSURL:  defaultPublicWS,
		privateWSURL: defaultPrivateWS,
	}
	d.nonce.Store(time.Now().UnixMilli())

	d.public = httpclient.NewClient(defaultRESTURL, defaultTimeout, nil)
	if creds.APIKey != "" {
		d.private = httpclient.NewClient(defaultRESTURL, defaultTimeout, newSigner(creds, &d.nonce))
	}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the exchange id
func (d *Driver) Name() string {
	return "exmo"
}

// signer authenticates REST calls: a strictly increasing nonce in the form
// body, api key in the Key header, hex HMAC-SHA512 of the body in Sign.
// It runs per attempt, so retries never replay a nonce.
type signer struct {
	apiKey string
	secret []byte
	nonce  *atomic.Int64
}

func newSigner(creds core.Credentials, nonce *atomic.Int64) *signer {
	return &signer{apiKey: creds.APIKey, secret: []byte(creds.SecretKey), nonce: nonce}
}

func (s *signer) SignRequest(req *http.Request) error {
	form := url.Values{}
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return err
		}
		form, err = url.ParseQuery(string(raw))
		if err != nil {
			return err
		}
	}
	form.Set("nonce", strconv.FormatInt(s.nonce.Add(1), 10))

	encoded := form.Encode()
	req.Body = io.NopCloser(strings.NewReader(encoded))
	req.ContentLength = int64(len(encoded))

	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(encoded))
	req.Header.Set("Key", s.apiKey)
	req.Header.Set("Sign", hex.EncodeToString(mac.Sum(nil)))
	return nil
}

// FetchOrderBook returns one depth snapshot
func (d *Driver) FetchOrderBook(ctx context.Context, symbol string, limit int) (core.OrderBook, error) {
	books, err := d.FetchOrderBooks(ctx, []string{symbol}, limit)
	if err != nil {
		return core.OrderBook{}, err
	}
	if len(books) == 0 {
		return core.OrderBook{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return books[0], nil
}

// FetchOrderBooks batches depth snapshots for several symbols in one call
func (d *Driver) FetchOrderBooks(ctx context.Context, symbols []string, limit int) ([]core.OrderBook, error) {
	pairs := make([]string, len(symbols))
	for i, s := range symbols {
		pairs[i] = toPair(s)
	}

	raw, err := d.public.Get(ctx, "/v1.1/order_book", map[string]string{
		"pair":  strings.Join(pairs, ","),
		"limit": strconv.Itoa(limit),
	})
	if err != nil {
		return nil, d.classify(err)
	}

	var resp map[string]rawOrderBook
	if err := d.decode(raw, &resp); err != nil {
		return nil, err
	}

	books := make([]core.OrderBook, 0, len(symbols))
	for _, symbol := range symbols {
		rb, ok := resp[toPair(symbol)]
		if !ok {
			d.logger.Warn("Order book missing from venue response", "symbol", symbol)
			continue
		}
		book, err := rb.toOrderBook(symbol, base.NowMicros())
		if err != nil {
			return nil, fmt.Errorf("order book for %s: %w", symbol, err)
		}
		books = append(books, base.ClampDepth(book, limit))
	}
	return books, nil
}

// FetchPartialBalance returns the requested assets, zero filled when the
// venue does not report them
func (d *Driver) FetchPartialBalance(ctx context.Context, assets []string) (core.Balance, error) {
	raw, err := d.signedPost(ctx, "/v1.1/user_info", url.Values{})
	if err != nil {
		return core.Balance{}, err
	}

	var info rawUserInfo
	if err := d.decode(raw, &info); err != nil {
		return core.Balance{}, err
	}

	full := core.Balance{
		Assets:    make(map[string]core.AssetBalance, len(info.Balances)),
		Timestamp: base.MicrosFromSeconds(numberToInt64(info.ServerDate)),
	}
	for asset, freeStr := range info.Balances {
		free := parseDecimal(freeStr)
		used := parseDecimal(info.Reserved[asset])
		full.Assets[asset] = core.AssetBalance{
			Free:  free,
			Used:  used,
			Total: free.Add(used),
		}
	}
	return base.PartialBalance(full, assets), nil
}

// CreateOrder places one order. EXMO assigns the order id; the client order
// id is forwarded only when numeric, which is all the venue accepts.
func (d *Driver) CreateOrder(ctx context.Context, params core.CreateOrderParams) (core.Order, error) {
	form := url.Values{}
	form.Set("pair", toPair(params.Symbol))
	form.Set("quantity", params.Amount.String())
	form.Set("type", orderTypeParam(params))
	if params.Type == core.OrderTypeMarket {
		form.Set("price", "0")
	} else {
		form.Set("price", params.Price.String())
	}
	if cid, err := strconv.ParseInt(params.ClientOrderID, 10, 64); err == nil && cid > 0 {
		form.Set("client_id", strconv.FormatInt(cid, 10))
	}

	raw, err := d.signedPost(ctx, "/v1.1/order_create", form)
	if err != nil {
		return core.Order{}, err
	}

	var resp struct {
		OrderID json.Number `json:"order_id"`
	}
	if err := d.decode(raw, &resp); err != nil {
		return core.Order{}, err
	}

	return core.Order{
		ID:            resp.OrderID.String(),
		ClientOrderID: params.ClientOrderID,
		Symbol:        params.Symbol,
		Type:          params.Type,
		Side:          params.Side,
		Status:        core.OrderStatusOpen,
		Price:         params.Price,
		Amount:        params.Amount,
		Filled:        decimal.Zero,
		Timestamp:     base.NowMicros(),
	}, nil
}

// CancelOrder cancels by exchange order id
func (d *Driver) CancelOrder(ctx context.Context, ref core.OrderRef) error {
	if ref.ID == "" {
		return fmt.Errorf("%w: cancel requires the exchange order id", apperrors.ErrInvalidOrderParameter)
	}

	form := url.Values{}
	form.Set("order_id", ref.ID)

	raw, err := d.signedPost(ctx, "/v1.1/order_cancel", form)
	if err != nil {
		return err
	}

	var resp struct{}
	return d.decode(raw, &resp)
}

// CancelAllOrders sweeps open orders for the given symbols. EXMO has no bulk
// cancel endpoint, so this lists and cancels individually.
func (d *Driver) CancelAllOrders(ctx context.Context, symbols []string) error {
	var errs error
	for _, symbol := range symbols {
		orders, err := d.FetchOpenOrders(ctx, symbol)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		for _, o := range orders {
			err := d.CancelOrder(ctx, core.OrderRef{ID: o.ID, Symbol: symbol})
			if err != nil && !errors.Is(err, apperrors.ErrOrderNotFound) {
				errs = errors.Join(errs, fmt.Errorf("%s: %w", o.ID, err))
			}
		}
	}
	return errs
}

// FetchOpenOrders lists the symbol's open orders
func (d *Driver) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	raw, err := d.signedPost(ctx, "/v1.1/user_open_orders", url.Values{})
	if err != nil {
		return nil, err
	}

	var resp map[string][]rawOpenOrder
	if err := d.decode(raw, &resp); err != nil {
		return nil, err
	}

	rows := resp[toPair(symbol)]
	orders := make([]core.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toOrder(symbol))
	}
	return orders, nil
}

// FetchOrder reconstructs one order's state. EXMO v1.1 has no single order
// status endpoint; open orders plus the trade list approximate it.
func (d *Driver) FetchOrder(ctx context.Context, ref core.OrderRef) (core.Order, error) {
	if ref.ID == "" {
		return core.Order{}, fmt.Errorf("%w: status lookup requires the exchange order id", apperrors.ErrInvalidOrderParameter)
	}

	if ref.Symbol != "" {
		open, err := d.FetchOpenOrders(ctx, ref.Symbol)
		if err != nil {
			return core.Order{}, err
		}
		for _, o := range open {
			if o.ID == ref.ID {
				o.ClientOrderID = ref.ClientOrderID
				return o, nil
			}
		}
	}

	form := url.Values{}
	form.Set("order_id", ref.ID)
	raw, err := d.signedPost(ctx, "/v1.1/order_trades", form)
	if err != nil {
		return core.Order{}, err
	}

	var trades rawOrderTrades
	if err := d.decode(raw, &trades); err != nil {
		return core.Order{}, err
	}
	return trades.toOrder(ref), nil
}

// Close stops every open stream
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		streams := d.streams
		d.streams = nil
		d.mu.Unlock()
		for _, s := range streams {
			s.Stop()
		}
	})
	return nil
}

func (d *Driver) signedPost(ctx context.Context, path string, form url.Values) ([]byte, error) {
	if d.private == nil {
		return nil, fmt.Errorf("%w: no credentials configured", apperrors.ErrAuthenticationFailed)
	}
	raw, err := d.private.PostForm(ctx, path, form)
	if err != nil {
		return nil, d.classify(err)
	}
	return raw, nil
}

// decode handles EXMO's failure envelope. Errors come back as HTTP 200 with
// {"result": false, "error": "Error NNNNN: ..."}.
func (d *Driver) decode(raw []byte, v any) error {
	var probe struct {
		Result *bool  `json:"result"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Result != nil && !*probe.Result {
		return d.mapAPIError(probe.Error)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("exmo: decode response: %w", err)
	}
	return nil
}

func (d *Driver) mapAPIError(msg string) error {
	switch {
	case strings.Contains(msg, "50304"), strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, msg)
	case strings.Contains(msg, "50052"), strings.Contains(msg, "Insufficient"):
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, msg)
	case strings.Contains(msg, "Too many requests"):
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, msg)
	case strings.Contains(msg, "40005"), strings.Contains(msg, "signature"), strings.Contains(msg, "API key"):
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, msg)
	case strings.Contains(msg, "50066"), strings.Contains(msg, "pair"):
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, msg)
	case strings.Contains(msg, "Maintenance"):
		return fmt.Errorf("%w: %s", apperrors.ErrExchangeMaintenance, msg)
	}
	return fmt.Errorf("exmo error: %s", msg)
}

// classify maps transport failures onto the shared taxonomy
func (d *Driver) classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", apperrors.ErrRateLimitExceeded, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}
	return err
}

// Wire shapes

type rawOrderBook struct {
	Ask [][]string `json:"ask"`
	Bid [][]string `json:"bid"`
}

func (r rawOrderBook) toOrderBook(symbol string, ts int64) (core.OrderBook, error) {
	book := core.OrderBook{
		Symbol:    symbol,
		Bids:      make([]core.PriceLevel, 0, len(r.Bid)),
		Asks:      make([]core.PriceLevel, 0, len(r.Ask)),
		Timestamp: ts,
	}
	for _, cols := range r.Bid {
		lvl, err := toLevel(cols)
		if err != nil {
			return core.OrderBook{}, err
		}
		book.Bids = append(book.Bids, lvl)
	}
	for _, cols := range r.Ask {
		lvl, err := toLevel(cols)
		if err != nil {
			return core.OrderBook{}, err
		}
		book.Asks = append(book.Asks, lvl)
	}
	return book, nil
}

func toLevel(cols []string) (core.PriceLevel, error) {
	if len(cols) < 2 {
		return core.PriceLevel{}, fmt.Errorf("book level needs price and quantity, got %v", cols)
	}
	price, err := decimal.NewFromString(cols[0])
	if err != nil {
		return core.PriceLevel{}, fmt.Errorf("book price %q: %w", cols[0], err)
	}
	qty, err := decimal.NewFromString(cols[1])
	if err != nil {
		return core.PriceLevel{}, fmt.Errorf("book quantity %q: %w", cols[1], err)
	}
	return core.PriceLevel{price, qty}, nil
}

type rawUserInfo struct {
	ServerDate json.Number       `json:"server_date"`
	Balances   map[string]string `json:"balances"`
	Reserved   map[string]string `json:"reserved"`
}

type rawOpenOrder struct {
	OrderID  json.Number `json:"order_id"`
	ClientID json.Number `json:"client_id"`
	Created  json.Number `json:"created"`
	Type     string      `json:"type"`
	Pair     string      `json:"pair"`
	Price    string      `json:"price"`
	Quantity string      `json:"quantity"`
	Amount   string      `json:"amount"`
}

func (r rawOpenOrder) toOrder(symbol string) core.Order {
	side, typ := sideAndType(r.Type)
	return core.Order{
		ID:            r.OrderID.String(),
		ClientOrderID: clientID(r.ClientID),
		Symbol:        symbol,
		Type:          typ,
		Side:          side,
		Status:        core.OrderStatusOpen,
		Price:         parseDecimal(r.Price),
		Amount:        parseDecimal(r.Quantity),
		Filled:        decimal.Zero,
		Timestamp:     base.MicrosFromSeconds(numberToInt64(r.Created)),
	}
}

type rawTrade struct {
	Date     json.Number `json:"date"`
	Quantity string      `json:"quantity"`
	Price    string      `json:"price"`
	Amount   string      `json:"amount"`
}

type rawOrderTrades struct {
	Type   string     `json:"type"`
	Trades []rawTrade `json:"trades"`
}

func (r rawOrderTrades) toOrder(ref core.OrderRef) core.Order {
	side, typ := sideAndType(r.Type)

	var filled, quote decimal.Decimal
	var lastTS int64
	for _, t := range r.Trades {
		filled = filled.Add(parseDecimal(t.Quantity))
		quote = quote.Add(parseDecimal(t.Amount))
		if ts := numberToInt64(t.Date); ts > lastTS {
			lastTS = ts
		}
	}

	status := core.OrderStatusCanceled
	var price decimal.Decimal
	if len(r.Trades) > 0 {
		status = core.OrderStatusClosed
		price = quote.DivRound(filled, 16)
	}
	if lastTS == 0 {
		lastTS = base.NowMicros() / 1_000_000
	}

	return core.Order{
		ID:            ref.ID,
		ClientOrderID: ref.ClientOrderID,
		Symbol:        ref.Symbol,
		Type:          typ,
		Side:          side,
		Status:        status,
		Price:         price,
		Amount:        filled,
		Filled:        filled,
		Timestamp:     base.MicrosFromSeconds(lastTS),
	}
}

// Helpers

func toPair(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "_")
}

func fromPair(pair string) string {
	return strings.Replace(pair, "_", "/", 1)
}

func orderTypeParam(p core.CreateOrderParams) string {
	if p.Type == core.OrderTypeMarket {
		if p.Side == core.OrderSideSell {
			return "market_sell"
		}
		return "market_buy"
	}
	if p.Side == core.OrderSideSell {
		return "sell"
	}
	return "buy"
}

func sideAndType(venueType string) (core.OrderSide, core.OrderType) {
	side := core.OrderSideBuy
	if strings.HasSuffix(venueType, "sell") {
		side = core.OrderSideSell
	}
	typ := core.OrderTypeLimit
	if strings.HasPrefix(venueType, "market") {
		typ = core.OrderTypeMarket
	}
	return side, typ
}

func clientID(n json.Number) string {
	s := n.String()
	if s == "" || s == "0" {
		return ""
	}
	return s
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func numberToInt64(n json.Number) int64 {
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return v
}
