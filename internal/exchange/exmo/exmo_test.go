package exmo

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"flashgate/internal/core"
	apperrors "flashgate/pkg/errors"
	"flashgate/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey = "K-test"
	testSecret = "S-test"
)

func parseBody(body []byte) (url.Values, error) {
	return url.ParseQuery(string(body))
}

func testDriver(t *testing.T, handler http.Handler) *Driver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	d := New(core.Credentials{APIKey: testAPIKey, SecretKey: testSecret},
		logging.GetGlobalLogger(), WithBaseURL(srv.URL))
	t.Cleanup(func() { d.Close() })
	return d
}

func publicDriver(t *testing.T, handler http.Handler) *Driver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	d := New(core.Credentials{}, logging.GetGlobalLogger(), WithBaseURL(srv.URL))
	t.Cleanup(func() { d.Close() })
	return d
}

func TestFetchOrderBooks(t *testing.T) {
	d := publicDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.1/order_book", r.URL.Path)
		assert.Equal(t, "BTC_USDT", r.URL.Query().Get("pair"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		io.WriteString(w, `{"BTC_USDT":{
			"ask":[["42001","0.4"],["42002","1.0"],["42003","2.0"]],
			"bid":[["42000","0.5"]]}}`)
	}))

	books, err := d.FetchOrderBooks(context.Background(), []string{"BTC/USDT"}, 2)
	require.NoError(t, err)
	require.Len(t, books, 1)

	book := books[0]
	assert.Equal(t, "BTC/USDT", book.Symbol)
	require.Len(t, book.Bids, 1)
	assert.Len(t, book.Asks, 2) // clamped to the requested depth
	assert.True(t, book.Bids[0][0].Equal(decimal.RequireFromString("42000")))
	assert.True(t, book.Bids[0][1].Equal(decimal.RequireFromString("0.5")))
	assert.Positive(t, book.Timestamp)
}

func TestFetchOrderBooks_MalformedLevel(t *testing.T) {
	d := publicDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"BTC_USDT":{"ask":[["oops"]],"bid":[]}}`)
	}))

	_, err := d.FetchOrderBooks(context.Background(), []string{"BTC/USDT"}, 5)
	assert.Error(t, err)
}

func TestCreateOrder_SignsRequest(t *testing.T) {
	var gotNonce string
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1.1/order_create", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		mac := hmac.New(sha512.New, []byte(testSecret))
		mac.Write(body)
		assert.Equal(t, testAPIKey, r.Header.Get("Key"))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), r.Header.Get("Sign"))

		form, err := parseBody(body)
		require.NoError(t, err)
		assert.Equal(t, "BTC_USDT", form.Get("pair"))
		assert.Equal(t, "buy", form.Get("type"))
		assert.Equal(t, "42000.5", form.Get("price"))
		assert.Equal(t, "0.01", form.Get("quantity"))
		assert.Equal(t, "777", form.Get("client_id"))
		gotNonce = form.Get("nonce")

		io.WriteString(w, `{"result":true,"order_id":12345}`)
	}))

	order, err := d.CreateOrder(context.Background(), core.CreateOrderParams{
		ClientOrderID: "777",
		Symbol:        "BTC/USDT",
		Type:          core.OrderTypeLimit,
		Side:          core.OrderSideBuy,
		Price:         decimal.RequireFromString("42000.5"),
		Amount:        decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)
	assert.Equal(t, "12345", order.ID)
	assert.Equal(t, "777", order.ClientOrderID)
	assert.Equal(t, core.OrderStatusOpen, order.Status)
	assert.NotEmpty(t, gotNonce)
}

func TestNonceStrictlyIncreases(t *testing.T) {
	var nonces []int64
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, err := parseBody(body)
		require.NoError(t, err)
		n, err := strconv.ParseInt(form.Get("nonce"), 10, 64)
		require.NoError(t, err)
		nonces = append(nonces, n)
		io.WriteString(w, `{"result":true,"order_id":1}`)
	}))

	params := core.CreateOrderParams{
		Symbol: "BTC/USDT", Type: core.OrderTypeLimit, Side: core.OrderSideBuy,
		Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1),
	}
	_, err := d.CreateOrder(context.Background(), params)
	require.NoError(t, err)
	_, err = d.CreateOrder(context.Background(), params)
	require.NoError(t, err)

	require.Len(t, nonces, 2)
	assert.Greater(t, nonces[1], nonces[0])
}

func TestCreateOrder_VenueRejection(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"result":false,"error":"Error 50052: Insufficient funds"}`)
	}))

	_, err := d.CreateOrder(context.Background(), core.CreateOrderParams{
		Symbol: "BTC/USDT", Type: core.OrderTypeLimit, Side: core.OrderSideBuy,
		Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
}

func TestCancelOrder_NotFound(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"result":false,"error":"Error 50304: Order was not found"}`)
	}))

	err := d.CancelOrder(context.Background(), core.OrderRef{ID: "42", Symbol: "BTC/USDT"})
	assert.ErrorIs(t, err, apperrors.ErrOrderNotFound)
}

func TestCancelOrder_RequiresExchangeID(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	err := d.CancelOrder(context.Background(), core.OrderRef{ClientOrderID: "c-1"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
}

func TestFetchPartialBalance(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.1/user_info", r.URL.Path)
		io.WriteString(w, `{
			"server_date": 1720000000,
			"balances": {"BTC": "1.5", "USDT": "100", "ETH": "3"},
			"reserved": {"BTC": "0.5"}
		}`)
	}))

	balance, err := d.FetchPartialBalance(context.Background(), []string{"BTC", "DOGE"})
	require.NoError(t, err)
	require.Len(t, balance.Assets, 2)

	btc := balance.Assets["BTC"]
	assert.True(t, btc.Free.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, btc.Used.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, btc.Total.Equal(decimal.RequireFromString("2")))

	// Assets the venue does not report come back zero valued.
	doge := balance.Assets["DOGE"]
	assert.True(t, doge.Total.IsZero())
	assert.Equal(t, int64(1720000000_000000), balance.Timestamp)
}

func TestFetchOrder_OpenOnVenue(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1.1/user_open_orders", r.URL.Path)
		io.WriteString(w, `{"BTC_USDT":[
			{"order_id":42,"client_id":7,"created":1720000000,"type":"sell",
			 "pair":"BTC_USDT","price":"42000","quantity":"0.25","amount":"10500"}]}`)
	}))

	order, err := d.FetchOrder(context.Background(), core.OrderRef{
		ID: "42", ClientOrderID: "7", Symbol: "BTC/USDT",
	})
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusOpen, order.Status)
	assert.Equal(t, core.OrderSideSell, order.Side)
	assert.True(t, order.Amount.Equal(decimal.RequireFromString("0.25")))
}

func TestFetchOrder_FilledFromTrades(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1.1/user_open_orders":
			io.WriteString(w, `{}`)
		case "/v1.1/order_trades":
			io.WriteString(w, `{"type":"buy","trades":[
				{"date":1720000001,"quantity":"0.5","price":"100","amount":"50"},
				{"date":1720000002,"quantity":"0.5","price":"102","amount":"51"}]}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	order, err := d.FetchOrder(context.Background(), core.OrderRef{
		ID: "42", ClientOrderID: "7", Symbol: "BTC/USDT",
	})
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusClosed, order.Status)
	assert.True(t, order.Filled.Equal(decimal.NewFromInt(1)))
	assert.True(t, order.Price.Equal(decimal.RequireFromString("101"))) // volume weighted
}

func TestFetchOrder_GoneWithoutTrades(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1.1/user_open_orders":
			io.WriteString(w, `{}`)
		case "/v1.1/order_trades":
			io.WriteString(w, `{"type":"buy","trades":[]}`)
		}
	}))

	order, err := d.FetchOrder(context.Background(), core.OrderRef{
		ID: "42", Symbol: "BTC/USDT",
	})
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusCanceled, order.Status)
}

func TestCancelAllOrders_SweepsOpenOrders(t *testing.T) {
	var canceled []string
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1.1/user_open_orders":
			io.WriteString(w, `{"BTC_USDT":[
				{"order_id":1,"type":"buy","pair":"BTC_USDT","price":"1","quantity":"1"},
				{"order_id":2,"type":"sell","pair":"BTC_USDT","price":"2","quantity":"1"}]}`)
		case "/v1.1/order_cancel":
			body, _ := io.ReadAll(r.Body)
			form, err := parseBody(body)
			require.NoError(t, err)
			canceled = append(canceled, form.Get("order_id"))
			io.WriteString(w, `{"result":true}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	require.NoError(t, d.CancelAllOrders(context.Background(), []string{"BTC/USDT"}))
	assert.ElementsMatch(t, []string{"1", "2"}, canceled)
}

func TestPrivateCallWithoutCredentials(t *testing.T) {
	d := publicDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := d.FetchPartialBalance(context.Background(), []string{"BTC"})
	assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
}

func TestClassifyTransportErrors(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		d := publicDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		_, err := d.FetchOrderBooks(context.Background(), []string{"BTC/USDT"}, 5)
		assert.ErrorIs(t, err, apperrors.ErrRateLimitExceeded)
	})

	t.Run("server error", func(t *testing.T) {
		d := publicDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		_, err := d.FetchOrderBooks(context.Background(), []string{"BTC/USDT"}, 5)
		assert.ErrorIs(t, err, apperrors.ErrNetwork)
	})
}

func TestSymbolMapping(t *testing.T) {
	assert.Equal(t, "BTC_USDT", toPair("BTC/USDT"))
	assert.Equal(t, "BTC/USDT", fromPair("BTC_USDT"))
}
