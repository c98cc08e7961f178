package configurator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"flashgate/internal/config"
	"flashgate/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validBlob = `{
  "algo": "spread_bot",
  "data": {
    "assets_labels": [{"common": "BTC"}, {"common": "USDT"}],
    "markets": [{"common_symbol": "BTC/USDT"}, {"common_symbol": "ETH/USDT"}],
    "configs": {
      "gate_config": {
        "info": {"node": "gate", "exchange": "exmo", "instance": "1"},
        "exchange": {
          "exchange_id": "exmo",
          "credentials": {"api_key": "k", "secret_key": "s", "password": ""}
        },
        "rate_limits": {"enable_builtin_rate_limiter": true, "subscribe_timeout": 0.5},
        "gate": {
          "order_book_depth": 10,
          "order_book_delay": 0.1,
          "balance_delay": 1.0,
          "order_status_delay": 1.0,
          "ping_delay": 1.0
        },
        "data_collection_method": {"order_book": "http", "balance": "http", "order": "websocket"},
        "storage": {"backend": "memory"},
        "aeron": {
          "publishers": {
            "order_books": {"channel": "gate.order_books", "stream_id": 1001},
            "balances": {"channel": "gate.balances", "stream_id": 1002},
            "core": {"channel": "gate.core", "stream_id": 1003},
            "logs": {"channel": "gate.logs", "stream_id": 1004}
          },
          "subscribers": {"core": {"channel": "core.commands", "stream_id": 1005}}
        }
      }
    }
  }
}`

func TestFetch_HTTP(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(validBlob))
	}))
	defer srv.Close()

	rt, err := Fetch(context.Background(), config.ConfiguratorConfig{
		BaseURL:  srv.URL,
		Exchange: "exmo",
		Instance: "1",
	}, logging.GetGlobalLogger())
	require.NoError(t, err)

	assert.Equal(t, "/exmo/1", gotPath)
	assert.Equal(t, "only_new=false", gotQuery)

	assert.Equal(t, "spread_bot", rt.Algo)
	assert.Equal(t, []string{"BTC", "USDT"}, rt.Assets)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, rt.Symbols)
	assert.Equal(t, "exmo", rt.Gate.Exchange.ExchangeID)
	assert.Equal(t, 10, rt.Gate.Gate.OrderBookDepth)
	assert.Equal(t, 1001, rt.Gate.Aeron.Publishers.OrderBooks.StreamID)
	assert.Equal(t, "k", string(rt.Gate.Exchange.Credentials.APIKey))
}

func TestFetch_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(validBlob), 0o600))

	rt, err := Fetch(context.Background(), config.ConfiguratorConfig{
		Source: "file:" + path,
	}, logging.GetGlobalLogger())
	require.NoError(t, err)
	assert.Equal(t, "spread_bot", rt.Algo)
}

func TestFetch_InvalidBlobFailsValidation(t *testing.T) {
	// No markets and no depth: validation must reject, naming both.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"algo":"a","data":{"configs":{"gate_config":{
			"exchange":{"exchange_id":"exmo","credentials":{"api_key":"k","secret_key":"s"}},
			"data_collection_method":{"order_book":"http","balance":"http","order":"http"}}}}}`))
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), config.ConfiguratorConfig{
		BaseURL: srv.URL, Exchange: "exmo", Instance: "1",
	}, logging.GetGlobalLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "markets")
	assert.Contains(t, err.Error(), "order_book_depth")
}

func TestFetch_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), config.ConfiguratorConfig{
		BaseURL: srv.URL, Exchange: "exmo", Instance: "1",
	}, logging.GetGlobalLogger())
	assert.Error(t, err)
}
