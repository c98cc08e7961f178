package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flashgate/internal/cache"
	"flashgate/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_Aggregation(t *testing.T) {
	m := NewMonitor(nil)
	assert.True(t, m.IsHealthy())

	m.Register("bus", func() error { return nil })
	assert.True(t, m.IsHealthy())

	m.Register("store", func() error { return errors.New("gone") })
	assert.False(t, m.IsHealthy())

	status := m.GetStatus()
	assert.Equal(t, "Healthy", status["bus"])
	assert.Equal(t, "Unhealthy: gone", status["store"])
}

func TestStoreCheck(t *testing.T) {
	store := cache.NewMemoryStore()
	require.NoError(t, StoreCheck(store)())
}

func TestServer_Endpoints(t *testing.T) {
	m := NewMonitor(nil)
	m.Register("bus", func() error { return nil })

	s := NewServer("127.0.0.1:0", m, logging.GetGlobalLogger())

	// Exercise the handlers directly; Start binds a real port.
	t.Run("health ok", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		var status map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "Healthy", status["bus"])
	})

	t.Run("ready flips with checks", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		m.Register("store", func() error { return errors.New("down") })
		rec = httptest.NewRecorder()
		s.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestServer_StopWithoutStart(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewMonitor(nil), logging.GetGlobalLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
