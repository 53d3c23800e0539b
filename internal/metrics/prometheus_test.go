package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSink_RecordsAndExposes(t *testing.T) {
	sink := NewPrometheusSink()

	sink.PoolHit("checkout")
	sink.PoolMiss("checkout")
	sink.BreakerTransition("checkout", 3, "closed", "open")
	sink.RequestLatency("/orders", 200, 12*time.Millisecond)
	sink.BackendStatus("checkout", "b1", "degraded")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	sink.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "titan_pool_hits_total")
	assert.Contains(t, body, "titan_pool_misses_total")
	assert.Contains(t, body, "titan_breaker_transitions_total")
	assert.Contains(t, body, "titan_http_request_duration_seconds")
	assert.Contains(t, body, `titan_health_backend_status{backend="b1",status="degraded",upstream="checkout"} 1`)
	assert.True(t, strings.Contains(body, "status=\"healthy\""))
}

func TestItoa(t *testing.T) {
	assert.Equal(t, "0", itoa(0))
	assert.Equal(t, "404", itoa(404))
}
