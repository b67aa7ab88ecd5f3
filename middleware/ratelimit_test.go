package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfcunha/vigil/metrics"
	"nfcunha/vigil/utils/config"
)

func newTestLimiter(enabled bool) *RateLimiter {
	return NewRateLimiter(config.RateLimitConfig{
		Enabled: enabled,
		Window:  time.Minute,
		Budgets: map[string]int{
			config.ClassPatchRequest: 5,
			config.ClassPatchApply:   10,
			config.ClassGeneral:      100,
		},
	})
}

func newLimitedRouter(limiter *RateLimiter) *gin.Engine {
	r := gin.New()
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.POST("/patch/request", limiter.Limit(config.ClassPatchRequest), ok)
	r.POST("/patch/apply", limiter.Limit(config.ClassPatchApply), ok)
	r.GET("/health", limiter.Limit("unlisted"), ok)
	return r
}

func call(r http.Handler, method, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_SixthCallRejectedPerClass(t *testing.T) {
	r := newLimitedRouter(newTestLimiter(true))

	for i := 0; i < 5; i++ {
		w := call(r, http.MethodPost, "/patch/request", "10.0.0.1")
		require.Equal(t, http.StatusOK, w.Code, "call %d", i+1)
	}

	w := call(r, http.MethodPost, "/patch/request", "10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, float64(6), body["current"])
	assert.GreaterOrEqual(t, body["retryAfter"], float64(1))

	assert.Equal(t, http.StatusOK, call(r, http.MethodPost, "/patch/apply", "10.0.0.1").Code, "other classes unaffected")
	assert.Equal(t, http.StatusOK, call(r, http.MethodPost, "/patch/request", "10.0.0.2").Code, "other clients unaffected")
}

func TestRateLimit_BudgetHoldsAcrossWholeWindow(t *testing.T) {
	limiter := NewRateLimiter(config.RateLimitConfig{
		Enabled: true,
		Window:  600 * time.Millisecond,
		Budgets: map[string]int{config.ClassGeneral: 5},
	})
	start := time.Now()

	allowed := 0
	for i := 0; i < 60; i++ {
		ok, _, _ := limiter.take("general:10.0.0.1", 5, start.Add(time.Duration(i)*10*time.Millisecond))
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed, "no more than the budget inside one window")

	ok, current, reset := limiter.take("general:10.0.0.1", 5, start.Add(599*time.Millisecond))
	assert.False(t, ok)
	assert.Equal(t, 61, current)
	assert.Equal(t, time.Millisecond, reset)

	ok, current, _ = limiter.take("general:10.0.0.1", 5, start.Add(600*time.Millisecond))
	assert.True(t, ok, "a new window starts with a fresh budget")
	assert.Equal(t, 1, current)
}

func TestRateLimit_UnknownClassUsesGeneralBudget(t *testing.T) {
	r := newLimitedRouter(newTestLimiter(true))

	w := call(r, http.MethodGet, "/health", "10.0.0.3")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_Disabled(t *testing.T) {
	r := newLimitedRouter(newTestLimiter(false))
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, call(r, http.MethodPost, "/patch/request", "10.0.0.1").Code)
	}
}

func TestRateLimit_Sweep(t *testing.T) {
	limiter := newTestLimiter(true)
	r := newLimitedRouter(limiter)
	call(r, http.MethodPost, "/patch/request", "10.0.0.1")
	call(r, http.MethodPost, "/patch/apply", "10.0.0.1")

	assert.Equal(t, 0, limiter.Sweep(time.Hour))
	assert.Equal(t, 2, limiter.Sweep(0))
}

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/patch/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	call(r, http.MethodGet, "/patch/abc", "10.0.0.1")
	call(r, http.MethodGet, "/nowhere", "10.0.0.1")

	assert.Equal(t, 2, testutil.CollectAndCount(m.RequestDuration))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveConnections))
}
