package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	base := time.Date(2025, 6, 15, 12, 0, 30, 0, time.UTC)

	d := l.Allow("a", base)
	require.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, time.Date(2025, 6, 15, 12, 1, 0, 0, time.UTC), d.ResetAt)

	require.True(t, l.Allow("a", base).Allowed)
	assert.False(t, l.Allow("a", base).Allowed)
	assert.True(t, l.Allow("b", base).Allowed, "clients are limited independently")

	// Half of the previous window still counts.
	next := base.Add(time.Minute)
	d = l.Allow("a", next)
	require.True(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.False(t, l.Allow("a", next).Allowed)

	// Two idle windows reset the client.
	assert.True(t, l.Allow("a", next.Add(90*time.Second)).Allowed)
}

func TestLimiter_Evict(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	l.Allow("a", now)
	l.Allow("b", now.Add(90*time.Second))
	require.Equal(t, 2, l.Len())

	l.Evict(now.Add(2 * time.Minute))
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_RunStopsWithContext(t *testing.T) {
	l := NewLimiter(1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLimiter_Middleware(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("192.168.1.0/24")}
	handler := Wrap(okHandler(), RealIP(proxies), NewLimiter(1, time.Minute).Middleware())

	req := httptest.NewRequest(http.MethodPost, "/api/checkout/pay", nil)
	req.RemoteAddr = "192.168.1.1:4444"
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 203.0.113.50")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	// Same forwarded client behind another proxy address.
	req = httptest.NewRequest(http.MethodPost, "/api/checkout/pay", nil)
	req.RemoteAddr = "192.168.1.2:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var (
		code    int
		message string
	)
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			code, err = d.Int()
		case "message":
			message, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", message)
}

func TestLimiter_IgnoresForwardedHeadersFromClients(t *testing.T) {
	handler := Wrap(okHandler(), RealIP(nil), NewLimiter(1, time.Minute).Middleware())

	for i, xff := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/checkout/pay", nil)
		req.RemoteAddr = "198.51.100.9:4444"
		req.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		want := http.StatusOK
		if i > 0 {
			want = http.StatusTooManyRequests
		}
		assert.Equal(t, want, w.Code, "rotating X-Forwarded-For must not reset the limit")
	}
}
