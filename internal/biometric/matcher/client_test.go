package matcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendguard/pkg/platform/circuit"
)

func TestClient_Verify(t *testing.T) {
	var (
		mu  sync.Mutex
		got map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		got = body
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_id":"42","verified":true,"similarity":0.91,"threshold":0.45}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	lastBody := func() map[string]string {
		mu.Lock()
		defer mu.Unlock()
		return got
	}

	t.Run("url samples are sent as image_url", func(t *testing.T) {
		res, err := c.Verify(context.Background(), 42, "https://cdn.test/face.jpg")
		require.NoError(t, err)
		assert.True(t, res.Matched)
		require.NotNil(t, res.Confidence)
		assert.InDelta(t, 0.91, *res.Confidence, 1e-9)
		body := lastBody()
		assert.Equal(t, "42", body["user_id"])
		assert.Equal(t, "https://cdn.test/face.jpg", body["image_url"])
	})

	t.Run("inline samples are sent as image", func(t *testing.T) {
		_, err := c.Verify(context.Background(), 42, "aGVsbG8=")
		require.NoError(t, err)
		body := lastBody()
		assert.Equal(t, "aGVsbG8=", body["image"])
		assert.NotContains(t, body, "image_url")
	})
}

func TestClient_VerifyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"verified":false,"similarity":0.12}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).Verify(context.Background(), 7, "sample")
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestClient_ServerErrorOpensBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	breaker := circuit.New("test",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return now }),
	)
	c := New(srv.URL, WithBreaker(breaker))

	for range 2 {
		_, err := c.Verify(context.Background(), 7, "sample")
		require.Error(t, err)
	}
	assert.True(t, breaker.IsOpen())

	_, err := c.Verify(context.Background(), 7, "sample")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.Verify(context.Background(), 7, "sample")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "half-open attempt allowed after cooldown")
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	assert.NoError(t, New(srv.URL+"/").Health(context.Background()))
}
