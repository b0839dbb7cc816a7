package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"plane-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testMessage() models.RenderedMessage {
	return models.RenderedMessage{
		Title: "🐛  Fix login flow",
		Color: 0xF1C40F,
		Fields: []models.MessageField{
			{Name: "State", Value: "Open ➜ Done", Inline: false},
		},
		Author: models.MessageAuthor{Name: "Priya"},
	}
}

func fastOptions() Options {
	return Options{
		MaxAttempts: 3,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    time.Second,
	}
}

func TestDeliver_Success(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second, fastOptions(), zap.NewNop())

	err := d.Deliver(context.Background(), testMessage())
	require.NoError(t, err)
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "Fix login flow")
	assert.Contains(t, bodies[0], "Open ➜ Done")
	assert.Contains(t, bodies[0], `"allowed_mentions"`)
}

func TestDeliver_RetriesTransientWithBackoff(t *testing.T) {
	var mu sync.Mutex
	var attempts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		n := len(attempts)
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second, fastOptions(), zap.NewNop())

	err := d.Deliver(context.Background(), testMessage())
	require.NoError(t, err)
	require.Len(t, attempts, 3)

	gap1 := attempts[1].Sub(attempts[0])
	gap2 := attempts[2].Sub(attempts[1])
	assert.GreaterOrEqual(t, gap1, 10*time.Millisecond)
	assert.GreaterOrEqual(t, gap2, gap1)
}

func TestDeliver_ExhaustedRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second, fastOptions(), zap.NewNop())

	err := d.Deliver(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrExhaustedRetries)
	assert.Equal(t, 3, calls)
}

func TestDeliver_PermanentRejectionNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second, fastOptions(), zap.NewNop())

	err := d.Deliver(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1, calls)
}

func TestDeliver_HonorsRetryAfter(t *testing.T) {
	var mu sync.Mutex
	var attempts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		n := len(attempts)
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "0.2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second, fastOptions(), zap.NewNop())

	err := d.Deliver(context.Background(), testMessage())
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), 200*time.Millisecond)
}

func TestDeliver_RateLimitedExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]float64{"retry_after": 0.01})
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second, fastOptions(), zap.NewNop())

	err := d.Deliver(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestDeliver_RetryAfterFromJSONBody(t *testing.T) {
	resp := &http.Response{
		Header: http.Header{},
		Body:   io.NopCloser(strings.NewReader(`{"retry_after": 1.5}`)),
	}
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter(resp))

	resp = &http.Response{
		Header: http.Header{"Retry-After": []string{"2"}},
		Body:   io.NopCloser(strings.NewReader("")),
	}
	assert.Equal(t, 2*time.Second, parseRetryAfter(resp))
}

func TestDeliver_MultipartAttachment(t *testing.T) {
	var contentType string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	msg := testMessage()
	msg.Attachment = &models.Attachment{
		Filename: "avatar.png",
		Content:  []byte{0x89, 'P', 'N', 'G'},
		MIME:     "image/png",
	}

	d := NewDispatcher(srv.URL, time.Second, fastOptions(), zap.NewNop())

	err := d.Deliver(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(contentType, "multipart/form-data"), contentType)
	assert.Contains(t, string(body), `name="payload_json"`)
	assert.Contains(t, string(body), `filename="avatar.png"`)
	assert.Contains(t, string(body), "attachment://avatar.png")
}

func TestPacer_CancelledWaitReleasesSlot(t *testing.T) {
	p := NewPacer(200 * time.Millisecond)
	start := time.Now()

	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, p.Wait(ctx))

	// The abandoned reservation is rolled back: the next send waits one
	// interval from the first send, not two.
	require.NoError(t, p.Wait(context.Background()))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 380*time.Millisecond)
}

func TestPacer_PushDelaysNextSend(t *testing.T) {
	p := NewPacer(0)
	p.Push(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
}
