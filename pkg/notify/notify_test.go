package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutURLIsNop(t *testing.T) {
	n := New(Config{}, nil)
	assert.IsType(t, Nop{}, n)
	n.Notify(context.Background(), "dropped")
}

func TestWebhookPostsPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Payload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var p Payload
		require.NoError(t, json.Unmarshal(body, &p))

		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL, Prefix: "[cflookup]"}, nil)
	n.Notify(context.Background(), "Error fetching bucket 1-10000")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "[cflookup] Error fetching bucket 1-10000", received[0].Content)
	assert.Equal(t, DefaultFlags, received[0].Flags)
}

func TestWebhookFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := New(Config{URL: srv.URL}, nil).(*Webhook)
	assert.Error(t, w.send(context.Background(), "boom"))

	// Notify never surfaces the failure.
	w.Notify(context.Background(), "boom")
}

func TestWebhookDeliversOnCancelledContext(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	New(Config{URL: srv.URL}, nil).Notify(ctx, "job cancelled")
	assert.Equal(t, 1, hits)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "", Truncate("abc", 0))

	long := strings.Repeat("x", MaxContentLength+50)
	assert.Len(t, Truncate(long, MaxContentLength), MaxContentLength)
}

func TestWithPrefix(t *testing.T) {
	var got []string
	base := Func(func(_ context.Context, message string) { got = append(got, message) })

	WithPrefix(base, "Sync failed, retrying later.").Notify(context.Background(), "Exception: boom")
	WithPrefix(base, "").Notify(context.Background(), "plain")

	assert.Equal(t, []string{"Sync failed, retrying later.\nException: boom", "plain"}, got)
	assert.IsType(t, Nop{}, WithPrefix(nil, "x"))
}
