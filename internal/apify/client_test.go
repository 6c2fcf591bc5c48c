package apify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(baseURL string, pageSize int) *Client {
	return New(Config{
		BaseURL:        baseURL,
		Token:          "test-token",
		PageSize:       pageSize,
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, testLogger())
}

// datasetServer serves a fixed number of items honoring offset/limit,
// the way the dataset items endpoint does.
func datasetServer(t *testing.T, total int, requests *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			*requests++
		}
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		items := make([]map[string]any, 0, limit)
		for i := offset; i < offset+limit && i < total; i++ {
			items = append(items, map[string]any{"title": fmt.Sprintf("item-%d", i)})
		}
		_ = json.NewEncoder(w).Encode(items)
	}))
}

func TestFetchItems_SinglePage(t *testing.T) {
	server := datasetServer(t, 3, nil)
	defer server.Close()

	client := newTestClient(server.URL, 10)

	items, err := client.FetchItems(context.Background(), "D1", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "item-0", items[0]["title"])
	assert.Equal(t, "item-2", items[2]["title"])
}

func TestFetchItems_PagesUntilShortPage(t *testing.T) {
	requests := 0
	server := datasetServer(t, 25, &requests)
	defer server.Close()

	client := newTestClient(server.URL, 10)

	items, err := client.FetchItems(context.Background(), "D1", 0)
	require.NoError(t, err)
	assert.Len(t, items, 25)
	// Two full pages plus the short third page.
	assert.Equal(t, 3, requests)
}

func TestFetchItems_RespectsMaxItems(t *testing.T) {
	server := datasetServer(t, 100, nil)
	defer server.Close()

	client := newTestClient(server.URL, 10)

	items, err := client.FetchItems(context.Background(), "D1", 15)
	require.NoError(t, err)
	assert.Len(t, items, 15)
}

func TestFetchItems_EmptyDataset(t *testing.T) {
	server := datasetServer(t, 0, nil)
	defer server.Close()

	client := newTestClient(server.URL, 10)

	items, err := client.FetchItems(context.Background(), "D1", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFetchItems_RequiresDatasetID(t *testing.T) {
	client := newTestClient("http://unused", 10)

	_, err := client.FetchItems(context.Background(), "", 0)
	assert.Error(t, err)
}

func TestFetchItems_RetriesTransientErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"title": "recovered"}})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 10)

	items, err := client.FetchItems(context.Background(), "D1", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "recovered", items[0]["title"])
	assert.Equal(t, 3, attempts)
}

func TestFetchItems_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 10)

	_, err := client.FetchItems(context.Background(), "D1", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestNew_ZeroConfigStillPages(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_ = json.NewEncoder(w).Encode([]map[string]any{{"title": "only"}})
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, testLogger())

	items, err := client.FetchItems(context.Background(), "D1", 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	// A short first page ends pagination; a zero page size must not
	// loop at offset 0.
	assert.Equal(t, 1, requests)
}

func TestNew_ZeroConfigStillRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, testLogger())

	_, err := client.FetchItems(context.Background(), "D1", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestCalculateBackoff_DoublesAndCaps(t *testing.T) {
	client := New(Config{
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
	}, testLogger())

	assert.Equal(t, time.Second, client.calculateBackoff(1))
	assert.Equal(t, 2*time.Second, client.calculateBackoff(2))
	assert.Equal(t, 4*time.Second, client.calculateBackoff(3))
	assert.Equal(t, 5*time.Second, client.calculateBackoff(4))
}
