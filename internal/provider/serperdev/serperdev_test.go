package serperdev

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/newsflow/internal/model"
)

func newTestClient(url string, maxRetries int) *Client {
	return New(&Config{
		BaseURL:    url,
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
	})
}

func TestBatchSearch_MapsNewsItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))

		var reqs []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))
		require.Len(t, reqs, 2)
		assert.Equal(t, "qdr:w", reqs[0]["tbs"])

		resp := []map[string]any{
			{"news": []map[string]string{
				{"title": "t1", "link": "https://a.example/1", "snippet": "b1", "date": "2 days ago", "source": "s1"},
				{"title": "t2", "link": "https://a.example/2", "snippet": "b2", "date": "just now"},
			}},
			{"news": []map[string]string{
				{"title": "t3", "link": "https://a.example/3", "snippet": "b3", "date": "1 hour ago"},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	articles, err := c.BatchSearch(context.Background(), []string{"q1", "q2"}, "us", 10, model.TimeLimitWeek)
	require.NoError(t, err)
	require.Len(t, articles, 3)

	assert.Equal(t, "t1", articles[0].Title)
	assert.Equal(t, "https://a.example/1", articles[0].URL)
	assert.Equal(t, model.ProviderSerperDev, articles[0].Provider)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -2), articles[0].Date, time.Minute)
}

func TestBatchSearch_RespectsMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := []map[string]any{
			{"news": []map[string]string{
				{"title": "t1", "link": "https://a.example/1", "date": "just now"},
				{"title": "t2", "link": "https://a.example/2", "date": "just now"},
				{"title": "t3", "link": "https://a.example/3", "date": "just now"},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	articles, err := c.Search(context.Background(), "q", "us", 2, model.TimeLimitDay)
	require.NoError(t, err)
	assert.Len(t, articles, 2)
}

func TestBatchSearch_SkipsMalformedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := []map[string]any{
			{"news": []map[string]string{
				{"title": "t1", "link": "https://a.example/1", "date": "just now"},
				{"title": "", "link": "https://a.example/2", "date": "just now"},
				{"title": "t3", "link": "", "date": "just now"},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	articles, err := c.Search(context.Background(), "q", "us", 10, model.TimeLimitDay)
	require.NoError(t, err)
	assert.Len(t, articles, 1)
}

func TestBatchSearch_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		resp := []map[string]any{
			{"news": []map[string]string{
				{"title": "t1", "link": "https://a.example/1", "date": "just now"},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	c.retry.InitialDelay = 10 * time.Millisecond

	articles, err := c.Search(context.Background(), "q", "us", 10, model.TimeLimitDay)
	require.NoError(t, err)
	assert.Len(t, articles, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBatchSearch_PermanentErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	c.retry.InitialDelay = 10 * time.Millisecond

	_, err := c.Search(context.Background(), "q", "us", 10, model.TimeLimitDay)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBatchSearch_EmptyQueries(t *testing.T) {
	c := newTestClient("http://unused.invalid", 1)
	articles, err := c.BatchSearch(context.Background(), nil, "us", 10, model.TimeLimitDay)
	require.NoError(t, err)
	assert.Empty(t, articles)
}
