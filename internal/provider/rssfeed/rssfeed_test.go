package rssfeed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/newsflow/internal/model"
)

const feedWithMalformedItem = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Feed</title>
    <link>https://feed.example</link>
    <item>
      <title>First article</title>
      <link>https://feed.example/1</link>
      <description>body one</description>
      <pubDate>Fri, 28 Aug 2026 10:00:00 GMT</pubDate>
    </item>
    <item>
      <link>https://feed.example/2</link>
      <description>no title here</description>
    </item>
    <item>
      <title>Third article</title>
      <link>https://feed.example/3</link>
      <description>body three</description>
      <pubDate>Sat, 29 Aug 2026 09:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func TestFetch_SkipsMalformedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feedWithMalformedItem)
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	articles, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	// 中间缺 title 的条目被跳过
	require.Len(t, articles, 2)
	assert.Equal(t, "First article", articles[0].Title)
	assert.Equal(t, "Third article", articles[1].Title)
	assert.Equal(t, model.ProviderRSS, articles[0].Provider)
	assert.Equal(t, "Example Feed", articles[0].Source)
	assert.Equal(t, time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC), articles[0].Date)
}

func TestFetch_TruncatesLongBody(t *testing.T) {
	long := strings.Repeat("x", 1500)
	feed := fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>F</title>
<item><title>t</title><link>https://f.example/1</link><description>%s</description></item>
</channel></rss>`, long)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	articles, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Len(t, articles[0].Body, 1000)
}

func TestFetch_FeedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	_, err := c.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}
