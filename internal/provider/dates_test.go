package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArticleDate_Relative(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"刚刚", "just now", now},
		{"现在", "now", now},
		{"昨天", "yesterday", now.AddDate(0, 0, -1)},
		{"秒", "30 seconds ago", now.Add(-30 * time.Second)},
		{"分钟", "5 minutes ago", now.Add(-5 * time.Minute)},
		{"单数小时", "1 hour ago", now.Add(-time.Hour)},
		{"天", "2 days ago", now.AddDate(0, 0, -2)},
		{"周", "3 weeks ago", now.AddDate(0, 0, -21)},
		{"月", "6 months ago", now.AddDate(0, -6, 0)},
		{"年", "1 year ago", now.AddDate(-1, 0, 0)},
		{"大小写混合", "2 Days Ago", now.AddDate(0, 0, -2)},
		{"前后空白", "  4 hours ago  ", now.Add(-4 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArticleDate(tt.raw, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArticleDate_Absolute(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	got, err := ParseArticleDate("2026-08-28T10:30:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC), got)

	got, err = ParseArticleDate("2026-08-28", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), got)
}

func TestParseArticleDate_Invalid(t *testing.T) {
	now := time.Now()

	_, err := ParseArticleDate("", now)
	assert.Error(t, err)

	_, err = ParseArticleDate("not a date", now)
	assert.Error(t, err)

	_, err = ParseArticleDate("days ago", now)
	assert.Error(t, err)
}

func TestDedupeByURL(t *testing.T) {
	in := []RawArticle{
		{Title: "first", URL: "https://a.example/1"},
		{Title: "second", URL: "https://a.example/2"},
		{Title: "dup of first", URL: "https://a.example/1"},
		{Title: "third", URL: "https://a.example/3"},
		{Title: "dup of second", URL: "https://a.example/2"},
	}

	out := DedupeByURL(in)

	require.Len(t, out, 3)
	// 稳定去重：保留首次出现
	assert.Equal(t, "first", out[0].Title)
	assert.Equal(t, "second", out[1].Title)
	assert.Equal(t, "third", out[2].Title)
}

func TestDedupeByURL_Empty(t *testing.T) {
	assert.Empty(t, DedupeByURL(nil))
}
