// Package rssfeed 提供基于 gofeed 的 RSS/Atom 采集适配器。
package rssfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/kart-io/logger"

	"github.com/kart-io/newsflow/internal/model"
	"github.com/kart-io/newsflow/internal/provider"
)

// maxBodyLen 是 RSS 描述截断长度，与文章 body 上限一致。
const maxBodyLen = 1000

// Client 是 RSS 采集适配器。
type Client struct {
	parser *gofeed.Parser
}

var _ provider.RSSProvider = (*Client)(nil)

// New 创建 RSS 适配器。
func New(timeout time.Duration) *Client {
	p := gofeed.NewParser()
	p.Client = newHTTPClient(timeout)
	return &Client{parser: p}
}

// Fetch 拉取并解析单个 feed。
// 缺少标题或链接的条目跳过并记录日志，不使整体失败。
func (c *Client) Fetch(ctx context.Context, feedURL string) ([]provider.RawArticle, error) {
	feed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rss feed %s: %w", feedURL, err)
	}

	now := time.Now().UTC()
	articles := make([]provider.RawArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || item.Title == "" || item.Link == "" {
			logger.Warnw("rss item missing title or link, skipping", "feed", feedURL)
			continue
		}

		date := now
		if item.PublishedParsed != nil {
			date = item.PublishedParsed.UTC()
		} else if item.UpdatedParsed != nil {
			date = item.UpdatedParsed.UTC()
		}

		body := item.Description
		if body == "" {
			body = item.Content
		}
		if len(body) > maxBodyLen {
			body = body[:maxBodyLen]
		}

		var image string
		if item.Image != nil {
			image = item.Image.URL
		}

		articles = append(articles, provider.RawArticle{
			Title:    item.Title,
			URL:      item.Link,
			Body:     body,
			Date:     date,
			Source:   feed.Title,
			Image:    image,
			Provider: model.ProviderRSS,
		})
	}

	return articles, nil
}
