// Package serperdev 提供基于 Serper HTTP API 的搜索适配器。
// Serper 支持批量查询（单次最多 100 条），新闻条目带相对日期字符串。
package serperdev

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/newsflow/internal/model"
	"github.com/kart-io/newsflow/internal/provider"
	"github.com/kart-io/newsflow/pkg/llm/resilience"
	"github.com/kart-io/newsflow/pkg/utils/httpclient"
	"github.com/kart-io/newsflow/pkg/utils/json"
)

// maxBatchQueries 是 Serper 单次请求允许的最大查询数。
const maxBatchQueries = 100

// Client 是 Serper 搜索适配器。
type Client struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
	retry   *resilience.RetryConfig
}

var _ provider.SearchProvider = (*Client)(nil)

// Config Serper 适配器配置。
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// New 创建 Serper 适配器。
func New(cfg *Config) *Client {
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  httpclient.NewClient(cfg.Timeout, 0),
		retry:   retry,
	}
}

// Name 返回供应商标识。
func (c *Client) Name() model.Provider {
	return model.ProviderSerperDev
}

// searchRequest 是批量请求中的单条查询。
type searchRequest struct {
	Q   string `json:"q"`
	GL  string `json:"gl,omitempty"`
	Num int    `json:"num,omitempty"`
	TBS string `json:"tbs,omitempty"`
}

// newsItem Serper 新闻条目。
type newsItem struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Date     string `json:"date"`
	Source   string `json:"source"`
	ImageURL string `json:"imageUrl"`
}

// searchResponse 是批量响应中的单条结果。
type searchResponse struct {
	News []newsItem `json:"news"`
}

// timeLimitToTBS 将时间窗口映射为 Serper 的 tbs 参数。
func timeLimitToTBS(limit model.TimeLimit) string {
	switch limit {
	case model.TimeLimitDay:
		return "qdr:d"
	case model.TimeLimitWeek:
		return "qdr:w"
	case model.TimeLimitMonth:
		return "qdr:m"
	case model.TimeLimitYear:
		return "qdr:y"
	default:
		return ""
	}
}

// Search 执行单条查询。
func (c *Client) Search(ctx context.Context, query, region string, maxResults int, timeLimit model.TimeLimit) ([]provider.RawArticle, error) {
	return c.BatchSearch(ctx, []string{query}, region, maxResults, timeLimit)
}

// BatchSearch 按序执行多条查询，内部按 100 条切分子批。
// 任一子批失败则整体失败。
func (c *Client) BatchSearch(ctx context.Context, queries []string, region string, maxResults int, timeLimit model.TimeLimit) ([]provider.RawArticle, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	var articles []provider.RawArticle
	for start := 0; start < len(queries); start += maxBatchQueries {
		end := start + maxBatchQueries
		if end > len(queries) {
			end = len(queries)
		}

		batch, err := c.searchBatch(ctx, queries[start:end], region, maxResults, timeLimit)
		if err != nil {
			return nil, fmt.Errorf("serper batch %d..%d failed: %w", start, end, err)
		}
		articles = append(articles, batch...)
	}

	return articles, nil
}

// searchBatch 执行一个子批并映射结果。
func (c *Client) searchBatch(ctx context.Context, queries []string, region string, maxResults int, timeLimit model.TimeLimit) ([]provider.RawArticle, error) {
	payload := make([]searchRequest, len(queries))
	for i, q := range queries {
		payload[i] = searchRequest{
			Q:   q,
			GL:  region,
			Num: maxResults,
			TBS: timeLimitToTBS(timeLimit),
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal serper request: %w", err)
	}

	var responses []searchResponse
	err = resilience.RetryWithBackoff(ctx, c.retry, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/news", bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("failed to build serper request: %w", reqErr)
		}
		req.Header.Set("X-API-KEY", c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		responses = responses[:0]
		return c.client.DoJSON(req, &responses)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var articles []provider.RawArticle
	for qi, resp := range responses {
		count := 0
		for _, item := range resp.News {
			if count >= maxResults {
				break
			}
			if item.Link == "" || item.Title == "" {
				logger.Warnw("serper item missing link or title, skipping", "query", queries[qi])
				continue
			}

			date, dateErr := provider.ParseArticleDate(item.Date, now)
			if dateErr != nil {
				logger.Debugw("serper item date unparseable, using now",
					"date", item.Date, "url", item.Link)
				date = now
			}

			articles = append(articles, provider.RawArticle{
				Title:    item.Title,
				URL:      item.Link,
				Body:     item.Snippet,
				Date:     date,
				Source:   item.Source,
				Image:    item.ImageURL,
				Provider: model.ProviderSerperDev,
			})
			count++
		}
	}

	return articles, nil
}
