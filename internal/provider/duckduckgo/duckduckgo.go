// Package duckduckgo 提供 DuckDuckGo 新闻搜索适配器。
//
// DuckDuckGo 没有官方 API：先从首页响应提取 vqd 令牌，
// 再调用 news.js 端点分页获取 JSON 结果。
package duckduckgo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/newsflow/internal/model"
	"github.com/kart-io/newsflow/internal/provider"
	"github.com/kart-io/newsflow/pkg/llm/resilience"
	"github.com/kart-io/newsflow/pkg/utils/httpclient"
	"github.com/kart-io/newsflow/pkg/utils/json"
)

// pageSize 是 news.js 每页返回的条目数。
const pageSize = 30

var vqdPattern = regexp.MustCompile(`vqd=['"]?([\d-]+)`)

// Client 是 DuckDuckGo 搜索适配器。
type Client struct {
	baseURL    string
	querySleep time.Duration
	client     *httpclient.Client
	retry      *resilience.RetryConfig
}

var _ provider.SearchProvider = (*Client)(nil)

// Config DuckDuckGo 适配器配置。
type Config struct {
	BaseURL string
	// QuerySleep 相邻查询间的暂停，避免被限流。
	QuerySleep time.Duration
	Timeout    time.Duration
	MaxRetries int
}

// New 创建 DuckDuckGo 适配器。
func New(cfg *Config) *Client {
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		querySleep: cfg.QuerySleep,
		client:     httpclient.NewClient(cfg.Timeout, 0),
		retry:      retry,
	}
}

// Name 返回供应商标识。
func (c *Client) Name() model.Provider {
	return model.ProviderDuckDuckGo
}

// newsItem news.js 返回的单条新闻。日期是 Unix 秒。
type newsItem struct {
	Date    int64  `json:"date"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt"`
	Source  string `json:"source"`
	Image   string `json:"image"`
}

type newsResponse struct {
	Results []newsItem `json:"results"`
	Next    string     `json:"next"`
}

// Search 执行单条查询，分页直到收满 maxResults。
func (c *Client) Search(ctx context.Context, query, region string, maxResults int, timeLimit model.TimeLimit) ([]provider.RawArticle, error) {
	vqd, err := c.fetchVQD(ctx, query)
	if err != nil {
		return nil, err
	}

	var articles []provider.RawArticle
	offset := 0
	for len(articles) < maxResults {
		page, hasNext, pageErr := c.fetchNewsPage(ctx, query, region, vqd, timeLimit, offset)
		if pageErr != nil {
			return nil, pageErr
		}

		for _, item := range page {
			if len(articles) >= maxResults {
				break
			}
			if item.URL == "" || item.Title == "" {
				logger.Warnw("duckduckgo item missing url or title, skipping", "query", query)
				continue
			}
			articles = append(articles, provider.RawArticle{
				Title:    item.Title,
				URL:      item.URL,
				Body:     item.Excerpt,
				Date:     time.Unix(item.Date, 0).UTC(),
				Source:   item.Source,
				Image:    item.Image,
				Provider: model.ProviderDuckDuckGo,
			})
		}

		if !hasNext || len(page) == 0 {
			break
		}
		offset += pageSize
	}

	return articles, nil
}

// BatchSearch 按序执行多条查询，查询间暂停 querySleep。
// 任一查询失败则整体失败。
func (c *Client) BatchSearch(ctx context.Context, queries []string, region string, maxResults int, timeLimit model.TimeLimit) ([]provider.RawArticle, error) {
	var articles []provider.RawArticle
	for i, query := range queries {
		if i > 0 && c.querySleep > 0 {
			select {
			case <-time.After(c.querySleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.Search(ctx, query, region, maxResults, timeLimit)
		if err != nil {
			return nil, fmt.Errorf("duckduckgo query %q failed: %w", query, err)
		}
		articles = append(articles, result...)
	}
	return articles, nil
}

// fetchVQD 从首页响应提取查询令牌。
func (c *Client) fetchVQD(ctx context.Context, query string) (string, error) {
	var vqd string
	err := resilience.RetryWithBackoff(ctx, c.retry, func() error {
		u := fmt.Sprintf("%s/?q=%s&ia=news", c.baseURL, url.QueryEscape(query))
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if reqErr != nil {
			return fmt.Errorf("failed to build vqd request: %w", reqErr)
		}

		resp, doErr := c.client.DoRequest(req)
		if doErr != nil {
			return doErr
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			return &httpclient.StatusError{StatusCode: resp.StatusCode, Body: "vqd fetch failed"}
		}

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("failed to read vqd response: %w", readErr)
		}

		m := vqdPattern.FindSubmatch(body)
		if m == nil {
			return fmt.Errorf("vqd token not found in response")
		}
		vqd = string(m[1])
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to obtain vqd token: %w", err)
	}
	return vqd, nil
}

// fetchNewsPage 拉取一页新闻结果。
func (c *Client) fetchNewsPage(ctx context.Context, query, region, vqd string, timeLimit model.TimeLimit, offset int) ([]newsItem, bool, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("o", "json")
	params.Set("noamp", "1")
	params.Set("vqd", vqd)
	if region != "" {
		params.Set("l", region)
	}
	if timeLimit != "" {
		params.Set("df", string(timeLimit))
	}
	if offset > 0 {
		params.Set("s", strconv.Itoa(offset))
	}

	var result newsResponse
	err := resilience.RetryWithBackoff(ctx, c.retry, func() error {
		u := c.baseURL + "/news.js?" + params.Encode()
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if reqErr != nil {
			return fmt.Errorf("failed to build news request: %w", reqErr)
		}

		resp, doErr := c.client.DoRequest(req)
		if doErr != nil {
			return doErr
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			return &httpclient.StatusError{StatusCode: resp.StatusCode, Body: "news fetch failed"}
		}

		result = newsResponse{}
		if decErr := json.NewDecoder(resp.Body).Decode(&result); decErr != nil {
			return fmt.Errorf("failed to decode news response: %w", decErr)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result.Results, result.Next != "", nil
}
