// Package firecrawl 提供 URL→Markdown 转换适配器。
//
// 单条转换受进程内令牌桶限流；批量转换走异步任务端点，
// 绕过本地限流器，由服务端自行限速。
package firecrawl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kart-io/logger"

	"github.com/kart-io/newsflow/internal/provider"
	"github.com/kart-io/newsflow/pkg/llm/resilience"
	"github.com/kart-io/newsflow/pkg/utils/httpclient"
	"github.com/kart-io/newsflow/pkg/utils/json"
)

// extractionMethod 标识抽取来源，随 ContentFetchingResult 持久化。
const extractionMethod = "firecrawl"

// defaultPollInterval 是批量任务的轮询间隔。
const defaultPollInterval = 2 * time.Second

// Client 是 URL→Markdown 转换适配器。
type Client struct {
	baseURL      string
	apiKey       string
	client       *httpclient.Client
	retry        *resilience.RetryConfig
	limiter      *rate.Limiter
	pollInterval time.Duration
}

var _ provider.URLToMarkdownConverter = (*Client)(nil)

// Config 转换适配器配置。
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// RateLimit 允许的单条转换数 / RateWindow。
	RateLimit  int
	RateWindow time.Duration
	// PollInterval 批量任务轮询间隔，零值用默认。
	PollInterval time.Duration
}

// New 创建转换适配器。
func New(cfg *Config) *Client {
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}

	window := cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 8
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		client:       httpclient.NewClient(cfg.Timeout, 0),
		retry:        retry,
		limiter:      rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit),
		pollInterval: poll,
	}
}

// scrapeRequest 单条转换请求体。
type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

// scrapeData 转换结果数据。
type scrapeData struct {
	Markdown string         `json:"markdown"`
	Metadata map[string]any `json:"metadata"`
}

type scrapeResponse struct {
	Success bool       `json:"success"`
	Data    scrapeData `json:"data"`
	Error   string     `json:"error"`
}

// Convert 转换单个 URL，先取令牌再发请求。
func (c *Client) Convert(ctx context.Context, url string) (*provider.ConvertResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(scrapeRequest{URL: url, Formats: []string{"markdown"}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scrape request: %w", err)
	}

	var resp scrapeResponse
	err = resilience.RetryWithBackoff(ctx, c.retry, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scrape", bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("failed to build scrape request: %w", reqErr)
		}
		c.setHeaders(req)

		resp = scrapeResponse{}
		return c.client.DoJSON(req, &resp)
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("scrape failed for %s: %s", url, resp.Error)
	}

	return &provider.ConvertResult{
		URL:              url,
		Markdown:         resp.Data.Markdown,
		Metadata:         stringMetadata(resp.Data.Metadata),
		ExtractionMethod: extractionMethod,
	}, nil
}

// batchScrapeRequest 批量转换请求体。
type batchScrapeRequest struct {
	URLs    []string `json:"urls"`
	Formats []string `json:"formats"`
}

type batchScrapeStart struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

type batchScrapeStatus struct {
	Status string       `json:"status"`
	Data   []scrapeData `json:"data"`
	Error  string       `json:"error"`
}

// ConvertBatch 批量转换。结果与输入按索引对齐：
// 成功的条目带 Result，服务端未返回的条目带 Err。
func (c *Client) ConvertBatch(ctx context.Context, urls []string) ([]provider.BatchConvertItem, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	jobID, err := c.startBatch(ctx, urls)
	if err != nil {
		return nil, err
	}

	status, err := c.waitBatch(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// 服务端按 sourceURL 标注结果，据此回填到输入顺序。
	byURL := make(map[string]*scrapeData, len(status.Data))
	for i := range status.Data {
		data := &status.Data[i]
		if src, ok := data.Metadata["sourceURL"].(string); ok {
			byURL[src] = data
		}
	}

	items := make([]provider.BatchConvertItem, len(urls))
	for i, url := range urls {
		data, ok := byURL[url]
		if !ok {
			// 无法按 URL 对齐时退回位置对齐
			if len(status.Data) == len(urls) {
				data = &status.Data[i]
				ok = true
			}
		}
		if !ok {
			items[i] = provider.BatchConvertItem{Err: fmt.Errorf("no conversion result for %s", url)}
			continue
		}
		items[i] = provider.BatchConvertItem{Result: &provider.ConvertResult{
			URL:              url,
			Markdown:         data.Markdown,
			Metadata:         stringMetadata(data.Metadata),
			ExtractionMethod: extractionMethod,
		}}
	}
	return items, nil
}

// startBatch 提交批量任务并返回任务 id。
func (c *Client) startBatch(ctx context.Context, urls []string) (string, error) {
	body, err := json.Marshal(batchScrapeRequest{URLs: urls, Formats: []string{"markdown"}})
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch request: %w", err)
	}

	var start batchScrapeStart
	err = resilience.RetryWithBackoff(ctx, c.retry, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/batch/scrape", bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("failed to build batch request: %w", reqErr)
		}
		c.setHeaders(req)

		start = batchScrapeStart{}
		return c.client.DoJSON(req, &start)
	})
	if err != nil {
		return "", err
	}
	if !start.Success || start.ID == "" {
		return "", fmt.Errorf("batch scrape rejected: %s", start.Error)
	}
	return start.ID, nil
}

// waitBatch 轮询批量任务直到完成或失败。
func (c *Client) waitBatch(ctx context.Context, jobID string) (*batchScrapeStatus, error) {
	for {
		var status batchScrapeStatus
		err := resilience.RetryWithBackoff(ctx, c.retry, func() error {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/batch/scrape/"+jobID, nil)
			if reqErr != nil {
				return fmt.Errorf("failed to build batch status request: %w", reqErr)
			}
			c.setHeaders(req)

			status = batchScrapeStatus{}
			return c.client.DoJSON(req, &status)
		})
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case "completed":
			return &status, nil
		case "failed", "cancelled":
			return nil, fmt.Errorf("batch scrape %s %s: %s", jobID, status.Status, status.Error)
		default:
			logger.Debugw("batch scrape in progress", "job", jobID, "status", status.Status)
		}

		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// stringMetadata 仅保留字符串类型的元数据字段。
func stringMetadata(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
