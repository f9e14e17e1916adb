// Package provider 定义内容供应商的统一接口。
//
// 搜索、RSS 与 URL→Markdown 三类适配器各自拥有重试、退避与限流策略，
// 只在耗尽后向协调器暴露错误。
package provider

import (
	"context"
	"time"

	"github.com/kart-io/newsflow/internal/model"
)

// RawArticle 是适配器返回的统一原始条目。
type RawArticle struct {
	Title    string
	URL      string
	Body     string
	Date     time.Time
	Source   string
	Image    string
	Provider model.Provider
}

// SearchProvider 定义网页搜索适配器接口。
type SearchProvider interface {
	// Search 执行单条查询，最多返回 maxResults 条，空结果不报错。
	Search(ctx context.Context, query, region string, maxResults int, timeLimit model.TimeLimit) ([]RawArticle, error)

	// BatchSearch 按序执行多条查询。任一子批失败则整体失败。
	BatchSearch(ctx context.Context, queries []string, region string, maxResults int, timeLimit model.TimeLimit) ([]RawArticle, error)

	// Name 返回供应商标识。
	Name() model.Provider
}

// RSSProvider 定义 RSS 拉取接口。
type RSSProvider interface {
	// Fetch 拉取单个 feed。畸形条目跳过并记录日志，不使整体失败。
	Fetch(ctx context.Context, feedURL string) ([]RawArticle, error)
}

// ConvertResult 是一次 URL→Markdown 转换的结果。
type ConvertResult struct {
	URL              string
	Markdown         string
	Metadata         map[string]string
	ExtractionMethod string
}

// BatchConvertItem 是批量转换中按索引对齐的单项结果。
type BatchConvertItem struct {
	Result *ConvertResult
	Err    error
}

// URLToMarkdownConverter 定义网页正文抽取接口。
type URLToMarkdownConverter interface {
	// Convert 转换单个 URL，受令牌桶限流。
	Convert(ctx context.Context, url string) (*ConvertResult, error)

	// ConvertBatch 批量转换，结果与输入按索引对齐。
	// 批量调用绕过单条限流器，由供应商侧自行限速。
	ConvertBatch(ctx context.Context, urls []string) ([]BatchConvertItem, error)
}

// DedupeByURL 按 URL 去重，保留首次出现（稳定）。
func DedupeByURL(articles []RawArticle) []RawArticle {
	seen := make(map[string]bool, len(articles))
	out := make([]RawArticle, 0, len(articles))
	for _, a := range articles {
		if seen[a.URL] {
			continue
		}
		seen[a.URL] = true
		out = append(out, a)
	}
	return out
}
