// Package cleaner 使用 LLM 从抓取到的原始 markdown 中提取干净的正文。
//
// 模型输出采用 XML 标签信封而非结构化输出模式，解析更鲁棒：
// 成功时为 <title>…</title><content>…</content>，失败时为 <error>…</error>。
package cleaner

import (
	"context"
	"errors"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/newsflow/pkg/llm"
)

const systemPrompt = `You are a content extraction assistant. Given the raw markdown of a web page, extract the main article.

Respond ONLY with an XML envelope, no other text:
- On success: <title>the article title</title><content>the cleaned article body as markdown, with navigation, ads, cookie banners, related-links blocks and boilerplate removed</content>
- If the page contains no extractable article (error page, paywall, empty page): <error>short reason</error>`

// Result 清洗成功的产物。
type Result struct {
	Title   string
	Content string
}

// Cleaner 驱动清洗调用：主模型解析失败时在回退模型上重试一次。
type Cleaner struct {
	primary  llm.ChatProvider
	fallback llm.ChatProvider
}

// New 创建清洗器。fallback 可为 nil，表示不做回退。
func New(primary, fallback llm.ChatProvider) *Cleaner {
	return &Cleaner{primary: primary, fallback: fallback}
}

// Clean 清洗一篇文章的原始 markdown。
// 仅当主模型输出格式不合法时在回退模型上重试一次；
// 模型明确返回 <error> 或调用本身失败都不触发回退。
// 返回错误时调用方应将其落为 content_cleaning_error，而不是让整个摄取运行失败。
func (c *Cleaner) Clean(ctx context.Context, rawMarkdown string) (*Result, error) {
	result, err := c.cleanWith(ctx, c.primary, rawMarkdown)
	if err == nil {
		return result, nil
	}
	if c.fallback == nil || !errors.Is(err, ErrMalformedEnvelope) {
		return nil, err
	}

	logger.Warnw("content cleaning failed on primary model, retrying on fallback",
		"primary", c.primary.Name(), "error", err)

	result, fbErr := c.cleanWith(ctx, c.fallback, rawMarkdown)
	if fbErr != nil {
		return nil, fmt.Errorf("fallback model also failed: %w", fbErr)
	}
	return result, nil
}

func (c *Cleaner) cleanWith(ctx context.Context, provider llm.ChatProvider, rawMarkdown string) (*Result, error) {
	raw, err := provider.Generate(ctx, rawMarkdown, systemPrompt)
	if err != nil {
		return nil, err
	}
	title, content, err := ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return &Result{Title: title, Content: content}, nil
}
