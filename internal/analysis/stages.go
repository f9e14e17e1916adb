package analysis

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/kart-io/newsflow/internal/model"
	"github.com/kart-io/newsflow/pkg/infra/pool"
	"github.com/kart-io/newsflow/pkg/llm"
	"github.com/kart-io/newsflow/pkg/llm/resilience"
	"github.com/kart-io/newsflow/pkg/utils/json"
)

// Stages 保存 LLM 各阶段共享的运行时依赖：
// 对话模型、协程池、worker 级令牌桶和重试配置。
type Stages struct {
	chat    llm.ChatProvider
	pool    *pool.Pool
	limiter *rate.Limiter
	retry   *resilience.RetryConfig
}

// NewStages 创建阶段执行器。limiter 在整个 worker 内共享。
func NewStages(chat llm.ChatProvider, p *pool.Pool, limiter *rate.Limiter, retry *resilience.RetryConfig) *Stages {
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	return &Stages{chat: chat, pool: p, limiter: limiter, retry: retry}
}

// guarded 给一条链叠加共享限流与重试。
func guarded[I, O any](s *Stages, chain Chain[I, O]) Chain[I, O] {
	return WithRetry(WithRateLimit(chain, s.limiter), s.retry)
}

// ArticleSnippet 是喂给概览阶段的单篇文章摘录。
type ArticleSnippet struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// OverviewInput 是概览阶段对单个簇的输入。
type OverviewInput struct {
	Articles []ArticleSnippet
	Language string
}

const overviewSystemPrompt = `You summarize clusters of related news articles. Given a list of articles from one topical cluster, produce a concise title and a short summary of the shared topic.

Respond with JSON only: {"title": "...", "summary": "..."}`

// GenerateOverviews 为一批簇并发生成概览，结果按索引对齐。
func (s *Stages) GenerateOverviews(ctx context.Context, inputs []OverviewInput) ([]BatchResult[*model.Overview], error) {
	chain := guarded(s, func(ctx context.Context, in OverviewInput) (*model.Overview, error) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Respond in %s.\n\nArticles:\n", languageOrDefault(in.Language))
		for i, a := range in.Articles {
			fmt.Fprintf(&sb, "%d. %s\n%s\n\n", i+1, a.Title, a.Body)
		}

		raw, err := s.chat.Generate(ctx, sb.String(), overviewSystemPrompt)
		if err != nil {
			return nil, err
		}

		var out struct {
			Title   string `json:"title"`
			Summary string `json:"summary"`
		}
		if err := decodeJSON(raw, &out); err != nil {
			return nil, err
		}
		if out.Title == "" || out.Summary == "" {
			return nil, fmt.Errorf("overview response missing title or summary")
		}
		return &model.Overview{Title: out.Title, Summary: out.Summary, Language: in.Language}, nil
	})
	return Batch(ctx, s.pool, chain, inputs)
}

// EvaluationInput 是相关性评估阶段对单个簇的输入。
type EvaluationInput struct {
	WorkspaceDescription string
	ClusterTitle         string
	ClusterSummary       string
}

const evaluationSystemPrompt = `You judge whether a news topic cluster is relevant to a research workspace. Given the workspace description and the cluster's title and summary, classify the cluster.

Respond with JSON only: {"justification": "...", "relevance_level": "highly_relevant"|"somewhat_relevant"|"not_relevant", "confidence_score": 0.0-1.0}`

// EvaluateClusters 并发评估一批簇与工作区的相关性。
func (s *Stages) EvaluateClusters(ctx context.Context, inputs []EvaluationInput) ([]BatchResult[*model.Evaluation], error) {
	chain := guarded(s, func(ctx context.Context, in EvaluationInput) (*model.Evaluation, error) {
		prompt := fmt.Sprintf("Workspace description:\n%s\n\nCluster title: %s\nCluster summary: %s",
			in.WorkspaceDescription, in.ClusterTitle, in.ClusterSummary)

		raw, err := s.chat.Generate(ctx, prompt, evaluationSystemPrompt)
		if err != nil {
			return nil, err
		}

		var out model.Evaluation
		if err := decodeJSON(raw, &out); err != nil {
			return nil, err
		}
		switch out.RelevanceLevel {
		case model.RelevanceHighly, model.RelevanceSomewhat, model.RelevanceNot:
		default:
			return nil, fmt.Errorf("invalid relevance_level %q", out.RelevanceLevel)
		}
		if out.ConfidenceScore < 0 || out.ConfidenceScore > 1 {
			return nil, fmt.Errorf("confidence_score %v out of [0,1]", out.ConfidenceScore)
		}
		return &out, nil
	})
	return Batch(ctx, s.pool, chain, inputs)
}

const startersSystemPrompt = `You write conversation starters for a news research workspace. Given recent topic overviews, write natural-language questions a reader might ask next, one per topic.

Respond with JSON only: {"questions": ["...", "..."]}`

// GenerateStarters 基于最近的高相关簇概览生成 1..4 个开场白问题。
func (s *Stages) GenerateStarters(ctx context.Context, overviews []model.Overview, language string, count int) ([]string, error) {
	if len(overviews) == 0 {
		return nil, fmt.Errorf("no overviews available for starters generation")
	}
	if count < 1 {
		count = 1
	} else if count > 4 {
		count = 4
	}
	if count > len(overviews) {
		count = len(overviews)
	}

	chain := guarded(s, func(ctx context.Context, n int) ([]string, error) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Write exactly %d questions in %s.\n\nRecent topics:\n", n, languageOrDefault(language))
		for i, o := range overviews {
			fmt.Fprintf(&sb, "%d. %s — %s\n", i+1, o.Title, o.Summary)
		}

		raw, err := s.chat.Generate(ctx, sb.String(), startersSystemPrompt)
		if err != nil {
			return nil, err
		}

		var out struct {
			Questions []string `json:"questions"`
		}
		if err := decodeJSON(raw, &out); err != nil {
			return nil, err
		}
		if len(out.Questions) == 0 {
			return nil, fmt.Errorf("starters response contains no questions")
		}
		if len(out.Questions) > n {
			out.Questions = out.Questions[:n]
		}
		return out.Questions, nil
	})
	return chain(ctx, count)
}

const summarySystemPrompt = `You write a workspace-level digest of one analysis session. Given the session's relevant topic overviews, produce a single coherent markdown summary for the workspace owner.

Respond with the markdown text only, no JSON.`

// GenerateWorkspaceSummary 为本次会话的高相关簇生成工作区级摘要。
// 簇数不低于 includeSummaryThreshold 时只用标题拼装输入，控制提示词长度。
func (s *Stages) GenerateWorkspaceSummary(ctx context.Context, overviews []model.Overview, language string, includeSummaryThreshold int) (string, error) {
	if len(overviews) == 0 {
		return "", fmt.Errorf("no overviews available for workspace summary")
	}
	includeSummaries := len(overviews) < includeSummaryThreshold

	chain := guarded(s, func(ctx context.Context, _ struct{}) (string, error) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Respond in %s.\n\nSession topics:\n", languageOrDefault(language))
		for i, o := range overviews {
			if includeSummaries {
				fmt.Fprintf(&sb, "%d. %s — %s\n", i+1, o.Title, o.Summary)
			} else {
				fmt.Fprintf(&sb, "%d. %s\n", i+1, o.Title)
			}
		}

		raw, err := s.chat.Generate(ctx, sb.String(), summarySystemPrompt)
		if err != nil {
			return "", err
		}
		summary := strings.TrimSpace(raw)
		if summary == "" {
			return "", fmt.Errorf("workspace summary response is empty")
		}
		return summary, nil
	})
	return chain(ctx, struct{}{})
}

func languageOrDefault(language string) string {
	if language == "" {
		return "English"
	}
	return language
}

// decodeJSON 解析模型输出的 JSON，容忍 markdown 代码围栏。
func decodeJSON(raw string, out any) error {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("failed to parse structured output: %w", err)
	}
	return nil
}
