// Package llm provides LLM provider configuration options.
package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/newsflow/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// ProviderOptions 定义 LLM 供应商配置。
type ProviderOptions struct {
	// BaseURL API 基础地址（OpenAI 兼容）。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥。
	APIKey string `json:"-" mapstructure:"api-key"`

	// ChatModel 用于对话的模型名称。
	ChatModel string `json:"chat-model" mapstructure:"chat-model"`

	// FallbackChatModel 结构化输出解析失败后重试使用的模型。
	FallbackChatModel string `json:"fallback-chat-model" mapstructure:"fallback-chat-model"`

	// EmbedModel 用于生成嵌入的模型名称。
	EmbedModel string `json:"embed-model" mapstructure:"embed-model"`

	// EmbeddingDim 嵌入向量维度。
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// Timeout 单次请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// RequestsPerSecond worker 级别的令牌桶速率限制。
	RequestsPerSecond float64 `json:"requests-per-second" mapstructure:"requests-per-second"`

	// MaxConcurrency 批量调用的最大并发请求数。
	MaxConcurrency int `json:"max-concurrency" mapstructure:"max-concurrency"`
}

// NewProviderOptions 创建默认 LLM 供应商配置。
func NewProviderOptions() *ProviderOptions {
	return &ProviderOptions{
		BaseURL:           "https://api.openai.com/v1",
		ChatModel:         "gpt-4o-mini",
		FallbackChatModel: "gpt-4o",
		EmbedModel:        "text-embedding-3-small",
		EmbeddingDim:      1536,
		Timeout:           30 * time.Second,
		MaxRetries:        5,
		RequestsPerSecond: 4,
		MaxConcurrency:    8,
	}
}

// AddFlags adds flags for LLM provider options to the specified FlagSet.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.BaseURL, options.Join(prefixes...)+"llm.base-url", o.BaseURL, "LLM API base URL (OpenAI compatible).")
	fs.StringVar(&o.APIKey, options.Join(prefixes...)+"llm.api-key", o.APIKey, "LLM API key (prefer NEWSFLOW_LLM_API_KEY env var).")
	fs.StringVar(&o.ChatModel, options.Join(prefixes...)+"llm.chat-model", o.ChatModel, "Chat model name.")
	fs.StringVar(&o.FallbackChatModel, options.Join(prefixes...)+"llm.fallback-chat-model", o.FallbackChatModel, "Fallback chat model for malformed structured output.")
	fs.StringVar(&o.EmbedModel, options.Join(prefixes...)+"llm.embed-model", o.EmbedModel, "Embedding model name.")
	fs.IntVar(&o.EmbeddingDim, options.Join(prefixes...)+"llm.embedding-dim", o.EmbeddingDim, "Embedding vector dimension.")
	fs.DurationVar(&o.Timeout, options.Join(prefixes...)+"llm.timeout", o.Timeout, "Per-attempt request timeout.")
	fs.IntVar(&o.MaxRetries, options.Join(prefixes...)+"llm.max-retries", o.MaxRetries, "Maximum retry attempts on transient errors.")
	fs.Float64Var(&o.RequestsPerSecond, options.Join(prefixes...)+"llm.requests-per-second", o.RequestsPerSecond, "Worker-wide LLM request rate limit.")
	fs.IntVar(&o.MaxConcurrency, options.Join(prefixes...)+"llm.max-concurrency", o.MaxConcurrency, "Maximum in-flight LLM requests per batch.")
}

// Complete 从环境变量补全敏感字段。
func (o *ProviderOptions) Complete() error {
	if o.APIKey == "" {
		o.APIKey = os.Getenv("NEWSFLOW_LLM_API_KEY")
	}
	return nil
}

// Validate validates the LLM provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.BaseURL == "" {
		errs = append(errs, fmt.Errorf("llm base-url is required"))
	}
	if o.ChatModel == "" {
		errs = append(errs, fmt.Errorf("llm chat-model is required"))
	}
	if o.EmbedModel == "" {
		errs = append(errs, fmt.Errorf("llm embed-model is required"))
	}
	if o.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("llm embedding-dim must be positive"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("llm timeout must be positive"))
	}
	if o.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("llm max-concurrency must be positive"))
	}
	if o.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("llm requests-per-second must be positive"))
	}
	return errs
}
