// Package provider provides configuration options for content providers
// (web search and URL-to-Markdown conversion).
package provider

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/newsflow/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 定义搜索与内容抓取供应商配置。
type Options struct {
	// SerperAPIKey Serper 搜索 API 密钥。
	SerperAPIKey string `json:"-" mapstructure:"serper-api-key"`

	// SerperBaseURL Serper API 地址。
	SerperBaseURL string `json:"serper-base-url" mapstructure:"serper-base-url"`

	// DuckDuckGoBaseURL DuckDuckGo 兼容搜索端点。
	DuckDuckGoBaseURL string `json:"duckduckgo-base-url" mapstructure:"duckduckgo-base-url"`

	// QuerySleep 同一配置内相邻查询间的暂停时间。
	QuerySleep time.Duration `json:"query-sleep" mapstructure:"query-sleep"`

	// FirecrawlAPIKey URL→Markdown 转换服务密钥。
	FirecrawlAPIKey string `json:"-" mapstructure:"firecrawl-api-key"`

	// FirecrawlBaseURL URL→Markdown 转换服务地址。
	FirecrawlBaseURL string `json:"firecrawl-base-url" mapstructure:"firecrawl-base-url"`

	// ConvertRateLimit 单条转换的令牌桶额度（ConvertRateLimit 次 / ConvertRateWindow）。
	ConvertRateLimit  int           `json:"convert-rate-limit" mapstructure:"convert-rate-limit"`
	ConvertRateWindow time.Duration `json:"convert-rate-window" mapstructure:"convert-rate-window"`

	// RequestTimeout 单次供应商请求的超时时间。
	RequestTimeout time.Duration `json:"request-timeout" mapstructure:"request-timeout"`

	// MaxRetries 供应商请求的最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		SerperBaseURL:     "https://google.serper.dev",
		DuckDuckGoBaseURL: "https://duckduckgo.com",
		QuerySleep:        time.Second,
		FirecrawlBaseURL:  "https://api.firecrawl.dev",
		ConvertRateLimit:  8,
		ConvertRateWindow: time.Minute,
		RequestTimeout:    30 * time.Second,
		MaxRetries:        3,
	}
}

// Complete 从环境变量补全敏感字段。
func (o *Options) Complete() error {
	if o.SerperAPIKey == "" {
		o.SerperAPIKey = os.Getenv("NEWSFLOW_SERPER_API_KEY")
	}
	if o.FirecrawlAPIKey == "" {
		o.FirecrawlAPIKey = os.Getenv("NEWSFLOW_FIRECRAWL_API_KEY")
	}
	return nil
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.SerperAPIKey, options.Join(prefixes...)+"provider.serper-api-key", o.SerperAPIKey, "Serper search API key (prefer NEWSFLOW_SERPER_API_KEY env var).")
	fs.StringVar(&o.SerperBaseURL, options.Join(prefixes...)+"provider.serper-base-url", o.SerperBaseURL, "Serper API base URL.")
	fs.StringVar(&o.DuckDuckGoBaseURL, options.Join(prefixes...)+"provider.duckduckgo-base-url", o.DuckDuckGoBaseURL, "DuckDuckGo-compatible search endpoint.")
	fs.DurationVar(&o.QuerySleep, options.Join(prefixes...)+"provider.query-sleep", o.QuerySleep, "Pause between consecutive queries of one config.")
	fs.StringVar(&o.FirecrawlAPIKey, options.Join(prefixes...)+"provider.firecrawl-api-key", o.FirecrawlAPIKey, "URL-to-Markdown API key (prefer NEWSFLOW_FIRECRAWL_API_KEY env var).")
	fs.StringVar(&o.FirecrawlBaseURL, options.Join(prefixes...)+"provider.firecrawl-base-url", o.FirecrawlBaseURL, "URL-to-Markdown API base URL.")
	fs.IntVar(&o.ConvertRateLimit, options.Join(prefixes...)+"provider.convert-rate-limit", o.ConvertRateLimit, "Single conversions allowed per rate window.")
	fs.DurationVar(&o.ConvertRateWindow, options.Join(prefixes...)+"provider.convert-rate-window", o.ConvertRateWindow, "Rate window for single conversions.")
	fs.DurationVar(&o.RequestTimeout, options.Join(prefixes...)+"provider.request-timeout", o.RequestTimeout, "Per-attempt provider request timeout.")
	fs.IntVar(&o.MaxRetries, options.Join(prefixes...)+"provider.max-retries", o.MaxRetries, "Maximum retry attempts for provider requests.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ConvertRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("provider convert-rate-limit must be positive"))
	}
	if o.ConvertRateWindow <= 0 {
		errs = append(errs, fmt.Errorf("provider convert-rate-window must be positive"))
	}
	if o.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("provider request-timeout must be positive"))
	}
	return errs
}
