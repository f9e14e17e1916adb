// Package worker provides runtime options for the newsflow worker loop.
package worker

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/newsflow/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 定义 worker 主循环配置。
type Options struct {
	// PollInterval 队列为空时的轮询间隔。
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// MaxRuntime worker 的最长运行时间（0 表示不限制）。
	MaxRuntime time.Duration `json:"max-runtime" mapstructure:"max-runtime"`

	// LivenessAddr 存活探针 HTTP 监听地址。
	LivenessAddr string `json:"liveness-addr" mapstructure:"liveness-addr"`

	// StalledAfter 运行中任务超过该时长即被 watchdog 标记失败。
	StalledAfter time.Duration `json:"stalled-after" mapstructure:"stalled-after"`

	// MinArticlesForClustering 聚类分析所需的最少文章数。
	MinArticlesForClustering int `json:"min-articles-for-clustering" mapstructure:"min-articles-for-clustering"`

	// OverviewArticles 每个簇用于生成概览的最靠近质心的文章数。
	OverviewArticles int `json:"overview-articles" mapstructure:"overview-articles"`

	// MaxClusters 工作区摘要最多纳入的高相关簇数。
	MaxClusters int `json:"max-clusters" mapstructure:"max-clusters"`

	// IncludeSummaryThreshold 摘要格式化时包含每簇 summary 的簇数上限。
	IncludeSummaryThreshold int `json:"include-summary-threshold" mapstructure:"include-summary-threshold"`

	// StartersCount 生成的对话开场白数量（1..4）。
	StartersCount int `json:"starters-count" mapstructure:"starters-count"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		PollInterval:             15 * time.Second,
		MaxRuntime:               0,
		LivenessAddr:             ":8089",
		StalledAfter:             2 * time.Hour,
		MinArticlesForClustering: 5,
		OverviewArticles:         10,
		MaxClusters:              20,
		IncludeSummaryThreshold:  8,
		StartersCount:            4,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.PollInterval, options.Join(prefixes...)+"worker.poll-interval", o.PollInterval, "Polling interval when the run queue is empty.")
	fs.DurationVar(&o.MaxRuntime, options.Join(prefixes...)+"worker.max-runtime", o.MaxRuntime, "Maximum worker runtime before a clean exit (0 = unlimited).")
	fs.StringVar(&o.LivenessAddr, options.Join(prefixes...)+"worker.liveness-addr", o.LivenessAddr, "Listen address for the liveness probe.")
	fs.DurationVar(&o.StalledAfter, options.Join(prefixes...)+"worker.stalled-after", o.StalledAfter, "Age after which a running run is considered stalled.")
	fs.IntVar(&o.MinArticlesForClustering, options.Join(prefixes...)+"worker.min-articles-for-clustering", o.MinArticlesForClustering, "Minimum articles required for a clustering run.")
	fs.IntVar(&o.OverviewArticles, options.Join(prefixes...)+"worker.overview-articles", o.OverviewArticles, "Most-central articles fed to the overview stage per cluster.")
	fs.IntVar(&o.MaxClusters, options.Join(prefixes...)+"worker.max-clusters", o.MaxClusters, "Maximum highly relevant clusters included in the workspace summary.")
	fs.IntVar(&o.IncludeSummaryThreshold, options.Join(prefixes...)+"worker.include-summary-threshold", o.IncludeSummaryThreshold, "Below this cluster count, summaries are included in formatting.")
	fs.IntVar(&o.StartersCount, options.Join(prefixes...)+"worker.starters-count", o.StartersCount, "Number of conversation starters to generate (1..4).")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker poll-interval must be positive"))
	}
	if o.StalledAfter <= 0 {
		errs = append(errs, fmt.Errorf("worker stalled-after must be positive"))
	}
	if o.MinArticlesForClustering < 1 {
		errs = append(errs, fmt.Errorf("worker min-articles-for-clustering must be at least 1"))
	}
	if o.StartersCount < 1 || o.StartersCount > 4 {
		errs = append(errs, fmt.Errorf("worker starters-count must be between 1 and 4"))
	}
	return errs
}
