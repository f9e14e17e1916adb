// Package analysis 实现分析会话：密度聚类之后的各个 LLM 阶段，
// 以及驱动它们的协调器。
//
// 每个阶段是一条链：输入 → 提示词 → LLM → 结构化输出。
// 链上可叠加重试、全局令牌桶限流和带并发上限的批量执行。
package analysis

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/kart-io/newsflow/pkg/infra/pool"
	"github.com/kart-io/newsflow/pkg/llm/resilience"
)

// Chain 是一次从输入到结构化输出的 LLM 调用。
type Chain[I, O any] func(ctx context.Context, input I) (O, error)

// BatchResult 是批量执行中单个输入的结果，与输入按索引对齐。
type BatchResult[O any] struct {
	Value O
	Err   error
}

// WithRetry 在瞬态错误上以指数退避重试整条链。
func WithRetry[I, O any](chain Chain[I, O], cfg *resilience.RetryConfig) Chain[I, O] {
	return func(ctx context.Context, input I) (O, error) {
		var out O
		err := resilience.RetryWithBackoff(ctx, cfg, func() error {
			var callErr error
			out, callErr = chain(ctx, input)
			return callErr
		})
		return out, err
	}
}

// WithRateLimit 让每次调用先从共享令牌桶取令牌。
// 同一个 limiter 可挂在多条链上，形成 worker 级别的速率上限。
func WithRateLimit[I, O any](chain Chain[I, O], limiter *rate.Limiter) Chain[I, O] {
	return func(ctx context.Context, input I) (O, error) {
		if err := limiter.Wait(ctx); err != nil {
			var zero O
			return zero, err
		}
		return chain(ctx, input)
	}
}

// Batch 在协程池上并发执行一批输入，返回按索引对齐的结果。
// 单个输入的失败只体现在对应的 BatchResult.Err 上，由调用方裁决。
// 上下文取消后，尚未开始的输入以 ctx.Err() 记入对应结果，Batch 总会返回。
func Batch[I, O any](ctx context.Context, p *pool.Pool, chain Chain[I, O], inputs []I) ([]BatchResult[O], error) {
	results := make([]BatchResult[O], len(inputs))

	// 取消检查放在任务体内而不是交给池的包装器：
	// 包装器跳过任务体时 wg.Done 不会执行，Wait 将永久阻塞。
	var wg sync.WaitGroup
	for i := range inputs {
		i := i
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return
			}
			results[i].Value, results[i].Err = chain(ctx, inputs[i])
		}); err != nil {
			wg.Done()
			return nil, err
		}
	}
	wg.Wait()
	return results, nil
}
