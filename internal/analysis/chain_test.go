package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/kart-io/newsflow/pkg/infra/pool"
	"github.com/kart-io/newsflow/pkg/llm/resilience"
)

func testPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.NewPool("analysis-test", pool.AnalysisPool, pool.AnalysisPoolConfig(4))
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func fastRetry(attempts int) *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		RetryableErrors: func(err error) bool {
			return true
		},
	}
}

func TestWithRetry(t *testing.T) {
	var calls int32
	chain := Chain[int, int](func(ctx context.Context, in int) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, errors.New("transient")
		}
		return in * 2, nil
	})

	out, err := WithRetry(chain, fastRetry(5))(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWithRateLimit(t *testing.T) {
	chain := Chain[int, int](func(ctx context.Context, in int) (int, error) {
		return in, nil
	})
	// 桶深 1，补充周期 50ms，两次调用必须间隔等待
	limited := WithRateLimit(chain, rate.NewLimiter(rate.Every(50*time.Millisecond), 1))

	ctx := context.Background()
	start := time.Now()
	_, err := limited(ctx, 1)
	require.NoError(t, err)
	_, err = limited(ctx, 2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
}

func TestBatch(t *testing.T) {
	t.Run("单个失败不影响其余结果且按索引对齐", func(t *testing.T) {
		chain := Chain[string, string](func(ctx context.Context, in string) (string, error) {
			if in == "bad" {
				return "", errors.New("boom")
			}
			return in + "!", nil
		})

		results, err := Batch(context.Background(), testPool(t), chain, []string{"a", "bad", "c"})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "a!", results[0].Value)
		assert.NoError(t, results[0].Err)
		assert.Error(t, results[1].Err)
		assert.Equal(t, "c!", results[2].Value)
		assert.NoError(t, results[2].Err)
	})

	t.Run("空输入", func(t *testing.T) {
		chain := Chain[int, int](func(ctx context.Context, in int) (int, error) { return in, nil })
		results, err := Batch(context.Background(), testPool(t), chain, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("取消时排队中的任务也会收尾", func(t *testing.T) {
		// 容量 1 的池：第一个任务阻塞在 ctx 上，第二个在队列中等待。
		p, err := pool.NewPool("analysis-cancel-test", pool.AnalysisPool, pool.AnalysisPoolConfig(1))
		require.NoError(t, err)
		t.Cleanup(p.Release)

		ctx, cancel := context.WithCancel(context.Background())
		started := make(chan struct{})
		chain := Chain[int, int](func(ctx context.Context, in int) (int, error) {
			if in == 0 {
				close(started)
				<-ctx.Done()
				return 0, ctx.Err()
			}
			return in, nil
		})

		go func() {
			<-started
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		done := make(chan struct{})
		var results []BatchResult[int]
		go func() {
			results, err = Batch(ctx, p, chain, []int{0, 1})
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Batch 在取消后未返回")
		}
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.ErrorIs(t, results[0].Err, context.Canceled)
		assert.ErrorIs(t, results[1].Err, context.Canceled)
	})

	t.Run("并发不超过池容量", func(t *testing.T) {
		var inflight, peak int32
		chain := Chain[int, int](func(ctx context.Context, in int) (int, error) {
			n := atomic.AddInt32(&inflight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)
			return in, nil
		})

		inputs := make([]int, 20)
		_, err := Batch(context.Background(), testPool(t), chain, inputs)
		require.NoError(t, err)
		assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
	})
}
