package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kart-io/newsflow/internal/model"
)

type scriptedClaimer struct {
	ingestion []*model.IngestionRun
	analysis  []*model.AnalysisRun
	claimErr  error
	ingCalls  int32
	anaCalls  int32
}

func (s *scriptedClaimer) ClaimPendingIngestionRun(ctx context.Context) (*model.IngestionRun, error) {
	atomic.AddInt32(&s.ingCalls, 1)
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if len(s.ingestion) == 0 {
		return nil, nil
	}
	run := s.ingestion[0]
	s.ingestion = s.ingestion[1:]
	return run, nil
}

func (s *scriptedClaimer) ClaimPendingAnalysisRun(ctx context.Context) (*model.AnalysisRun, error) {
	atomic.AddInt32(&s.anaCalls, 1)
	if len(s.analysis) == 0 {
		return nil, nil
	}
	run := s.analysis[0]
	s.analysis = s.analysis[1:]
	return run, nil
}

type countingIngest struct {
	handled int32
	err     error
}

func (c *countingIngest) HandleRun(ctx context.Context, run *model.IngestionRun) error {
	atomic.AddInt32(&c.handled, 1)
	return c.err
}

type countingAnalysis struct {
	handled int32
}

func (c *countingAnalysis) HandleRun(ctx context.Context, run *model.AnalysisRun) error {
	atomic.AddInt32(&c.handled, 1)
	return nil
}

func TestWorkerRun(t *testing.T) {
	t.Run("依次处理两类运行后空轮询", func(t *testing.T) {
		claimer := &scriptedClaimer{
			ingestion: []*model.IngestionRun{{ID: primitive.NewObjectID()}},
			analysis:  []*model.AnalysisRun{{ID: primitive.NewObjectID()}},
		}
		ing := &countingIngest{}
		ana := &countingAnalysis{}

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		err := New(claimer, ing, ana, 10*time.Millisecond, 0).Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, int32(1), atomic.LoadInt32(&ing.handled))
		assert.Equal(t, int32(1), atomic.LoadInt32(&ana.handled))
		// 队列清空后仍在轮询
		assert.Greater(t, atomic.LoadInt32(&claimer.ingCalls), int32(2))
	})

	t.Run("处理失败不中断循环", func(t *testing.T) {
		claimer := &scriptedClaimer{
			ingestion: []*model.IngestionRun{{ID: primitive.NewObjectID()}, {ID: primitive.NewObjectID()}},
		}
		ing := &countingIngest{err: errors.New("handler blew up")}

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err := New(claimer, ing, &countingAnalysis{}, 5*time.Millisecond, 0).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&ing.handled))
	})

	t.Run("认领错误退避后重试", func(t *testing.T) {
		claimer := &scriptedClaimer{claimErr: errors.New("mongo down")}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
		defer cancel()
		err := New(claimer, &countingIngest{}, &countingAnalysis{}, 10*time.Millisecond, 0).Run(ctx)
		require.NoError(t, err)
		calls := atomic.LoadInt32(&claimer.ingCalls)
		assert.Greater(t, calls, int32(1))
		// 有退避，不会空转
		assert.Less(t, calls, int32(20))
	})

	t.Run("max-runtime到期后干净退出", func(t *testing.T) {
		claimer := &scriptedClaimer{}
		start := time.Now()
		err := New(claimer, &countingIngest{}, &countingAnalysis{}, 5*time.Millisecond, 50*time.Millisecond).
			Run(context.Background())
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})
}

func TestLiveness(t *testing.T) {
	probe := NewLiveness("127.0.0.1:0")
	// 固定端口便于测试
	probe.server.Addr = "127.0.0.1:18089"
	probe.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = probe.Stop(ctx)
	}()

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://127.0.0.1:18089/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}
