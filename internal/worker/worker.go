// Package worker 实现主循环：交替认领摄取运行与分析运行并处理，
// 队列为空时按间隔轮询，同时暴露存活探针。
package worker

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/newsflow/internal/model"
)

// runClaimer 原子认领待处理运行，队列为空时返回 (nil, nil)。
type runClaimer interface {
	ClaimPendingIngestionRun(ctx context.Context) (*model.IngestionRun, error)
	ClaimPendingAnalysisRun(ctx context.Context) (*model.AnalysisRun, error)
}

// ingestHandler 处理单个摄取运行。
type ingestHandler interface {
	HandleRun(ctx context.Context, run *model.IngestionRun) error
}

// analysisHandler 处理单个分析运行。
type analysisHandler interface {
	HandleRun(ctx context.Context, run *model.AnalysisRun) error
}

// Worker 是常驻进程的主循环。
type Worker struct {
	claimer      runClaimer
	ingest       ingestHandler
	analysis     analysisHandler
	pollInterval time.Duration
	maxRuntime   time.Duration
}

// New 创建 worker。maxRuntime 为 0 表示不限制运行时长。
func New(claimer runClaimer, ingest ingestHandler, analysis analysisHandler,
	pollInterval, maxRuntime time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &Worker{
		claimer:      claimer,
		ingest:       ingest,
		analysis:     analysis,
		pollInterval: pollInterval,
		maxRuntime:   maxRuntime,
	}
}

// Run 循环处理两类运行直到 ctx 取消或达到 maxRuntime。
// 单个运行的失败已由处理器定格到数据库，不中断循环。
func (w *Worker) Run(ctx context.Context) error {
	if w.maxRuntime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.maxRuntime)
		defer cancel()
	}

	logger.Infow("worker loop started", "poll_interval", w.pollInterval, "max_runtime", w.maxRuntime)
	for {
		if err := ctx.Err(); err != nil {
			logger.Infow("worker loop stopping", "reason", context.Cause(ctx))
			return nil
		}

		processed, err := w.tick(ctx)
		if err != nil {
			// 认领层错误（数据库不可达等）按轮询间隔退避后重试
			logger.Errorw("worker tick failed", "error", err)
		}
		if processed {
			continue
		}

		select {
		case <-time.After(w.pollInterval):
		case <-ctx.Done():
		}
	}
}

// tick 尝试认领并处理一个运行，返回是否处理了任何运行。
func (w *Worker) tick(ctx context.Context) (bool, error) {
	ingRun, err := w.claimer.ClaimPendingIngestionRun(ctx)
	if err != nil {
		return false, err
	}
	if ingRun != nil {
		logger.Infow("claimed ingestion run", "run", ingRun.ID.Hex(), "workspace", ingRun.WorkspaceID.Hex())
		if err := w.ingest.HandleRun(ctx, ingRun); err != nil {
			logger.Errorw("ingestion run handling failed", "run", ingRun.ID.Hex(), "error", err)
		}
		return true, nil
	}

	anaRun, err := w.claimer.ClaimPendingAnalysisRun(ctx)
	if err != nil {
		return false, err
	}
	if anaRun != nil {
		logger.Infow("claimed analysis run", "run", anaRun.ID.Hex(), "workspace", anaRun.WorkspaceID.Hex())
		if err := w.analysis.HandleRun(ctx, anaRun); err != nil {
			logger.Errorw("analysis run handling failed", "run", anaRun.ID.Hex(), "error", err)
		}
		return true, nil
	}

	return false, nil
}
