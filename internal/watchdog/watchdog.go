// Package watchdog 提供运维操作：超时清理卡住的运行、
// 批量创建摄取任务、跨工作区的向量库同步编排。
package watchdog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kart-io/logger"

	"github.com/kart-io/newsflow/internal/model"
)

// store 是 watchdog 需要的数据层子集。
type store interface {
	FindIngestionRunsStalledFor(ctx context.Context, threshold time.Duration, workspaceID *primitive.ObjectID) ([]model.IngestionRun, error)
	MarkIngestionRunFinished(ctx context.Context, runID primitive.ObjectID, status model.RunStatus, runErr string, nInserted *int) error
	GetIngestionConfig(ctx context.Context, id primitive.ObjectID) (*model.IngestionConfig, error)
	GetWorkspace(ctx context.Context, id primitive.ObjectID) (*model.Workspace, error)
	ListEnabledWorkspaces(ctx context.Context) ([]model.Workspace, error)
	ListIngestionConfigs(ctx context.Context, workspaceID *primitive.ObjectID, configType model.IngestionConfigType) ([]model.IngestionConfig, error)
	CreateIngestionRun(ctx context.Context, workspaceID, configID primitive.ObjectID) (*model.IngestionRun, error)
}

// syncer 触发单个工作区的向量同步。
type syncer interface {
	Sync(ctx context.Context, workspaceID primitive.ObjectID, force bool) (int, error)
}

// Watchdog 执行管理操作。
type Watchdog struct {
	store   store
	indexer syncer
}

// New 创建 watchdog。
func New(s store, indexer syncer) *Watchdog {
	return &Watchdog{store: s, indexer: indexer}
}

// TimeoutStalledRuns 把运行时长严格超过 threshold 的 running 摄取运行
// 标记为 failed。dryRun 只列出不修改。返回受影响的运行。
func (w *Watchdog) TimeoutStalledRuns(ctx context.Context, threshold time.Duration, workspaceID *primitive.ObjectID, dryRun bool) ([]model.IngestionRun, error) {
	stalled, err := w.store.FindIngestionRunsStalledFor(ctx, threshold, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find stalled runs: %w", err)
	}

	hours := int(threshold.Hours())
	msg := fmt.Sprintf("Timeout. Automatically marked as failed after being in progress for %dh", hours)
	for _, run := range stalled {
		if dryRun {
			logger.Infow("stalled run (dry-run, not modified)",
				"run", run.ID.Hex(), "workspace", run.WorkspaceID.Hex(), "start_at", run.StartAt)
			continue
		}
		if err := w.store.MarkIngestionRunFinished(ctx, run.ID, model.RunStatusFailed, msg, nil); err != nil {
			return nil, fmt.Errorf("failed to time out run %s: %w", run.ID.Hex(), err)
		}
		logger.Warnw("stalled run marked as failed",
			"run", run.ID.Hex(), "workspace", run.WorkspaceID.Hex(), "threshold", threshold)
	}
	return stalled, nil
}

// CreateIngestionTask 为单个配置插入一个 pending 运行。
// 所属工作区被禁用时拒绝创建。
func (w *Watchdog) CreateIngestionTask(ctx context.Context, configID primitive.ObjectID) (*model.IngestionRun, error) {
	cfg, err := w.store.GetIngestionConfig(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	ws, err := w.store.GetWorkspace(ctx, cfg.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	if !ws.Enabled {
		return nil, fmt.Errorf("workspace %s is disabled", ws.ID.Hex())
	}

	run, err := w.store.CreateIngestionRun(ctx, cfg.WorkspaceID, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion run: %w", err)
	}
	logger.Infow("ingestion task created", "run", run.ID.Hex(), "config", configID.Hex())
	return run, nil
}

// CreateIngestionTasks 为所有匹配的配置各插入一个 pending 运行，
// 只覆盖启用的工作区。configType 为空表示两种类型都选。
func (w *Watchdog) CreateIngestionTasks(ctx context.Context, workspaceID *primitive.ObjectID, configType model.IngestionConfigType) ([]model.IngestionRun, error) {
	enabled := make(map[primitive.ObjectID]bool)
	workspaces, err := w.store.ListEnabledWorkspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	for i := range workspaces {
		enabled[workspaces[i].ID] = true
	}

	configs, err := w.store.ListIngestionConfigs(ctx, workspaceID, configType)
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}

	var created []model.IngestionRun
	for i := range configs {
		cfg := &configs[i]
		if !enabled[cfg.WorkspaceID] {
			logger.Debugw("skipping config of disabled workspace",
				"config", cfg.ID.Hex(), "workspace", cfg.WorkspaceID.Hex())
			continue
		}
		run, err := w.store.CreateIngestionRun(ctx, cfg.WorkspaceID, cfg.ID)
		if err != nil {
			return created, fmt.Errorf("failed to create run for config %s: %w", cfg.ID.Hex(), err)
		}
		created = append(created, *run)
	}
	logger.Infow("ingestion tasks created", "count", len(created))
	return created, nil
}

// SyncVectorDB 在所有启用的工作区（或指定工作区）上编排向量同步。
// exclude 中的工作区被跳过。单个工作区失败记录后继续，最后汇总报错。
func (w *Watchdog) SyncVectorDB(ctx context.Context, workspaceID *primitive.ObjectID, exclude []primitive.ObjectID, force bool) error {
	excluded := make(map[primitive.ObjectID]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	var targets []primitive.ObjectID
	if workspaceID != nil {
		targets = []primitive.ObjectID{*workspaceID}
	} else {
		workspaces, err := w.store.ListEnabledWorkspaces(ctx)
		if err != nil {
			return fmt.Errorf("failed to list workspaces: %w", err)
		}
		for i := range workspaces {
			targets = append(targets, workspaces[i].ID)
		}
	}

	failures := 0
	for _, id := range targets {
		if excluded[id] {
			logger.Debugw("workspace excluded from vector sync", "workspace", id.Hex())
			continue
		}
		indexed, err := w.indexer.Sync(ctx, id, force)
		if err != nil {
			failures++
			logger.Errorw("vector sync failed for workspace", "workspace", id.Hex(), "error", err)
			continue
		}
		logger.Infow("vector sync done", "workspace", id.Hex(), "indexed", indexed, "force", force)
	}
	if failures > 0 {
		return fmt.Errorf("vector sync failed for %d of %d workspaces", failures, len(targets))
	}
	return nil
}
