package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kart-io/newsflow/internal/model"
)

// ClaimPendingIngestionRun 原子地认领一个 pending 的采集任务。
// 使用条件 FindOneAndUpdate 保证并发 worker 不会认领同一个任务。
// 没有待处理任务时返回 (nil, nil)。
func (s *Store) ClaimPendingIngestionRun(ctx context.Context) (*model.IngestionRun, error) {
	now := time.Now().UTC()
	filter := bson.M{"status": model.RunStatusPending}
	update := bson.M{"$set": bson.M{
		"status":   model.RunStatusRunning,
		"start_at": now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var run model.IngestionRun
	err := s.ingestionRuns().FindOneAndUpdate(ctx, filter, update, opts).Decode(&run)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim ingestion run: %w", err)
	}
	return &run, nil
}

// ClaimPendingAnalysisRun 原子地认领一个 pending 的分析任务。
// 没有待处理任务时返回 (nil, nil)。
func (s *Store) ClaimPendingAnalysisRun(ctx context.Context) (*model.AnalysisRun, error) {
	now := time.Now().UTC()
	filter := bson.M{"status": model.RunStatusPending}
	update := bson.M{"$set": bson.M{
		"status":        model.RunStatusRunning,
		"session_start": now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var run model.AnalysisRun
	err := s.analysisRuns().FindOneAndUpdate(ctx, filter, update, opts).Decode(&run)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim analysis run: %w", err)
	}
	return &run, nil
}

// MarkIngestionRunFinished 将采集任务置为终态并记录结束时间。
func (s *Store) MarkIngestionRunFinished(ctx context.Context, runID primitive.ObjectID, status model.RunStatus, runErr string, nInserted *int) error {
	set := bson.M{
		"status": status,
		"end_at": time.Now().UTC(),
	}
	if runErr != "" {
		set["error"] = runErr
	}
	if nInserted != nil {
		set["n_inserted"] = *nInserted
	}

	_, err := s.ingestionRuns().UpdateByID(ctx, runID, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to mark ingestion run finished: %w", err)
	}
	return nil
}

// MarkAnalysisRunFinished 将分析任务置为终态并记录会话结束时间。
func (s *Store) MarkAnalysisRunFinished(ctx context.Context, runID primitive.ObjectID, status model.RunStatus, runErr string) error {
	set := bson.M{
		"status":      status,
		"session_end": time.Now().UTC(),
	}
	if runErr != "" {
		set["error"] = runErr
	}

	_, err := s.analysisRuns().UpdateByID(ctx, runID, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to mark analysis run finished: %w", err)
	}
	return nil
}

// SetAnalysisRunResult 写入（或覆盖）分析任务的结果文档。
func (s *Store) SetAnalysisRunResult(ctx context.Context, runID primitive.ObjectID, result *model.ClusteringAnalysisResult) error {
	_, err := s.analysisRuns().UpdateByID(ctx, runID, bson.M{"$set": bson.M{"result": result}})
	if err != nil {
		return fmt.Errorf("failed to set analysis run result: %w", err)
	}
	return nil
}

// CreateIngestionRun 插入一个 pending 的采集任务。
func (s *Store) CreateIngestionRun(ctx context.Context, workspaceID, configID primitive.ObjectID) (*model.IngestionRun, error) {
	run := &model.IngestionRun{
		ID:          primitive.NewObjectID(),
		WorkspaceID: workspaceID,
		ConfigID:    configID,
		Status:      model.RunStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.ingestionRuns().InsertOne(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create ingestion run: %w", err)
	}
	return run, nil
}

// FindIngestionRunsStalledFor 返回 running 状态下开始时间早于
// now-threshold 的采集任务。严格小于：恰好等于阈值的不算超时。
func (s *Store) FindIngestionRunsStalledFor(ctx context.Context, threshold time.Duration, workspaceID *primitive.ObjectID) ([]model.IngestionRun, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	filter := bson.M{
		"status":   model.RunStatusRunning,
		"start_at": bson.M{"$lt": cutoff},
	}
	if workspaceID != nil {
		filter["workspace_id"] = *workspaceID
	}

	cursor, err := s.ingestionRuns().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find stalled runs: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var runs []model.IngestionRun
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("failed to decode stalled runs: %w", err)
	}
	return runs, nil
}
