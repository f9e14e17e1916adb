package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kart-io/newsflow/internal/model"
)

// GetOrganization 按 id 加载组织。
func (s *Store) GetOrganization(ctx context.Context, id primitive.ObjectID) (*model.Organization, error) {
	var org model.Organization
	if err := s.organizations().FindOne(ctx, bson.M{"_id": id}).Decode(&org); err != nil {
		return nil, fmt.Errorf("failed to get organization %s: %w", id.Hex(), err)
	}
	return &org, nil
}

// GetWorkspace 按 id 加载工作区。
func (s *Store) GetWorkspace(ctx context.Context, id primitive.ObjectID) (*model.Workspace, error) {
	var ws model.Workspace
	if err := s.workspaces().FindOne(ctx, bson.M{"_id": id}).Decode(&ws); err != nil {
		return nil, fmt.Errorf("failed to get workspace %s: %w", id.Hex(), err)
	}
	return &ws, nil
}

// ListEnabledWorkspaces 返回所有 enabled=true 的工作区。
func (s *Store) ListEnabledWorkspaces(ctx context.Context) ([]model.Workspace, error) {
	cursor, err := s.workspaces().Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled workspaces: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var workspaces []model.Workspace
	if err := cursor.All(ctx, &workspaces); err != nil {
		return nil, fmt.Errorf("failed to decode workspaces: %w", err)
	}
	return workspaces, nil
}

// GetIngestionConfig 按 id 加载采集配置。
func (s *Store) GetIngestionConfig(ctx context.Context, id primitive.ObjectID) (*model.IngestionConfig, error) {
	var cfg model.IngestionConfig
	if err := s.ingestionConfigs().FindOne(ctx, bson.M{"_id": id}).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to get ingestion config %s: %w", id.Hex(), err)
	}
	return &cfg, nil
}

// ListIngestionConfigs 列出采集配置，按工作区和类型可选过滤。
func (s *Store) ListIngestionConfigs(ctx context.Context, workspaceID *primitive.ObjectID, configType model.IngestionConfigType) ([]model.IngestionConfig, error) {
	filter := bson.M{}
	if workspaceID != nil {
		filter["workspace_id"] = *workspaceID
	}
	if configType != "" {
		filter["type"] = configType
	}

	cursor, err := s.ingestionConfigs().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion configs: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var configs []model.IngestionConfig
	if err := cursor.All(ctx, &configs); err != nil {
		return nil, fmt.Errorf("failed to decode ingestion configs: %w", err)
	}
	return configs, nil
}

// SetConfigLastRunAt 更新配置的 last_run_at。
func (s *Store) SetConfigLastRunAt(ctx context.Context, configID primitive.ObjectID, at time.Time) error {
	_, err := s.ingestionConfigs().UpdateByID(ctx, configID, bson.M{"$set": bson.M{
		"last_run_at": at.UTC(),
		"updated_at":  time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to set config last_run_at: %w", err)
	}
	return nil
}
