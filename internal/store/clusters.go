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

// InsertCluster 插入一个聚类文档。
func (s *Store) InsertCluster(ctx context.Context, cluster *model.Cluster) error {
	if cluster.ID.IsZero() {
		cluster.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	cluster.CreatedAt = now
	cluster.UpdatedAt = now

	if _, err := s.clusters().InsertOne(ctx, cluster); err != nil {
		return fmt.Errorf("failed to insert cluster: %w", err)
	}
	return nil
}

// FindSessionClusters 返回某次分析会话的所有聚类，按文章数降序。
func (s *Store) FindSessionClusters(ctx context.Context, sessionID primitive.ObjectID) ([]model.Cluster, error) {
	opts := options.Find().SetSort(bson.D{{Key: "articles_count", Value: -1}})
	cursor, err := s.clusters().Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find session clusters: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var clusters []model.Cluster
	if err := cursor.All(ctx, &clusters); err != nil {
		return nil, fmt.Errorf("failed to decode clusters: %w", err)
	}
	return clusters, nil
}

// FindSessionClustersByRelevance 返回会话内指定相关性级别的聚类。
func (s *Store) FindSessionClustersByRelevance(ctx context.Context, sessionID primitive.ObjectID, level model.RelevanceLevel) ([]model.Cluster, error) {
	filter := bson.M{
		"session_id":                 sessionID,
		"evaluation.relevance_level": level,
	}
	opts := options.Find().SetSort(bson.D{{Key: "articles_count", Value: -1}})
	cursor, err := s.clusters().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find clusters by relevance: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var clusters []model.Cluster
	if err := cursor.All(ctx, &clusters); err != nil {
		return nil, fmt.Errorf("failed to decode clusters: %w", err)
	}
	return clusters, nil
}

// FindRecentRelevantClusters 返回工作区内最近的高相关聚类（跨会话），
// 按创建时间降序，最多 limit 个。用于生成对话开场白。
func (s *Store) FindRecentRelevantClusters(ctx context.Context, workspaceID primitive.ObjectID, limit int) ([]model.Cluster, error) {
	filter := bson.M{
		"workspace_id":               workspaceID,
		"evaluation.relevance_level": model.RelevanceHighly,
		"overview":                   bson.M{"$ne": nil},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.clusters().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find recent relevant clusters: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var clusters []model.Cluster
	if err := cursor.All(ctx, &clusters); err != nil {
		return nil, fmt.Errorf("failed to decode clusters: %w", err)
	}
	return clusters, nil
}

// SetClusterOverview 写入聚类概览。概览与错误互斥，写入时清除错误。
func (s *Store) SetClusterOverview(ctx context.Context, clusterID primitive.ObjectID, overview *model.Overview) error {
	update := bson.M{
		"$set":   bson.M{"overview": overview, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"overview_generation_error": ""},
	}
	if _, err := s.clusters().UpdateByID(ctx, clusterID, update); err != nil {
		return fmt.Errorf("failed to set cluster overview: %w", err)
	}
	return nil
}

// SetClusterOverviewError 记录概览生成失败。
func (s *Store) SetClusterOverviewError(ctx context.Context, clusterID primitive.ObjectID, msg string) error {
	update := bson.M{
		"$set":   bson.M{"overview_generation_error": msg, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"overview": ""},
	}
	if _, err := s.clusters().UpdateByID(ctx, clusterID, update); err != nil {
		return fmt.Errorf("failed to set cluster overview error: %w", err)
	}
	return nil
}

// SetClusterEvaluation 写入聚类评估结果。
func (s *Store) SetClusterEvaluation(ctx context.Context, clusterID primitive.ObjectID, eval *model.Evaluation) error {
	update := bson.M{"$set": bson.M{"evaluation": eval, "updated_at": time.Now().UTC()}}
	if _, err := s.clusters().UpdateByID(ctx, clusterID, update); err != nil {
		return fmt.Errorf("failed to set cluster evaluation: %w", err)
	}
	return nil
}

// InsertStarters 追加一组对话开场白。集合只追加，最新一组为当前组。
func (s *Store) InsertStarters(ctx context.Context, workspaceID primitive.ObjectID, starters []string) error {
	doc := &model.Starters{
		ID:          primitive.NewObjectID(),
		WorkspaceID: workspaceID,
		Starters:    starters,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.starters().InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert starters: %w", err)
	}
	return nil
}

// LatestStarters 返回工作区最近一组开场白，没有时返回 (nil, nil)。
func (s *Store) LatestStarters(ctx context.Context, workspaceID primitive.ObjectID) (*model.Starters, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var doc model.Starters
	err := s.starters().FindOne(ctx, bson.M{"workspace_id": workspaceID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest starters: %w", err)
	}
	return &doc, nil
}
