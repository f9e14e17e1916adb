package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kart-io/newsflow/internal/model"
)

// UpsertArticle 插入文章，除非 (workspace_id, url) 已存在。
// 依赖唯一索引：重复 key 错误被视为静默丢弃。
// 返回是否实际创建了新文档。
func (s *Store) UpsertArticle(ctx context.Context, article *model.Article) (bool, error) {
	if article.ID.IsZero() {
		article.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	if article.CreatedAt.IsZero() {
		article.CreatedAt = now
	}
	article.UpdatedAt = now

	_, err := s.articles().InsertOne(ctx, article)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert article: %w", err)
	}
	return true, nil
}

// ExistingURLs 返回给定 URL 中已存在于该工作区的子集。
func (s *Store) ExistingURLs(ctx context.Context, workspaceID primitive.ObjectID, urls []string) (map[string]bool, error) {
	if len(urls) == 0 {
		return map[string]bool{}, nil
	}

	filter := bson.M{
		"workspace_id": workspaceID,
		"url":          bson.M{"$in": urls},
	}
	cursor, err := s.articles().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing urls: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	existing := make(map[string]bool)
	for cursor.Next(ctx) {
		var a struct {
			URL string `bson:"url"`
		}
		if err := cursor.Decode(&a); err != nil {
			return nil, fmt.Errorf("failed to decode article url: %w", err)
		}
		existing[a.URL] = true
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error on existing urls: %w", err)
	}
	return existing, nil
}

// FindArticlesInWindow 返回工作区内 date 落在 [start, end] 的所有文章。
func (s *Store) FindArticlesInWindow(ctx context.Context, workspaceID primitive.ObjectID, start, end time.Time) ([]model.Article, error) {
	filter := bson.M{
		"workspace_id": workspaceID,
		"date":         bson.M{"$gte": start, "$lte": end},
	}
	cursor, err := s.articles().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find articles in window: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var articles []model.Article
	if err := cursor.All(ctx, &articles); err != nil {
		return nil, fmt.Errorf("failed to decode articles: %w", err)
	}
	return articles, nil
}

// FindArticlesForIndexing 返回待写入向量库的文章。
// force 时返回工作区全部文章，否则仅 vector_indexed=false 的。
func (s *Store) FindArticlesForIndexing(ctx context.Context, workspaceID primitive.ObjectID, force bool) ([]model.Article, error) {
	filter := bson.M{"workspace_id": workspaceID}
	if !force {
		filter["vector_indexed"] = false
	}

	cursor, err := s.articles().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find articles for indexing: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var articles []model.Article
	if err := cursor.All(ctx, &articles); err != nil {
		return nil, fmt.Errorf("failed to decode articles: %w", err)
	}
	return articles, nil
}

// MarkArticlesVectorIndexed 批量置位 vector_indexed 标志。
func (s *Store) MarkArticlesVectorIndexed(ctx context.Context, ids []primitive.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := s.articles().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"vector_indexed": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark articles vector indexed: %w", err)
	}
	return nil
}

// FindArticlesByIDs 按 id 批量加载文章。
func (s *Store) FindArticlesByIDs(ctx context.Context, ids []primitive.ObjectID) ([]model.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := s.articles().Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to find articles by ids: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var articles []model.Article
	if err := cursor.All(ctx, &articles); err != nil {
		return nil, fmt.Errorf("failed to decode articles: %w", err)
	}
	return articles, nil
}
