package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kart-io/newsflow/internal/model"
	"github.com/kart-io/newsflow/pkg/component/mongodb"
)

// Store 是所有集合的类型化访问入口。
type Store struct {
	db *mongodb.Client
}

// New 创建 Store。
func New(db *mongodb.Client) *Store {
	return &Store{db: db}
}

func (s *Store) organizations() *mongo.Collection {
	return s.db.Collection(model.Organization{}.CollectionName())
}

func (s *Store) workspaces() *mongo.Collection {
	return s.db.Collection(model.Workspace{}.CollectionName())
}

func (s *Store) ingestionConfigs() *mongo.Collection {
	return s.db.Collection(model.IngestionConfig{}.CollectionName())
}

func (s *Store) ingestionRuns() *mongo.Collection {
	return s.db.Collection(model.IngestionRun{}.CollectionName())
}

func (s *Store) articles() *mongo.Collection {
	return s.db.Collection(model.Article{}.CollectionName())
}

func (s *Store) analysisRuns() *mongo.Collection {
	return s.db.Collection(model.AnalysisRun{}.CollectionName())
}

func (s *Store) clusters() *mongo.Collection {
	return s.db.Collection(model.Cluster{}.CollectionName())
}

func (s *Store) starters() *mongo.Collection {
	return s.db.Collection(model.Starters{}.CollectionName())
}

// EnsureIndexes 创建协调器正确性所依赖的索引。
// (workspace_id, url) 上的唯一索引是文章去重的保证。
func (s *Store) EnsureIndexes(ctx context.Context) error {
	articleIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "workspace_id", Value: 1}, {Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "date", Value: 1}}},
		{Keys: bson.D{{Key: "vector_indexed", Value: 1}}},
	}
	if _, err := s.articles().Indexes().CreateMany(ctx, articleIndexes); err != nil {
		return fmt.Errorf("failed to create article indexes: %w", err)
	}

	orgIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "secret_code", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := s.organizations().Indexes().CreateMany(ctx, orgIndexes); err != nil {
		return fmt.Errorf("failed to create organization indexes: %w", err)
	}

	workspaceScoped := []*mongo.Collection{
		s.ingestionConfigs(),
		s.ingestionRuns(),
		s.analysisRuns(),
		s.clusters(),
		s.starters(),
	}
	for _, coll := range workspaceScoped {
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "workspace_id", Value: 1}},
		})
		if err != nil {
			return fmt.Errorf("failed to create workspace index on %s: %w", coll.Name(), err)
		}
	}

	// Claim queries scan by status; session lookups scan by session_id.
	_, err := s.ingestionRuns().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create ingestion run status index: %w", err)
	}
	_, err = s.analysisRuns().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create analysis run status index: %w", err)
	}
	_, err = s.clusters().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create cluster session index: %w", err)
	}

	return nil
}
