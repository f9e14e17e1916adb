// Package vectorindex 负责把文章嵌入写入按工作区隔离的向量集合。
//
// 每个工作区对应一个独立集合（ws_<id>），写入按批次进行，
// 每批成功后原子置位对应文章的 vector_indexed 标志。只增不删。
package vectorindex

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kart-io/logger"

	"github.com/kart-io/newsflow/internal/model"
	"github.com/kart-io/newsflow/pkg/component/milvus"
	"github.com/kart-io/newsflow/pkg/llm"
)

// articleStore 是索引器需要的数据层子集。
type articleStore interface {
	FindArticlesForIndexing(ctx context.Context, workspaceID primitive.ObjectID, force bool) ([]model.Article, error)
	MarkArticlesVectorIndexed(ctx context.Context, ids []primitive.ObjectID) error
	GetWorkspace(ctx context.Context, id primitive.ObjectID) (*model.Workspace, error)
}

// vectorStore 是索引器需要的向量库子集。
type vectorStore interface {
	EnsureCollection(ctx context.Context, schema *milvus.CollectionSchema) error
	Upsert(ctx context.Context, collectionName string, data *milvus.UpsertData) error
	QueryByIDs(ctx context.Context, collectionName string, ids []string) ([]milvus.Vector, error)
}

// Indexer 批量嵌入文章并写入工作区的向量集合。
type Indexer struct {
	store     articleStore
	vectors   vectorStore
	embedder  llm.EmbeddingProvider
	dim       int
	batchSize int
}

// New 创建索引器。batchSize 是单次向量写入的最大条数。
func New(store articleStore, vectors vectorStore, embedder llm.EmbeddingProvider, dim, batchSize int) *Indexer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Indexer{
		store:     store,
		vectors:   vectors,
		embedder:  embedder,
		dim:       dim,
		batchSize: batchSize,
	}
}

// collectionSchema 返回工作区集合的模式定义。
func (x *Indexer) collectionSchema(ws *model.Workspace) *milvus.CollectionSchema {
	return &milvus.CollectionSchema{
		Name:        ws.VectorNamespace(),
		Description: "article embeddings for workspace " + ws.ID.Hex(),
		Dimension:   x.dim,
		MetaFields: []milvus.MetaField{
			{Name: "title", DataType: milvus.MetaString, MaxLen: 512},
			{Name: "url", DataType: milvus.MetaString, MaxLen: 2048},
			{Name: "body", DataType: milvus.MetaString, MaxLen: 2048},
			{Name: "found_at", DataType: milvus.MetaInt64},
			{Name: "date", DataType: milvus.MetaInt64},
		},
	}
}

// Sync 将工作区内未索引的文章写入向量集合；force 时重写所有文章。
// 返回实际写入的文章数。
func (x *Indexer) Sync(ctx context.Context, workspaceID primitive.ObjectID, force bool) (int, error) {
	ws, err := x.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to load workspace %s: %w", workspaceID.Hex(), err)
	}

	articles, err := x.store.FindArticlesForIndexing(ctx, workspaceID, force)
	if err != nil {
		return 0, fmt.Errorf("failed to select articles for indexing: %w", err)
	}
	if len(articles) == 0 {
		logger.Debugw("vector sync: nothing to index", "workspace", workspaceID.Hex(), "force", force)
		return 0, nil
	}

	if err := x.vectors.EnsureCollection(ctx, x.collectionSchema(ws)); err != nil {
		return 0, fmt.Errorf("failed to ensure collection: %w", err)
	}

	indexed := 0
	for start := 0; start < len(articles); start += x.batchSize {
		end := start + x.batchSize
		if end > len(articles) {
			end = len(articles)
		}
		batch := articles[start:end]

		if err := x.upsertBatch(ctx, ws.VectorNamespace(), batch); err != nil {
			return indexed, fmt.Errorf("vector batch [%d:%d] failed: %w", start, end, err)
		}
		indexed += len(batch)
	}

	logger.Infow("vector sync finished",
		"workspace", workspaceID.Hex(), "indexed", indexed, "force", force)
	return indexed, nil
}

// upsertBatch 嵌入一批文章、写入集合并置位标志。
func (x *Indexer) upsertBatch(ctx context.Context, collection string, batch []model.Article) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].EmbeddingText()
	}

	embeddings, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(batch))
	}

	data := &milvus.UpsertData{
		IDs:        make([]string, len(batch)),
		Embeddings: embeddings,
		Metadata: map[string][]any{
			"title":    make([]any, len(batch)),
			"url":      make([]any, len(batch)),
			"body":     make([]any, len(batch)),
			"found_at": make([]any, len(batch)),
			"date":     make([]any, len(batch)),
		},
	}
	ids := make([]primitive.ObjectID, len(batch))
	for i := range batch {
		a := &batch[i]
		ids[i] = a.ID
		data.IDs[i] = a.ID.Hex()
		data.Metadata["title"][i] = a.Title
		data.Metadata["url"][i] = a.URL
		data.Metadata["body"][i] = a.Body
		data.Metadata["found_at"][i] = a.FoundAt.Unix()
		data.Metadata["date"][i] = a.Date.Unix()
	}

	if err := x.vectors.Upsert(ctx, collection, data); err != nil {
		return fmt.Errorf("upsert failed: %w", err)
	}

	// 标志只在整批写入成功后翻转，失败批次留待下次 sync 重试
	if err := x.store.MarkArticlesVectorIndexed(ctx, ids); err != nil {
		return fmt.Errorf("failed to mark articles indexed: %w", err)
	}
	return nil
}

// FetchEmbeddings 按文章 id 取回已存储的向量。
// 未入库的 id 不出现在结果中，由调用方决定如何处理缺失。
func (x *Indexer) FetchEmbeddings(ctx context.Context, ws *model.Workspace, ids []primitive.ObjectID) (map[primitive.ObjectID][]float32, error) {
	hexIDs := make([]string, len(ids))
	for i, id := range ids {
		hexIDs[i] = id.Hex()
	}

	vectors, err := x.vectors.QueryByIDs(ctx, ws.VectorNamespace(), hexIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch embeddings: %w", err)
	}

	result := make(map[primitive.ObjectID][]float32, len(vectors))
	for _, v := range vectors {
		id, err := primitive.ObjectIDFromHex(v.ID)
		if err != nil {
			logger.Warnw("skipping vector with malformed id", "id", v.ID)
			continue
		}
		result[id] = v.Embedding
	}
	return result, nil
}
