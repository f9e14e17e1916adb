// Package ingest 实现摄取协调器：认领运行、调用供应商适配器、
// 抓取并清洗正文、落库文章并触发向量同步。
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kart-io/logger"

	"github.com/kart-io/newsflow/internal/cleaner"
	"github.com/kart-io/newsflow/internal/model"
	"github.com/kart-io/newsflow/internal/provider"
)

// store 是摄取协调器需要的数据层子集。
type store interface {
	GetWorkspace(ctx context.Context, id primitive.ObjectID) (*model.Workspace, error)
	GetOrganization(ctx context.Context, id primitive.ObjectID) (*model.Organization, error)
	GetIngestionConfig(ctx context.Context, id primitive.ObjectID) (*model.IngestionConfig, error)
	ExistingURLs(ctx context.Context, workspaceID primitive.ObjectID, urls []string) (map[string]bool, error)
	UpsertArticle(ctx context.Context, article *model.Article) (bool, error)
	SetConfigLastRunAt(ctx context.Context, configID primitive.ObjectID, at time.Time) error
	MarkIngestionRunFinished(ctx context.Context, runID primitive.ObjectID, status model.RunStatus, runErr string, nInserted *int) error
}

// syncer 在运行收尾后把新文章推进向量库。
type syncer interface {
	Sync(ctx context.Context, workspaceID primitive.ObjectID, force bool) (int, error)
}

// contentCleaner 从原始 markdown 中抽取干净正文。
type contentCleaner interface {
	Clean(ctx context.Context, rawMarkdown string) (*cleaner.Result, error)
}

// Coordinator 执行单个摄取运行的完整流程。
type Coordinator struct {
	store     store
	search    provider.SearchProvider
	rss       provider.RSSProvider
	converter provider.URLToMarkdownConverter
	cleaner   contentCleaner
	indexer   syncer
}

// NewCoordinator 创建摄取协调器。
func NewCoordinator(s store, search provider.SearchProvider, rss provider.RSSProvider,
	converter provider.URLToMarkdownConverter, contentCleaner contentCleaner, indexer syncer) *Coordinator {
	return &Coordinator{
		store:     s,
		search:    search,
		rss:       rss,
		converter: converter,
		cleaner:   contentCleaner,
		indexer:   indexer,
	}
}

// HandleRun 处理一个已认领（running）的摄取运行，并把最终状态写回。
// 收尾后的向量同步失败会向上抛出，但不改写已定格的运行状态。
func (c *Coordinator) HandleRun(ctx context.Context, run *model.IngestionRun) error {
	nInserted, err := c.execute(ctx, run)

	status := model.RunStatusCompleted
	msg := ""
	var inserted *int
	if err != nil {
		status = model.RunStatusFailed
		msg = err.Error()
		logger.Errorw("ingestion run failed", "run", run.ID.Hex(), "error", err)
	} else {
		inserted = &nInserted
	}
	if markErr := c.store.MarkIngestionRunFinished(ctx, run.ID, status, msg, inserted); markErr != nil {
		return fmt.Errorf("failed to finish ingestion run %s: %w", run.ID.Hex(), markErr)
	}
	if err != nil {
		return err
	}

	if _, syncErr := c.indexer.Sync(ctx, run.WorkspaceID, false); syncErr != nil {
		logger.Errorw("vector sync after ingestion failed",
			"run", run.ID.Hex(), "workspace", run.WorkspaceID.Hex(), "error", syncErr)
		return fmt.Errorf("vector sync failed: %w", syncErr)
	}
	return nil
}

func (c *Coordinator) execute(ctx context.Context, run *model.IngestionRun) (int, error) {
	cfg, err := c.store.GetIngestionConfig(ctx, run.ConfigID)
	if err != nil {
		return 0, fmt.Errorf("failed to load ingestion config: %w", err)
	}
	ws, err := c.store.GetWorkspace(ctx, run.WorkspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to load workspace: %w", err)
	}
	org, err := c.store.GetOrganization(ctx, ws.OrganizationID)
	if err != nil {
		return 0, fmt.Errorf("failed to load organization: %w", err)
	}

	// 禁用的工作区直接完成，不拉取任何内容。
	if !ws.Enabled {
		logger.Infow("workspace disabled, skipping ingestion",
			"run", run.ID.Hex(), "workspace", ws.ID.Hex())
		return 0, nil
	}

	var raw []provider.RawArticle
	switch cfg.Type {
	case model.IngestionConfigSearch:
		maxResults, timeLimit := cfg.EffectiveSearchParams()
		raw, err = c.search.BatchSearch(ctx, cfg.Queries, cfg.Region, maxResults, timeLimit)
		if err != nil {
			return 0, fmt.Errorf("search failed: %w", err)
		}
		raw = provider.DedupeByURL(raw)
	case model.IngestionConfigRSS:
		raw, err = c.rss.Fetch(ctx, cfg.RSSFeedURL)
		if err != nil {
			return 0, fmt.Errorf("rss fetch failed: %w", err)
		}
	default:
		return 0, fmt.Errorf("unknown ingestion config type %q", cfg.Type)
	}

	articles := c.wrapArticles(run, cfg, raw)

	if org.ContentAnalysisEnabled {
		if err := c.fetchAndCleanContent(ctx, ws.ID, articles); err != nil {
			return 0, err
		}
	}

	inserted := 0
	for i := range articles {
		created, err := c.store.UpsertArticle(ctx, &articles[i])
		if err != nil {
			return inserted, fmt.Errorf("failed to upsert article %s: %w", articles[i].URL, err)
		}
		if created {
			inserted++
		}
	}

	if err := c.store.SetConfigLastRunAt(ctx, cfg.ID, time.Now().UTC()); err != nil {
		return inserted, fmt.Errorf("failed to update last_run_at: %w", err)
	}

	logger.Infow("ingestion run executed",
		"run", run.ID.Hex(), "config", cfg.ID.Hex(), "type", cfg.Type,
		"fetched", len(raw), "inserted", inserted)
	return inserted, nil
}

func (c *Coordinator) wrapArticles(run *model.IngestionRun, cfg *model.IngestionConfig, raw []provider.RawArticle) []model.Article {
	now := time.Now().UTC()
	articles := make([]model.Article, len(raw))
	for i, r := range raw {
		articles[i] = model.Article{
			WorkspaceID:    run.WorkspaceID,
			Title:          r.Title,
			URL:            r.URL,
			Body:           r.Body,
			Date:           r.Date,
			FoundAt:        now,
			Region:         cfg.Region,
			Image:          r.Image,
			Source:         r.Source,
			Provider:       r.Provider,
			IngestionRunID: run.ID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}
	return articles
}

// fetchAndCleanContent 只为数据库中尚不存在的文章抓取并清洗正文。
// 单篇文章的转换或清洗失败记录在文章上；抓取层本身的异常使运行失败。
func (c *Coordinator) fetchAndCleanContent(ctx context.Context, workspaceID primitive.ObjectID, articles []model.Article) error {
	urls := make([]string, len(articles))
	for i := range articles {
		urls[i] = articles[i].URL
	}
	existing, err := c.store.ExistingURLs(ctx, workspaceID, urls)
	if err != nil {
		return fmt.Errorf("failed to check existing urls: %w", err)
	}

	var newIdx []int
	var newURLs []string
	for i := range articles {
		if !existing[articles[i].URL] {
			newIdx = append(newIdx, i)
			newURLs = append(newURLs, articles[i].URL)
		}
	}
	if len(newIdx) == 0 {
		return nil
	}

	items, err := c.converter.ConvertBatch(ctx, newURLs)
	if err != nil {
		return fmt.Errorf("content fetching failed: %w", err)
	}
	if len(items) != len(newURLs) {
		return fmt.Errorf("content fetching returned %d results for %d urls", len(items), len(newURLs))
	}

	for j, item := range items {
		a := &articles[newIdx[j]]
		if item.Err != nil {
			a.ContentFetching = &model.ContentFetchingResult{Error: item.Err.Error()}
			a.ContentCleaningError = item.Err.Error()
			logger.Warnw("content fetching failed for article", "url", a.URL, "error", item.Err)
			continue
		}
		a.ContentFetching = &model.ContentFetchingResult{
			Markdown:         item.Result.Markdown,
			Metadata:         item.Result.Metadata,
			ExtractionMethod: item.Result.ExtractionMethod,
		}

		cleaned, cleanErr := c.cleaner.Clean(ctx, item.Result.Markdown)
		if cleanErr != nil {
			a.ContentCleaningError = cleanErr.Error()
			logger.Warnw("content cleaning failed for article", "url", a.URL, "error", cleanErr)
			continue
		}
		a.Content = cleaned.Content
	}
	return nil
}
