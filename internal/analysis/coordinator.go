package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"github.com/kart-io/logger"

	"github.com/kart-io/newsflow/internal/clustering"
	"github.com/kart-io/newsflow/internal/model"
)

// ErrNotEnoughArticles 数据窗口内文章数不满足聚类下限。
var ErrNotEnoughArticles = errors.New("Not enough articles to cluster.")

// store 是协调器需要的数据层子集。
type store interface {
	GetWorkspace(ctx context.Context, id primitive.ObjectID) (*model.Workspace, error)
	FindArticlesInWindow(ctx context.Context, workspaceID primitive.ObjectID, start, end time.Time) ([]model.Article, error)
	InsertCluster(ctx context.Context, cluster *model.Cluster) error
	SetAnalysisRunResult(ctx context.Context, runID primitive.ObjectID, result *model.ClusteringAnalysisResult) error
	FindSessionClusters(ctx context.Context, sessionID primitive.ObjectID) ([]model.Cluster, error)
	FindSessionClustersByRelevance(ctx context.Context, sessionID primitive.ObjectID, level model.RelevanceLevel) ([]model.Cluster, error)
	FindRecentRelevantClusters(ctx context.Context, workspaceID primitive.ObjectID, limit int) ([]model.Cluster, error)
	SetClusterOverview(ctx context.Context, clusterID primitive.ObjectID, overview *model.Overview) error
	SetClusterOverviewError(ctx context.Context, clusterID primitive.ObjectID, msg string) error
	SetClusterEvaluation(ctx context.Context, clusterID primitive.ObjectID, eval *model.Evaluation) error
	InsertStarters(ctx context.Context, workspaceID primitive.ObjectID, starters []string) error
	MarkAnalysisRunFinished(ctx context.Context, runID primitive.ObjectID, status model.RunStatus, runErr string) error
}

// embeddingFetcher 按文章 id 取回工作区命名空间里的向量。
type embeddingFetcher interface {
	FetchEmbeddings(ctx context.Context, ws *model.Workspace, ids []primitive.ObjectID) (map[primitive.ObjectID][]float32, error)
}

// Config 协调器的行为参数。
type Config struct {
	MinArticlesForClustering int
	// OverviewArticles 每个簇喂给概览阶段的最靠近质心的文章数。
	OverviewArticles int
	// MaxClusters 工作区摘要最多纳入的高相关簇数。
	MaxClusters int
	// IncludeSummaryThreshold 低于该簇数时摘要输入带每簇 summary。
	IncludeSummaryThreshold int
	// StartersCount 生成的开场白数量（1..4）。
	StartersCount int
}

// Coordinator 驱动一次聚类分析会话：装载数据、聚类、
// 依次执行 LLM 阶段并持久化结果。
type Coordinator struct {
	store      store
	embeddings embeddingFetcher
	stages     *Stages
	cfg        Config
}

// NewCoordinator 创建分析协调器。
func NewCoordinator(s store, embeddings embeddingFetcher, stages *Stages, cfg Config) *Coordinator {
	if cfg.MinArticlesForClustering < 1 {
		cfg.MinArticlesForClustering = 5
	}
	if cfg.OverviewArticles < 1 {
		cfg.OverviewArticles = 10
	}
	if cfg.MaxClusters < 1 {
		cfg.MaxClusters = 20
	}
	if cfg.IncludeSummaryThreshold < 1 {
		cfg.IncludeSummaryThreshold = 8
	}
	if cfg.StartersCount < 1 || cfg.StartersCount > 4 {
		cfg.StartersCount = 4
	}
	return &Coordinator{store: s, embeddings: embeddings, stages: stages, cfg: cfg}
}

// HandleRun 处理一个已认领（running）的分析运行，并把最终状态写回。
func (c *Coordinator) HandleRun(ctx context.Context, run *model.AnalysisRun) error {
	var err error
	switch run.AnalysisType {
	case model.AnalysisTypeClustering:
		err = c.runClustering(ctx, run)
	case model.AnalysisTypeReport:
		err = errors.New("analysis type 'report' is not implemented")
	default:
		err = fmt.Errorf("unknown analysis type %q", run.AnalysisType)
	}

	status := model.RunStatusCompleted
	msg := ""
	if err != nil {
		status = model.RunStatusFailed
		msg = err.Error()
		logger.Errorw("analysis run failed", "run", run.ID.Hex(), "error", err)
	}
	if markErr := c.store.MarkAnalysisRunFinished(ctx, run.ID, status, msg); markErr != nil {
		return fmt.Errorf("failed to finish analysis run %s: %w", run.ID.Hex(), markErr)
	}
	return err
}

func (c *Coordinator) runClustering(ctx context.Context, run *model.AnalysisRun) error {
	ws, err := c.store.GetWorkspace(ctx, run.WorkspaceID)
	if err != nil {
		return fmt.Errorf("failed to load workspace: %w", err)
	}

	articles, err := c.store.FindArticlesInWindow(ctx, run.WorkspaceID, run.DataStart, run.DataEnd)
	if err != nil {
		return fmt.Errorf("failed to load articles: %w", err)
	}
	if len(articles) < c.cfg.MinArticlesForClustering {
		return ErrNotEnoughArticles
	}

	byID := make(map[primitive.ObjectID]*model.Article, len(articles))
	ids := make([]primitive.ObjectID, len(articles))
	for i := range articles {
		byID[articles[i].ID] = &articles[i]
		ids[i] = articles[i].ID
	}

	loadStart := time.Now()
	vectors, err := c.embeddings.FetchEmbeddings(ctx, ws, ids)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	dataLoadingTime := time.Since(loadStart)

	points := make([]clustering.ArticleEmbedding, 0, len(vectors))
	for _, id := range ids {
		embedding, ok := vectors[id]
		if !ok {
			logger.Warnw("article has no stored embedding, excluded from clustering",
				"article", id.Hex(), "workspace", ws.ID.Hex())
			continue
		}
		points = append(points, clustering.ArticleEmbedding{ID: id, Embedding: embedding})
	}
	if len(points) < c.cfg.MinArticlesForClustering {
		return ErrNotEnoughArticles
	}

	clusterResult, err := clustering.Perform(points, ws.Hdbscan)
	if err != nil {
		return fmt.Errorf("clustering failed: %w", err)
	}

	clustered := 0
	for _, cl := range clusterResult.Clusters {
		doc := &model.Cluster{
			WorkspaceID:   ws.ID,
			SessionID:     run.ID,
			ArticlesIDs:   make([]primitive.ObjectID, len(cl.Members)),
			ArticlesCount: len(cl.Members),
		}
		for i, m := range cl.Members {
			doc.ArticlesIDs[i] = m.ID
			if doc.FirstImage == "" {
				if a := byID[m.ID]; a != nil {
					doc.FirstImage = a.Image
				}
			}
		}
		if err := c.store.InsertCluster(ctx, doc); err != nil {
			return fmt.Errorf("failed to persist cluster: %w", err)
		}
		clustered += len(cl.Members)
	}

	noiseIDs := make([]primitive.ObjectID, len(clusterResult.Noise))
	for i, p := range clusterResult.Noise {
		noiseIDs[i] = p.ID
	}
	result := &model.ClusteringAnalysisResult{
		ClustersCount:          len(clusterResult.Clusters),
		NoiseArticlesIDs:       noiseIDs,
		NoiseArticlesCount:     len(noiseIDs),
		ClusteredArticlesCount: clustered,
		ArticlesCount:          len(points),
		DataLoadingTimeS:       dataLoadingTime.Seconds(),
		ClusteringTimeS:        clusterResult.Duration.Seconds(),
	}
	if err := c.store.SetAnalysisRunResult(ctx, run.ID, result); err != nil {
		return fmt.Errorf("failed to persist clustering result: %w", err)
	}

	clusters, err := c.store.FindSessionClusters(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to reload session clusters: %w", err)
	}
	if len(clusters) == 0 {
		logger.Infow("analysis session produced no clusters", "run", run.ID.Hex())
		return nil
	}

	// 概览失败先记下不立即返回：评估与计数更新仍对已有概览的簇执行，
	// 运行最终以概览错误收场，但所有簇文档与计数都已持久化。
	overviewErr := c.generateOverviews(ctx, ws, clusters, byID)

	// 概览阶段之后簇的内容已变化，重新装载
	clusters, err = c.store.FindSessionClusters(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to reload session clusters: %w", err)
	}

	if err := c.evaluateClusters(ctx, ws, clusters); err != nil {
		if overviewErr != nil {
			logger.Errorw("cluster evaluation failed after overview failure",
				"run", run.ID.Hex(), "error", err)
			return overviewErr
		}
		return err
	}

	clusters, err = c.store.FindSessionClusters(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to reload session clusters: %w", err)
	}
	counts := make(map[model.RelevanceLevel]int)
	withOverview := 0
	evaluated := 0
	for i := range clusters {
		if clusters[i].Overview != nil {
			withOverview++
		}
		if clusters[i].Evaluation != nil {
			counts[clusters[i].Evaluation.RelevanceLevel]++
			evaluated++
		}
	}
	// 评估阶段成功返回意味着每个带概览的簇都拿到了评估
	if evaluated != withOverview {
		return fmt.Errorf("evaluation counts inconsistent: evaluated %d of %d clusters with overview", evaluated, withOverview)
	}
	result.EvaluationCounts = counts
	if err := c.store.SetAnalysisRunResult(ctx, run.ID, result); err != nil {
		return fmt.Errorf("failed to persist evaluation counts: %w", err)
	}

	if overviewErr != nil {
		return overviewErr
	}

	// 开场白与工作区摘要并行执行，它们失败只记日志，不影响运行状态
	var g errgroup.Group
	g.Go(func() error {
		if err := c.generateStarters(ctx, ws); err != nil {
			logger.Warnw("starters generation failed", "run", run.ID.Hex(), "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.generateSummary(ctx, ws, run.ID, result); err != nil {
			logger.Warnw("workspace summary generation failed", "run", run.ID.Hex(), "error", err)
		}
		return nil
	})
	_ = g.Wait()

	return nil
}

// generateOverviews 为会话内的每个簇生成概览。
// 单簇失败写入 overview_generation_error 且不影响其余簇，
// 但只要有簇失败，阶段整体按部分失败上报。
func (c *Coordinator) generateOverviews(ctx context.Context, ws *model.Workspace, clusters []model.Cluster, byID map[primitive.ObjectID]*model.Article) error {
	inputs := make([]OverviewInput, len(clusters))
	for i := range clusters {
		n := c.cfg.OverviewArticles
		if n > len(clusters[i].ArticlesIDs) {
			n = len(clusters[i].ArticlesIDs)
		}
		snippets := make([]ArticleSnippet, 0, n)
		// articles_ids 已按质心距离升序，取前 n 篇最居中的
		for _, id := range clusters[i].ArticlesIDs[:n] {
			if a := byID[id]; a != nil {
				snippets = append(snippets, ArticleSnippet{Title: a.Title, Body: a.Body})
			}
		}
		inputs[i] = OverviewInput{Articles: snippets, Language: ws.Language}
	}

	results, err := c.stages.GenerateOverviews(ctx, inputs)
	if err != nil {
		return fmt.Errorf("overview stage failed: %w", err)
	}

	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			logger.Warnw("overview generation failed for cluster",
				"cluster", clusters[i].ID.Hex(), "error", r.Err)
			if err := c.store.SetClusterOverviewError(ctx, clusters[i].ID, r.Err.Error()); err != nil {
				return fmt.Errorf("failed to persist overview error: %w", err)
			}
			continue
		}
		if err := c.store.SetClusterOverview(ctx, clusters[i].ID, r.Value); err != nil {
			return fmt.Errorf("failed to persist overview: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("overview generation failed for %d of %d clusters", failed, len(clusters))
	}
	return nil
}

// evaluateClusters 评估每个带概览的簇与工作区的相关性。
func (c *Coordinator) evaluateClusters(ctx context.Context, ws *model.Workspace, clusters []model.Cluster) error {
	withOverview := make([]model.Cluster, 0, len(clusters))
	for i := range clusters {
		if clusters[i].Overview != nil {
			withOverview = append(withOverview, clusters[i])
		}
	}
	if len(withOverview) == 0 {
		return nil
	}

	inputs := make([]EvaluationInput, len(withOverview))
	for i := range withOverview {
		inputs[i] = EvaluationInput{
			WorkspaceDescription: ws.Description,
			ClusterTitle:         withOverview[i].Overview.Title,
			ClusterSummary:       withOverview[i].Overview.Summary,
		}
	}

	results, err := c.stages.EvaluateClusters(ctx, inputs)
	if err != nil {
		return fmt.Errorf("evaluation stage failed: %w", err)
	}

	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			logger.Warnw("evaluation failed for cluster",
				"cluster", withOverview[i].ID.Hex(), "error", r.Err)
			continue
		}
		if err := c.store.SetClusterEvaluation(ctx, withOverview[i].ID, r.Value); err != nil {
			return fmt.Errorf("failed to persist evaluation: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("evaluation failed for %d of %d clusters", failed, len(withOverview))
	}
	return nil
}

// generateStarters 基于工作区最近的高相关簇生成新的一组开场白。
func (c *Coordinator) generateStarters(ctx context.Context, ws *model.Workspace) error {
	recent, err := c.store.FindRecentRelevantClusters(ctx, ws.ID, c.cfg.StartersCount)
	if err != nil {
		return fmt.Errorf("failed to load recent relevant clusters: %w", err)
	}
	overviews := make([]model.Overview, 0, len(recent))
	for i := range recent {
		if recent[i].Overview != nil {
			overviews = append(overviews, *recent[i].Overview)
		}
	}
	if len(overviews) == 0 {
		logger.Debugw("no relevant overviews for starters", "workspace", ws.ID.Hex())
		return nil
	}

	starters, err := c.stages.GenerateStarters(ctx, overviews, ws.Language, c.cfg.StartersCount)
	if err != nil {
		return err
	}
	return c.store.InsertStarters(ctx, ws.ID, starters)
}

// generateSummary 为会话的高相关簇生成工作区摘要并写回运行结果。
func (c *Coordinator) generateSummary(ctx context.Context, ws *model.Workspace, runID primitive.ObjectID, result *model.ClusteringAnalysisResult) error {
	relevant, err := c.store.FindSessionClustersByRelevance(ctx, runID, model.RelevanceHighly)
	if err != nil {
		return fmt.Errorf("failed to load relevant clusters: %w", err)
	}
	if len(relevant) > c.cfg.MaxClusters {
		relevant = relevant[:c.cfg.MaxClusters]
	}
	overviews := make([]model.Overview, 0, len(relevant))
	for i := range relevant {
		if relevant[i].Overview != nil {
			overviews = append(overviews, *relevant[i].Overview)
		}
	}
	if len(overviews) == 0 {
		logger.Debugw("no highly relevant clusters for summary", "run", runID.Hex())
		return nil
	}

	summary, err := c.stages.GenerateWorkspaceSummary(ctx, overviews, ws.Language, c.cfg.IncludeSummaryThreshold)
	if err != nil {
		return err
	}
	result.Summary = summary
	return c.store.SetAnalysisRunResult(ctx, runID, result)
}
