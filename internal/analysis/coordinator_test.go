package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kart-io/newsflow/internal/model"
)

// memStore 是协调器测试用的内存数据层。
type memStore struct {
	mu        sync.Mutex
	workspace *model.Workspace
	articles  []model.Article
	clusters  []*model.Cluster
	results   map[primitive.ObjectID]*model.ClusteringAnalysisResult
	starters  [][]string
	finished  map[primitive.ObjectID]model.RunStatus
	finishErr map[primitive.ObjectID]string
}

func newMemStore(ws *model.Workspace, articles []model.Article) *memStore {
	return &memStore{
		workspace: ws,
		articles:  articles,
		results:   make(map[primitive.ObjectID]*model.ClusteringAnalysisResult),
		finished:  make(map[primitive.ObjectID]model.RunStatus),
		finishErr: make(map[primitive.ObjectID]string),
	}
}

func (m *memStore) GetWorkspace(ctx context.Context, id primitive.ObjectID) (*model.Workspace, error) {
	return m.workspace, nil
}

func (m *memStore) FindArticlesInWindow(ctx context.Context, workspaceID primitive.ObjectID, start, end time.Time) ([]model.Article, error) {
	return m.articles, nil
}

func (m *memStore) InsertCluster(ctx context.Context, cluster *model.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cluster.ID = primitive.NewObjectID()
	m.clusters = append(m.clusters, cluster)
	return nil
}

func (m *memStore) SetAnalysisRunResult(ctx context.Context, runID primitive.ObjectID, result *model.ClusteringAnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *result
	m.results[runID] = &copied
	return nil
}

func (m *memStore) FindSessionClusters(ctx context.Context, sessionID primitive.ObjectID) ([]model.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Cluster
	for _, c := range m.clusters {
		if c.SessionID == sessionID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) FindSessionClustersByRelevance(ctx context.Context, sessionID primitive.ObjectID, level model.RelevanceLevel) ([]model.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Cluster
	for _, c := range m.clusters {
		if c.SessionID == sessionID && c.Evaluation != nil && c.Evaluation.RelevanceLevel == level && c.Overview != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) FindRecentRelevantClusters(ctx context.Context, workspaceID primitive.ObjectID, limit int) ([]model.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Cluster
	for _, c := range m.clusters {
		if c.Evaluation != nil && c.Evaluation.RelevanceLevel == model.RelevanceHighly && c.Overview != nil {
			out = append(out, *c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) findCluster(id primitive.ObjectID) *model.Cluster {
	for _, c := range m.clusters {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *memStore) SetClusterOverview(ctx context.Context, clusterID primitive.ObjectID, overview *model.Overview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.findCluster(clusterID)
	c.Overview = overview
	c.OverviewGenerationError = ""
	return nil
}

func (m *memStore) SetClusterOverviewError(ctx context.Context, clusterID primitive.ObjectID, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.findCluster(clusterID)
	c.Overview = nil
	c.OverviewGenerationError = msg
	return nil
}

func (m *memStore) SetClusterEvaluation(ctx context.Context, clusterID primitive.ObjectID, eval *model.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCluster(clusterID).Evaluation = eval
	return nil
}

func (m *memStore) InsertStarters(ctx context.Context, workspaceID primitive.ObjectID, starters []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starters = append(m.starters, starters)
	return nil
}

func (m *memStore) MarkAnalysisRunFinished(ctx context.Context, runID primitive.ObjectID, status model.RunStatus, runErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[runID] = status
	m.finishErr[runID] = runErr
	return nil
}

// memEmbeddings 把预置向量按 id 返回。
type memEmbeddings struct {
	vectors map[primitive.ObjectID][]float32
}

func (m *memEmbeddings) FetchEmbeddings(ctx context.Context, ws *model.Workspace, ids []primitive.ObjectID) (map[primitive.ObjectID][]float32, error) {
	out := make(map[primitive.ObjectID][]float32)
	for _, id := range ids {
		if v, ok := m.vectors[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// twoTopicFixture 构造两个相距很远的三元组，各自聚成一簇。
func twoTopicFixture(wsID primitive.ObjectID) ([]model.Article, *memEmbeddings) {
	coords := [][]float32{
		{0, 0}, {0.1, 0}, {0, 0.1},
		{100, 100}, {100.1, 100}, {100, 100.1},
	}
	articles := make([]model.Article, len(coords))
	vectors := make(map[primitive.ObjectID][]float32)
	for i, v := range coords {
		articles[i] = model.Article{
			ID:          primitive.NewObjectID(),
			WorkspaceID: wsID,
			Title:       fmt.Sprintf("article %d", i),
			Body:        "body",
			Image:       fmt.Sprintf("https://img.example.com/%d.png", i),
		}
		vectors[articles[i].ID] = v
	}
	return articles, &memEmbeddings{vectors: vectors}
}

func testWorkspace() *model.Workspace {
	return &model.Workspace{
		ID:          primitive.NewObjectID(),
		Name:        "chips",
		Description: "semiconductor industry news",
		Language:    "English",
		Hdbscan:     model.HdbscanSettings{MinClusterSize: 2, MinSamples: 2},
		Enabled:     true,
	}
}

func routedChat(t *testing.T, overviewErr func(prompt string) error) func(prompt, system string) (string, error) {
	return func(prompt, system string) (string, error) {
		switch {
		case strings.Contains(system, "clusters of related news"):
			if overviewErr != nil {
				if err := overviewErr(prompt); err != nil {
					return "", err
				}
			}
			return `{"title": "Topic", "summary": "What happened."}`, nil
		case strings.Contains(system, "relevant to a research workspace"):
			return `{"justification": "on topic", "relevance_level": "highly_relevant", "confidence_score": 0.9}`, nil
		case strings.Contains(system, "conversation starters"):
			return `{"questions": ["What is next?"]}`, nil
		case strings.Contains(system, "workspace-level digest"):
			return "## Session digest", nil
		default:
			t.Fatalf("unexpected system prompt: %s", system)
			return "", nil
		}
	}
}

func newTestCoordinator(t *testing.T, s *memStore, embeddings *memEmbeddings, generate func(prompt, system string) (string, error)) *Coordinator {
	t.Helper()
	return NewCoordinator(s, embeddings, newTestStages(t, generate), Config{
		MinArticlesForClustering: 5,
		OverviewArticles:         10,
		MaxClusters:              20,
		IncludeSummaryThreshold:  8,
		StartersCount:            4,
	})
}

func TestHandleRun(t *testing.T) {
	ctx := context.Background()

	t.Run("完整聚类会话", func(t *testing.T) {
		ws := testWorkspace()
		articles, embeddings := twoTopicFixture(ws.ID)
		s := newMemStore(ws, articles)
		run := &model.AnalysisRun{
			ID:           primitive.NewObjectID(),
			WorkspaceID:  ws.ID,
			AnalysisType: model.AnalysisTypeClustering,
			Status:       model.RunStatusRunning,
		}

		err := newTestCoordinator(t, s, embeddings, routedChat(t, nil)).HandleRun(ctx, run)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusCompleted, s.finished[run.ID])

		require.Len(t, s.clusters, 2)
		for _, c := range s.clusters {
			assert.Equal(t, run.ID, c.SessionID)
			assert.Equal(t, 3, c.ArticlesCount)
			require.NotNil(t, c.Overview)
			require.NotNil(t, c.Evaluation)
			assert.NotEmpty(t, c.FirstImage)
		}

		result := s.results[run.ID]
		require.NotNil(t, result)
		assert.Equal(t, 2, result.ClustersCount)
		assert.Equal(t, 6, result.ClusteredArticlesCount)
		assert.Equal(t, 6, result.ArticlesCount)
		assert.Empty(t, result.NoiseArticlesIDs)
		assert.Equal(t, map[model.RelevanceLevel]int{model.RelevanceHighly: 2}, result.EvaluationCounts)
		assert.Equal(t, "## Session digest", result.Summary)

		require.Len(t, s.starters, 1)
		assert.Equal(t, []string{"What is next?"}, s.starters[0])
	})

	t.Run("文章数不足", func(t *testing.T) {
		ws := testWorkspace()
		articles, embeddings := twoTopicFixture(ws.ID)
		s := newMemStore(ws, articles[:3])
		run := &model.AnalysisRun{
			ID:           primitive.NewObjectID(),
			WorkspaceID:  ws.ID,
			AnalysisType: model.AnalysisTypeClustering,
		}

		err := newTestCoordinator(t, s, embeddings, routedChat(t, nil)).HandleRun(ctx, run)
		require.Error(t, err)
		assert.Equal(t, model.RunStatusFailed, s.finished[run.ID])
		assert.Equal(t, "Not enough articles to cluster.", s.finishErr[run.ID])
	})

	t.Run("report类型未实现", func(t *testing.T) {
		ws := testWorkspace()
		s := newMemStore(ws, nil)
		run := &model.AnalysisRun{
			ID:           primitive.NewObjectID(),
			WorkspaceID:  ws.ID,
			AnalysisType: model.AnalysisTypeReport,
		}

		err := newTestCoordinator(t, s, &memEmbeddings{}, routedChat(t, nil)).HandleRun(ctx, run)
		require.Error(t, err)
		assert.Equal(t, model.RunStatusFailed, s.finished[run.ID])
		assert.Contains(t, s.finishErr[run.ID], "not implemented")
	})

	t.Run("单簇概览失败导致运行失败但簇保留", func(t *testing.T) {
		ws := testWorkspace()
		articles, embeddings := twoTopicFixture(ws.ID)
		s := newMemStore(ws, articles)
		run := &model.AnalysisRun{
			ID:           primitive.NewObjectID(),
			WorkspaceID:  ws.ID,
			AnalysisType: model.AnalysisTypeClustering,
		}

		// 含 article 0 的簇概览失败
		failFirst := func(prompt string) error {
			if strings.Contains(prompt, "article 0") {
				return fmt.Errorf("model refused")
			}
			return nil
		}
		err := newTestCoordinator(t, s, embeddings, routedChat(t, failFirst)).HandleRun(ctx, run)
		require.Error(t, err)
		assert.Equal(t, model.RunStatusFailed, s.finished[run.ID])
		assert.Contains(t, s.finishErr[run.ID], "overview generation failed")

		// 两个簇都已持久化：一个带概览，一个带错误
		require.Len(t, s.clusters, 2)
		var withOverview, withError, evaluated int
		for _, c := range s.clusters {
			if c.Overview != nil {
				withOverview++
			}
			if c.OverviewGenerationError != "" {
				withError++
			}
			if c.Evaluation != nil {
				evaluated++
			}
		}
		assert.Equal(t, 1, withOverview)
		assert.Equal(t, 1, withError)
		// 概览失败不阻断评估：存活的簇仍被评估
		assert.Equal(t, 1, evaluated)

		// 部分结果（计数与评估统计）仍然落库
		require.NotNil(t, s.results[run.ID])
		assert.Equal(t, 2, s.results[run.ID].ClustersCount)
		assert.Equal(t, map[model.RelevanceLevel]int{model.RelevanceHighly: 1}, s.results[run.ID].EvaluationCounts)

		// 失败的运行不再生成开场白或摘要
		assert.Empty(t, s.starters)
		assert.Empty(t, s.results[run.ID].Summary)
	})
}
