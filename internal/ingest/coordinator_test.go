package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kart-io/newsflow/internal/cleaner"
	"github.com/kart-io/newsflow/internal/model"
	"github.com/kart-io/newsflow/internal/provider"
)

type memStore struct {
	org       *model.Organization
	workspace *model.Workspace
	config    *model.IngestionConfig
	existing  map[string]bool
	upserted  []model.Article
	lastRunAt *time.Time
	finished  model.RunStatus
	finishErr string
	nInserted *int
}

func (m *memStore) GetWorkspace(ctx context.Context, id primitive.ObjectID) (*model.Workspace, error) {
	return m.workspace, nil
}

func (m *memStore) GetOrganization(ctx context.Context, id primitive.ObjectID) (*model.Organization, error) {
	return m.org, nil
}

func (m *memStore) GetIngestionConfig(ctx context.Context, id primitive.ObjectID) (*model.IngestionConfig, error) {
	return m.config, nil
}

func (m *memStore) ExistingURLs(ctx context.Context, workspaceID primitive.ObjectID, urls []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, u := range urls {
		if m.existing[u] {
			out[u] = true
		}
	}
	return out, nil
}

func (m *memStore) UpsertArticle(ctx context.Context, article *model.Article) (bool, error) {
	m.upserted = append(m.upserted, *article)
	// 重复 URL 模拟唯一索引：静默丢弃
	return !m.existing[article.URL], nil
}

func (m *memStore) SetConfigLastRunAt(ctx context.Context, configID primitive.ObjectID, at time.Time) error {
	m.lastRunAt = &at
	return nil
}

func (m *memStore) MarkIngestionRunFinished(ctx context.Context, runID primitive.ObjectID, status model.RunStatus, runErr string, nInserted *int) error {
	m.finished = status
	m.finishErr = runErr
	m.nInserted = nInserted
	return nil
}

type fakeSearch struct {
	results    []provider.RawArticle
	err        error
	calls      int
	maxResults int
	timeLimit  model.TimeLimit
}

func (f *fakeSearch) Search(ctx context.Context, query, region string, maxResults int, timeLimit model.TimeLimit) ([]provider.RawArticle, error) {
	return f.BatchSearch(ctx, []string{query}, region, maxResults, timeLimit)
}

func (f *fakeSearch) BatchSearch(ctx context.Context, queries []string, region string, maxResults int, timeLimit model.TimeLimit) ([]provider.RawArticle, error) {
	f.calls++
	f.maxResults = maxResults
	f.timeLimit = timeLimit
	return f.results, f.err
}

func (f *fakeSearch) Name() model.Provider { return model.ProviderSerperDev }

type fakeRSS struct {
	results []provider.RawArticle
	err     error
}

func (f *fakeRSS) Fetch(ctx context.Context, feedURL string) ([]provider.RawArticle, error) {
	return f.results, f.err
}

type fakeConverter struct {
	calledWith []string
	err        error
	failURL    string
}

func (f *fakeConverter) Convert(ctx context.Context, url string) (*provider.ConvertResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeConverter) ConvertBatch(ctx context.Context, urls []string) ([]provider.BatchConvertItem, error) {
	f.calledWith = urls
	if f.err != nil {
		return nil, f.err
	}
	items := make([]provider.BatchConvertItem, len(urls))
	for i, u := range urls {
		if u == f.failURL {
			items[i] = provider.BatchConvertItem{Err: errors.New("fetch blocked")}
			continue
		}
		items[i] = provider.BatchConvertItem{Result: &provider.ConvertResult{
			URL:              u,
			Markdown:         "# raw " + u,
			ExtractionMethod: "firecrawl",
		}}
	}
	return items, nil
}

type fakeCleaner struct {
	err error
}

func (f *fakeCleaner) Clean(ctx context.Context, rawMarkdown string) (*cleaner.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &cleaner.Result{Title: "cleaned", Content: "clean " + rawMarkdown}, nil
}

type fakeSyncer struct {
	calls int
	force bool
	err   error
}

func (f *fakeSyncer) Sync(ctx context.Context, workspaceID primitive.ObjectID, force bool) (int, error) {
	f.calls++
	f.force = force
	return 0, f.err
}

func rawArticles(n int) []provider.RawArticle {
	out := make([]provider.RawArticle, n)
	for i := range out {
		out[i] = provider.RawArticle{
			Title:    fmt.Sprintf("title %d", i),
			URL:      fmt.Sprintf("https://example.com/%d", i),
			Body:     "body",
			Date:     time.Now().Add(-time.Hour),
			Provider: model.ProviderSerperDev,
		}
	}
	return out
}

func searchFixture(contentAnalysis bool) (*memStore, *model.IngestionRun) {
	orgID := primitive.NewObjectID()
	wsID := primitive.NewObjectID()
	lastRun := time.Now().Add(-24 * time.Hour)
	s := &memStore{
		org:       &model.Organization{ID: orgID, ContentAnalysisEnabled: contentAnalysis},
		workspace: &model.Workspace{ID: wsID, OrganizationID: orgID, Enabled: true},
		config: &model.IngestionConfig{
			ID:                 primitive.NewObjectID(),
			WorkspaceID:        wsID,
			Type:               model.IngestionConfigSearch,
			Queries:            []string{"ai chips"},
			Region:             "us-en",
			MaxResults:         10,
			TimeLimit:          model.TimeLimitDay,
			FirstRunMaxResults: 50,
			FirstRunTimeLimit:  model.TimeLimitMonth,
			LastRunAt:          &lastRun,
		},
		existing: make(map[string]bool),
	}
	run := &model.IngestionRun{
		ID:          primitive.NewObjectID(),
		WorkspaceID: wsID,
		ConfigID:    s.config.ID,
		Status:      model.RunStatusRunning,
	}
	return s, run
}

func TestHandleRunSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("常规运行使用常规参数并去重", func(t *testing.T) {
		s, run := searchFixture(false)
		results := rawArticles(3)
		// 重复 URL，保留第一次出现
		results = append(results, provider.RawArticle{Title: "dup", URL: results[0].URL, Provider: model.ProviderSerperDev})
		search := &fakeSearch{results: results}
		sync := &fakeSyncer{}

		coord := NewCoordinator(s, search, &fakeRSS{}, &fakeConverter{}, &fakeCleaner{}, sync)
		require.NoError(t, coord.HandleRun(ctx, run))

		assert.Equal(t, 10, search.maxResults)
		assert.Equal(t, model.TimeLimitDay, search.timeLimit)
		assert.Equal(t, model.RunStatusCompleted, s.finished)
		require.NotNil(t, s.nInserted)
		assert.Equal(t, 3, *s.nInserted)
		require.Len(t, s.upserted, 3)
		assert.Equal(t, "title 0", s.upserted[0].Title)
		assert.Equal(t, run.ID, s.upserted[0].IngestionRunID)
		assert.Equal(t, "us-en", s.upserted[0].Region)
		require.NotNil(t, s.lastRunAt)
		assert.Equal(t, 1, sync.calls)
		assert.False(t, sync.force)
	})

	t.Run("首次运行使用first_run参数", func(t *testing.T) {
		s, run := searchFixture(false)
		s.config.LastRunAt = nil
		search := &fakeSearch{results: rawArticles(1)}

		coord := NewCoordinator(s, search, &fakeRSS{}, &fakeConverter{}, &fakeCleaner{}, &fakeSyncer{})
		require.NoError(t, coord.HandleRun(ctx, run))
		assert.Equal(t, 50, search.maxResults)
		assert.Equal(t, model.TimeLimitMonth, search.timeLimit)
	})

	t.Run("搜索失败则运行失败", func(t *testing.T) {
		s, run := searchFixture(false)
		sync := &fakeSyncer{}
		coord := NewCoordinator(s, &fakeSearch{err: errors.New("quota exceeded")}, &fakeRSS{}, &fakeConverter{}, &fakeCleaner{}, sync)

		err := coord.HandleRun(ctx, run)
		require.Error(t, err)
		assert.Equal(t, model.RunStatusFailed, s.finished)
		assert.Contains(t, s.finishErr, "quota exceeded")
		assert.Nil(t, s.nInserted)
		assert.Nil(t, s.lastRunAt)
		// 失败的运行不触发向量同步
		assert.Equal(t, 0, sync.calls)
	})

	t.Run("重复文章不计入n_inserted", func(t *testing.T) {
		s, run := searchFixture(false)
		results := rawArticles(3)
		s.existing[results[1].URL] = true
		coord := NewCoordinator(s, &fakeSearch{results: results}, &fakeRSS{}, &fakeConverter{}, &fakeCleaner{}, &fakeSyncer{})

		require.NoError(t, coord.HandleRun(ctx, run))
		require.NotNil(t, s.nInserted)
		assert.Equal(t, 2, *s.nInserted)
		assert.Len(t, s.upserted, 3)
	})
}

func TestHandleRunContentAnalysis(t *testing.T) {
	ctx := context.Background()

	t.Run("只抓取新文章的正文", func(t *testing.T) {
		s, run := searchFixture(true)
		results := rawArticles(3)
		s.existing[results[1].URL] = true
		converter := &fakeConverter{}

		coord := NewCoordinator(s, &fakeSearch{results: results}, &fakeRSS{}, converter, &fakeCleaner{}, &fakeSyncer{})
		require.NoError(t, coord.HandleRun(ctx, run))

		assert.Equal(t, []string{results[0].URL, results[2].URL}, converter.calledWith)
		assert.NotEmpty(t, s.upserted[0].Content)
		require.NotNil(t, s.upserted[0].ContentFetching)
		assert.Equal(t, "firecrawl", s.upserted[0].ContentFetching.ExtractionMethod)
		// 已存在的文章不带抓取记录
		assert.Nil(t, s.upserted[1].ContentFetching)
	})

	t.Run("单篇抓取失败记录在文章上", func(t *testing.T) {
		s, run := searchFixture(true)
		results := rawArticles(2)
		converter := &fakeConverter{failURL: results[0].URL}

		coord := NewCoordinator(s, &fakeSearch{results: results}, &fakeRSS{}, converter, &fakeCleaner{}, &fakeSyncer{})
		require.NoError(t, coord.HandleRun(ctx, run))

		assert.Equal(t, model.RunStatusCompleted, s.finished)
		assert.Empty(t, s.upserted[0].Content)
		assert.Contains(t, s.upserted[0].ContentCleaningError, "fetch blocked")
		require.NotNil(t, s.upserted[0].ContentFetching)
		assert.Contains(t, s.upserted[0].ContentFetching.Error, "fetch blocked")
		assert.NotEmpty(t, s.upserted[1].Content)
	})

	t.Run("清洗失败记录在文章上", func(t *testing.T) {
		s, run := searchFixture(true)
		coord := NewCoordinator(s, &fakeSearch{results: rawArticles(1)}, &fakeRSS{}, &fakeConverter{},
			&fakeCleaner{err: errors.New("malformed envelope")}, &fakeSyncer{})

		require.NoError(t, coord.HandleRun(ctx, run))
		assert.Equal(t, model.RunStatusCompleted, s.finished)
		assert.Empty(t, s.upserted[0].Content)
		assert.Contains(t, s.upserted[0].ContentCleaningError, "malformed envelope")
	})

	t.Run("抓取层异常使运行失败", func(t *testing.T) {
		s, run := searchFixture(true)
		coord := NewCoordinator(s, &fakeSearch{results: rawArticles(2)}, &fakeRSS{},
			&fakeConverter{err: errors.New("batch endpoint down")}, &fakeCleaner{}, &fakeSyncer{})

		err := coord.HandleRun(ctx, run)
		require.Error(t, err)
		assert.Equal(t, model.RunStatusFailed, s.finished)
		assert.Contains(t, s.finishErr, "batch endpoint down")
		assert.Empty(t, s.upserted)
	})
}

func TestHandleRunRSS(t *testing.T) {
	ctx := context.Background()

	s, run := searchFixture(false)
	s.config.Type = model.IngestionConfigRSS
	s.config.RSSFeedURL = "https://example.com/feed.xml"
	rss := &fakeRSS{results: []provider.RawArticle{
		{Title: "item", URL: "https://example.com/item", Body: "b", Date: time.Now(), Provider: model.ProviderRSS},
	}}

	coord := NewCoordinator(s, &fakeSearch{}, rss, &fakeConverter{}, &fakeCleaner{}, &fakeSyncer{})
	require.NoError(t, coord.HandleRun(ctx, run))

	require.Len(t, s.upserted, 1)
	assert.Equal(t, model.ProviderRSS, s.upserted[0].Provider)
	require.NotNil(t, s.nInserted)
	assert.Equal(t, 1, *s.nInserted)
}

func TestHandleRunDisabledWorkspace(t *testing.T) {
	ctx := context.Background()

	s, run := searchFixture(false)
	s.workspace.Enabled = false
	search := &fakeSearch{results: rawArticles(3)}
	coord := NewCoordinator(s, search, &fakeRSS{}, &fakeConverter{}, &fakeCleaner{}, &fakeSyncer{})

	// 禁用工作区的运行直接完成，不搜索也不写入
	require.NoError(t, coord.HandleRun(ctx, run))
	assert.Equal(t, model.RunStatusCompleted, s.finished)
	assert.Empty(t, s.upserted)
	require.NotNil(t, s.nInserted)
	assert.Equal(t, 0, *s.nInserted)
	assert.Zero(t, search.calls)
}

func TestHandleRunSyncFailure(t *testing.T) {
	ctx := context.Background()

	s, run := searchFixture(false)
	sync := &fakeSyncer{err: errors.New("milvus unavailable")}
	coord := NewCoordinator(s, &fakeSearch{results: rawArticles(1)}, &fakeRSS{}, &fakeConverter{}, &fakeCleaner{}, sync)

	// 同步失败向上抛出，但运行状态保持 completed
	err := coord.HandleRun(ctx, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector sync failed")
	assert.Equal(t, model.RunStatusCompleted, s.finished)
	require.NotNil(t, s.nInserted)
	assert.Equal(t, 1, *s.nInserted)
}
