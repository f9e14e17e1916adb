package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IngestionConfigType discriminates the ingestion config variants.
type IngestionConfigType string

const (
	IngestionConfigSearch IngestionConfigType = "search"
	IngestionConfigRSS    IngestionConfigType = "rss"
)

// TimeLimit restricts search results to a trailing window.
type TimeLimit string

const (
	TimeLimitDay   TimeLimit = "d"
	TimeLimitWeek  TimeLimit = "w"
	TimeLimitMonth TimeLimit = "m"
	TimeLimitYear  TimeLimit = "y"
)

// IngestionConfig is a tagged union over search and RSS configs,
// discriminated by Type. Search-only fields are empty on RSS configs
// and vice versa.
type IngestionConfig struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	WorkspaceID primitive.ObjectID  `bson:"workspace_id" json:"workspace_id"`
	Type        IngestionConfigType `bson:"type" json:"type"`
	Title       string              `bson:"title" json:"title"`

	// Search variant.
	Queries            []string  `bson:"queries,omitempty" json:"queries,omitempty"`
	Region             string    `bson:"region,omitempty" json:"region,omitempty"`
	MaxResults         int       `bson:"max_results,omitempty" json:"max_results,omitempty"`
	TimeLimit          TimeLimit `bson:"time_limit,omitempty" json:"time_limit,omitempty"`
	FirstRunMaxResults int       `bson:"first_run_max_results,omitempty" json:"first_run_max_results,omitempty"`
	FirstRunTimeLimit  TimeLimit `bson:"first_run_time_limit,omitempty" json:"first_run_time_limit,omitempty"`

	// RSS variant.
	RSSFeedURL string `bson:"rss_feed_url,omitempty" json:"rss_feed_url,omitempty"`

	LastRunAt *time.Time `bson:"last_run_at,omitempty" json:"last_run_at,omitempty"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

// CollectionName specifies the collection name for IngestionConfig.
func (IngestionConfig) CollectionName() string {
	return "ingestion_configs"
}

// EffectiveSearchParams resolves (max_results, time_limit) for the next run.
// The first_run values apply until the config has completed a run.
func (c *IngestionConfig) EffectiveSearchParams() (int, TimeLimit) {
	if c.LastRunAt == nil {
		return c.FirstRunMaxResults, c.FirstRunTimeLimit
	}
	return c.MaxResults, c.TimeLimit
}

// RunStatus is the lifecycle state shared by ingestion and analysis runs.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IngestionRun is one execution of one ingestion config.
type IngestionRun struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	WorkspaceID primitive.ObjectID `bson:"workspace_id" json:"workspace_id"`
	ConfigID    primitive.ObjectID `bson:"config_id" json:"config_id"`
	Status      RunStatus          `bson:"status" json:"status"`
	StartAt     *time.Time         `bson:"start_at,omitempty" json:"start_at,omitempty"`
	EndAt       *time.Time         `bson:"end_at,omitempty" json:"end_at,omitempty"`
	Error       string             `bson:"error,omitempty" json:"error,omitempty"`
	NInserted   *int               `bson:"n_inserted,omitempty" json:"n_inserted,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

// CollectionName specifies the collection name for IngestionRun.
func (IngestionRun) CollectionName() string {
	return "ingestion_runs"
}
