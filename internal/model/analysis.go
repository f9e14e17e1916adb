package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AnalysisType discriminates analysis run variants.
type AnalysisType string

const (
	AnalysisTypeClustering AnalysisType = "clustering"
	AnalysisTypeReport     AnalysisType = "report"
)

// RelevanceLevel is the outcome of a cluster evaluation.
type RelevanceLevel string

const (
	RelevanceHighly   RelevanceLevel = "highly_relevant"
	RelevanceSomewhat RelevanceLevel = "somewhat_relevant"
	RelevanceNot      RelevanceLevel = "not_relevant"
)

// ClusteringAnalysisResult is embedded in AnalysisRun.Result for
// clustering runs. Counts are recorded before clusters are enriched
// with overviews and evaluations.
type ClusteringAnalysisResult struct {
	ClustersCount          int                    `bson:"clusters_count" json:"clusters_count"`
	NoiseArticlesIDs       []primitive.ObjectID   `bson:"noise_articles_ids" json:"noise_articles_ids"`
	NoiseArticlesCount     int                    `bson:"noise_articles_count" json:"noise_articles_count"`
	ClusteredArticlesCount int                    `bson:"clustered_articles_count" json:"clustered_articles_count"`
	ArticlesCount          int                    `bson:"articles_count" json:"articles_count"`
	EvaluationCounts       map[RelevanceLevel]int `bson:"evaluation_counts,omitempty" json:"evaluation_counts,omitempty"`
	Summary                string                 `bson:"summary,omitempty" json:"summary,omitempty"`
	DataLoadingTimeS       float64                `bson:"data_loading_time_s,omitempty" json:"data_loading_time_s,omitempty"`
	ClusteringTimeS        float64                `bson:"clustering_time_s,omitempty" json:"clustering_time_s,omitempty"`
}

// AnalysisRun is one execution of one analysis over a date window.
type AnalysisRun struct {
	ID           primitive.ObjectID        `bson:"_id,omitempty" json:"id"`
	WorkspaceID  primitive.ObjectID        `bson:"workspace_id" json:"workspace_id"`
	AnalysisType AnalysisType              `bson:"analysis_type" json:"analysis_type"`
	Status       RunStatus                 `bson:"status" json:"status"`
	DataStart    time.Time                 `bson:"data_start" json:"data_start"`
	DataEnd      time.Time                 `bson:"data_end" json:"data_end"`
	SessionStart *time.Time                `bson:"session_start,omitempty" json:"session_start,omitempty"`
	SessionEnd   *time.Time                `bson:"session_end,omitempty" json:"session_end,omitempty"`
	Error        string                    `bson:"error,omitempty" json:"error,omitempty"`
	Result       *ClusteringAnalysisResult `bson:"result,omitempty" json:"result,omitempty"`
	CreatedAt    time.Time                 `bson:"created_at" json:"created_at"`
}

// CollectionName specifies the collection name for AnalysisRun.
func (AnalysisRun) CollectionName() string {
	return "analysis_runs"
}

// Overview is the AI-generated title and summary of a cluster.
type Overview struct {
	Title    string `bson:"title" json:"title"`
	Summary  string `bson:"summary" json:"summary"`
	Language string `bson:"language" json:"language"`
}

// Evaluation is the AI-generated relevance judgement of a cluster.
type Evaluation struct {
	Justification   string         `bson:"justification" json:"justification"`
	RelevanceLevel  RelevanceLevel `bson:"relevance_level" json:"relevance_level"`
	ConfidenceScore float64        `bson:"confidence_score" json:"confidence_score"`
}

// Cluster is a set of articles grouped by density-based clustering.
// ArticlesIDs are sorted ascending by distance to the cluster centroid.
type Cluster struct {
	ID                      primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	WorkspaceID             primitive.ObjectID   `bson:"workspace_id" json:"workspace_id"`
	SessionID               primitive.ObjectID   `bson:"session_id" json:"session_id"`
	ArticlesIDs             []primitive.ObjectID `bson:"articles_ids" json:"articles_ids"`
	ArticlesCount           int                  `bson:"articles_count" json:"articles_count"`
	Overview                *Overview            `bson:"overview,omitempty" json:"overview,omitempty"`
	OverviewGenerationError string               `bson:"overview_generation_error,omitempty" json:"overview_generation_error,omitempty"`
	Evaluation              *Evaluation          `bson:"evaluation,omitempty" json:"evaluation,omitempty"`
	FirstImage              string               `bson:"first_image,omitempty" json:"first_image,omitempty"`
	CreatedAt               time.Time            `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time            `bson:"updated_at" json:"updated_at"`
}

// CollectionName specifies the collection name for Cluster.
func (Cluster) CollectionName() string {
	return "clusters"
}

// Starters is an append-only set of suggested conversation openers.
// The current set for a workspace is the most recently created row.
type Starters struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	WorkspaceID primitive.ObjectID `bson:"workspace_id" json:"workspace_id"`
	Starters    []string           `bson:"starters" json:"starters"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

// CollectionName specifies the collection name for Starters.
func (Starters) CollectionName() string {
	return "starters"
}
