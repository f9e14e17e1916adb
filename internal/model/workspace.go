// Package model defines the persistent entities of the newsflow pipeline.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Organization owns workspaces. ContentAnalysisEnabled gates the
// fetch-and-clean stage of ingestion for all its workspaces.
type Organization struct {
	ID                     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name                   string             `bson:"name" json:"name"`
	SecretCode             string             `bson:"secret_code" json:"-"`
	ContentAnalysisEnabled bool               `bson:"content_analysis_enabled" json:"content_analysis_enabled"`
	CreatedAt              time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt              time.Time          `bson:"updated_at" json:"updated_at"`
}

// CollectionName specifies the collection name for Organization.
func (Organization) CollectionName() string {
	return "organizations"
}

// HdbscanSettings parameterizes density-based clustering per workspace.
type HdbscanSettings struct {
	MinClusterSize          int     `bson:"min_cluster_size" json:"min_cluster_size"`
	MinSamples              int     `bson:"min_samples" json:"min_samples"`
	ClusterSelectionEpsilon float64 `bson:"cluster_selection_epsilon" json:"cluster_selection_epsilon"`
}

// Workspace is a tenant-level container for one research topic.
// Enabled=false suppresses all ingestion and analysis.
type Workspace struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OrganizationID primitive.ObjectID `bson:"organization_id" json:"organization_id"`
	Name           string             `bson:"name" json:"name"`
	Description    string             `bson:"description" json:"description"`
	Language       string             `bson:"language" json:"language"`
	Hdbscan        HdbscanSettings    `bson:"hdbscan_settings" json:"hdbscan_settings"`
	Enabled        bool               `bson:"enabled" json:"enabled"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
}

// CollectionName specifies the collection name for Workspace.
func (Workspace) CollectionName() string {
	return "workspaces"
}

// VectorNamespace returns the vector-store collection name for the workspace.
func (w *Workspace) VectorNamespace() string {
	return "ws_" + w.ID.Hex()
}
