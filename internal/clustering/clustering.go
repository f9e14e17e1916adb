// Package clustering 在文章嵌入上做密度聚类。
//
// 输出的每个簇内部按到质心的欧氏距离升序排列，
// 簇之间按成员数降序排列，规模相同时标签小者在前。
package clustering

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kart-io/newsflow/internal/model"
)

// ErrEmptyInput 空输入无法聚类。
var ErrEmptyInput = errors.New("clustering requires at least one embedding")

// ArticleEmbedding 是一篇文章及其向量。
type ArticleEmbedding struct {
	ID        primitive.ObjectID
	Embedding []float32
}

// Member 是簇内的一个点，带到质心的距离。
type Member struct {
	ArticleEmbedding
	DistanceToCentroid float64
}

// Cluster 是一个非空簇。
type Cluster struct {
	Label    int
	Centroid []float64
	Members  []Member
}

// Result 是一次聚类的完整输出。
// 每篇输入文章恰好出现在 Clusters 或 Noise 中一次。
type Result struct {
	Clusters []Cluster
	Noise    []ArticleEmbedding
	Duration time.Duration
}

// NewCluster 由一组点构造簇：计算质心、各点到质心的距离，
// 并按距离升序稳定排序。空集或维度不一致返回错误。
func NewCluster(label int, points []ArticleEmbedding) (*Cluster, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("cluster %d has no members", label)
	}
	dim := len(points[0].Embedding)
	for i := range points {
		if len(points[i].Embedding) != dim {
			return nil, fmt.Errorf("cluster %d: embedding dimension mismatch: %d != %d",
				label, len(points[i].Embedding), dim)
		}
	}

	centroid := make([]float64, dim)
	for i := range points {
		for j, v := range points[i].Embedding {
			centroid[j] += float64(v)
		}
	}
	for j := range centroid {
		centroid[j] /= float64(len(points))
	}

	members := make([]Member, len(points))
	for i, p := range points {
		var sum float64
		for j, v := range p.Embedding {
			d := float64(v) - centroid[j]
			sum += d * d
		}
		members[i] = Member{ArticleEmbedding: p, DistanceToCentroid: math.Sqrt(sum)}
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].DistanceToCentroid < members[j].DistanceToCentroid
	})

	return &Cluster{Label: label, Centroid: centroid, Members: members}, nil
}

// Perform 对嵌入集合做密度聚类。
func Perform(points []ArticleEmbedding, settings model.HdbscanSettings) (*Result, error) {
	start := time.Now()

	if len(points) == 0 {
		return nil, ErrEmptyInput
	}
	dim := len(points[0].Embedding)
	if dim == 0 {
		return nil, errors.New("embeddings must be non-empty vectors")
	}
	for i := range points {
		if len(points[i].Embedding) != dim {
			return nil, fmt.Errorf("embedding dimension mismatch at index %d: %d != %d",
				i, len(points[i].Embedding), dim)
		}
	}

	minClusterSize := settings.MinClusterSize
	if minClusterSize < 2 {
		minClusterSize = 5
	}
	minSamples := settings.MinSamples
	if minSamples <= 0 {
		minSamples = minClusterSize
	}

	vectors := make([][]float64, len(points))
	for i := range points {
		vectors[i] = make([]float64, dim)
		for j, v := range points[i].Embedding {
			vectors[i][j] = float64(v)
		}
	}

	labels := hdbscanLabels(vectors, minClusterSize, minSamples, settings.ClusterSelectionEpsilon)

	byLabel := make(map[int][]ArticleEmbedding)
	var noise []ArticleEmbedding
	for i, label := range labels {
		if label < 0 {
			noise = append(noise, points[i])
			continue
		}
		byLabel[label] = append(byLabel[label], points[i])
	}

	clusters := make([]Cluster, 0, len(byLabel))
	for label, members := range byLabel {
		cluster, err := NewCluster(label, members)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, *cluster)
	}
	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i].Members) != len(clusters[j].Members) {
			return len(clusters[i].Members) > len(clusters[j].Members)
		}
		return clusters[i].Label < clusters[j].Label
	})

	return &Result{
		Clusters: clusters,
		Noise:    noise,
		Duration: time.Since(start),
	}, nil
}
