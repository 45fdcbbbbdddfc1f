// Package cluster groups videos by visual similarity of their cover
// embeddings. Clustering is greedy and single-pass: batch sizes are tens of
// videos, so an O(n*k) scan against running centroids is plenty.
package cluster

import "math"

// Unclustered is the sentinel assignment for videos without an embedding.
const Unclustered = -1

// Assignment maps each input position to a cluster id. Ids are issued
// sequentially from zero in order of cluster creation, so identical input
// order yields identical assignments.
type Assignment struct {
	ClusterIDs []int
	// Sizes holds the member count per cluster id.
	Sizes []int
}

// Clusters returns the number of clusters created.
func (a Assignment) Clusters() int {
	return len(a.Sizes)
}

// Assigner performs greedy centroid clustering at a fixed cosine similarity
// threshold. It owns no state between calls.
type Assigner struct {
	threshold float64
}

func NewAssigner(threshold float64) *Assigner {
	return &Assigner{threshold: threshold}
}

type centroid struct {
	mean  []float64
	count int
}

// Assign clusters the batch in input order. A nil or empty embedding gets
// Unclustered. Each video joins the most similar existing cluster when that
// similarity exceeds the threshold, updating the centroid as a running mean;
// otherwise it seeds a new cluster.
func (a *Assigner) Assign(embeddings [][]float32) Assignment {
	ids := make([]int, len(embeddings))
	var centroids []*centroid

	for i, emb := range embeddings {
		if len(emb) == 0 {
			ids[i] = Unclustered
			continue
		}

		best, bestSim := -1, a.threshold
		for id, c := range centroids {
			if len(c.mean) != len(emb) {
				continue
			}
			if sim := cosine(c.mean, emb); sim > bestSim {
				best, bestSim = id, sim
			}
		}

		if best < 0 {
			centroids = append(centroids, newCentroid(emb))
			ids[i] = len(centroids) - 1
			continue
		}
		centroids[best].add(emb)
		ids[i] = best
	}

	sizes := make([]int, len(centroids))
	for id, c := range centroids {
		sizes[id] = c.count
	}
	return Assignment{ClusterIDs: ids, Sizes: sizes}
}

func newCentroid(emb []float32) *centroid {
	mean := make([]float64, len(emb))
	for i, v := range emb {
		mean[i] = float64(v)
	}
	return &centroid{mean: mean, count: 1}
}

// add folds a new member into the running mean without recomputing from
// scratch.
func (c *centroid) add(emb []float32) {
	c.count++
	inv := 1 / float64(c.count)
	for i, v := range emb {
		c.mean[i] += (float64(v) - c.mean[i]) * inv
	}
}

func cosine(mean []float64, emb []float32) float64 {
	var dot, normA, normB float64
	for i, v := range mean {
		e := float64(emb[i])
		dot += v * e
		normA += v * v
		normB += e * e
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
