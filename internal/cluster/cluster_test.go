package cluster_test

import (
	"testing"

	"crest/internal/cluster"
)

func TestIdenticalEmbeddingsShareACluster(t *testing.T) {
	assigner := cluster.NewAssigner(0.85)
	emb := []float32{0.5, 0.5, 0}

	got := assigner.Assign([][]float32{emb, emb})
	if got.ClusterIDs[0] != 0 || got.ClusterIDs[1] != 0 {
		t.Fatalf("assignments = %v, want both in cluster 0", got.ClusterIDs)
	}
	if got.Clusters() != 1 || got.Sizes[0] != 2 {
		t.Fatalf("sizes = %v, want one cluster of 2", got.Sizes)
	}
}

func TestDissimilarEmbeddingsSplit(t *testing.T) {
	assigner := cluster.NewAssigner(0.85)

	got := assigner.Assign([][]float32{
		{1, 0, 0},
		{0, 1, 0},
	})
	if got.ClusterIDs[0] != 0 || got.ClusterIDs[1] != 1 {
		t.Fatalf("orthogonal embeddings should split: %v", got.ClusterIDs)
	}
}

func TestIDsFollowFirstAppearance(t *testing.T) {
	assigner := cluster.NewAssigner(0.85)

	got := assigner.Assign([][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.99, 0.01, 0},
		{0, 0.98, 0.02},
	})
	want := []int{0, 1, 0, 1}
	for i := range want {
		if got.ClusterIDs[i] != want[i] {
			t.Fatalf("assignments = %v, want %v", got.ClusterIDs, want)
		}
	}
	if got.Sizes[0] != 2 || got.Sizes[1] != 2 {
		t.Fatalf("sizes = %v", got.Sizes)
	}
}

func TestMissingEmbeddingIsUnclustered(t *testing.T) {
	assigner := cluster.NewAssigner(0.85)

	got := assigner.Assign([][]float32{
		{1, 0},
		nil,
		{1, 0},
	})
	if got.ClusterIDs[1] != cluster.Unclustered {
		t.Fatalf("nil embedding assignment = %d, want %d", got.ClusterIDs[1], cluster.Unclustered)
	}
	if got.ClusterIDs[0] != 0 || got.ClusterIDs[2] != 0 {
		t.Fatalf("surrounding videos should still cluster: %v", got.ClusterIDs)
	}
	if got.Sizes[0] != 2 {
		t.Fatalf("unclustered video must not count toward sizes: %v", got.Sizes)
	}
}

func TestCentroidDriftKeepsNearDuplicatesTogether(t *testing.T) {
	assigner := cluster.NewAssigner(0.95)

	// Each embedding is within threshold of the running mean of the ones
	// before it, so the cluster absorbs the slow drift.
	got := assigner.Assign([][]float32{
		{1, 0.00, 0},
		{1, 0.05, 0},
		{1, 0.10, 0},
	})
	for i, id := range got.ClusterIDs {
		if id != 0 {
			t.Fatalf("embedding %d assigned to %d, want 0 (%v)", i, id, got.ClusterIDs)
		}
	}
}

func TestEmptyBatch(t *testing.T) {
	got := cluster.NewAssigner(0.85).Assign(nil)
	if len(got.ClusterIDs) != 0 || got.Clusters() != 0 {
		t.Fatalf("expected empty assignment, got %+v", got)
	}
}
