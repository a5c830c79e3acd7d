package services

import (
	"context"
	"testing"
)

func TestNewAnalytics(t *testing.T) {
	a := NewAnalytics(nil, nil)
	if a == nil {
		t.Fatal("NewAnalytics() returned nil")
	}
	if a.precomputed == nil {
		t.Error("precomputed should be initialized")
	}
	if a.logger == nil || a.segmenter == nil {
		t.Error("logger and segmenter should be initialized")
	}
	if a.Ready() {
		t.Error("Ready() should be false before the first load")
	}
	if a.Clusters() != nil || a.Products(-1, 10) != nil || a.Linkage() != nil {
		t.Error("queries should return nil before the first load")
	}
}

func TestAnalytics_SetData(t *testing.T) {
	a := NewAnalytics(nil, nil)
	if err := a.SetData(context.Background(), threeSegments(), 3, "kmeans", 4); err != nil {
		t.Fatalf("SetData() error = %v", err)
	}

	if !a.Ready() {
		t.Error("Ready() should be true after SetData")
	}
	if got := len(a.Clusters()); got != 3 {
		t.Errorf("Clusters() returned %d summaries, want 3", got)
	}
	if got := len(a.Elbow()); got != 4 {
		t.Errorf("Elbow() returned %d points, want 4", got)
	}
	if a.Run().Source != "memory" {
		t.Errorf("Run().Source = %q, want memory", a.Run().Source)
	}
}

func TestAnalytics_Load(t *testing.T) {
	a := NewAnalytics(nil, nil)
	if err := a.Load(context.Background(), sampleCSV, 2, "hierarchical", 10); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if a.Linkage() == nil {
		t.Error("Linkage() should be set for hierarchical runs")
	}
	// Elbow is capped at the product count.
	if got := len(a.Elbow()); got != 5 {
		t.Errorf("Elbow() returned %d points, want 5", got)
	}

	if err := a.Load(context.Background(), "missing.csv", 2, "kmeans", 10); err == nil {
		t.Error("Load() with missing file should error")
	}
	if !a.Ready() {
		t.Error("failed reload should keep the previous data")
	}
}

func TestAnalytics_Products(t *testing.T) {
	a := NewAnalytics(nil, nil)
	if err := a.SetData(context.Background(), threeSegments(), 3, "hierarchical", 3); err != nil {
		t.Fatalf("SetData() error = %v", err)
	}

	tests := []struct {
		name    string
		cluster int
		limit   int
		want    int
	}{
		{"all", -1, 0, 9},
		{"all limited", -1, 4, 4},
		{"one cluster", 0, 0, 3},
		{"one cluster limited", 1, 2, 2},
		{"unknown cluster", 7, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Products(tt.cluster, tt.limit)
			if len(got) != tt.want {
				t.Fatalf("Products(%d, %d) returned %d rows, want %d", tt.cluster, tt.limit, len(got), tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i-1].TotalRevenue.LessThan(got[i].TotalRevenue) {
					t.Errorf("rows not sorted by revenue at %d", i)
				}
			}
		})
	}
}

func TestAnalytics_Stats(t *testing.T) {
	a := NewAnalytics(nil, nil)
	if err := a.Load(context.Background(), sampleCSV, 2, "kmeans", 3); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	stats := a.Stats()
	for _, key := range []string{"loads", "run_id", "method", "products", "rows_dropped"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("Stats() missing key %q", key)
		}
	}
	if stats["products"] != 5 {
		t.Errorf("Stats()[products] = %v, want 5", stats["products"])
	}
	if stats["loads"] != int64(1) {
		t.Errorf("Stats()[loads] = %v, want 1", stats["loads"])
	}
}

func BenchmarkAnalytics_Products(b *testing.B) {
	a := NewAnalytics(nil, nil)
	if err := a.SetData(context.Background(), threeSegments(), 3, "kmeans", 3); err != nil {
		b.Fatal(err)
	}
	for b.Loop() {
		a.Products(-1, 5)
	}
}

func TestAnalytics_EnsureLinkage(t *testing.T) {
	a := NewAnalytics(nil, nil)
	if _, err := a.EnsureLinkage(context.Background(), 100); err == nil {
		t.Error("EnsureLinkage() before load should error")
	}

	if err := a.SetData(context.Background(), threeSegments(), 3, "kmeans", 3); err != nil {
		t.Fatalf("SetData() error = %v", err)
	}
	if a.Linkage() != nil {
		t.Fatal("k-means run should start without a linkage")
	}

	if _, err := a.EnsureLinkage(context.Background(), 5); err == nil {
		t.Error("EnsureLinkage() over the row limit should error")
	}

	link, err := a.EnsureLinkage(context.Background(), 100)
	if err != nil {
		t.Fatalf("EnsureLinkage() error = %v", err)
	}
	if link.N != 9 || len(link.Merges) != 8 {
		t.Errorf("linkage has N=%d merges=%d, want 9 and 8", link.N, len(link.Merges))
	}
	if a.Linkage() != link {
		t.Error("computed linkage should be kept on the run")
	}
}
