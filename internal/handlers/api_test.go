package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"retail-segments/internal/models"
	"retail-segments/internal/services"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProducts() []models.ProductFeatures {
	var products []models.ProductFeatures
	groups := []struct {
		qty   int64
		price string
		count int
	}{
		{10, "0.50", 2},
		{500, "2.00", 40},
		{5000, "9.00", 400},
	}
	for g, grp := range groups {
		for i := range 3 {
			qty := grp.qty + int64(i)
			price := decimal.RequireFromString(grp.price)
			products = append(products, models.ProductFeatures{
				StockCode:         fmt.Sprintf("G%d-%d", g, i),
				Description:       fmt.Sprintf("product <%d-%d>", g, i),
				TotalQuantitySold: qty,
				AvgUnitPrice:      price,
				TransactionCount:  grp.count + i,
				TotalRevenue:      price.Mul(decimal.NewFromInt(qty)),
			})
		}
	}
	return products
}

func createTestAnalytics(t *testing.T) *services.Analytics {
	t.Helper()
	a := services.NewAnalytics(nil, quietLogger())
	if err := a.SetData(context.Background(), testProducts(), 3, "kmeans", 4); err != nil {
		t.Fatalf("SetData() failed: %v", err)
	}
	return a
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	return env
}

func TestNewAPIHandlers(t *testing.T) {
	analytics := createTestAnalytics(t)
	handlers := NewAPIHandlers(analytics, quietLogger())

	if handlers == nil {
		t.Fatal("NewAPIHandlers() returned nil")
	}
	if handlers.analytics != analytics {
		t.Error("NewAPIHandlers() should set analytics field")
	}
}

func TestAPIHandlers_HandleClusters(t *testing.T) {
	handlers := NewAPIHandlers(createTestAnalytics(t), quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/clusters", nil)
	w := httptest.NewRecorder()
	handlers.HandleClusters(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type 'application/json', got %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("expected cache-control 'public, max-age=300', got %q", cc)
	}

	env := decode(t, w)
	if !env.Success {
		t.Fatal("expected success=true in response")
	}
	var data struct {
		Method    string                  `json:"method"`
		Clusters  int                     `json:"clusters"`
		Summaries []models.ClusterSummary `json:"summaries"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	if data.Method != "kmeans" || data.Clusters != 3 {
		t.Errorf("unexpected run header: %+v", data)
	}
	if len(data.Summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(data.Summaries))
	}
	for _, s := range data.Summaries {
		if s.Size != 3 {
			t.Errorf("cluster %d: expected size 3, got %d", s.Cluster, s.Size)
		}
	}
}

func TestAPIHandlers_NotReady(t *testing.T) {
	handlers := NewAPIHandlers(services.NewAnalytics(nil, quietLogger()), quietLogger())

	for name, h := range map[string]http.HandlerFunc{
		"clusters": handlers.HandleClusters,
		"products": handlers.HandleProducts,
		"elbow":    handlers.HandleElbow,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest(http.MethodGet, "/api/"+name, nil))

			if w.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
			}
			env := decode(t, w)
			if env.Success || env.Error == nil || env.Error.Code != "SERVICE_UNAVAILABLE" {
				t.Errorf("unexpected error envelope: %+v", env)
			}
		})
	}
}

func TestAPIHandlers_HandleProducts(t *testing.T) {
	handlers := NewAPIHandlers(createTestAnalytics(t), quietLogger())

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCount  int
	}{
		{"all products", "", http.StatusOK, 9},
		{"one cluster", "?cluster=0", http.StatusOK, 3},
		{"limited", "?limit=2", http.StatusOK, 2},
		{"cluster and limit", "?cluster=1&limit=1", http.StatusOK, 1},
		{"bad cluster", "?cluster=abc", http.StatusBadRequest, 0},
		{"negative cluster", "?cluster=-1", http.StatusBadRequest, 0},
		{"unknown cluster", "?cluster=7", http.StatusNotFound, 0},
		{"zero limit", "?limit=0", http.StatusBadRequest, 0},
		{"huge limit", "?limit=100000", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handlers.HandleProducts(w, httptest.NewRequest(http.MethodGet, "/api/products"+tt.query, nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var products []models.ProductAssignment
			if err := json.Unmarshal(decode(t, w).Data, &products); err != nil {
				t.Fatalf("failed to decode products: %v", err)
			}
			if len(products) != tt.wantCount {
				t.Errorf("expected %d products, got %d", tt.wantCount, len(products))
			}
			for i := 1; i < len(products); i++ {
				if products[i].TotalRevenue.GreaterThan(products[i-1].TotalRevenue) {
					t.Errorf("products not sorted by revenue at %d", i)
				}
			}
		})
	}
}

func TestAPIHandlers_HandleElbow(t *testing.T) {
	handlers := NewAPIHandlers(createTestAnalytics(t), quietLogger())

	w := httptest.NewRecorder()
	handlers.HandleElbow(w, httptest.NewRequest(http.MethodGet, "/api/elbow", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var points []models.ElbowPoint
	if err := json.Unmarshal(decode(t, w).Data, &points); err != nil {
		t.Fatalf("failed to decode elbow: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("expected 4 elbow points, got %d", len(points))
	}
	for i, p := range points {
		if p.K != i+1 {
			t.Errorf("point %d: expected k=%d, got %d", i, i+1, p.K)
		}
	}
}

func TestAPIHandlers_HandleHealth(t *testing.T) {
	tests := []struct {
		name      string
		analytics *services.Analytics
		want      string
	}{
		{"loaded", createTestAnalytics(t), "healthy"},
		{"loading", services.NewAnalytics(nil, quietLogger()), "loading"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewAPIHandlers(tt.analytics, quietLogger()).HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
			}
			var data map[string]string
			if err := json.Unmarshal(decode(t, w).Data, &data); err != nil {
				t.Fatal(err)
			}
			if data["status"] != tt.want {
				t.Errorf("expected status %q, got %q", tt.want, data["status"])
			}
			if data["timestamp"] == "" || data["version"] == "" {
				t.Error("expected timestamp and version")
			}
		})
	}
}

func TestAPIHandlers_HandleStats(t *testing.T) {
	handlers := NewAPIHandlers(createTestAnalytics(t), quietLogger())

	w := httptest.NewRecorder()
	handlers.HandleStats(w, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var data map[string]any
	if err := json.Unmarshal(decode(t, w).Data, &data); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"loads", "run_id", "method", "clusters", "products"} {
		if _, ok := data[key]; !ok {
			t.Errorf("expected stats key %q", key)
		}
	}
	if data["products"] != float64(9) {
		t.Errorf("expected 9 products, got %v", data["products"])
	}
}

func BenchmarkAPIHandlers_HandleProducts(b *testing.B) {
	a := services.NewAnalytics(nil, quietLogger())
	if err := a.SetData(context.Background(), testProducts(), 3, "kmeans", 3); err != nil {
		b.Fatal(err)
	}
	handlers := NewAPIHandlers(a, quietLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/products?limit=5", nil)

	for b.Loop() {
		handlers.HandleProducts(httptest.NewRecorder(), req)
	}
}
