package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"retail-segments/internal/services"
)

func TestNewSSEHandlers(t *testing.T) {
	analytics := createTestAnalytics(t)
	logger := quietLogger()

	handlers := NewSSEHandlers(analytics, logger)

	if handlers == nil {
		t.Fatal("NewSSEHandlers() returned nil")
	}
	if handlers.analytics != analytics {
		t.Error("NewSSEHandlers() should set analytics field")
	}
	if handlers.logger != logger {
		t.Error("NewSSEHandlers() should set logger field")
	}
}

func TestSSEHandlers_Streams(t *testing.T) {
	handlers := NewSSEHandlers(createTestAnalytics(t), quietLogger())

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    []string
	}{
		{"clusters", handlers.HandleClusters, []string{"cluster-content", "<table", "kmeans"}},
		{"products", handlers.HandleProducts, []string{"products-content", "G2-2", "&lt;2-2&gt;"}},
		{"refresh-all", handlers.HandleRefreshAll, []string{"cluster-content", "products-content", "clustersData", "elbowData"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(http.MethodGet, "/sse/"+tt.name, nil))

			if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
				t.Errorf("expected content-type to contain 'text/event-stream', got %q", ct)
			}
			body := w.Body.String()
			if !strings.Contains(body, "event:") || !strings.Contains(body, "data:") {
				t.Error("expected SSE framing in body")
			}
			for _, s := range tt.want {
				if !strings.Contains(body, s) {
					t.Errorf("expected body to contain %q", s)
				}
			}
		})
	}
}

func TestSSEHandlers_EmptyState(t *testing.T) {
	handlers := NewSSEHandlers(services.NewAnalytics(nil, quietLogger()), quietLogger())

	w := httptest.NewRecorder()
	handlers.HandleClusters(w, httptest.NewRequest(http.MethodGet, "/sse/clusters", nil))

	if !strings.Contains(w.Body.String(), "No segmentation loaded yet") {
		t.Errorf("expected placeholder, got %s", w.Body.String())
	}
}
