package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		err  *AppError
		want int
	}{
		{Input("x"), http.StatusBadRequest},
		{Validation("x"), http.StatusBadRequest},
		{BadRequest("x"), http.StatusBadRequest},
		{NotFound("x"), http.StatusNotFound},
		{RateLimit("x"), http.StatusTooManyRequests},
		{ServiceUnavailable("x"), http.StatusServiceUnavailable},
		{Internal("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			if tt.err.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, tt.err.StatusCode)
			}
		})
	}
}

func TestWrapAndCodeOf(t *testing.T) {
	cause := fmt.Errorf("open data.csv: no such file")
	err := InputWrap(cause, "cannot read input")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should unwrap to its cause")
	}
	if got := CodeOf(fmt.Errorf("load: %w", err)); got != CodeInput {
		t.Errorf("expected %s through fmt wrapping, got %s", CodeInput, got)
	}
	if got := CodeOf(cause); got != CodeInternal {
		t.Errorf("plain errors should map to %s, got %s", CodeInternal, got)
	}
	if err.Error() != "INPUT_ERROR: cannot read input (caused by: open data.csv: no such file)" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestWithDetails(t *testing.T) {
	err := Validation("malformed row").WithDetails("line 12")
	if err.Details != "line 12" {
		t.Errorf("expected details, got %q", err.Details)
	}
	if err.Code != CodeValidation {
		t.Errorf("WithDetails should keep the code, got %s", err.Code)
	}
}

func TestWriteError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   ErrorCode
	}{
		{"app error", NotFound("cluster 9 does not exist"), http.StatusNotFound, CodeNotFound},
		{"wrapped app error", fmt.Errorf("handler: %w", BadRequest("bad limit")), http.StatusBadRequest, CodeBadRequest},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, logger, tt.err, "req-1")

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			var resp struct {
				Success bool `json:"success"`
				Error   struct {
					Code      ErrorCode `json:"code"`
					RequestID string    `json:"request_id"`
				} `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if resp.Success {
				t.Error("expected success=false")
			}
			if resp.Error.Code != tt.wantCode || resp.Error.RequestID != "req-1" {
				t.Errorf("unexpected envelope: %+v", resp)
			}
		})
	}
}

func TestWriteSuccessWithHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessWithHeaders(w, map[string]int{"k": 3}, map[string]string{"Cache-Control": "no-store"})

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected custom header")
	}
	if w.Body.String() != "{\"data\":{\"k\":3},\"success\":true}\n" {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}
