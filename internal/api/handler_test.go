//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/oracle-shell/internal/domain"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "bad input")

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error":"bad input"`) {
		t.Errorf("Unexpected body %s", w.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.ValidationError{Field: "mode", Reason: "unknown"}, http.StatusBadRequest},
		{fmt.Errorf("find: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("create: %w", domain.ErrUpstreamUnavailable), http.StatusBadGateway},
		{&domain.GenerationFailedError{Reason: "x"}, http.StatusBadGateway},
		{fmt.Errorf("wait: %w", domain.ErrGenerationTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("list: %w", domain.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{&domain.PartialRemixError{Remix: &domain.TruthShard{ID: "r"}, Err: domain.ErrStoreUnavailable}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestDecodeBodyRejectsOversizedBody(t *testing.T) {
	body := `{"message":"` + strings.Repeat("a", maxRequestBodySize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	w := httptest.NewRecorder()

	var v chatRequest
	err := decodeBody(w, req, &v)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestRemixResponse(t *testing.T) {
	got := RemixResponse("the stars align", "but why")
	want := `Remix of "the stars align" with prompt: but why`
	if got != want {
		t.Errorf("RemixResponse() = %q, want %q", got, want)
	}
}
