package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeInvalidVote, http.StatusBadRequest},
		{ErrCodeBadRequest, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeInternal, http.StatusInternalServerError},
		{"something_unknown", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := StatusCodeMapping(tt.code); got != tt.want {
				t.Errorf("StatusCodeMapping(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestWriteError_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/digest", nil)

	WriteError(rr, req.Context(), StatusCodeMapping(ErrCodeNotFound), ErrCodeNotFound, "Item not found")

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if resp.Error.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeNotFound)
	}
	if resp.Error.Message != "Item not found" {
		t.Errorf("message = %q, want %q", resp.Error.Message, "Item not found")
	}
}
