// Package api provides HTTP handlers for the digest service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/psalt21/signal-scout/internal/feedback"
	"github.com/psalt21/signal-scout/internal/middleware"
	"github.com/psalt21/signal-scout/internal/store"
	"github.com/psalt21/signal-scout/internal/validate"
)

// MaxDigestLimit caps the number of items a single digest request can ask for.
const MaxDigestLimit = 100

// MaxAPIKeyLength bounds the stored LLM credential.
const MaxAPIKeyLength = 256

// VoteRecorder records a user's feedback vote for an item.
type VoteRecorder interface {
	RecordVote(ctx context.Context, itemID int64, vote int) error
}

// Rescorer recomputes ranks after weights change.
type Rescorer interface {
	RecomputeAll(ctx context.Context) error
}

// Refresher exposes the refresh pipeline to the API.
type Refresher interface {
	Refresh(ctx context.Context) bool
	Refreshing() bool
	Status() (string, time.Time)
}

// FeedbackRequest represents the request body for recording a vote.
type FeedbackRequest struct {
	ItemID int64 `json:"item_id"`
	Vote   int   `json:"vote"`
}

// SetKeyRequest represents the request body for storing the LLM credential.
type SetKeyRequest struct {
	APIKey string `json:"api_key"`
}

// DigestResponse represents the ranked digest returned to clients.
type DigestResponse struct {
	Items  []store.Item `json:"items"`
	Status string       `json:"status"`
}

// StatusResponse represents the refresh status of the service.
type StatusResponse struct {
	Status      string `json:"status"`
	Refreshing  bool   `json:"refreshing"`
	LastRefresh string `json:"last_refresh,omitempty"`
	ItemCount   int    `json:"item_count"`
}

// DigestHandlers holds dependencies for the digest HTTP handlers.
type DigestHandlers struct {
	store       store.Store
	votes       VoteRecorder
	rescorer    Rescorer
	refresher   Refresher
	digestLimit int

	// rankMu serializes the vote+rescore unit against ranked reads.
	// A digest response sees either all pre-vote or all post-vote
	// ranks, never a mix of the two.
	rankMu sync.RWMutex
}

// NewDigestHandlers creates a new DigestHandlers instance. digestLimit
// is the default number of items returned when the request does not
// specify one.
func NewDigestHandlers(st store.Store, votes VoteRecorder, rescorer Rescorer, refresher Refresher, digestLimit int) *DigestHandlers {
	return &DigestHandlers{
		store:       st,
		votes:       votes,
		rescorer:    rescorer,
		refresher:   refresher,
		digestLimit: digestLimit,
	}
}

// Digest handles GET /api/digest - returns the top-ranked items.
// An optional ?limit= query parameter overrides the default, capped at
// MaxDigestLimit.
func (h *DigestHandlers) Digest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	limit := h.digestLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > MaxDigestLimit {
		limit = MaxDigestLimit
	}

	h.rankMu.RLock()
	items, err := h.store.RankedItems(r.Context(), limit)
	h.rankMu.RUnlock()
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load ranked items", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load digest")
		return
	}

	status, _ := h.refresher.Status()
	response := DigestResponse{
		Items:  items,
		Status: status,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// Feedback handles POST /api/feedback - records a ±1 vote and rescores
// ranks before responding, so the next digest read reflects the vote.
func (h *DigestHandlers) Feedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	h.rankMu.Lock()
	if err := h.votes.RecordVote(r.Context(), req.ItemID, req.Vote); err != nil {
		h.rankMu.Unlock()
		switch {
		case errors.Is(err, feedback.ErrInvalidVote):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidVote)
			WriteError(w, ctx, StatusCodeMapping(ErrCodeInvalidVote), ErrCodeInvalidVote, "Vote must be +1 or -1")
		case errors.Is(err, store.ErrItemNotFound):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, StatusCodeMapping(ErrCodeNotFound), ErrCodeNotFound, "Item not found")
		default:
			slog.ErrorContext(r.Context(), "failed to record vote", "error", err, "item_id", req.ItemID)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, StatusCodeMapping(ErrCodeInternal), ErrCodeInternal, "Failed to record vote")
		}
		return
	}

	// Detached from the request context: once the vote is in, the
	// recompute runs to completion even if the client disconnects,
	// so the stored rank set is never left half-updated.
	err := h.rescorer.RecomputeAll(context.WithoutCancel(r.Context()))
	h.rankMu.Unlock()
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to rescore after vote", "error", err, "item_id", req.ItemID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, StatusCodeMapping(ErrCodeInternal), ErrCodeInternal, "Vote recorded but rescoring failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "recorded", "item_id": req.ItemID}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// TriggerRefresh handles POST /api/refresh - starts a refresh cycle in
// the background. A trigger that arrives while a cycle is running is
// dropped; the response reports which of the two happened.
func (h *DigestHandlers) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	started := !h.refresher.Refreshing()
	if started {
		// Detached from the request context: the cycle outlives the
		// HTTP request.
		go h.refresher.Refresh(context.Background())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]any{"started": started}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// Status handles GET /api/status - reports the last refresh outcome.
func (h *DigestHandlers) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	count, err := h.store.ItemCount(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to count items", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load status")
		return
	}

	status, last := h.refresher.Status()
	response := StatusResponse{
		Status:     status,
		Refreshing: h.refresher.Refreshing(),
		ItemCount:  count,
	}
	if !last.IsZero() {
		response.LastRefresh = last.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// SetLLMKey handles PUT /api/settings/llm-key - stores the LLM
// credential in settings. An empty (or whitespace-only) key clears the
// stored credential. The response never includes the key; an
// LLM_API_KEY environment variable still takes precedence at refresh
// time.
func (h *DigestHandlers) SetLLMKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req SetKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	key := strings.TrimSpace(req.APIKey)
	outcome := "saved"
	if key == "" {
		outcome = "cleared"
	} else if _, err := validate.NonEmptyString(key, MaxAPIKeyLength); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "api_key must be at most 256 characters")
		return
	}

	if err := h.store.SetSetting(r.Context(), store.SettingLLMAPIKey, key); err != nil {
		slog.ErrorContext(r.Context(), "failed to store credential", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to store key")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": outcome}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
