/**
 * @description
 * This file contains the HTTP handlers for the operator (admin) endpoints:
 * browsing dead-letter entries, resolving them, and inspecting the
 * side-effect retry queue. The dead-letter table requires manual resolution
 * by design, so operators need this surface.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/store: Repository interface and list options.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/curaline/payments-service/internal/store"
)

// AdminHandlers holds the repository the operator endpoints read from.
type AdminHandlers struct {
	repo store.Repository
}

// NewAdminHandlers creates the handlers for the operator endpoints.
func NewAdminHandlers(repo store.Repository) *AdminHandlers {
	return &AdminHandlers{repo: repo}
}

// ListDeadLettersHandler returns dead-letter entries, newest first.
// Query params: unresolved=true, limit, offset.
func (h *AdminHandlers) ListDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	opts := store.DeadLetterListOptions{
		UnresolvedOnly: strings.EqualFold(r.URL.Query().Get("unresolved"), "true"),
		Limit:          limit,
		Offset:         offset,
	}

	entries, err := h.repo.ListDeadLetterEntries(r.Context(), opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_dead_letters outcome=failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
}

type resolveDeadLetterRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// ResolveDeadLetterHandler marks one dead-letter entry as manually handled.
func (h *AdminHandlers) ResolveDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry ID")
		return
	}

	var req resolveDeadLetterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resolvedBy := strings.TrimSpace(req.ResolvedBy)
	if resolvedBy == "" {
		if operator, ok := GetOperatorID(r.Context()); ok {
			resolvedBy = operator
		}
	}
	if resolvedBy == "" {
		writeError(w, http.StatusBadRequest, "resolved_by is required")
		return
	}

	resolved, err := h.repo.ResolveDeadLetterEntry(r.Context(), entryID, resolvedBy)
	if err != nil {
		log.Printf("level=error component=api endpoint=resolve_dead_letter outcome=failed entry_id=%s err=%v", entryID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !resolved {
		writeError(w, http.StatusConflict, "Entry not found or already resolved")
		return
	}

	log.Printf("level=info component=api endpoint=resolve_dead_letter outcome=resolved entry_id=%s resolved_by=%s", entryID, resolvedBy)
	writeJSON(w, http.StatusOK, map[string]interface{}{"resolved": true})
}

// ListRetryQueueHandler returns currently due side-effect retry items.
func (h *AdminHandlers) ListRetryQueueHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	items, err := h.repo.ListDueRetryQueueItems(r.Context(), time.Now(), limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_retry_queue outcome=failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "count": len(items)})
}

func parseOptionalInt(raw string, fallback int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 0 {
		return 0, strconv.ErrSyntax
	}
	return value, nil
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
