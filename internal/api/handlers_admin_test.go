package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/curaline/payments-service/internal/domain"
	"github.com/curaline/payments-service/internal/store"
)

type adminRepoStub struct {
	store.Repository

	entries  []domain.DeadLetterEntry
	gotOpts  store.DeadLetterListOptions
	resolved bool

	resolveCalled bool
	resolvedBy    string

	retryItems []domain.RetryQueueItem
}

func (s *adminRepoStub) ListDeadLetterEntries(ctx context.Context, opts store.DeadLetterListOptions) ([]domain.DeadLetterEntry, error) {
	s.gotOpts = opts
	return s.entries, nil
}

func (s *adminRepoStub) ResolveDeadLetterEntry(ctx context.Context, entryID uuid.UUID, resolvedBy string) (bool, error) {
	s.resolveCalled = true
	s.resolvedBy = resolvedBy
	return s.resolved, nil
}

func (s *adminRepoStub) ListDueRetryQueueItems(ctx context.Context, now time.Time, limit int) ([]domain.RetryQueueItem, error) {
	return s.retryItems, nil
}

func newAdminRouter(h *AdminHandlers) chi.Router {
	r := chi.NewRouter()
	r.Get("/dead-letters", h.ListDeadLettersHandler)
	r.Post("/dead-letters/{entryID}/resolve", h.ResolveDeadLetterHandler)
	r.Get("/retry-queue", h.ListRetryQueueHandler)
	return r
}

func TestListDeadLetters_ParsesQueryOptions(t *testing.T) {
	repo := &adminRepoStub{entries: []domain.DeadLetterEntry{{EventID: "evt_1"}}}
	router := newAdminRouter(NewAdminHandlers(repo))

	req := httptest.NewRequest(http.MethodGet, "/dead-letters?unresolved=true&limit=10&offset=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !repo.gotOpts.UnresolvedOnly {
		t.Fatal("expected unresolved filter to be applied")
	}
	if repo.gotOpts.Limit != 10 || repo.gotOpts.Offset != 5 {
		t.Fatalf("expected limit=10 offset=5, got %+v", repo.gotOpts)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %v", err)
	}
	if body["count"] != float64(1) {
		t.Fatalf("expected count 1, got %v", body["count"])
	}
}

func TestListDeadLetters_RejectsInvalidLimit(t *testing.T) {
	router := newAdminRouter(NewAdminHandlers(&adminRepoStub{}))

	req := httptest.NewRequest(http.MethodGet, "/dead-letters?limit=-3", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestResolveDeadLetter_UsesBodyResolvedBy(t *testing.T) {
	repo := &adminRepoStub{resolved: true}
	router := newAdminRouter(NewAdminHandlers(repo))

	target := "/dead-letters/" + uuid.NewString() + "/resolve"
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(`{"resolved_by":"ops@curaline.health"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if repo.resolvedBy != "ops@curaline.health" {
		t.Fatalf("expected resolved_by from body, got %q", repo.resolvedBy)
	}
}

func TestResolveDeadLetter_FallsBackToAuthenticatedOperator(t *testing.T) {
	repo := &adminRepoStub{resolved: true}
	router := newAdminRouter(NewAdminHandlers(repo))

	target := "/dead-letters/" + uuid.NewString() + "/resolve"
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(`{}`))
	req = req.WithContext(context.WithValue(req.Context(), operatorIDKey, "op_7f2"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if repo.resolvedBy != "op_7f2" {
		t.Fatalf("expected operator id fallback, got %q", repo.resolvedBy)
	}
}

func TestResolveDeadLetter_AlreadyResolvedIsConflict(t *testing.T) {
	repo := &adminRepoStub{resolved: false}
	router := newAdminRouter(NewAdminHandlers(repo))

	target := "/dead-letters/" + uuid.NewString() + "/resolve"
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(`{"resolved_by":"ops"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for already-resolved entry, got %d", rec.Code)
	}
}

func TestResolveDeadLetter_RejectsBadEntryID(t *testing.T) {
	repo := &adminRepoStub{}
	router := newAdminRouter(NewAdminHandlers(repo))

	req := httptest.NewRequest(http.MethodPost, "/dead-letters/not-a-uuid/resolve", strings.NewReader(`{"resolved_by":"ops"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed entry id, got %d", rec.Code)
	}
	if repo.resolveCalled {
		t.Fatal("malformed ids must not reach the repository")
	}
}

func TestListRetryQueue_ReturnsItems(t *testing.T) {
	repo := &adminRepoStub{retryItems: []domain.RetryQueueItem{{IntakeID: uuid.New(), Attempts: 2}}}
	router := newAdminRouter(NewAdminHandlers(repo))

	req := httptest.NewRequest(http.MethodGet, "/retry-queue", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %v", err)
	}
	if body["count"] != float64(1) {
		t.Fatalf("expected count 1, got %v", body["count"])
	}
}
