package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/curaline/payments-service/internal/domain"
	"github.com/curaline/payments-service/internal/store"
)

type escalatorRepoStub struct {
	store.Repository

	count    int
	countErr error

	inserted  []domain.DeadLetterEntry
	insertErr error
}

func (s *escalatorRepoStub) CountDeadLetterEntries(ctx context.Context, eventID string) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.count, nil
}

func (s *escalatorRepoStub) InsertDeadLetterEntry(ctx context.Context, entry *domain.DeadLetterEntry) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, *entry)
	return nil
}

func (s *escalatorRepoStub) UpsertRetryQueueItem(ctx context.Context, intakeID uuid.UUID, lastError string, nextRetryAt time.Time) error {
	return nil
}

func escalationNotification() *domain.Notification {
	return &domain.Notification{
		EventID:    "evt_escalate",
		EventType:  domain.EventCheckoutCompleted,
		StripeType: "checkout.session.completed",
		RawPayload: []byte(`{"id":"evt_escalate"}`),
	}
}

func TestEscalate_BelowThresholdRequestsRedelivery(t *testing.T) {
	repo := &escalatorRepoStub{count: 2}
	alerts := &alertStub{}
	e := NewEscalator(repo, alerts, 3)

	decision := e.Escalate(context.Background(), escalationNotification(), nil, domain.DeadLetterIntakeNotFound, "intake missing")

	if !decision.Retry {
		t.Fatal("expected redelivery below threshold")
	}
	if decision.DeadLettered {
		t.Fatal("below threshold must not mark the event dead-lettered")
	}
	if decision.AttemptCount != 2 {
		t.Fatalf("expected attempt count 2, got %d", decision.AttemptCount)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("every escalation writes an audit row, got %d", len(repo.inserted))
	}
	if len(alerts.calls) != 1 {
		t.Fatalf("every escalation alerts, got %d", len(alerts.calls))
	}
}

func TestEscalate_AtThresholdStopsRedelivery(t *testing.T) {
	repo := &escalatorRepoStub{count: 3}
	e := NewEscalator(repo, &alertStub{}, 3)

	decision := e.Escalate(context.Background(), escalationNotification(), nil, domain.DeadLetterIntakeNotFound, "intake missing")

	if decision.Retry {
		t.Fatal("expected redelivery to stop at threshold")
	}
	if !decision.DeadLettered {
		t.Fatal("expected dead-lettered decision at threshold")
	}
}

func TestEscalate_CountFailureStopsRedelivery(t *testing.T) {
	repo := &escalatorRepoStub{countErr: errors.New("connection reset")}
	e := NewEscalator(repo, &alertStub{}, 3)

	decision := e.Escalate(context.Background(), escalationNotification(), nil, domain.DeadLetterIntakeNotFound, "intake missing")

	if decision.Retry {
		t.Fatal("an unbounded retry count cannot be allowed; expected redelivery to stop")
	}
}

func TestEscalateTerminal_AlwaysStopsRedelivery(t *testing.T) {
	repo := &escalatorRepoStub{count: 0}
	e := NewEscalator(repo, &alertStub{}, 3)

	decision := e.EscalateTerminal(context.Background(), escalationNotification(), nil, domain.DeadLetterUnexpected, "no intake reference")

	if decision.Retry {
		t.Fatal("terminal escalations never request redelivery")
	}
	if !decision.DeadLettered {
		t.Fatal("terminal escalations are dead-lettered")
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected one dead-letter row, got %d", len(repo.inserted))
	}
}

func TestEscalate_RecordsEntryFields(t *testing.T) {
	repo := &escalatorRepoStub{count: 0}
	e := NewEscalator(repo, &alertStub{}, 3)

	intakeID := uuid.NewString()
	e.Escalate(context.Background(), escalationNotification(), &intakeID, domain.DeadLetterUpdateFailed, "guard rejected update")

	entry := repo.inserted[0]
	if entry.EventID != "evt_escalate" {
		t.Fatalf("expected event id on the entry, got %q", entry.EventID)
	}
	if entry.ErrorCode != domain.DeadLetterUpdateFailed {
		t.Fatalf("expected UPDATE_FAILED, got %q", entry.ErrorCode)
	}
	if entry.IntakeID == nil || *entry.IntakeID != intakeID {
		t.Fatalf("expected intake id %q on the entry, got %v", intakeID, entry.IntakeID)
	}
	if len(entry.Payload) == 0 {
		t.Fatal("expected the raw payload to be preserved for replay")
	}
}

func TestEscalate_AlertFailureDoesNotChangeDecision(t *testing.T) {
	repo := &escalatorRepoStub{count: 0}
	e := NewEscalator(repo, failingAlertStub{}, 3)

	decision := e.Escalate(context.Background(), escalationNotification(), nil, domain.DeadLetterIntakeNotFound, "intake missing")

	if !decision.Retry {
		t.Fatal("alert delivery is best-effort; the decision must stand")
	}
}

type failingAlertStub struct{}

func (failingAlertStub) Alert(ctx context.Context, severity string, tags map[string]string, alertContext map[string]interface{}) error {
	return errors.New("webhook 500")
}
