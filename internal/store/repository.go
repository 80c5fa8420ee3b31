/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access the reconciliation engine needs. Defining an interface
 * decouples the processing logic from PostgreSQL and lets tests substitute
 * hand-rolled stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For intake and dead-letter identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/curaline/payments-service/internal/domain"
)

// ClaimMetadata carries the optional context stored alongside a ledger claim.
type ClaimMetadata struct {
	IntakeID  *string
	SessionID *string
}

// DeadLetterListOptions controls the ops listing of dead-letter entries.
type DeadLetterListOptions struct {
	UnresolvedOnly bool
	Limit          int
	Offset         int
}

// Repository defines the set of methods for interacting with the database.
// All mutual exclusion lives here: unique constraints and conditional
// UPDATEs, never application-level locks.
type Repository interface {
	// Idempotency ledger methods.
	// TryClaimEvent returns true for the first caller to record eventID, and
	// again for a redelivery of an event whose previous attempt ended in
	// RecordEventError. A clean existing row means the event was handled and
	// the caller must skip it.
	TryClaimEvent(ctx context.Context, eventID string, eventType domain.EventType, meta ClaimMetadata) (bool, error)
	RecordEventError(ctx context.Context, eventID string, message string) error

	// Intake methods. Updates are guarded conditional writes; a false return
	// means the guard did not match (a concurrent processor already moved the
	// row on), not an infrastructure failure.
	FindIntakeByID(ctx context.Context, intakeID uuid.UUID) (*domain.Intake, error)
	FindIntakeByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Intake, error)
	MarkIntakePaid(ctx context.Context, intakeID uuid.UUID, sessionID, paymentIntentID string) (bool, error)
	MarkIntakeExpired(ctx context.Context, intakeID uuid.UUID) (bool, error)
	RecordIntakeRefund(ctx context.Context, intakeID uuid.UUID, paymentStatus string, refundAmountCents int64) error
	MarkIntakePaymentFailed(ctx context.Context, intakeID uuid.UUID) error

	// Dead-letter methods. One row per attempt; the count is the retry count.
	CountDeadLetterEntries(ctx context.Context, eventID string) (int, error)
	InsertDeadLetterEntry(ctx context.Context, entry *domain.DeadLetterEntry) error
	ListDeadLetterEntries(ctx context.Context, opts DeadLetterListOptions) ([]domain.DeadLetterEntry, error)
	ResolveDeadLetterEntry(ctx context.Context, entryID uuid.UUID, resolvedBy string) (bool, error)

	// Side-effect retry queue methods.
	UpsertRetryQueueItem(ctx context.Context, intakeID uuid.UUID, lastError string, nextRetryAt time.Time) error
	ListDueRetryQueueItems(ctx context.Context, now time.Time, limit int) ([]domain.RetryQueueItem, error)
	DeleteRetryQueueItem(ctx context.Context, intakeID uuid.UUID) error
}
