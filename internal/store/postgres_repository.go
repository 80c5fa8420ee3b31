/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL for the idempotency ledger, the guarded
 * intake transitions, the dead-letter table, and the side-effect retry queue.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - The ledger claim is a single upsert on event_id; the unique constraint
 *   guarantees exactly one winner per event across all service instances. A
 *   row whose errored_at is set can be re-claimed, so a delivery answered
 *   with a retryable status is reprocessed when the provider redelivers it.
 * - Intake transitions use conditional `UPDATE ... WHERE ... IN (...)`
 *   guards. Zero rows affected is reported to the caller as a guard miss,
 *   never as an error.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curaline/payments-service/internal/domain"
)

var (
	ErrIntakeNotFound     = errors.New("intake not found")
	ErrDeadLetterNotFound = errors.New("dead letter entry not found")
)

const uniqueViolationCode = "23505"

// 42P10 is "invalid column reference": raised when the ON CONFLICT target has
// no matching unique constraint, i.e. a degraded schema.
const invalidConflictTargetCode = "42P10"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool

	// logf is swappable for tests; defaults to log.Printf-compatible output.
	logf func(format string, args ...any)
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool, logf func(format string, args ...any)) *PostgresRepository {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &PostgresRepository{db: db, logf: logf}
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation. Callers use it to distinguish "lost an insert race" from real
// infrastructure failures.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func isInvalidConflictTarget(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidConflictTargetCode
}

// TryClaimEvent atomically records eventID in the processed_events ledger.
// Returns true if this call inserted the row (caller must process the event)
// or re-claimed a row whose previous attempt recorded an error; false if a
// clean row already existed (caller must skip). Re-claiming clears errored_at
// so concurrent redeliveries of the same event still see exactly one winner,
// and a delivery the processor answered with a retryable status stays
// processable when the provider redelivers it.
func (r *PostgresRepository) TryClaimEvent(ctx context.Context, eventID string, eventType domain.EventType, meta ClaimMetadata) (bool, error) {
	query := `
		INSERT INTO processed_events (event_id, event_type, intake_id, session_id, processed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (event_id) DO UPDATE
		SET processed_at = NOW(), errored_at = NULL
		WHERE processed_events.errored_at IS NOT NULL
	`
	result, err := r.db.Exec(ctx, query, eventID, string(eventType), meta.IntakeID, meta.SessionID)
	if err != nil {
		if isInvalidConflictTarget(err) {
			return r.tryClaimEventDegraded(ctx, eventID, eventType, meta)
		}
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return result.RowsAffected() == 1, nil
}

// tryClaimEventDegraded is the check-then-insert fallback used when the
// ledger's unique constraint is missing. A unique violation on the insert is
// still treated as "lost the race"; this path is weaker and logged as such.
func (r *PostgresRepository) tryClaimEventDegraded(ctx context.Context, eventID string, eventType domain.EventType, meta ClaimMetadata) (bool, error) {
	r.logf("level=warn component=store op=try_claim_event mode=degraded msg=\"ledger unique constraint missing; using check-then-insert\" event_id=%s", eventID)

	var erroredAt *time.Time
	err := r.db.QueryRow(ctx, "SELECT errored_at FROM processed_events WHERE event_id = $1", eventID).Scan(&erroredAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No row yet; fall through to the insert below.
	case err != nil:
		return false, fmt.Errorf("degraded claim check for %s: %w", eventID, err)
	case erroredAt == nil:
		// Clean row: the event was already handled.
		return false, nil
	default:
		// Errored row: re-claim it, guarding against a concurrent re-claim.
		result, err := r.db.Exec(ctx,
			"UPDATE processed_events SET processed_at = NOW(), errored_at = NULL WHERE event_id = $1 AND errored_at IS NOT NULL",
			eventID)
		if err != nil {
			return false, fmt.Errorf("degraded claim update for %s: %w", eventID, err)
		}
		return result.RowsAffected() == 1, nil
	}

	query := `
		INSERT INTO processed_events (event_id, event_type, intake_id, session_id, processed_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	if _, err := r.db.Exec(ctx, query, eventID, string(eventType), meta.IntakeID, meta.SessionID); err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("degraded claim insert for %s: %w", eventID, err)
	}
	return true, nil
}

// RecordEventError appends a diagnostic message to an existing ledger row.
// The row itself is never deleted or re-inserted; setting errored_at marks
// the row re-claimable by the next delivery of the same event.
func (r *PostgresRepository) RecordEventError(ctx context.Context, eventID string, message string) error {
	query := `
		UPDATE processed_events
		SET error_message = $2, errored_at = NOW()
		WHERE event_id = $1
	`
	result, err := r.db.Exec(ctx, query, eventID, message)
	if err != nil {
		return fmt.Errorf("record event error for %s: %w", eventID, err)
	}
	if result.RowsAffected() == 0 {
		r.logf("level=warn component=store op=record_event_error msg=\"no ledger row for event\" event_id=%s", eventID)
	}
	return nil
}

// FindIntakeByID retrieves an intake by its primary key.
func (r *PostgresRepository) FindIntakeByID(ctx context.Context, intakeID uuid.UUID) (*domain.Intake, error) {
	query := intakeSelectColumns + ` WHERE id = $1`
	return r.scanIntake(r.db.QueryRow(ctx, query, intakeID))
}

// FindIntakeByPaymentIntentID retrieves an intake by the Stripe payment
// intent attached when checkout completed. Used by refund reconciliation,
// which has no intake id in its payload.
func (r *PostgresRepository) FindIntakeByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Intake, error) {
	query := intakeSelectColumns + ` WHERE payment_intent_id = $1`
	return r.scanIntake(r.db.QueryRow(ctx, query, paymentIntentID))
}

const intakeSelectColumns = `
	SELECT id, patient_id, status, payment_status, stripe_session_id,
	       payment_intent_id, amount_cents, refund_amount_cents, paid_at,
	       created_at, updated_at
	FROM intakes`

func (r *PostgresRepository) scanIntake(row pgx.Row) (*domain.Intake, error) {
	var intake domain.Intake
	err := row.Scan(
		&intake.ID, &intake.PatientID, &intake.Status, &intake.PaymentStatus,
		&intake.StripeSessionID, &intake.PaymentIntentID, &intake.AmountCents,
		&intake.RefundAmountCents, &intake.PaidAt, &intake.CreatedAt, &intake.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrIntakeNotFound
		}
		return nil, err
	}
	return &intake, nil
}

// MarkIntakePaid performs the guarded paid transition. The guard admits
// unpaid and pending only; an expired-but-unpaid intake still satisfies it,
// so a customer who pays after session expiry is honored. Returns false when
// the guard did not match (typically a concurrent processor won the race).
func (r *PostgresRepository) MarkIntakePaid(ctx context.Context, intakeID uuid.UUID, sessionID, paymentIntentID string) (bool, error) {
	query := `
		UPDATE intakes
		SET payment_status = 'paid',
		    status = 'paid',
		    paid_at = NOW(),
		    stripe_session_id = COALESCE(NULLIF($2, ''), stripe_session_id),
		    payment_intent_id = COALESCE(NULLIF($3, ''), payment_intent_id),
		    updated_at = NOW()
		WHERE id = $1 AND payment_status IN ('unpaid', 'pending')
	`
	result, err := r.db.Exec(ctx, query, intakeID, sessionID, paymentIntentID)
	if err != nil {
		return false, fmt.Errorf("mark intake %s paid: %w", intakeID, err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkIntakeExpired performs the guarded expiry transition. Only an intake
// still awaiting payment expires; anything that already progressed is left
// untouched and reported as a guard miss.
func (r *PostgresRepository) MarkIntakeExpired(ctx context.Context, intakeID uuid.UUID) (bool, error) {
	query := `
		UPDATE intakes
		SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'pending_payment'
	`
	result, err := r.db.Exec(ctx, query, intakeID)
	if err != nil {
		return false, fmt.Errorf("mark intake %s expired: %w", intakeID, err)
	}
	return result.RowsAffected() == 1, nil
}

// RecordIntakeRefund stores the provider-reported refund amount and the
// resulting payment status. Redelivery with the same amount writes the same
// values, so the operation is naturally idempotent and needs no guard.
func (r *PostgresRepository) RecordIntakeRefund(ctx context.Context, intakeID uuid.UUID, paymentStatus string, refundAmountCents int64) error {
	query := `
		UPDATE intakes
		SET payment_status = $2, refund_amount_cents = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, intakeID, paymentStatus, refundAmountCents)
	if err != nil {
		return fmt.Errorf("record refund for intake %s: %w", intakeID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrIntakeNotFound
	}
	return nil
}

// MarkIntakePaymentFailed sets payment_status=failed. No guard: a later
// successful attempt with a new checkout session may supersede this.
func (r *PostgresRepository) MarkIntakePaymentFailed(ctx context.Context, intakeID uuid.UUID) error {
	query := `
		UPDATE intakes
		SET payment_status = 'failed', updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, intakeID)
	if err != nil {
		return fmt.Errorf("mark intake %s payment failed: %w", intakeID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrIntakeNotFound
	}
	return nil
}

// CountDeadLetterEntries returns how many dead-letter rows exist for an
// event. This derived count is the bounded-retry counter; the rows themselves
// are the audit trail.
func (r *PostgresRepository) CountDeadLetterEntries(ctx context.Context, eventID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM dead_letter_events WHERE event_id = $1", eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count dead letters for %s: %w", eventID, err)
	}
	return count, nil
}

// InsertDeadLetterEntry records one failed reconciliation attempt.
func (r *PostgresRepository) InsertDeadLetterEntry(ctx context.Context, entry *domain.DeadLetterEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	query := `
		INSERT INTO dead_letter_events (id, event_id, event_type, intake_id, error_code, error_message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		entry.ID, entry.EventID, string(entry.EventType), entry.IntakeID,
		entry.ErrorCode, entry.ErrorMessage, entry.Payload,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter for %s: %w", entry.EventID, err)
	}
	return nil
}

// ListDeadLetterEntries returns dead-letter rows for the ops API, newest first.
func (r *PostgresRepository) ListDeadLetterEntries(ctx context.Context, opts DeadLetterListOptions) ([]domain.DeadLetterEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, event_id, event_type, intake_id, error_code, error_message,
		       resolved, resolved_by, resolved_at, created_at
		FROM dead_letter_events
	`
	if opts.UnresolvedOnly {
		query += ` WHERE resolved = false`
	}
	query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.DeadLetterEntry
	for rows.Next() {
		var entry domain.DeadLetterEntry
		var eventType string
		err := rows.Scan(
			&entry.ID, &entry.EventID, &eventType, &entry.IntakeID,
			&entry.ErrorCode, &entry.ErrorMessage, &entry.Resolved,
			&entry.ResolvedBy, &entry.ResolvedAt, &entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entry.EventType = domain.EventType(eventType)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ResolveDeadLetterEntry marks one entry handled by an operator. Returns
// false if the entry was already resolved (or does not exist), so concurrent
// operators cannot both claim the resolution.
func (r *PostgresRepository) ResolveDeadLetterEntry(ctx context.Context, entryID uuid.UUID, resolvedBy string) (bool, error) {
	query := `
		UPDATE dead_letter_events
		SET resolved = true, resolved_by = $2, resolved_at = NOW()
		WHERE id = $1 AND resolved = false
	`
	result, err := r.db.Exec(ctx, query, entryID, resolvedBy)
	if err != nil {
		return false, fmt.Errorf("resolve dead letter %s: %w", entryID, err)
	}
	return result.RowsAffected() == 1, nil
}

// UpsertRetryQueueItem records deferred side-effect work for an intake. The
// first failure inserts the row; repeats bump attempts and push the retry out.
func (r *PostgresRepository) UpsertRetryQueueItem(ctx context.Context, intakeID uuid.UUID, lastError string, nextRetryAt time.Time) error {
	query := `
		INSERT INTO side_effect_retry_queue (intake_id, attempts, last_error, next_retry_at, created_at, updated_at)
		VALUES ($1, 1, $2, $3, NOW(), NOW())
		ON CONFLICT (intake_id) DO UPDATE SET
			attempts = side_effect_retry_queue.attempts + 1,
			last_error = EXCLUDED.last_error,
			next_retry_at = EXCLUDED.next_retry_at,
			updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, intakeID, lastError, nextRetryAt); err != nil {
		return fmt.Errorf("upsert retry item for intake %s: %w", intakeID, err)
	}
	return nil
}

// ListDueRetryQueueItems returns items whose next_retry_at has passed,
// oldest first, for the out-of-band worker.
func (r *PostgresRepository) ListDueRetryQueueItems(ctx context.Context, now time.Time, limit int) ([]domain.RetryQueueItem, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT intake_id, attempts, last_error, next_retry_at, created_at, updated_at
		FROM side_effect_retry_queue
		WHERE next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.RetryQueueItem
	for rows.Next() {
		var item domain.RetryQueueItem
		err := rows.Scan(&item.IntakeID, &item.Attempts, &item.LastError, &item.NextRetryAt, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteRetryQueueItem removes an item after the deferred work finally succeeds.
func (r *PostgresRepository) DeleteRetryQueueItem(ctx context.Context, intakeID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM side_effect_retry_queue WHERE intake_id = $1", intakeID); err != nil {
		return fmt.Errorf("delete retry item for intake %s: %w", intakeID, err)
	}
	return nil
}
