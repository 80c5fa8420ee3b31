/**
 * @description
 * This file defines the bookkeeping models the reconciliation engine owns:
 * the idempotency ledger entry, the dead-letter entry, and the side-effect
 * retry queue item.
 *
 * @notes
 * - ProcessedEventRecord rows are never deleted; the unique event_id
 *   constraint is what makes duplicate webhook delivery safe. A set ErroredAt
 *   marks the row re-claimable so redeliveries of a failed event are
 *   reprocessed instead of skipped.
 * - DeadLetterEntry rows are one-per-attempt on purpose: the retry count is
 *   derived by counting rows for an event_id, and the rows double as the
 *   audit trail for operator resolution.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedEventRecord is the idempotency ledger entry for one webhook event.
type ProcessedEventRecord struct {
	EventID      string     `json:"event_id"`
	EventType    EventType  `json:"event_type"`
	IntakeID     *string    `json:"intake_id,omitempty"`
	SessionID    *string    `json:"session_id,omitempty"`
	ProcessedAt  time.Time  `json:"processed_at"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	ErroredAt    *time.Time `json:"errored_at,omitempty"`
}

// Dead-letter error codes.
const (
	DeadLetterIntakeNotFound = "INTAKE_NOT_FOUND"
	DeadLetterUpdateFailed   = "UPDATE_FAILED"
	DeadLetterUnexpected     = "UNEXPECTED_ERROR"
)

// DeadLetterEntry is one failed reconciliation attempt for a webhook event.
type DeadLetterEntry struct {
	ID           uuid.UUID  `json:"id"`
	EventID      string     `json:"event_id"`
	EventType    EventType  `json:"event_type"`
	IntakeID     *string    `json:"intake_id,omitempty"`
	ErrorCode    string     `json:"error_code"`
	ErrorMessage string     `json:"error_message"`
	Payload      []byte     `json:"payload,omitempty"`
	Resolved     bool       `json:"resolved"`
	ResolvedBy   *string    `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RetryQueueItem is deferred side-effect work (clinical draft generation)
// that failed or timed out on the primary path. One row per intake; repeat
// failures bump attempts and push next_retry_at out.
type RetryQueueItem struct {
	IntakeID    uuid.UUID `json:"intake_id"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
	NextRetryAt time.Time `json:"next_retry_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PaymentEvent is the message published to the notification pipeline after a
// successful payment-state transition.
type PaymentEvent struct {
	IntakeID  uuid.UUID  `json:"intake_id"`
	PatientID *uuid.UUID `json:"patient_id,omitempty"`
	EventType EventType  `json:"event_type"`
	Amount    int64      `json:"amount"`
	Timestamp time.Time  `json:"timestamp"`
}
