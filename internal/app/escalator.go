/**
 * @description
 * This file implements the dead-letter escalator. Events that cannot be
 * reconciled (referenced intake missing, guard failures that re-reads cannot
 * explain) are written to the dead-letter table and alerted to operators.
 * Retryable conditions get a bounded number of provider redeliveries before
 * the escalator instructs the caller to acknowledge and stop the storm.
 *
 * @notes
 * - The retry count is derived by counting prior dead-letter rows for the
 *   event, not kept as a stored counter. The rows are also the audit trail.
 * - The database write is the load-bearing part of an escalation; alerting
 *   failure is logged and otherwise ignored.
 */

package app

import (
	"context"
	"log"

	"github.com/curaline/payments-service/internal/domain"
	"github.com/curaline/payments-service/internal/store"
)

// AlertNotifier raises operator-visible alerts. Implementations must be safe
// to call from the webhook path: bounded latency, failures returned not paged.
type AlertNotifier interface {
	Alert(ctx context.Context, severity string, tags map[string]string, context map[string]interface{}) error
}

// EscalationDecision tells the caller how to answer the payment provider.
type EscalationDecision struct {
	// Retry true means respond with a provider-retryable status so the event
	// is redelivered; false means acknowledge and stop redelivery.
	Retry bool
	// DeadLettered is set when retries are exhausted and the event now
	// requires manual resolution.
	DeadLettered bool
	// AttemptCount is the number of dead-letter rows that existed before this
	// escalation.
	AttemptCount int
}

// Escalator captures unreconcilable notifications and pages operators.
type Escalator struct {
	repo      store.Repository
	alerts    AlertNotifier
	threshold int
}

// NewEscalator creates an Escalator. threshold is the number of dead-letter
// rows after which redelivery is stopped.
func NewEscalator(repo store.Repository, alerts AlertNotifier, threshold int) *Escalator {
	if threshold <= 0 {
		threshold = 3
	}
	return &Escalator{repo: repo, alerts: alerts, threshold: threshold}
}

// Escalate records a retryable reconciliation failure. Below the threshold
// the caller is told to request provider redelivery, which covers an intake
// still mid-creation by a slower concurrent request. At the threshold the
// event is acknowledged so the provider's retry window (~72h) cannot turn
// into an unbounded storm.
func (e *Escalator) Escalate(ctx context.Context, n *domain.Notification, intakeID *string, errorCode, reason string) EscalationDecision {
	count, err := e.repo.CountDeadLetterEntries(ctx, n.EventID)
	if err != nil {
		// Without the count we cannot bound retries, so stop them.
		log.Printf("level=error component=escalator msg=\"dead letter count failed; stopping redelivery\" event_id=%s err=%v", n.EventID, err)
		count = e.threshold
	}

	e.record(ctx, n, intakeID, errorCode, reason)

	if count < e.threshold {
		log.Printf("level=warn component=escalator outcome=retry event_id=%s error_code=%s attempt=%d threshold=%d reason=%q",
			n.EventID, errorCode, count+1, e.threshold, reason)
		return EscalationDecision{Retry: true, AttemptCount: count}
	}

	log.Printf("level=error component=escalator outcome=dead_letter event_id=%s error_code=%s attempts=%d reason=%q",
		n.EventID, errorCode, count, reason)
	return EscalationDecision{Retry: false, DeadLettered: true, AttemptCount: count}
}

// EscalateTerminal records a failure that redelivery cannot fix (e.g. the
// event payload has no intake reference at all). The provider is always told
// to stop; operators still get the row and the alert.
func (e *Escalator) EscalateTerminal(ctx context.Context, n *domain.Notification, intakeID *string, errorCode, reason string) EscalationDecision {
	e.record(ctx, n, intakeID, errorCode, reason)
	log.Printf("level=error component=escalator outcome=dead_letter_terminal event_id=%s error_code=%s reason=%q",
		n.EventID, errorCode, reason)
	return EscalationDecision{Retry: false, DeadLettered: true}
}

func (e *Escalator) record(ctx context.Context, n *domain.Notification, intakeID *string, errorCode, reason string) {
	entry := &domain.DeadLetterEntry{
		EventID:      n.EventID,
		EventType:    n.EventType,
		IntakeID:     intakeID,
		ErrorCode:    errorCode,
		ErrorMessage: reason,
		Payload:      n.RawPayload,
	}
	if err := e.repo.InsertDeadLetterEntry(ctx, entry); err != nil {
		log.Printf("level=error component=escalator msg=\"dead letter insert failed\" event_id=%s err=%v", n.EventID, err)
	}

	if e.alerts == nil {
		return
	}
	alertCtx := map[string]interface{}{
		"event_id": n.EventID,
		"reason":   reason,
	}
	if intakeID != nil {
		alertCtx["intake_id"] = *intakeID
	}
	tags := map[string]string{
		"source":     "payment-webhook",
		"error_code": errorCode,
		"event_type": string(n.EventType),
	}
	if err := e.alerts.Alert(ctx, "error", tags, alertCtx); err != nil {
		log.Printf("level=warn component=escalator msg=\"operator alert failed\" event_id=%s err=%v", n.EventID, err)
	}
}
