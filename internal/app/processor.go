/**
 * @description
 * This file implements the webhook processing pipeline: claim the event in
 * the idempotency ledger, run the intake state machine for the event type,
 * escalate what cannot be reconciled, and dispatch side effects on success.
 * Every path produces a provider-compatible Result; the only condition that
 * surfaces as a 500 without a dead-letter row is genuine infrastructure
 * failure, which the provider's redelivery (made safe by the ledger) covers.
 *
 * @notes
 * - There are no in-process locks. The same event id arriving concurrently
 *   is resolved by the ledger's unique constraint; the same intake being
 *   transitioned concurrently is resolved by the guarded UPDATEs.
 * - Every retryable (500) outcome after a successful claim records an error
 *   on the ledger row, which makes the row re-claimable. Without that, the
 *   provider's redelivery would be skipped as a duplicate and the bounded
 *   retry budget could never be spent.
 * - A paid guard miss is re-read and reported as a no-op, never an error:
 *   "completed" and "expired" may arrive in any order and must converge.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/curaline/payments-service/internal/domain"
	"github.com/curaline/payments-service/internal/store"
)

// Result is the provider-facing outcome of processing one notification.
type Result struct {
	Status int
	Body   map[string]interface{}
}

func ackReceived(extras ...string) Result {
	body := map[string]interface{}{"received": true}
	for _, extra := range extras {
		body[extra] = true
	}
	return Result{Status: http.StatusOK, Body: body}
}

func retryLater(message string) Result {
	return Result{Status: http.StatusInternalServerError, Body: map[string]interface{}{"error": message}}
}

func ackDeadLettered(message string) Result {
	return Result{Status: http.StatusOK, Body: map[string]interface{}{
		"error":     message,
		"processed": true,
		"dlq":       true,
	}}
}

// Processor orchestrates the ledger, state machine, escalator, and
// dispatcher for one notification at a time.
type Processor struct {
	repo       store.Repository
	escalator  *Escalator
	dispatcher *Dispatcher
}

// NewProcessor creates a Processor.
func NewProcessor(repo store.Repository, escalator *Escalator, dispatcher *Dispatcher) *Processor {
	return &Processor{repo: repo, escalator: escalator, dispatcher: dispatcher}
}

// Process handles one verified notification end to end. It never panics the
// response away: anything the state machine throws after the claim is caught,
// recorded against the ledger row, and mapped to retry-or-acknowledge.
func (p *Processor) Process(ctx context.Context, n *domain.Notification) Result {
	meta := store.ClaimMetadata{
		IntakeID:  optionalString(n.IntakeID),
		SessionID: optionalString(n.SessionID),
	}
	claimed, err := p.repo.TryClaimEvent(ctx, n.EventID, n.EventType, meta)
	if err != nil {
		// Claim failure is fatal for this delivery; the provider will retry
		// and the ledger makes that retry safe.
		log.Printf("level=error component=processor op=claim outcome=failed event_id=%s err=%v", n.EventID, err)
		return retryLater("event claim failed")
	}
	if !claimed {
		// A clean ledger row: the event was fully handled by an earlier
		// delivery. Errored rows are re-claimed by TryClaimEvent, so this
		// branch never swallows a delivery we asked the provider to retry.
		log.Printf("level=info component=processor op=claim outcome=duplicate event_id=%s type=%s", n.EventID, n.StripeType)
		return ackReceived("skipped")
	}

	result, err := p.transition(ctx, n)
	if err != nil {
		log.Printf("level=error component=processor op=transition outcome=failed event_id=%s type=%s err=%v",
			n.EventID, n.StripeType, err)
		// Recording the error also marks the ledger row re-claimable, so the
		// retryable status below is honored on the next delivery.
		if recordErr := p.repo.RecordEventError(ctx, n.EventID, err.Error()); recordErr != nil {
			log.Printf("level=warn component=processor msg=\"event error record failed\" event_id=%s err=%v", n.EventID, recordErr)
		}
		return retryLater("event processing failed")
	}
	return result
}

func (p *Processor) transition(ctx context.Context, n *domain.Notification) (Result, error) {
	switch n.EventType {
	case domain.EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, n)
	case domain.EventCheckoutExpired:
		return p.handleCheckoutExpired(ctx, n)
	case domain.EventChargeRefunded:
		return p.handleChargeRefunded(ctx, n)
	case domain.EventPaymentFailed:
		return p.handlePaymentFailed(ctx, n)
	default:
		// Unhandled types are still claimed above so they will not be
		// reprocessed if handling is added later.
		log.Printf("level=info component=processor outcome=unhandled event_id=%s type=%s", n.EventID, n.StripeType)
		return ackReceived(), nil
	}
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, n *domain.Notification) (Result, error) {
	intakeID, ok := p.requireIntakeID(ctx, n)
	if !ok {
		// Data-integrity, not transient: redelivery cannot conjure an intake
		// id, so stop it, but make the failure operator-visible.
		reason := "checkout completed event carries no usable intake_id"
		if recordErr := p.repo.RecordEventError(ctx, n.EventID, reason); recordErr != nil {
			log.Printf("level=warn component=processor msg=\"event error record failed\" event_id=%s err=%v", n.EventID, recordErr)
		}
		p.escalator.EscalateTerminal(ctx, n, nil, domain.DeadLetterUnexpected, reason)
		return ackDeadLettered("missing intake_id"), nil
	}

	intake, err := p.repo.FindIntakeByID(ctx, intakeID)
	if err != nil {
		if errors.Is(err, store.ErrIntakeNotFound) {
			return p.escalateNotFound(ctx, n, n.IntakeID), nil
		}
		return Result{}, fmt.Errorf("find intake %s: %w", intakeID, err)
	}

	if intake.PaymentStatus == domain.PaymentStatusPaid {
		log.Printf("level=info component=processor outcome=already_paid event_id=%s intake_id=%s", n.EventID, intakeID)
		return ackReceived("already_paid"), nil
	}

	updated, err := p.repo.MarkIntakePaid(ctx, intakeID, n.SessionID, n.PaymentIntentID)
	if err != nil {
		return Result{}, fmt.Errorf("mark intake %s paid: %w", intakeID, err)
	}
	if !updated {
		return p.resolvePaidGuardMiss(ctx, n, intakeID)
	}

	log.Printf("level=info component=processor outcome=paid event_id=%s intake_id=%s amount=%d",
		n.EventID, intakeID, n.AmountCents)
	intake.PaymentStatus = domain.PaymentStatusPaid
	intake.Status = domain.IntakeStatusPaid
	p.dispatcher.PaymentSucceeded(ctx, intake)
	return ackReceived(), nil
}

// resolvePaidGuardMiss re-reads the intake after a zero-row paid update. A
// concurrent processor having already paid (or refunded) the intake is a
// success no-op; anything else means the guard failed for a reason a retry
// might not fix, so it goes through the bounded escalation policy.
func (p *Processor) resolvePaidGuardMiss(ctx context.Context, n *domain.Notification, intakeID uuid.UUID) (Result, error) {
	current, err := p.repo.FindIntakeByID(ctx, intakeID)
	if err != nil {
		return Result{}, fmt.Errorf("re-read intake %s after guard miss: %w", intakeID, err)
	}

	switch current.PaymentStatus {
	case domain.PaymentStatusPaid, domain.PaymentStatusRefunded, domain.PaymentStatusPartiallyRefunded:
		log.Printf("level=info component=processor outcome=concurrent_update event_id=%s intake_id=%s payment_status=%s",
			n.EventID, intakeID, current.PaymentStatus)
		return ackReceived("concurrent_update"), nil
	}

	reason := fmt.Sprintf("paid guard rejected intake in payment_status=%s", current.PaymentStatus)
	if recordErr := p.repo.RecordEventError(ctx, n.EventID, reason); recordErr != nil {
		log.Printf("level=warn component=processor msg=\"event error record failed\" event_id=%s err=%v", n.EventID, recordErr)
	}
	decision := p.escalator.Escalate(ctx, n, optionalString(n.IntakeID), domain.DeadLetterUpdateFailed, reason)
	if decision.Retry {
		return retryLater("intake update failed"), nil
	}
	return ackDeadLettered("intake update failed"), nil
}

func (p *Processor) handleCheckoutExpired(ctx context.Context, n *domain.Notification) (Result, error) {
	intakeID, ok := p.requireIntakeID(ctx, n)
	if !ok {
		// Expiry for an unattributable session is not actionable; note it on
		// the ledger row and stop redelivery.
		if err := p.repo.RecordEventError(ctx, n.EventID, "checkout expired event carries no usable intake_id"); err != nil {
			log.Printf("level=warn component=processor msg=\"event error record failed\" event_id=%s err=%v", n.EventID, err)
		}
		return ackReceived(), nil
	}

	intake, err := p.repo.FindIntakeByID(ctx, intakeID)
	if err != nil {
		if errors.Is(err, store.ErrIntakeNotFound) {
			return p.escalateNotFound(ctx, n, n.IntakeID), nil
		}
		return Result{}, fmt.Errorf("find intake %s: %w", intakeID, err)
	}

	updated, err := p.repo.MarkIntakeExpired(ctx, intakeID)
	if err != nil {
		return Result{}, fmt.Errorf("mark intake %s expired: %w", intakeID, err)
	}
	if !updated {
		// The intake progressed past pending_payment (paid, most likely).
		// Expiry losing that race is the intended convergence.
		log.Printf("level=info component=processor outcome=expiry_noop event_id=%s intake_id=%s status=%s",
			n.EventID, intakeID, intake.Status)
		return ackReceived(), nil
	}

	log.Printf("level=info component=processor outcome=expired event_id=%s intake_id=%s", n.EventID, intakeID)
	intake.Status = domain.IntakeStatusExpired
	p.dispatcher.CheckoutExpired(ctx, intake)
	return ackReceived(), nil
}

func (p *Processor) handleChargeRefunded(ctx context.Context, n *domain.Notification) (Result, error) {
	if n.PaymentIntentID == "" {
		reason := "charge refunded event carries no payment_intent"
		if recordErr := p.repo.RecordEventError(ctx, n.EventID, reason); recordErr != nil {
			log.Printf("level=warn component=processor msg=\"event error record failed\" event_id=%s err=%v", n.EventID, recordErr)
		}
		p.escalator.EscalateTerminal(ctx, n, nil, domain.DeadLetterUnexpected, reason)
		return ackDeadLettered("missing payment_intent"), nil
	}

	intake, err := p.repo.FindIntakeByPaymentIntentID(ctx, n.PaymentIntentID)
	if err != nil {
		if errors.Is(err, store.ErrIntakeNotFound) {
			return p.escalateNotFound(ctx, n, ""), nil
		}
		return Result{}, fmt.Errorf("find intake by payment intent %s: %w", n.PaymentIntentID, err)
	}

	// Integer-cents equality decides full vs partial; the charge's own
	// amount is the authoritative original.
	originalAmount := n.AmountCents
	if originalAmount == 0 {
		originalAmount = intake.AmountCents
	}
	paymentStatus := domain.PaymentStatusPartiallyRefunded
	if n.AmountRefundedCents == originalAmount {
		paymentStatus = domain.PaymentStatusRefunded
	}

	if err := p.repo.RecordIntakeRefund(ctx, intake.ID, paymentStatus, n.AmountRefundedCents); err != nil {
		if errors.Is(err, store.ErrIntakeNotFound) {
			return p.escalateNotFound(ctx, n, intake.ID.String()), nil
		}
		return Result{}, fmt.Errorf("record refund for intake %s: %w", intake.ID, err)
	}

	log.Printf("level=info component=processor outcome=%s event_id=%s intake_id=%s refunded=%d of=%d",
		paymentStatus, n.EventID, intake.ID, n.AmountRefundedCents, originalAmount)
	p.dispatcher.PaymentRefunded(ctx, intake, n.AmountRefundedCents)
	return ackReceived(), nil
}

func (p *Processor) handlePaymentFailed(ctx context.Context, n *domain.Notification) (Result, error) {
	var intake *domain.Intake
	var err error

	switch {
	case n.IntakeID != "":
		intakeID, parseErr := uuid.Parse(n.IntakeID)
		if parseErr != nil {
			if recordErr := p.repo.RecordEventError(ctx, n.EventID, fmt.Sprintf("unparseable intake_id %q", n.IntakeID)); recordErr != nil {
				log.Printf("level=warn component=processor msg=\"event error record failed\" event_id=%s err=%v", n.EventID, recordErr)
			}
			return ackReceived(), nil
		}
		intake, err = p.repo.FindIntakeByID(ctx, intakeID)
	case n.PaymentIntentID != "":
		intake, err = p.repo.FindIntakeByPaymentIntentID(ctx, n.PaymentIntentID)
	default:
		if recordErr := p.repo.RecordEventError(ctx, n.EventID, "payment failed event carries no intake reference"); recordErr != nil {
			log.Printf("level=warn component=processor msg=\"event error record failed\" event_id=%s err=%v", n.EventID, recordErr)
		}
		return ackReceived(), nil
	}

	if err != nil {
		if errors.Is(err, store.ErrIntakeNotFound) {
			return p.escalateNotFound(ctx, n, n.IntakeID), nil
		}
		return Result{}, fmt.Errorf("resolve intake for payment failure: %w", err)
	}

	// Unguarded on purpose: a later successful attempt with a fresh checkout
	// session supersedes this status.
	if err := p.repo.MarkIntakePaymentFailed(ctx, intake.ID); err != nil && !errors.Is(err, store.ErrIntakeNotFound) {
		return Result{}, fmt.Errorf("mark intake %s payment failed: %w", intake.ID, err)
	}

	log.Printf("level=info component=processor outcome=payment_failed event_id=%s intake_id=%s", n.EventID, intake.ID)
	p.dispatcher.PaymentFailed(ctx, intake)
	return ackReceived(), nil
}

// escalateNotFound applies the bounded-retry policy for a missing intake and
// maps the decision to a provider response. The error record marks the ledger
// row re-claimable, so each redelivery re-enters the state machine and adds
// its own dead-letter entry until the threshold is reached.
func (p *Processor) escalateNotFound(ctx context.Context, n *domain.Notification, intakeID string) Result {
	reason := "referenced intake not found"
	if recordErr := p.repo.RecordEventError(ctx, n.EventID, reason); recordErr != nil {
		log.Printf("level=warn component=processor msg=\"event error record failed\" event_id=%s err=%v", n.EventID, recordErr)
	}
	decision := p.escalator.Escalate(ctx, n, optionalString(intakeID), domain.DeadLetterIntakeNotFound, reason)
	if decision.Retry {
		return retryLater("intake not found")
	}
	return ackDeadLettered("intake not found")
}

// requireIntakeID extracts and parses the intake id carried in the event
// metadata. A missing or malformed id is recorded on the ledger row; the
// caller decides whether that is terminal for the event type.
func (p *Processor) requireIntakeID(ctx context.Context, n *domain.Notification) (uuid.UUID, bool) {
	if n.IntakeID == "" {
		return uuid.Nil, false
	}
	intakeID, err := uuid.Parse(n.IntakeID)
	if err != nil {
		if recordErr := p.repo.RecordEventError(ctx, n.EventID, fmt.Sprintf("unparseable intake_id %q", n.IntakeID)); recordErr != nil {
			log.Printf("level=warn component=processor msg=\"event error record failed\" event_id=%s err=%v", n.EventID, recordErr)
		}
		return uuid.Nil, false
	}
	return intakeID, true
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
