/**
 * @description
 * This file implements the side-effect dispatcher: the non-critical work
 * that follows a successful payment transition. Customer notifications are
 * published to RabbitMQ; clinical draft generation is an HTTP call raced
 * against a fixed timeout. Neither may ever fail the webhook response: a
 * draft failure or timeout degrades to a durable retry-queue row consumed by
 * the out-of-band worker.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/curaline/payments-service/internal/domain"
	"github.com/curaline/payments-service/internal/store"
)

// DraftClient triggers clinical draft generation for a paid intake.
type DraftClient interface {
	GenerateDraft(ctx context.Context, intakeID uuid.UUID) error
}

// EventPublisher publishes messages to the notification pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

const paymentEventsExchange = "payment_events"

// Dispatcher fires downstream side effects after a successful transition.
type Dispatcher struct {
	repo     store.Repository
	drafts   DraftClient
	producer EventPublisher

	draftTimeout      time.Duration
	initialRetryDelay time.Duration

	now func() time.Time
}

// NewDispatcher creates a Dispatcher. draftTimeout bounds how long the
// webhook path waits on draft generation; initialRetryDelay is the first
// deferral applied when that work is queued for retry.
func NewDispatcher(repo store.Repository, drafts DraftClient, producer EventPublisher, draftTimeout, initialRetryDelay time.Duration) *Dispatcher {
	if draftTimeout <= 0 {
		draftTimeout = 30 * time.Second
	}
	if initialRetryDelay <= 0 {
		initialRetryDelay = 2 * time.Minute
	}
	return &Dispatcher{
		repo:              repo,
		drafts:            drafts,
		producer:          producer,
		draftTimeout:      draftTimeout,
		initialRetryDelay: initialRetryDelay,
		now:               time.Now,
	}
}

// PaymentSucceeded dispatches the post-payment side effects: the customer
// notification event and draft generation. Returns nothing; failures are
// contained here by contract.
func (d *Dispatcher) PaymentSucceeded(ctx context.Context, intake *domain.Intake) {
	d.publish(ctx, "payment.succeeded", intake, domain.EventCheckoutCompleted, intake.AmountCents)
	d.generateDraftWithTimeout(intake.ID)
}

// CheckoutExpired notifies the customer their session lapsed. No draft work.
func (d *Dispatcher) CheckoutExpired(ctx context.Context, intake *domain.Intake) {
	d.publish(ctx, "checkout.expired", intake, domain.EventCheckoutExpired, intake.AmountCents)
}

// PaymentRefunded notifies the customer of a full or partial refund.
func (d *Dispatcher) PaymentRefunded(ctx context.Context, intake *domain.Intake, refundedCents int64) {
	d.publish(ctx, "payment.refunded", intake, domain.EventChargeRefunded, refundedCents)
}

// PaymentFailed notifies the customer their payment attempt failed.
func (d *Dispatcher) PaymentFailed(ctx context.Context, intake *domain.Intake) {
	d.publish(ctx, "payment.failed", intake, domain.EventPaymentFailed, intake.AmountCents)
}

func (d *Dispatcher) publish(ctx context.Context, routingKey string, intake *domain.Intake, eventType domain.EventType, amount int64) {
	if d.producer == nil {
		return
	}
	event := domain.PaymentEvent{
		IntakeID:  intake.ID,
		PatientID: intake.PatientID,
		EventType: eventType,
		Amount:    amount,
		Timestamp: d.now(),
	}
	if err := d.producer.Publish(ctx, paymentEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=dispatcher msg=\"notification publish failed\" routing_key=%s intake_id=%s err=%v",
			routingKey, intake.ID, err)
	}
}

// generateDraftWithTimeout races the draft call against the configured
// timeout. The race runs on a background context so a slow draft service
// cannot outlive the deadline through request-context plumbing, and so the
// caller waits on the race only, never on the call itself.
func (d *Dispatcher) generateDraftWithTimeout(intakeID uuid.UUID) {
	if d.drafts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.draftTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.drafts.GenerateDraft(ctx, intakeID)
	}()

	select {
	case err := <-done:
		if err == nil {
			log.Printf("level=info component=dispatcher msg=\"draft generation triggered\" intake_id=%s", intakeID)
			return
		}
		d.enqueueRetry(intakeID, err.Error())
	case <-ctx.Done():
		d.enqueueRetry(intakeID, "draft generation timed out")
	}
}

// enqueueRetry records the deferred work. Retrying inline would couple the
// webhook response to draft-service health, so recovery always goes through
// the queue.
func (d *Dispatcher) enqueueRetry(intakeID uuid.UUID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nextRetryAt := d.now().Add(d.initialRetryDelay)
	if err := d.repo.UpsertRetryQueueItem(ctx, intakeID, reason, nextRetryAt); err != nil {
		log.Printf("level=error component=dispatcher msg=\"retry enqueue failed\" intake_id=%s reason=%q err=%v",
			intakeID, reason, err)
		return
	}
	log.Printf("level=warn component=dispatcher msg=\"draft generation deferred to retry queue\" intake_id=%s reason=%q next_retry_at=%s",
		intakeID, reason, nextRetryAt.Format(time.RFC3339))
}
