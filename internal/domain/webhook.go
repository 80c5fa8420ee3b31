/**
 * @description
 * This file defines the types for inbound Stripe webhook events. The raw
 * envelope mirrors Stripe's event shape (`id`, `type`, `created`,
 * `data.object`), and Notification is the verified, typed form that the
 * processing pipeline works with.
 *
 * @notes
 * - Amounts are integer cents (`amount_total`, `amount_refunded`); no
 *   floating point is used anywhere in payment arithmetic.
 * - A Notification is immutable once built by the verifier. The raw payload
 *   is kept for audit and for the dead-letter table.
 */

package domain

import (
	"encoding/json"
	"time"
)

// EventType classifies the webhook events this service reconciles.
type EventType string

const (
	EventCheckoutCompleted EventType = "checkout_completed"
	EventCheckoutExpired   EventType = "checkout_expired"
	EventChargeRefunded    EventType = "charge_refunded"
	EventPaymentFailed     EventType = "payment_failed"
	EventOther             EventType = "other"
)

// ParseEventType maps a Stripe event type string to our internal enum.
func ParseEventType(stripeType string) EventType {
	switch stripeType {
	case "checkout.session.completed":
		return EventCheckoutCompleted
	case "checkout.session.expired":
		return EventCheckoutExpired
	case "charge.refunded":
		return EventChargeRefunded
	case "payment_intent.payment_failed":
		return EventPaymentFailed
	default:
		return EventOther
	}
}

// StripeEvent is the raw webhook envelope as Stripe sends it.
type StripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSessionObject is the `data.object` payload for checkout.session.* events.
type CheckoutSessionObject struct {
	ID            string `json:"id"`
	AmountTotal   int64  `json:"amount_total"`
	PaymentIntent string `json:"payment_intent"`
	PaymentStatus string `json:"payment_status"`
	Metadata      struct {
		IntakeID  string `json:"intake_id"`
		PatientID string `json:"patient_id"`
	} `json:"metadata"`
}

// ChargeObject is the `data.object` payload for charge.refunded events.
type ChargeObject struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	PaymentIntent  string `json:"payment_intent"`
}

// PaymentIntentObject is the `data.object` payload for payment_intent.* events.
type PaymentIntentObject struct {
	ID       string `json:"id"`
	Metadata struct {
		IntakeID string `json:"intake_id"`
	} `json:"metadata"`
}

// Notification is a verified, typed webhook event. It is built once by the
// verifier and never mutated afterwards.
type Notification struct {
	EventID    string
	EventType  EventType
	StripeType string
	OccurredAt time.Time
	RawPayload []byte

	// Type-specific fields; zero values when not applicable.
	SessionID           string
	IntakeID            string
	PatientID           string
	PaymentIntentID     string
	AmountCents         int64
	AmountRefundedCents int64
}
