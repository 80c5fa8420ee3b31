/**
 * @description
 * This file defines the Intake domain model: the payment-bound business
 * record this service maintains. The broader application owns intake
 * creation and clinical workflow; this service only performs guarded
 * payment-state transitions on it.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Intake statuses relevant to payment reconciliation. The full enum is
// owned by the intake application; only these values are written here.
const (
	IntakeStatusPendingPayment = "pending_payment"
	IntakeStatusPaid           = "paid"
	IntakeStatusExpired        = "expired"
	IntakeStatusFailed         = "failed"
)

// Payment statuses form a directed graph: unpaid/pending -> paid ->
// refunded/partially_refunded, with failed reachable from unpaid/pending.
// Once paid, an intake never returns to unpaid or pending through this
// service.
const (
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusPending           = "pending"
	PaymentStatusPaid              = "paid"
	PaymentStatusFailed            = "failed"
	PaymentStatusRefunded          = "refunded"
	PaymentStatusPartiallyRefunded = "partially_refunded"
)

// Intake maps to the `intakes` table. Fields outside payment reconciliation
// are omitted; this service never writes them.
type Intake struct {
	ID                uuid.UUID  `json:"id"`
	PatientID         *uuid.UUID `json:"patient_id,omitempty"`
	Status            string     `json:"status"`
	PaymentStatus     string     `json:"payment_status"`
	StripeSessionID   *string    `json:"stripe_session_id,omitempty"`
	PaymentIntentID   *string    `json:"payment_intent_id,omitempty"`
	AmountCents       int64      `json:"amount_cents"`
	RefundAmountCents int64      `json:"refund_amount_cents"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
