/**
 * @description
 * This file implements webhook signature verification and payload
 * deserialization. Stripe signs the raw request body with a timestamped
 * HMAC-SHA256 (`Stripe-Signature: t=<unix>,v1=<hex>`); verification recomputes
 * the MAC over `<t>.<body>` with the shared endpoint secret and compares in
 * constant time. There is no fallback to unverified parsing.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: For signature validation.
 * - encoding/json: For decoding the event envelope.
 * - internal/domain: For the typed Notification.
 */

package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/curaline/payments-service/internal/domain"
)

var (
	ErrSignatureMissing      = errors.New("webhook signature header missing")
	ErrSignatureInvalid      = errors.New("webhook signature mismatch")
	ErrVerifierNotConfigured = errors.New("webhook signing secret not configured")
)

// Verifier authenticates raw webhook requests and produces typed
// notifications. It performs no I/O beyond a clock read.
type Verifier struct {
	secret    string
	tolerance time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewVerifier creates a Verifier. tolerance bounds how far the signature
// timestamp may drift from the local clock before the event is rejected as a
// possible replay.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{secret: secret, tolerance: tolerance, now: time.Now}
}

// Verify authenticates the raw body against the signature header and returns
// the typed Notification. Any mismatch is rejected; the envelope is never
// parsed into a trusted Notification without a valid signature.
func (v *Verifier) Verify(body []byte, signatureHeader string) (*domain.Notification, error) {
	if strings.TrimSpace(v.secret) == "" {
		return nil, ErrVerifierNotConfigured
	}

	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return nil, ErrSignatureMissing
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return nil, err
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	matched := false
	for _, sig := range signatures {
		decoded, decodeErr := hex.DecodeString(sig)
		if decodeErr != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			matched = true
		}
	}
	if !matched {
		return nil, ErrSignatureInvalid
	}

	return buildNotification(body)
}

// parseSignatureHeader splits `t=<unix>,v1=<hex>[,v1=<hex>...]`. Multiple v1
// entries occur during secret rotation.
func parseSignatureHeader(header string) (int64, []string, error) {
	var timestamp int64 = -1
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			parsed, err := strconv.ParseInt(pair[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: malformed timestamp", ErrSignatureInvalid)
			}
			timestamp = parsed
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}

	if timestamp < 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: header missing t or v1 component", ErrSignatureInvalid)
	}
	return timestamp, signatures, nil
}

// buildNotification decodes the envelope and extracts the type-specific
// fields the state machine needs. Unknown event types still produce a valid
// Notification with EventOther so the ledger can claim them.
func buildNotification(body []byte) (*domain.Notification, error) {
	var event domain.StripeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	if event.ID == "" {
		return nil, errors.New("event envelope missing id")
	}

	n := &domain.Notification{
		EventID:    event.ID,
		EventType:  domain.ParseEventType(event.Type),
		StripeType: event.Type,
		OccurredAt: time.Unix(event.Created, 0),
		RawPayload: body,
	}

	switch n.EventType {
	case domain.EventCheckoutCompleted, domain.EventCheckoutExpired:
		var session domain.CheckoutSessionObject
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return nil, fmt.Errorf("decode checkout session object: %w", err)
		}
		n.SessionID = session.ID
		n.IntakeID = session.Metadata.IntakeID
		n.PatientID = session.Metadata.PatientID
		n.PaymentIntentID = session.PaymentIntent
		n.AmountCents = session.AmountTotal
	case domain.EventChargeRefunded:
		var charge domain.ChargeObject
		if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
			return nil, fmt.Errorf("decode charge object: %w", err)
		}
		n.PaymentIntentID = charge.PaymentIntent
		n.AmountCents = charge.Amount
		n.AmountRefundedCents = charge.AmountRefunded
	case domain.EventPaymentFailed:
		var intent domain.PaymentIntentObject
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return nil, fmt.Errorf("decode payment intent object: %w", err)
		}
		n.PaymentIntentID = intent.ID
		n.IntakeID = intent.Metadata.IntakeID
	}

	return n, nil
}
