/**
 * @description
 * This file contains the HTTP handler for the Stripe webhook endpoint. It is
 * the boundary of the reconciliation engine: it reads the raw body, has the
 * verifier authenticate it, and hands the typed notification to the
 * processor. Every delivery gets a response; signature failures are the
 * only case rejected before the idempotency ledger sees the event.
 *
 * @dependencies
 * - io, net/http: Standard Go libraries.
 * - internal/app, internal/domain: Verification and processing logic.
 */

package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/curaline/payments-service/internal/app"
	"github.com/curaline/payments-service/internal/domain"
)

const signatureHeader = "Stripe-Signature"

// maxWebhookBodyBytes bounds the raw payload; Stripe events are far smaller.
const maxWebhookBodyBytes = 1 << 20

// NotificationVerifier authenticates raw webhook bytes.
type NotificationVerifier interface {
	Verify(body []byte, signatureHeader string) (*domain.Notification, error)
}

// NotificationProcessor runs the reconciliation pipeline for one event.
type NotificationProcessor interface {
	Process(ctx context.Context, n *domain.Notification) app.Result
}

// WebhookHandler processes incoming payment-provider webhooks.
type WebhookHandler struct {
	verifier  NotificationVerifier
	processor NotificationProcessor
}

// NewWebhookHandler creates the handler for the webhook endpoint.
func NewWebhookHandler(verifier NotificationVerifier, processor NotificationProcessor) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, processor: processor}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Printf("level=warn component=webhook outcome=reject reason=body_read_failed err=%v", err)
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	notification, err := h.verifier.Verify(body, r.Header.Get(signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrVerifierNotConfigured):
			log.Printf("level=error component=webhook outcome=reject reason=not_configured")
			writeError(w, http.StatusInternalServerError, "webhook endpoint not configured")
		case errors.Is(err, app.ErrSignatureMissing):
			log.Printf("level=warn component=webhook outcome=reject reason=signature_missing remote=%s", r.RemoteAddr)
			writeError(w, http.StatusBadRequest, "missing signature")
		case errors.Is(err, app.ErrSignatureInvalid):
			log.Printf("level=warn component=webhook outcome=reject reason=signature_invalid remote=%s", r.RemoteAddr)
			writeError(w, http.StatusBadRequest, "invalid signature")
		default:
			log.Printf("level=warn component=webhook outcome=reject reason=malformed_payload err=%v", err)
			writeError(w, http.StatusBadRequest, "invalid payload")
		}
		return
	}

	result := h.processor.Process(r.Context(), notification)

	log.Printf("level=info component=webhook event_id=%s type=%s status=%d duration_ms=%d",
		notification.EventID, notification.StripeType, result.Status, time.Since(startTime).Milliseconds())
	writeJSON(w, result.Status, result.Body)
}
