/**
 * @description
 * This package provides a client for the clinical draft-generation service.
 * After an intake is paid the platform prepares a clinical draft for the
 * treating doctor; this client triggers that generation. The call is always
 * made under a deadline; the webhook path races it against a timeout and
 * the retry worker bounds each attempt.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package draftclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client is a client for the draft-generation service.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new draft-generation client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// draftRequest is the payload for triggering draft generation.
type draftRequest struct {
	IntakeID string `json:"intake_id"`
}

// ErrorResponse represents an error from the draft service.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("draft service error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown draft service error"
}

// GenerateDraft asks the draft service to prepare a clinical draft for a paid
// intake. The operation is idempotent on the service side; repeating it for
// the same intake is safe.
func (c *Client) GenerateDraft(ctx context.Context, intakeID uuid.UUID) error {
	body, err := json.Marshal(draftRequest{IntakeID: intakeID.String()})
	if err != nil {
		return fmt.Errorf("failed to marshal draft request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/internal/v1/drafts", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create draft request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-internal-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute draft request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read draft error response (status %d)", resp.StatusCode)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
		log.Printf("level=warn component=draft_client op=generate intake_id=%s status=%d msg=\"non-2xx response (unparsable error body)\"", intakeID, resp.StatusCode)
		return fmt.Errorf("draft service returned status %d", resp.StatusCode)
	}
	log.Printf("level=warn component=draft_client op=generate intake_id=%s status=%d detail=%q", intakeID, resp.StatusCode, errResp.Error())
	return &errResp
}
