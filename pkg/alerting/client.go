/**
 * @description
 * This package raises operator-visible alerts by posting to the on-call
 * webhook (PagerDuty-style events endpoint). Alerts are advisory: a failure
 * to deliver one must never affect a webhook response, so errors are
 * returned for the caller to log and nothing more.
 *
 * A Redis fixed-window throttle deduplicates pages per error code; a
 * provider redelivery storm for one broken event must not page the on-call
 * engineer once per delivery.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, time: Standard Go libraries.
 * - github.com/redis/go-redis/v9: Distributed alert throttling.
 */
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notifier raises operator alerts.
type Notifier interface {
	Alert(ctx context.Context, severity string, tags map[string]string, context map[string]interface{}) error
}

// NoopNotifier is used when no alert webhook is configured; alerts degrade to
// service logs only.
type NoopNotifier struct{}

func (NoopNotifier) Alert(ctx context.Context, severity string, tags map[string]string, alertContext map[string]interface{}) error {
	log.Printf("level=warn component=alerting mode=noop severity=%s tags=%v context=%v", severity, tags, alertContext)
	return nil
}

var alertThrottleScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// Client posts alerts to the on-call webhook with an optional Redis throttle.
type Client struct {
	webhookURL string
	httpClient *http.Client

	throttle       redis.UniversalClient
	throttlePrefix string
	throttleLimit  int
	throttleWindow time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithThrottle enables Redis-backed alert throttling: at most limit alerts
// per error code per window; the rest are suppressed with a log line.
func WithThrottle(client redis.UniversalClient, prefix string, limit int, window time.Duration) Option {
	return func(c *Client) {
		trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
		if trimmed == "" {
			trimmed = "payments:alert_throttle"
		}
		c.throttle = client
		c.throttlePrefix = trimmed
		c.throttleLimit = limit
		c.throttleWindow = window
	}
}

// NewClient creates an alerting client for the given on-call webhook URL.
func NewClient(webhookURL string, opts ...Option) *Client {
	c := &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// alertPayload is the body posted to the on-call webhook.
type alertPayload struct {
	Severity  string                 `json:"severity"`
	Source    string                 `json:"source"`
	Tags      map[string]string      `json:"tags"`
	Context   map[string]interface{} `json:"context"`
	Timestamp time.Time              `json:"timestamp"`
}

// Alert posts one alert. Throttled alerts return nil; suppression is not a
// failure. Delivery errors come back for the caller to log; they carry no
// other consequence.
func (c *Client) Alert(ctx context.Context, severity string, tags map[string]string, alertContext map[string]interface{}) error {
	suppressed, err := c.shouldSuppress(ctx, tags["error_code"])
	if err != nil {
		// A broken throttle must not eat pages; fall through and send.
		log.Printf("level=warn component=alerting msg=\"throttle check failed; sending anyway\" err=%v", err)
	}
	if suppressed {
		log.Printf("level=info component=alerting outcome=suppressed error_code=%s", tags["error_code"])
		return nil
	}

	payload := alertPayload{
		Severity:  severity,
		Source:    "payments-service",
		Tags:      tags,
		Context:   alertContext,
		Timestamp: time.Now(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// shouldSuppress consumes one slot in the fixed window for the error code.
func (c *Client) shouldSuppress(ctx context.Context, errorCode string) (bool, error) {
	if c.throttle == nil || c.throttleLimit <= 0 || c.throttleWindow <= 0 || strings.TrimSpace(errorCode) == "" {
		return false, nil
	}

	windowMs := c.throttleWindow.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s", c.throttlePrefix, errorCode)
	rawResult, err := alertThrottleScript.Run(ctx, c.throttle, []string{key}, windowMs).Result()
	if err != nil {
		return false, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return false, fmt.Errorf("unexpected redis throttle response shape: %T", rawResult)
	}
	count, ok := values[0].(int64)
	if !ok {
		return false, fmt.Errorf("unexpected redis throttle count type: %T", values[0])
	}

	return count > int64(c.throttleLimit), nil
}
