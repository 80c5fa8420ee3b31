/**
 * @description
 * Out-of-band consumer of the side-effect retry queue. The webhook path
 * never retries draft generation inline; anything that failed or timed out
 * there lands in the queue and this worker drains it on a schedule.
 */
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curaline/payments-service/internal/domain"
	"github.com/curaline/payments-service/internal/store"
)

// DraftClient triggers clinical draft generation for a paid intake.
type DraftClient interface {
	GenerateDraft(ctx context.Context, intakeID uuid.UUID) error
}

// AlertNotifier pages operators when an intake's draft work is abandoned.
type AlertNotifier interface {
	Alert(ctx context.Context, severity string, tags map[string]string, context map[string]interface{}) error
}

// RetryJob drains due side-effect retry items.
type RetryJob struct {
	repo    store.Repository
	drafts  DraftClient
	alerts  AlertNotifier
	logger  *slog.Logger
	options RetryOptions
}

// RetryOptions bounds a worker run.
type RetryOptions struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 2 * time.Minute
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Hour
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 30 * time.Second
	}
	return o
}

// NewRetryJob creates the retry worker job.
func NewRetryJob(repo store.Repository, drafts DraftClient, alerts AlertNotifier, logger *slog.Logger, options RetryOptions) *RetryJob {
	return &RetryJob{
		repo:    repo,
		drafts:  drafts,
		alerts:  alerts,
		logger:  logger,
		options: options.withDefaults(),
	}
}

// ProcessDueItems runs one drain pass. Each item gets one bounded attempt;
// success removes it, failure reschedules it with backoff, and exhausting
// MaxAttempts abandons it with an operator alert.
func (j *RetryJob) ProcessDueItems() {
	ctx := context.Background()

	items, err := j.repo.ListDueRetryQueueItems(ctx, time.Now(), j.options.BatchSize)
	if err != nil {
		j.logger.Error("failed to list due retry items", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	j.logger.Info("processing side-effect retry items", "count", len(items))
	for _, item := range items {
		j.processItem(ctx, item)
	}
}

func (j *RetryJob) processItem(ctx context.Context, item domain.RetryQueueItem) {
	attemptCtx, cancel := context.WithTimeout(ctx, j.options.AttemptTimeout)
	err := j.drafts.GenerateDraft(attemptCtx, item.IntakeID)
	cancel()

	if err == nil {
		if deleteErr := j.repo.DeleteRetryQueueItem(ctx, item.IntakeID); deleteErr != nil {
			j.logger.Error("failed to remove completed retry item", "intake_id", item.IntakeID, "error", deleteErr)
			return
		}
		j.logger.Info("deferred draft generation succeeded", "intake_id", item.IntakeID, "attempts", item.Attempts)
		return
	}

	if item.Attempts >= j.options.MaxAttempts {
		j.abandon(ctx, item, err)
		return
	}

	nextRetryAt := time.Now().Add(BackoffDelay(item.Attempts, j.options.InitialBackoff, j.options.MaxBackoff))
	if upsertErr := j.repo.UpsertRetryQueueItem(ctx, item.IntakeID, err.Error(), nextRetryAt); upsertErr != nil {
		j.logger.Error("failed to reschedule retry item", "intake_id", item.IntakeID, "error", upsertErr)
		return
	}
	j.logger.Warn("draft generation retry failed; rescheduled",
		"intake_id", item.IntakeID, "attempts", item.Attempts+1, "next_retry_at", nextRetryAt, "error", err)
}

// abandon removes the item and pages operators; the intake needs manual
// draft handling from here.
func (j *RetryJob) abandon(ctx context.Context, item domain.RetryQueueItem, lastErr error) {
	j.logger.Error("draft generation abandoned after max attempts",
		"intake_id", item.IntakeID, "attempts", item.Attempts, "error", lastErr)

	if j.alerts != nil {
		tags := map[string]string{
			"source":     "retry-worker",
			"error_code": "DRAFT_GENERATION_ABANDONED",
			"event_type": string(domain.EventCheckoutCompleted),
		}
		alertCtx := map[string]interface{}{
			"intake_id": item.IntakeID.String(),
			"attempts":  item.Attempts,
			"reason":    lastErr.Error(),
		}
		if alertErr := j.alerts.Alert(ctx, "critical", tags, alertCtx); alertErr != nil {
			j.logger.Warn("operator alert failed", "intake_id", item.IntakeID, "error", alertErr)
		}
	}

	if deleteErr := j.repo.DeleteRetryQueueItem(ctx, item.IntakeID); deleteErr != nil {
		j.logger.Error("failed to remove abandoned retry item", "intake_id", item.IntakeID, "error", deleteErr)
	}
}

// BackoffDelay returns the deferral before the next attempt: the initial
// delay doubled per prior attempt, capped.
func BackoffDelay(attempts int, initial, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := initial
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
