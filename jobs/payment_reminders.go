package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/covenant-clm/covenant/internal/contracts"
	"github.com/covenant-clm/covenant/internal/notifications"
	"github.com/covenant-clm/covenant/internal/paymentplans"
	"github.com/covenant-clm/covenant/internal/shared"
)

// reminderDedupTTL keeps the per-day sent marker long enough to survive
// scheduler retries without accumulating keys.
const reminderDedupTTL = 48 * time.Hour

// DuePlanSource lists pending payment plans inside the reminder window.
type DuePlanSource interface {
	ListDueSoon(ctx context.Context, windowDays int) ([]paymentplans.PaymentPlan, error)
}

// ContactSource resolves notification routing for contracts.
type ContactSource interface {
	ReminderContacts(ctx context.Context, contractIDs []int64) (map[int64]contracts.ReminderContact, error)
}

// Notifier records in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, input notifications.CreateNotificationInput) (*notifications.Notification, error)
}

// EmailEnqueuer submits outbound email to the queue.
type EmailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// ReminderMetrics counts delivered reminders. Optional.
type ReminderMetrics interface {
	ReminderSent()
}

// ReminderJob scans for payment plans coming due and notifies the contract
// owner in-app plus the responsible email address. A redis marker keyed per
// plan and day makes reruns of the same day's scan idempotent.
type ReminderJob struct {
	logger     *slog.Logger
	plans      DuePlanSource
	contacts   ContactSource
	notifier   Notifier
	mail       EmailEnqueuer
	redis      *redis.Client
	metrics    ReminderMetrics
	windowDays int
	now        func() time.Time
}

// ReminderJobConfig collects the job's collaborators.
type ReminderJobConfig struct {
	Logger     *slog.Logger
	Plans      DuePlanSource
	Contacts   ContactSource
	Notifier   Notifier
	Mail       EmailEnqueuer
	Redis      *redis.Client
	Metrics    ReminderMetrics
	WindowDays int
}

// NewReminderJob builds ReminderJob instance.
func NewReminderJob(cfg ReminderJobConfig) *ReminderJob {
	windowDays := cfg.WindowDays
	if windowDays <= 0 {
		windowDays = 3
	}
	return &ReminderJob{
		logger:     cfg.Logger,
		plans:      cfg.Plans,
		contacts:   cfg.Contacts,
		notifier:   cfg.Notifier,
		mail:       cfg.Mail,
		redis:      cfg.Redis,
		metrics:    cfg.Metrics,
		windowDays: windowDays,
		now:        time.Now,
	}
}

// WithNow overrides the job clock for testing.
func (j *ReminderJob) WithNow(fn func() time.Time) {
	if fn != nil {
		j.now = fn
	}
}

// Handler adapts the job to an Asynq task handler.
func (j *ReminderJob) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		return j.Run(ctx)
	}
}

// Run performs one reminder scan. Failures on individual plans are logged and
// skipped so one bad contact does not starve the rest of the batch.
func (j *ReminderJob) Run(ctx context.Context) error {
	plans, err := j.plans.ListDueSoon(ctx, j.windowDays)
	if err != nil {
		return fmt.Errorf("list due payment plans: %w", err)
	}
	if len(plans) == 0 {
		return nil
	}

	contractIDs := make([]int64, 0, len(plans))
	seen := make(map[int64]bool, len(plans))
	for _, p := range plans {
		if !seen[p.ContractID] {
			seen[p.ContractID] = true
			contractIDs = append(contractIDs, p.ContractID)
		}
	}
	contacts, err := j.contacts.ReminderContacts(ctx, contractIDs)
	if err != nil {
		return fmt.Errorf("resolve reminder contacts: %w", err)
	}

	day := j.now().Format("2006-01-02")
	sent := 0
	for _, plan := range plans {
		contact, ok := contacts[plan.ContractID]
		if !ok {
			j.logger.Warn("reminder skipped, contract missing", slog.Int64("contract_id", plan.ContractID))
			continue
		}

		fresh, err := j.redis.SetNX(ctx, shared.ReminderSentKey(plan.ID, day), "1", reminderDedupTTL).Result()
		if err != nil {
			return fmt.Errorf("reminder dedup marker: %w", err)
		}
		if !fresh {
			continue
		}

		dueDate := plan.PlannedDate.Format("2006-01-02")
		title := "Payment due soon"
		message := fmt.Sprintf("Contract %q has a payment of %.2f due on %s.", contact.ContractName, plan.Amount, dueDate)

		if _, err := j.notifier.Notify(ctx, notifications.CreateNotificationInput{
			UserID:  contact.OwnerUserID,
			Type:    notifications.TypePaymentReminder,
			Title:   title,
			Message: message,
		}); err != nil {
			j.logger.Error("reminder notification", slog.Any("error", err), slog.Int64("plan_id", plan.ID))
			continue
		}

		if contact.Email != "" {
			if _, err := j.mail.EnqueueSendEmail(ctx, SendEmailPayload{
				To:      contact.Email,
				Subject: title,
				Body:    message,
			}); err != nil {
				j.logger.Error("reminder email enqueue", slog.Any("error", err), slog.Int64("plan_id", plan.ID))
			}
		}

		if j.metrics != nil {
			j.metrics.ReminderSent()
		}
		sent++
	}

	j.logger.Info("reminder scan complete",
		slog.Int("due_plans", len(plans)),
		slog.Int("reminders_sent", sent),
	)
	return nil
}
