package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypePaymentReminderScan is the periodic scan for payment plans due soon.
	TaskTypePaymentReminderScan = "payments:reminder_scan"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewPaymentReminderScanTask constructs the recurring reminder scan task. The
// scan carries no payload; the job reads its window from configuration.
func NewPaymentReminderScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypePaymentReminderScan, nil)
}

// NewSendEmailHandler returns a handler that delivers TaskTypeSendEmail tasks
// through the given mailer. A malformed payload is dropped without retry;
// delivery failures are retried by the queue.
func NewSendEmailHandler(mailer Mailer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := mailer.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
			logger.Error("send email", slog.Any("error", err), slog.String("to", payload.To))
			return err
		}
		logger.Info("email sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
		return nil
	}
}
