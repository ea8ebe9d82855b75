// Package worker runs background jobs taken from the Redis queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/pkg/queue"
)

// EventNotification is the realtime event carrying a new notification.
const EventNotification = "notification"

// NotificationStore persists in-app notifications.
type NotificationStore interface {
	Insert(ctx context.Context, n *models.Notification) error
}

// UserLookup resolves a recipient's email address.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Pusher delivers an event to a user's live sessions.
type Pusher interface {
	PushToUser(userID uuid.UUID, event string, payload interface{})
}

// Mailer sends one email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// JobQueue is the job source.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// NotificationProcessor processes notification jobs: store the row, push it live, email it.
type NotificationProcessor struct {
	store   NotificationStore
	users   UserLookup
	pusher  Pusher
	mailer  Mailer
	queue   JobQueue
	backoff time.Duration
	logger  *zap.Logger
}

// NewNotificationProcessor creates a notification processor. pusher and mailer may be nil.
func NewNotificationProcessor(store NotificationStore, users UserLookup, pusher Pusher, mailer Mailer, q JobQueue, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{
		store:   store,
		users:   users,
		pusher:  pusher,
		mailer:  mailer,
		queue:   q,
		backoff: queue.RetryBackoff,
		logger:  logger,
	}
}

// Process executes one notification job. Only a failed insert is retried; push and
// email are best-effort once the row exists.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeNotification {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.NotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.RecipientID == uuid.Nil {
		return errors.New("notification without recipient")
	}

	typ := models.NotificationType(payload.Type)
	if !typ.Valid() {
		typ = models.NotificationOther
	}
	n := &models.Notification{
		UserID:  payload.RecipientID,
		Message: payload.Message,
		Type:    typ,
		EventID: payload.EventID,
	}
	if err := p.store.Insert(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if p.pusher != nil {
		p.pusher.PushToUser(n.UserID, EventNotification, n)
	}
	if payload.Subject != "" && p.mailer != nil {
		p.email(ctx, n, payload.Subject)
	}

	p.logger.Debug("notification delivered", zap.String("notification_id", n.ID.String()), zap.String("user_id", n.UserID.String()))
	return nil
}

func (p *NotificationProcessor) email(ctx context.Context, n *models.Notification, subject string) {
	u, err := p.users.GetByID(ctx, n.UserID)
	if err != nil {
		p.logger.Warn("notification email skipped: recipient lookup failed", zap.String("user_id", n.UserID.String()), zap.Error(err))
		return
	}
	body := fmt.Sprintf("Hello %s,\n\n%s\n", u.Name, n.Message)
	if err := p.mailer.Send(ctx, u.Email, subject, body); err != nil {
		p.logger.Warn("notification email failed", zap.String("user_id", n.UserID.String()), zap.Error(err))
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *NotificationProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notification worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *NotificationProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
