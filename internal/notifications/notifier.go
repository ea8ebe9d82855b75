package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/pkg/queue"
)

// Notice is a message to deliver to one or more users.
type Notice struct {
	Message string
	Type    models.NotificationType
	EventID *uuid.UUID
	// Subject, when set, also sends the notice by email.
	Subject string
}

// Notifier delivers a notice to a single recipient.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, n Notice) error
}

// Broadcaster fans notices out without blocking the caller. Delivery failures are
// logged and never reported back.
type Broadcaster interface {
	ToUsers(ids []uuid.UUID, n Notice)
	ToRole(role models.Role, n Notice)
	ToAttendees(eventID uuid.UUID, n Notice)
}

// Enqueuer accepts notification jobs.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, payload queue.NotificationPayload) error
}

// QueueNotifier hands notices to the background worker through the Redis job queue.
type QueueNotifier struct {
	queue Enqueuer
}

// NewQueueNotifier creates a notifier backed by q.
func NewQueueNotifier(q Enqueuer) *QueueNotifier {
	return &QueueNotifier{queue: q}
}

// Notify enqueues a notification job for recipientID.
func (n *QueueNotifier) Notify(ctx context.Context, recipientID uuid.UUID, notice Notice) error {
	err := n.queue.EnqueueNotification(ctx, queue.NotificationPayload{
		RecipientID: recipientID,
		Message:     notice.Message,
		Type:        string(notice.Type),
		EventID:     notice.EventID,
		Subject:     notice.Subject,
	})
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// RecipientLister resolves every user holding a role.
type RecipientLister interface {
	ListIDsByRole(ctx context.Context, role models.Role) ([]uuid.UUID, error)
}

// AttendeeLister resolves the students registered for an event.
type AttendeeLister interface {
	ListStudentIDsByEvent(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error)
}

// Fanout is the Broadcaster used by the API. Each broadcast runs in its own goroutine
// with a fresh context, so it outlives the request that triggered it.
type Fanout struct {
	notifier  Notifier
	users     RecipientLister
	attendees AttendeeLister
	timeout   time.Duration
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewFanout creates a broadcaster. timeout bounds each lookup and each Notify call.
func NewFanout(notifier Notifier, users RecipientLister, attendees AttendeeLister, timeout time.Duration, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Fanout{notifier: notifier, users: users, attendees: attendees, timeout: timeout, logger: logger}
}

// ToUsers notifies each id.
func (f *Fanout) ToUsers(ids []uuid.UUID, n Notice) {
	f.dispatch("users", n, func(context.Context) ([]uuid.UUID, error) { return ids, nil })
}

// ToRole notifies every user with role.
func (f *Fanout) ToRole(role models.Role, n Notice) {
	f.dispatch("role:"+string(role), n, func(ctx context.Context) ([]uuid.UUID, error) {
		return f.users.ListIDsByRole(ctx, role)
	})
}

// ToAttendees notifies every student registered for eventID.
func (f *Fanout) ToAttendees(eventID uuid.UUID, n Notice) {
	f.dispatch("event:"+eventID.String(), n, func(ctx context.Context) ([]uuid.UUID, error) {
		return f.attendees.ListStudentIDsByEvent(ctx, eventID)
	})
}

// Wait blocks until every in-flight broadcast has finished.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

func (f *Fanout) dispatch(target string, n Notice, resolve func(context.Context) ([]uuid.UUID, error)) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		ids, err := resolve(ctx)
		cancel()
		if err != nil {
			f.logger.Warn("resolve notification recipients failed", zap.String("target", target), zap.Error(err))
			return
		}

		failed := 0
		for _, id := range ids {
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			if err := f.notifier.Notify(ctx, id, n); err != nil {
				failed++
				f.logger.Warn("notify failed", zap.String("recipient_id", id.String()), zap.Error(err))
			}
			cancel()
		}
		f.logger.Debug("broadcast done",
			zap.String("target", target),
			zap.String("type", string(n.Type)),
			zap.Int("recipients", len(ids)),
			zap.Int("failed", failed),
		)
	}()
}

// Discard drops every notice. It is the default when no broadcaster is configured.
type Discard struct{}

func (Discard) ToUsers([]uuid.UUID, Notice)   {}
func (Discard) ToRole(models.Role, Notice)    {}
func (Discard) ToAttendees(uuid.UUID, Notice) {}
