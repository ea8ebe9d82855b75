package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/internal/notifications"
	"github.com/campuspass/backend/pkg/database"
)

const (
	reminderLead   = 24 * time.Hour
	reminderWindow = 30 * time.Minute
	reminderKeyTTL = 48 * time.Hour
)

// UpcomingLister finds events about to start.
type UpcomingLister interface {
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]models.Event, error)
}

// Deduper claims a key once across all instances.
type Deduper interface {
	SetOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Reminder tells registered students about events starting in about a day.
type Reminder struct {
	events    UpcomingLister
	broadcast notifications.Broadcaster
	dedupe    Deduper
	timeout   time.Duration
	logger    *zap.Logger
}

// NewReminder creates a reminder job. dedupe may be nil on a single instance.
func NewReminder(events UpcomingLister, broadcast notifications.Broadcaster, dedupe Deduper, timeout time.Duration, logger *zap.Logger) *Reminder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broadcast == nil {
		broadcast = notifications.Discard{}
	}
	return &Reminder{events: events, broadcast: broadcast, dedupe: dedupe, timeout: timeout, logger: logger}
}

// RunOnce reminds attendees of every upcoming event starting within 24h +/- 30m of now
// and returns how many events were announced.
func (r *Reminder) RunOnce(ctx context.Context, now time.Time) int {
	from := now.Add(reminderLead - reminderWindow)
	to := now.Add(reminderLead + reminderWindow)

	lctx, cancel := database.Bounded(ctx, r.timeout)
	list, err := r.events.ListStartingBetween(lctx, from, to)
	cancel()
	if err != nil {
		r.logger.Error("list events for reminders failed", zap.Error(database.Timeout(err)))
		return 0
	}

	sent := 0
	for _, e := range list {
		if !r.claim(ctx, e.ID.String()) {
			continue
		}
		id := e.ID
		r.broadcast.ToAttendees(id, notifications.Notice{
			Message: fmt.Sprintf("Reminder: %s starts on %s at %s. See you there!", e.Title, e.Date.Format(time.RFC1123), e.Venue),
			Type:    models.NotificationReminder,
			EventID: &id,
			Subject: "Reminder: Upcoming Event - " + e.Title,
		})
		sent++
	}
	if sent > 0 {
		r.logger.Info("event reminders sent", zap.Int("events", sent))
	}
	return sent
}

// claim reports whether this run owns the reminder for an event. A dedupe outage
// errs on the side of sending.
func (r *Reminder) claim(ctx context.Context, eventID string) bool {
	if r.dedupe == nil {
		return true
	}
	ctx, cancel := database.Bounded(ctx, r.timeout)
	defer cancel()
	ok, err := r.dedupe.SetOnce(ctx, "reminder:event:"+eventID, reminderKeyTTL)
	if err != nil {
		r.logger.Warn("reminder dedupe failed", zap.String("event_id", eventID), zap.Error(err))
		return true
	}
	return ok
}
