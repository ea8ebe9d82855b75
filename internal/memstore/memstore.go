// Package memstore is an in-memory implementation of the event, registration,
// notification and user stores. Every conditional update is applied under one lock,
// matching the single-statement guarantees of the Postgres repositories.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campuspass/backend/internal/auth"
	"github.com/campuspass/backend/internal/events"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/internal/notifications"
	"github.com/campuspass/backend/internal/registrations"
)

// DB holds all tables.
type DB struct {
	mu            sync.Mutex
	users         map[uuid.UUID]models.User
	events        map[uuid.UUID]models.Event
	registrations map[uuid.UUID]models.Registration
	notifications map[uuid.UUID]models.Notification
	clock         func() time.Time
}

// New creates an empty store.
func New() *DB {
	return &DB{
		users:         map[uuid.UUID]models.User{},
		events:        map[uuid.UUID]models.Event{},
		registrations: map[uuid.UUID]models.Registration{},
		notifications: map[uuid.UUID]models.Notification{},
		clock:         time.Now,
	}
}

// Events returns the event table view.
func (db *DB) Events() *EventStore { return &EventStore{db: db} }

// Registrations returns the registration table view.
func (db *DB) Registrations() *RegistrationStore { return &RegistrationStore{db: db} }

// Notifications returns the notification table view.
func (db *DB) Notifications() *NotificationStore { return &NotificationStore{db: db} }

// Users returns the user table view.
func (db *DB) Users() *UserStore { return &UserStore{db: db} }

// now returns a strictly increasing timestamp so created_at ordering is total.
func (db *DB) now(last time.Time) time.Time {
	t := db.clock()
	if !t.After(last) {
		t = last.Add(time.Microsecond)
	}
	return t
}

// UserStore is the users table.
type UserStore struct{ db *DB }

// Add inserts u, assigning an id when it has none, and returns the stored copy.
func (s *UserStore) Add(u models.User) models.User {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = s.db.clock()
	u.UpdatedAt = u.CreatedAt
	s.db.users[u.ID] = u
	return u
}

// GetByID returns a user by ID.
func (s *UserStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &u, nil
}

// ListIDsByRole returns the ids of every user holding role.
func (s *UserStore) ListIDsByRole(_ context.Context, role models.Role) ([]uuid.UUID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var ids []uuid.UUID
	for _, u := range s.db.users {
		if u.Role == role {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

// EventStore is the events table.
type EventStore struct{ db *DB }

// Create inserts a new upcoming event.
func (s *EventStore) Create(_ context.Context, e *models.Event) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e.ID = uuid.New()
	e.CurrentRegistrations = 0
	if e.Status == "" {
		e.Status = models.EventStatusUpcoming
	}
	e.CreatedAt = s.db.clock()
	e.UpdatedAt = e.CreatedAt
	s.db.events[e.ID] = *e
	return nil
}

// Put stores e as-is, including status and counters.
func (s *EventStore) Put(e models.Event) models.Event {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	s.db.events[e.ID] = e
	return e
}

// GetByID returns an event by ID.
func (s *EventStore) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.events[id]
	if !ok {
		return nil, events.ErrEventNotFound
	}
	return &e, nil
}

// List returns events ordered by date. An empty status lists every event.
func (s *EventStore) List(_ context.Context, status models.EventStatus) ([]models.Event, error) {
	return s.filter(func(e models.Event) bool { return status == "" || e.Status == status }), nil
}

// Update overwrites the admin-editable fields.
func (s *EventStore) Update(_ context.Context, e *models.Event) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cur, ok := s.db.events[e.ID]
	if !ok {
		return events.ErrEventNotFound
	}
	if e.Capacity < cur.CurrentRegistrations {
		return events.ErrCapacityBelowRegistrations
	}
	cur.Title, cur.Description, cur.Date, cur.Venue, cur.Capacity, cur.PosterURL =
		e.Title, e.Description, e.Date, e.Venue, e.Capacity, e.PosterURL
	cur.UpdatedAt = s.db.clock()
	s.db.events[e.ID] = cur
	*e = cur
	return nil
}

// SetPoster stores the poster URL of an event.
func (s *EventStore) SetPoster(_ context.Context, id uuid.UUID, url string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.events[id]
	if !ok {
		return events.ErrEventNotFound
	}
	e.PosterURL = url
	s.db.events[id] = e
	return nil
}

// reserve takes one seat if the event is open and not full. The caller holds db.mu.
func (db *DB) reserve(id uuid.UUID, now time.Time) (*models.Event, error) {
	e, ok := db.events[id]
	if !ok {
		return nil, events.ErrEventNotFound
	}
	if !e.OpenForRegistration(now) {
		return nil, events.ErrEventClosed
	}
	if e.IsFull() {
		return nil, events.ErrEventFull
	}
	e.CurrentRegistrations++
	db.events[id] = e
	return &e, nil
}

// release gives back one seat, never going below zero. The caller holds db.mu.
func (db *DB) release(id uuid.UUID) {
	if e, ok := db.events[id]; ok && e.CurrentRegistrations > 0 {
		e.CurrentRegistrations--
		db.events[id] = e
	}
}

// ListDueForPromotion returns upcoming events whose start time has been reached.
func (s *EventStore) ListDueForPromotion(_ context.Context, now time.Time) ([]models.Event, error) {
	return s.filter(func(e models.Event) bool {
		return e.Status == models.EventStatusUpcoming && !e.Date.After(now)
	}), nil
}

// Promote moves an upcoming event to ongoing.
func (s *EventStore) Promote(_ context.Context, id uuid.UUID) (bool, error) {
	return s.transition(id, models.EventStatusUpcoming, func(e *models.Event) { e.Status = models.EventStatusOngoing }), nil
}

// ListDueForCompletion returns ongoing events whose start time has passed.
func (s *EventStore) ListDueForCompletion(_ context.Context, now time.Time) ([]models.Event, error) {
	return s.filter(func(e models.Event) bool {
		return e.Status == models.EventStatusOngoing && e.Date.Before(now)
	}), nil
}

// Complete moves an ongoing event to completed and schedules its deletion.
func (s *EventStore) Complete(_ context.Context, id uuid.UUID, deleteAt time.Time) (bool, error) {
	return s.transition(id, models.EventStatusOngoing, func(e *models.Event) {
		e.Status = models.EventStatusCompleted
		e.ScheduledForDeletion = &deleteAt
	}), nil
}

// ListDueForPurge returns events whose scheduled deletion time has been reached.
func (s *EventStore) ListDueForPurge(_ context.Context, now time.Time) ([]models.Event, error) {
	return s.filter(func(e models.Event) bool {
		return e.ScheduledForDeletion != nil && !e.ScheduledForDeletion.After(now)
	}), nil
}

// ListStartingBetween returns upcoming events starting in [from, to].
func (s *EventStore) ListStartingBetween(_ context.Context, from, to time.Time) ([]models.Event, error) {
	return s.filter(func(e models.Event) bool {
		return e.Status == models.EventStatusUpcoming && !e.Date.Before(from) && !e.Date.After(to)
	}), nil
}

// Purge deletes an event and its registrations and marks its notifications deleted.
func (s *EventStore) Purge(_ context.Context, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.events[id]; !ok {
		return events.ErrEventNotFound
	}
	for rid, r := range s.db.registrations {
		if r.EventID == id {
			delete(s.db.registrations, rid)
		}
	}
	for nid, n := range s.db.notifications {
		if n.EventID != nil && *n.EventID == id {
			n.Deleted = true
			s.db.notifications[nid] = n
		}
	}
	delete(s.db.events, id)
	return nil
}

func (s *EventStore) transition(id uuid.UUID, from models.EventStatus, apply func(*models.Event)) bool {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.events[id]
	if !ok || e.Status != from {
		return false
	}
	apply(&e)
	s.db.events[id] = e
	return true
}

func (s *EventStore) filter(keep func(models.Event) bool) []models.Event {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var list []models.Event
	for _, e := range s.db.events {
		if keep(e) {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
	return list
}

// RegistrationStore is the registrations table.
type RegistrationStore struct{ db *DB }

// Insert stores a registration row without touching the event's seat counter.
// Tests use it to seed rosters.
func (s *RegistrationStore) Insert(_ context.Context, reg *models.Registration) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.insertRegistration(reg)
}

// Create stores reg and takes its seat as one step.
func (s *RegistrationStore) Create(_ context.Context, reg *models.Registration, now time.Time) (*models.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, r := range s.db.registrations {
		if r.StudentID == reg.StudentID && r.EventID == reg.EventID {
			return nil, registrations.ErrAlreadyRegistered
		}
	}
	e, err := s.db.reserve(reg.EventID, now)
	if err != nil {
		return nil, err
	}
	if err := s.db.insertRegistration(reg); err != nil {
		s.db.release(reg.EventID)
		return nil, err
	}
	return e, nil
}

func (db *DB) insertRegistration(reg *models.Registration) error {
	var last time.Time
	for _, r := range db.registrations {
		if r.StudentID == reg.StudentID && r.EventID == reg.EventID {
			return registrations.ErrAlreadyRegistered
		}
		if r.CreatedAt.After(last) {
			last = r.CreatedAt
		}
	}
	reg.ID = uuid.New()
	reg.Scanned = false
	reg.CreatedAt = db.now(last)
	db.registrations[reg.ID] = *reg
	return nil
}

// GetByID returns a registration by ID.
func (s *RegistrationStore) GetByID(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.registrations[id]
	if !ok {
		return nil, registrations.ErrRegistrationNotFound
	}
	return &r, nil
}

// GetByStudentAndEvent returns the registration of a student for an event.
func (s *RegistrationStore) GetByStudentAndEvent(_ context.Context, studentID, eventID uuid.UUID) (*models.Registration, error) {
	r, ok := s.find(func(r models.Registration) bool { return r.StudentID == studentID && r.EventID == eventID })
	if !ok {
		return nil, registrations.ErrRegistrationNotFound
	}
	return &r, nil
}

// FindByToken returns the registration matching the claim and the exact stored token.
func (s *RegistrationStore) FindByToken(_ context.Context, studentID, eventID uuid.UUID, token string) (*models.Registration, error) {
	r, ok := s.find(func(r models.Registration) bool {
		return r.StudentID == studentID && r.EventID == eventID && r.Token == token
	})
	if !ok {
		return nil, registrations.ErrRegistrationNotFound
	}
	return &r, nil
}

// MarkScanned records attendance only if the registration is still unscanned.
func (s *RegistrationStore) MarkScanned(_ context.Context, id, scannedBy uuid.UUID, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.registrations[id]
	if !ok || r.Scanned {
		return false, nil
	}
	r.Scanned = true
	r.ScannedAt = &at
	r.ScannedBy = &scannedBy
	s.db.registrations[id] = r
	return true, nil
}

// Withdraw deletes an unscanned registration and gives its seat back as one step.
func (s *RegistrationStore) Withdraw(_ context.Context, id, eventID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.registrations[id]
	if !ok || r.EventID != eventID {
		return registrations.ErrRegistrationNotFound
	}
	if r.Scanned {
		return registrations.ErrCannotCancelScanned
	}
	delete(s.db.registrations, id)
	s.db.release(eventID)
	return nil
}

// ListByStudent returns a student's registrations with their event, newest first.
func (s *RegistrationStore) ListByStudent(_ context.Context, studentID uuid.UUID) ([]models.RegistrationWithEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var list []models.RegistrationWithEvent
	for _, r := range s.newestFirst(func(r models.Registration) bool { return r.StudentID == studentID }) {
		e, ok := s.db.events[r.EventID]
		if !ok {
			continue
		}
		list = append(list, models.RegistrationWithEvent{Registration: r, Event: e.Summary()})
	}
	return list, nil
}

// ListByEvent returns an event's registrations with their student, newest first.
func (s *RegistrationStore) ListByEvent(_ context.Context, eventID uuid.UUID) ([]models.RegistrationWithStudent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var list []models.RegistrationWithStudent
	for _, r := range s.newestFirst(func(r models.Registration) bool { return r.EventID == eventID }) {
		u := s.db.users[r.StudentID]
		list = append(list, models.RegistrationWithStudent{
			Registration: r,
			Student: models.StudentSummary{
				ID:            r.StudentID,
				Name:          u.Name,
				Email:         u.Email,
				RollNumber:    u.RollNumber,
				ProfilePicURL: u.ProfilePicURL,
			},
		})
	}
	return list, nil
}

// ListStudentIDsByEvent returns the students registered for an event.
func (s *RegistrationStore) ListStudentIDsByEvent(_ context.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var ids []uuid.UUID
	for _, r := range s.newestFirst(func(r models.Registration) bool { return r.EventID == eventID }) {
		ids = append(ids, r.StudentID)
	}
	return ids, nil
}

// CountByEvent returns how many students registered for an event and how many were scanned in.
func (s *RegistrationStore) CountByEvent(_ context.Context, eventID uuid.UUID) (total, scanned int, err error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, r := range s.db.registrations {
		if r.EventID != eventID {
			continue
		}
		total++
		if r.Scanned {
			scanned++
		}
	}
	return total, scanned, nil
}

// Count returns how many registrations an event has.
func (s *RegistrationStore) Count(eventID uuid.UUID) int {
	ids, _ := s.ListStudentIDsByEvent(context.Background(), eventID)
	return len(ids)
}

func (s *RegistrationStore) find(match func(models.Registration) bool) (models.Registration, bool) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, r := range s.db.registrations {
		if match(r) {
			return r, true
		}
	}
	return models.Registration{}, false
}

// newestFirst must be called with the lock held.
func (s *RegistrationStore) newestFirst(keep func(models.Registration) bool) []models.Registration {
	var list []models.Registration
	for _, r := range s.db.registrations {
		if keep(r) {
			list = append(list, r)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list
}

// NotificationStore is the notifications table.
type NotificationStore struct{ db *DB }

// Insert stores a new notification.
func (s *NotificationStore) Insert(_ context.Context, n *models.Notification) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = s.db.clock()
	s.db.notifications[n.ID] = *n
	return nil
}

// ListByUser returns a user's notifications, live ones first, newest first within each group.
func (s *NotificationStore) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Notification, error) {
	list := s.filter(func(n models.Notification) bool { return n.UserID == userID })
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Deleted != list[j].Deleted {
			return !list[i].Deleted
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

// ListByEvent returns every notification referencing an event.
func (s *NotificationStore) ListByEvent(eventID uuid.UUID) []models.Notification {
	return s.filter(func(n models.Notification) bool { return n.EventID != nil && *n.EventID == eventID })
}

// MarkRead marks one of userID's notifications read.
func (s *NotificationStore) MarkRead(_ context.Context, id, userID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n, ok := s.db.notifications[id]
	if !ok || n.UserID != userID {
		return notifications.ErrNotificationNotFound
	}
	n.Read = true
	s.db.notifications[id] = n
	return nil
}

// MarkAllRead marks every unread notification of userID read.
func (s *NotificationStore) MarkAllRead(_ context.Context, userID uuid.UUID) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var changed int64
	for id, n := range s.db.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			s.db.notifications[id] = n
			changed++
		}
	}
	return changed, nil
}

func (s *NotificationStore) filter(keep func(models.Notification) bool) []models.Notification {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var list []models.Notification
	for _, n := range s.db.notifications {
		if keep(n) {
			list = append(list, n)
		}
	}
	return list
}
