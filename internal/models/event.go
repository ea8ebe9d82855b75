package models

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the lifecycle state of an event. Only the sweeper advances it.
type EventStatus string

const (
	EventStatusUpcoming  EventStatus = "upcoming"
	EventStatusOngoing   EventStatus = "ongoing"
	EventStatusCompleted EventStatus = "completed"
	// EventStatusArchived is reserved for manual archival; no automatic transition reaches it.
	EventStatusArchived EventStatus = "archived"
)

// Event is a published college event.
type Event struct {
	ID                   uuid.UUID   `json:"id"`
	Title                string      `json:"title"`
	Description          string      `json:"description"`
	Date                 time.Time   `json:"date"`
	Venue                string      `json:"venue"`
	Capacity             int         `json:"capacity"`
	CurrentRegistrations int         `json:"current_registrations"`
	PosterURL            string      `json:"poster_url"`
	CreatedBy            uuid.UUID   `json:"created_by"`
	Status               EventStatus `json:"status"`
	ScheduledForDeletion *time.Time  `json:"scheduled_for_deletion,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// IsFull reports whether the event has no seats left.
func (e *Event) IsFull() bool {
	return e.CurrentRegistrations >= e.Capacity
}

// OpenForRegistration reports whether a new registration may be accepted at now.
func (e *Event) OpenForRegistration(now time.Time) bool {
	return e.Status == EventStatusUpcoming && e.Date.After(now)
}

// Summary returns the fields shown next to a student's pass.
func (e *Event) Summary() EventSummary {
	return EventSummary{
		ID:        e.ID,
		Title:     e.Title,
		Date:      e.Date,
		Venue:     e.Venue,
		PosterURL: e.PosterURL,
		Status:    e.Status,
	}
}

// EventSummary is the subset of an event embedded in registration listings.
type EventSummary struct {
	ID        uuid.UUID   `json:"id"`
	Title     string      `json:"title"`
	Date      time.Time   `json:"date"`
	Venue     string      `json:"venue"`
	PosterURL string      `json:"poster_url,omitempty"`
	Status    EventStatus `json:"status"`
}
