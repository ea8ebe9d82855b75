package models

import (
	"time"

	"github.com/google/uuid"
)

// Registration is a student's pass for one event (unique per student+event).
// Once Scanned is true, ScannedAt and ScannedBy are set and never change.
type Registration struct {
	ID        uuid.UUID  `json:"id"`
	StudentID uuid.UUID  `json:"student_id"`
	EventID   uuid.UUID  `json:"event_id"`
	Token     string     `json:"qr_code_data"`
	Scanned   bool       `json:"is_scanned"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
	ScannedBy *uuid.UUID `json:"scanned_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// StudentSummary is the subset of a student shown on admin rosters.
type StudentSummary struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	RollNumber    string    `json:"roll_number,omitempty"`
	ProfilePicURL string    `json:"profile_pic_url,omitempty"`
}

// RegistrationWithEvent is one row of a student's "my passes" list.
type RegistrationWithEvent struct {
	Registration
	Event EventSummary `json:"event"`
}

// RegistrationWithStudent is one row of an event roster.
type RegistrationWithStudent struct {
	Registration
	Student StudentSummary `json:"student"`
}
