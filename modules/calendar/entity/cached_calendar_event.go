package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/troy-samuels/tutor-space-sub004/core/entity"
)

// Cached event status values.
const (
	EventStatusConfirmed = "confirmed"
	EventStatusCancelled = "cancelled"
)

// CachedCalendarEvent is the durable mirror of a provider event. Live rows
// are unique on (tutor_id, provider, provider_event_id) where deleted_at is
// null; rows are only ever soft-deleted.
type CachedCalendarEvent struct {
	entity.BaseEntity
	TutorID          uuid.UUID  `db:"tutor_id" json:"tutor_id"`
	Provider         string     `db:"provider" json:"provider"`
	CalendarEmail    string     `db:"calendar_email" json:"calendar_email"`
	ProviderEventID  string     `db:"provider_event_id" json:"provider_event_id"`
	CalendarID       string     `db:"calendar_id" json:"calendar_id"`
	StartTime        time.Time  `db:"start_time" json:"start_time"`
	EndTime          time.Time  `db:"end_time" json:"end_time"`
	Summary          string     `db:"summary" json:"summary"`
	Status           string     `db:"status" json:"status"`
	RecurringEventID *string    `db:"recurring_event_id" json:"recurring_event_id"`
	AllDay           bool       `db:"all_day" json:"all_day"`
	LastSeenAt       time.Time  `db:"last_seen_at" json:"last_seen_at"`
	DeletedAt        *time.Time `db:"deleted_at" json:"-"`
}

func (CachedCalendarEvent) TableName() string {
	return "cached_calendar_events"
}
