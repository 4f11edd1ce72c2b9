package entity

import (
	"github.com/google/uuid"

	"github.com/troy-samuels/tutor-space-sub004/core/entity"
)

// BookingCalendarLink associates a booking with the provider event mirrored
// for it, one row per connected provider. ProviderEventID is denormalized so
// mirror updates do not need the event row first.
type BookingCalendarLink struct {
	entity.BaseEntity
	BookingID       uuid.UUID `db:"booking_id" json:"booking_id"`
	TutorID         uuid.UUID `db:"tutor_id" json:"tutor_id"`
	Provider        string    `db:"provider" json:"provider"`
	EventID         uuid.UUID `db:"event_id" json:"event_id"`
	ProviderEventID string    `db:"provider_event_id" json:"provider_event_id"`
}

func (BookingCalendarLink) TableName() string {
	return "booking_calendar_links"
}
