package dto

import (
	"time"

	"github.com/google/uuid"
)

// Provider constants
const (
	ProviderGoogle  = "google"
	ProviderOutlook = "outlook"
)

// ProviderLabel returns the human label shown in the tutor's unified view.
func ProviderLabel(provider string) string {
	switch provider {
	case ProviderGoogle:
		return "Google Calendar"
	case ProviderOutlook:
		return "Outlook Calendar"
	default:
		return provider
	}
}

// ========== Busy Window DTOs ==========

// TimeWindow is an immutable UTC busy interval.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BusyWindowsResponse is served to the slot-availability computation.
type BusyWindowsResponse struct {
	Windows []TimeWindow `json:"windows"`
}

// BusyWindowsReport adds per-provider sync health for the tutor-facing UI.
// Stale providers were served from cache older than the freshness threshold;
// unverified providers fell back to cache because the live call failed.
type BusyWindowsReport struct {
	Windows             []TimeWindow `json:"windows"`
	StaleProviders      []string     `json:"stale_providers"`
	UnverifiedProviders []string     `json:"unverified_providers"`
}

// CalendarEventView is one row of the tutor's unified calendar view.
type CalendarEventView struct {
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`
	Source string    `json:"source"`
}

// ========== Connection DTOs ==========

// SaveConnectionRequest carries the OAuth consent result for a provider.
type SaveConnectionRequest struct {
	Provider      string    `json:"provider" validate:"required"`
	CalendarEmail string    `json:"calendar_email"`
	AccessToken   string    `json:"access_token" validate:"required"`
	RefreshToken  string    `json:"refresh_token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// CalendarConnectionResponse is the sanitized connection view. Tokens never
// leave the service layer.
type CalendarConnectionResponse struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	CalendarEmail string     `json:"calendar_email"`
	SyncStatus    string     `json:"sync_status"`
	SyncEnabled   bool       `json:"sync_enabled"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	LastError     *string    `json:"last_error"`
	ConnectedAt   string     `json:"connected_at"`
}

type CalendarConnectionListResponse struct {
	Connections []CalendarConnectionResponse `json:"connections"`
}

// ========== Mirror DTOs ==========

// BookingEventParams is the booking lifecycle notification consumed by the
// event mirror on create/update/cancel.
type BookingEventParams struct {
	BookingID     uuid.UUID  `json:"booking_id"`
	TutorID       uuid.UUID  `json:"tutor_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Location      string     `json:"location"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Timezone      string     `json:"timezone"`
	StudentEmail  string     `json:"student_email"`
	PreviousStart *time.Time `json:"previous_start,omitempty"`
	PreviousEnd   *time.Time `json:"previous_end,omitempty"`

	// ForceCreate bypasses the create idempotency guard.
	ForceCreate bool `json:"force_create,omitempty"`
	// CreateIfMissing re-creates a mirrored event that the provider no
	// longer has (update path only).
	CreateIfMissing bool `json:"create_if_missing,omitempty"`
}

// MirrorResult reports a best-effort mirror outcome to the booking workflow.
type MirrorResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
