package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/troy-samuels/tutor-space-sub004/core/entity"
)

// Sync status values for a calendar connection.
const (
	SyncStatusIdle    = "idle"
	SyncStatusHealthy = "healthy"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// CalendarConnection pairs a tutor with one external calendar account.
// Token columns hold ciphertext; only the token service sees plaintext.
type CalendarConnection struct {
	entity.BaseEntity
	TutorID        uuid.UUID  `db:"tutor_id" json:"tutor_id"`
	Provider       string     `db:"provider" json:"provider"` // "google" | "outlook"
	CalendarEmail  string     `db:"calendar_email" json:"calendar_email"`
	AccessToken    string     `db:"access_token" json:"-"`
	RefreshToken   *string    `db:"refresh_token" json:"-"`
	TokenExpiresAt time.Time  `db:"token_expires_at" json:"token_expires_at"`
	SyncStatus     string     `db:"sync_status" json:"sync_status"`
	SyncEnabled    bool       `db:"sync_enabled" json:"sync_enabled"`
	LastSyncedAt   *time.Time `db:"last_synced_at" json:"last_synced_at"`
	LastError      *string    `db:"last_error" json:"-"`
}

func (CalendarConnection) TableName() string {
	return "calendar_connections"
}

// Syncable reports whether the connection may be queried live.
func (c *CalendarConnection) Syncable() bool {
	if !c.SyncEnabled {
		return false
	}
	switch c.SyncStatus {
	case SyncStatusIdle, SyncStatusHealthy, SyncStatusSyncing:
		return true
	}
	return false
}
