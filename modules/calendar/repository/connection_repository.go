package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/troy-samuels/tutor-space-sub004/core/database"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/entity"
)

type ConnectionRepository interface {
	Create(ctx context.Context, conn *entity.CalendarConnection) (*entity.CalendarConnection, error)

	// GetByTutorAndProvider returns (nil, nil) when no connection exists.
	GetByTutorAndProvider(ctx context.Context, tutorID uuid.UUID, provider string) (*entity.CalendarConnection, error)
	GetByTutor(ctx context.Context, tutorID uuid.UUID) ([]entity.CalendarConnection, error)
	ListSyncableTutorIDs(ctx context.Context) ([]uuid.UUID, error)

	// UpdateTokens persists rotated credentials together with the sync
	// state in one statement, so a concurrent sync cannot interleave
	// between token and status writes.
	UpdateTokens(ctx context.Context, conn *entity.CalendarConnection) error

	// UpdateTokensIfNewer writes only while the stored expiry is older than
	// conn.TokenExpiresAt. The false return means a concurrent refresh
	// already persisted newer credentials; with providers that rotate the
	// refresh token on every exchange, letting the slower writer through
	// would store an already-invalidated refresh token.
	UpdateTokensIfNewer(ctx context.Context, conn *entity.CalendarConnection) (bool, error)
	UpdateSyncState(ctx context.Context, id uuid.UUID, status string, lastError *string, lastSyncedAt *time.Time) error

	// Disable turns sync off and erases stored tokens.
	Disable(ctx context.Context, tutorID uuid.UUID, provider string) error
}

type connectionRepository struct {
	db database.IDatabase
}

func NewConnectionRepository(db database.IDatabase) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) Create(ctx context.Context, conn *entity.CalendarConnection) (*entity.CalendarConnection, error) {
	query := `
		INSERT INTO calendar_connections
			(tutor_id, provider, calendar_email, access_token, refresh_token, token_expires_at, sync_status, sync_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(
		ctx, query,
		conn.TutorID, conn.Provider, conn.CalendarEmail, conn.AccessToken, conn.RefreshToken,
		conn.TokenExpiresAt, conn.SyncStatus, conn.SyncEnabled,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) GetByTutorAndProvider(ctx context.Context, tutorID uuid.UUID, provider string) (*entity.CalendarConnection, error) {
	query := `
		SELECT id, tutor_id, provider, calendar_email, access_token, refresh_token, token_expires_at,
		       sync_status, sync_enabled, last_synced_at, last_error, created_at, updated_at
		FROM calendar_connections
		WHERE tutor_id = $1 AND provider = $2
	`
	var conn entity.CalendarConnection
	if err := r.db.GetContext(ctx, &conn, query, tutorID, provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) GetByTutor(ctx context.Context, tutorID uuid.UUID) ([]entity.CalendarConnection, error) {
	query := `
		SELECT id, tutor_id, provider, calendar_email, access_token, refresh_token, token_expires_at,
		       sync_status, sync_enabled, last_synced_at, last_error, created_at, updated_at
		FROM calendar_connections
		WHERE tutor_id = $1
		ORDER BY created_at ASC
	`
	var connections []entity.CalendarConnection
	if err := r.db.SelectContext(ctx, &connections, query, tutorID); err != nil {
		return nil, err
	}
	return connections, nil
}

func (r *connectionRepository) ListSyncableTutorIDs(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT tutor_id
		FROM calendar_connections
		WHERE sync_enabled = true AND sync_status IN ('idle', 'healthy', 'syncing')
	`
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *connectionRepository) UpdateTokens(ctx context.Context, conn *entity.CalendarConnection) error {
	query := `
		UPDATE calendar_connections
		SET access_token = $1, refresh_token = $2, token_expires_at = $3,
		    sync_status = $4, sync_enabled = $5, last_error = $6, updated_at = NOW()
		WHERE id = $7
	`
	return r.db.ExecContext(ctx, query,
		conn.AccessToken, conn.RefreshToken, conn.TokenExpiresAt,
		conn.SyncStatus, conn.SyncEnabled, conn.LastError, conn.ID,
	)
}

func (r *connectionRepository) UpdateTokensIfNewer(ctx context.Context, conn *entity.CalendarConnection) (bool, error) {
	query := `
		UPDATE calendar_connections
		SET access_token = $1, refresh_token = $2, token_expires_at = $3,
		    sync_status = $4, sync_enabled = $5, last_error = $6, updated_at = NOW()
		WHERE id = $7 AND token_expires_at < $3
		RETURNING id
	`
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, query,
		conn.AccessToken, conn.RefreshToken, conn.TokenExpiresAt,
		conn.SyncStatus, conn.SyncEnabled, conn.LastError, conn.ID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *connectionRepository) UpdateSyncState(ctx context.Context, id uuid.UUID, status string, lastError *string, lastSyncedAt *time.Time) error {
	query := `
		UPDATE calendar_connections
		SET sync_status = $1,
		    last_error = $2,
		    last_synced_at = COALESCE($3, last_synced_at),
		    updated_at = NOW()
		WHERE id = $4
	`
	return r.db.ExecContext(ctx, query, status, lastError, lastSyncedAt, id)
}

func (r *connectionRepository) Disable(ctx context.Context, tutorID uuid.UUID, provider string) error {
	query := `
		UPDATE calendar_connections
		SET sync_enabled = false, access_token = '', refresh_token = NULL, updated_at = NOW()
		WHERE tutor_id = $1 AND provider = $2
	`
	return r.db.ExecContext(ctx, query, tutorID, provider)
}
