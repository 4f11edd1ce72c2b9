package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/troy-samuels/tutor-space-sub004/core/crypto"
	coreerrors "github.com/troy-samuels/tutor-space-sub004/core/errors"
	"github.com/troy-samuels/tutor-space-sub004/core/logger"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/dto"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/entity"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/repository"
)

// CalendarService manages the lifecycle of a tutor's calendar connections.
type CalendarService interface {
	SaveConnection(ctx context.Context, tutorID uuid.UUID, req *dto.SaveConnectionRequest) (*dto.CalendarConnectionResponse, error)
	GetConnections(ctx context.Context, tutorID uuid.UUID) (*dto.CalendarConnectionListResponse, error)
	DisableConnection(ctx context.Context, tutorID uuid.UUID, provider string) error
}

type calendarService struct {
	connRepo repository.ConnectionRepository
	cipher   crypto.TokenCipher
}

func NewCalendarService(connRepo repository.ConnectionRepository, cipher crypto.TokenCipher) CalendarService {
	return &calendarService{connRepo: connRepo, cipher: cipher}
}

// SaveConnection stores the OAuth consent result. One connection exists per
// (tutor, provider); reconnecting replaces the stored tokens and resets the
// sync state so a previously errored connection recovers.
func (s *calendarService) SaveConnection(ctx context.Context, tutorID uuid.UUID, req *dto.SaveConnectionRequest) (*dto.CalendarConnectionResponse, error) {
	if req.Provider != dto.ProviderGoogle && req.Provider != dto.ProviderOutlook {
		return nil, coreerrors.NewAppError(coreerrors.ErrInvalidInput, "unsupported calendar provider: "+req.Provider, nil)
	}
	if req.AccessToken == "" {
		return nil, coreerrors.NewAppError(coreerrors.ErrInvalidInput, "access token is required", nil)
	}

	encAccess, err := s.cipher.Encrypt(req.AccessToken)
	if err != nil {
		return nil, coreerrors.NewAppError(coreerrors.ErrInternalServer, "failed to encrypt access token", err)
	}

	var encRefresh *string
	if req.RefreshToken != "" {
		enc, err := s.cipher.Encrypt(req.RefreshToken)
		if err != nil {
			return nil, coreerrors.NewAppError(coreerrors.ErrInternalServer, "failed to encrypt refresh token", err)
		}
		encRefresh = &enc
	}

	existing, err := s.connRepo.GetByTutorAndProvider(ctx, tutorID, req.Provider)
	if err != nil {
		return nil, coreerrors.NewAppError(coreerrors.ErrDatabaseError, "failed to load calendar connection", err)
	}

	if existing != nil {
		existing.CalendarEmail = req.CalendarEmail
		existing.AccessToken = encAccess
		if encRefresh != nil {
			existing.RefreshToken = encRefresh
		}
		existing.TokenExpiresAt = req.ExpiresAt.UTC()
		existing.SyncStatus = entity.SyncStatusIdle
		existing.SyncEnabled = true
		existing.LastError = nil
		if err := s.connRepo.UpdateTokens(ctx, existing); err != nil {
			return nil, coreerrors.NewAppError(coreerrors.ErrDatabaseError, "failed to update calendar connection", err)
		}
		logger.Info("calendar connection refreshed", "tutor_id", tutorID, "provider", req.Provider)
		return connectionResponse(existing), nil
	}

	conn := &entity.CalendarConnection{
		TutorID:        tutorID,
		Provider:       req.Provider,
		CalendarEmail:  req.CalendarEmail,
		AccessToken:    encAccess,
		RefreshToken:   encRefresh,
		TokenExpiresAt: req.ExpiresAt.UTC(),
		SyncStatus:     entity.SyncStatusIdle,
		SyncEnabled:    true,
	}
	created, err := s.connRepo.Create(ctx, conn)
	if err != nil {
		return nil, coreerrors.NewAppError(coreerrors.ErrDatabaseError, "failed to create calendar connection", err)
	}
	logger.Info("calendar connection created", "tutor_id", tutorID, "provider", req.Provider)
	return connectionResponse(created), nil
}

func (s *calendarService) GetConnections(ctx context.Context, tutorID uuid.UUID) (*dto.CalendarConnectionListResponse, error) {
	connections, err := s.connRepo.GetByTutor(ctx, tutorID)
	if err != nil {
		return nil, coreerrors.NewAppError(coreerrors.ErrDatabaseError, "failed to list calendar connections", err)
	}

	resp := &dto.CalendarConnectionListResponse{
		Connections: make([]dto.CalendarConnectionResponse, 0, len(connections)),
	}
	for i := range connections {
		resp.Connections = append(resp.Connections, *connectionResponse(&connections[i]))
	}
	return resp, nil
}

// DisableConnection stops syncing and erases the stored tokens. Cached
// events are kept; they age out of relevance through the staleness checks.
func (s *calendarService) DisableConnection(ctx context.Context, tutorID uuid.UUID, provider string) error {
	existing, err := s.connRepo.GetByTutorAndProvider(ctx, tutorID, provider)
	if err != nil {
		return coreerrors.NewAppError(coreerrors.ErrDatabaseError, "failed to load calendar connection", err)
	}
	if existing == nil {
		return coreerrors.NewAppError(coreerrors.ErrNotFound, "no calendar connection for provider "+provider, nil)
	}
	if err := s.connRepo.Disable(ctx, tutorID, provider); err != nil {
		return coreerrors.NewAppError(coreerrors.ErrDatabaseError, "failed to disable calendar connection", err)
	}
	logger.Info("calendar connection disabled", "tutor_id", tutorID, "provider", provider)
	return nil
}

func connectionResponse(conn *entity.CalendarConnection) *dto.CalendarConnectionResponse {
	return &dto.CalendarConnectionResponse{
		ID:            conn.ID.String(),
		Provider:      conn.Provider,
		CalendarEmail: conn.CalendarEmail,
		SyncStatus:    conn.SyncStatus,
		SyncEnabled:   conn.SyncEnabled,
		LastSyncedAt:  conn.LastSyncedAt,
		LastError:     conn.LastError,
		ConnectedAt:   conn.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
