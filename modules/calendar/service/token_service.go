package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/troy-samuels/tutor-space-sub004/core/config"
	"github.com/troy-samuels/tutor-space-sub004/core/constants"
	"github.com/troy-samuels/tutor-space-sub004/core/crypto"
	"github.com/troy-samuels/tutor-space-sub004/core/logger"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/dto"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/entity"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/repository"
)

// OAuthEndpoints maps a provider tag to its token endpoint. Injected so
// tests can point refreshes at a local server.
type OAuthEndpoints map[string]oauth2.Endpoint

// DefaultEndpoints returns the production endpoints for the supported
// providers.
func DefaultEndpoints(tenant string) OAuthEndpoints {
	if tenant == "" {
		tenant = "common"
	}
	return OAuthEndpoints{
		dto.ProviderGoogle:  google.Endpoint,
		dto.ProviderOutlook: microsoft.AzureADEndpoint(tenant),
	}
}

// TokenService guarantees callers a usable plaintext access token, or no
// token at all. A failed or impossible refresh returns an empty token and a
// nil error: credential problems degrade, they do not propagate. Only
// unexpected transport or persistence faults surface as errors.
type TokenService interface {
	EnsureFreshAccessToken(ctx context.Context, conn *entity.CalendarConnection) (string, error)
}

type tokenService struct {
	repo      repository.ConnectionRepository
	cipher    crypto.TokenCipher
	endpoints OAuthEndpoints
}

func NewTokenService(repo repository.ConnectionRepository, cipher crypto.TokenCipher, endpoints OAuthEndpoints) TokenService {
	return &tokenService{
		repo:      repo,
		cipher:    cipher,
		endpoints: endpoints,
	}
}

func (s *tokenService) EnsureFreshAccessToken(ctx context.Context, conn *entity.CalendarConnection) (string, error) {
	// Fresh enough: decrypt and hand it back without touching the network.
	if time.Until(conn.TokenExpiresAt) > constants.TokenRefreshLeeway {
		return s.cipher.Decrypt(conn.AccessToken)
	}

	if conn.RefreshToken == nil || *conn.RefreshToken == "" {
		logger.Warn("connection has no refresh token, re-authorization required",
			"connection_id", conn.ID, "tutor_id", conn.TutorID, "provider", conn.Provider)
		return "", nil
	}

	oauthCfg, err := s.oauthConfig(conn.Provider)
	if err != nil {
		logger.Warn("no oauth configuration for provider", "provider", conn.Provider, "error", err)
		return "", nil
	}

	refreshToken, err := s.cipher.Decrypt(*conn.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, constants.TokenExchangeTimeout)
	defer cancel()

	tok, err := oauthCfg.TokenSource(exchangeCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// The provider answered and said no. Mark the connection and
			// let the caller fall back to cached data.
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			msg := fmt.Sprintf("token refresh failed with status %d: %s", status, retrieveErr.ErrorCode)
			logger.Error("token refresh rejected by provider",
				"connection_id", conn.ID, "provider", conn.Provider, "status", status)

			conn.SyncStatus = entity.SyncStatusError
			conn.LastError = &msg
			if updateErr := s.repo.UpdateSyncState(ctx, conn.ID, entity.SyncStatusError, &msg, nil); updateErr != nil {
				logger.Error("failed to persist refresh failure", "connection_id", conn.ID, "error", updateErr)
			}
			return "", nil
		}
		return "", fmt.Errorf("token refresh transport error: %w", err)
	}

	if err := s.persistRefreshedToken(ctx, conn, tok, refreshToken); err != nil {
		// The token is only returned once it is safely on disk; a crash
		// after refresh must not lose the rotated credentials.
		return "", err
	}

	return tok.AccessToken, nil
}

func (s *tokenService) persistRefreshedToken(ctx context.Context, conn *entity.CalendarConnection, tok *oauth2.Token, previousRefreshToken string) error {
	encryptedAccess, err := s.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	conn.AccessToken = encryptedAccess

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}
	conn.TokenExpiresAt = expiry

	// Some providers rotate the refresh token on every exchange.
	if tok.RefreshToken != "" && tok.RefreshToken != previousRefreshToken {
		encryptedRefresh, err := s.cipher.Encrypt(tok.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		conn.RefreshToken = &encryptedRefresh
	}

	conn.SyncStatus = entity.SyncStatusHealthy
	conn.LastError = nil

	applied, err := s.repo.UpdateTokensIfNewer(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	if !applied {
		// A concurrent refresh won the race and already stored newer
		// credentials, possibly with a rotated refresh token. Ours must not
		// overwrite them; the exchanged access token is still good to use.
		logger.Info("discarding stale refresh result",
			"connection_id", conn.ID, "provider", conn.Provider)
		return nil
	}

	logger.Info("access token refreshed",
		"connection_id", conn.ID, "tutor_id", conn.TutorID, "provider", conn.Provider,
		"expires_at", conn.TokenExpiresAt)
	return nil
}

func (s *tokenService) oauthConfig(providerName string) (*oauth2.Config, error) {
	endpoint, ok := s.endpoints[providerName]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}

	cfg, ok := config.GetSafe()
	if !ok {
		return nil, fmt.Errorf("configuration not loaded")
	}

	switch providerName {
	case dto.ProviderGoogle:
		if cfg.GoogleAPI.ClientID == "" || cfg.GoogleAPI.ClientSecret == "" {
			return nil, fmt.Errorf("google client credentials not configured")
		}
		return &oauth2.Config{
			ClientID:     cfg.GoogleAPI.ClientID,
			ClientSecret: cfg.GoogleAPI.ClientSecret,
			Endpoint:     endpoint,
		}, nil
	case dto.ProviderOutlook:
		if cfg.MicrosoftAPI.ClientID == "" || cfg.MicrosoftAPI.ClientSecret == "" {
			return nil, fmt.Errorf("microsoft client credentials not configured")
		}
		return &oauth2.Config{
			ClientID:     cfg.MicrosoftAPI.ClientID,
			ClientSecret: cfg.MicrosoftAPI.ClientSecret,
			Endpoint:     endpoint,
		}, nil
	}
	return nil, fmt.Errorf("unknown provider %q", providerName)
}
