package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/troy-samuels/tutor-space-sub004/core/config"
	"github.com/troy-samuels/tutor-space-sub004/core/crypto"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/dto"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/entity"
)

func testCipher(t *testing.T) crypto.TokenCipher {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	cipher, err := crypto.NewTokenCipher(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	return cipher
}

func encrypt(t *testing.T, cipher crypto.TokenCipher, plaintext string) string {
	t.Helper()
	out, err := cipher.Encrypt(plaintext)
	require.NoError(t, err)
	return out
}

func setTestConfig(t *testing.T) {
	t.Helper()
	config.Set(&config.Config{
		GoogleAPI:    config.GoogleAPIConfig{ClientID: "client-id", ClientSecret: "client-secret"},
		MicrosoftAPI: config.MicrosoftAPIConfig{ClientID: "ms-id", ClientSecret: "ms-secret"},
	})
	t.Cleanup(func() { config.Set(nil) })
}

func newGoogleConn(cipher crypto.TokenCipher, t *testing.T, expiresIn time.Duration, refreshToken string) *entity.CalendarConnection {
	conn := &entity.CalendarConnection{
		TutorID:        uuid.New(),
		Provider:       dto.ProviderGoogle,
		CalendarEmail:  "tutor@example.com",
		AccessToken:    encrypt(t, cipher, "current-access"),
		TokenExpiresAt: time.Now().Add(expiresIn),
		SyncStatus:     entity.SyncStatusHealthy,
		SyncEnabled:    true,
	}
	if refreshToken != "" {
		enc := encrypt(t, cipher, refreshToken)
		conn.RefreshToken = &enc
	}
	return conn
}

func TestEnsureFreshAccessTokenReturnsFreshTokenWithoutNetwork(t *testing.T) {
	setTestConfig(t)
	cipher := testCipher(t)
	conn := newGoogleConn(cipher, t, time.Hour, "refresh-1")
	repo := newFakeConnectionRepo(conn)

	svc := NewTokenService(repo, cipher, OAuthEndpoints{
		dto.ProviderGoogle: {TokenURL: "http://127.0.0.1:1/never-called"},
	})

	token, err := svc.EnsureFreshAccessToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "current-access", token)
}

func TestEnsureFreshAccessTokenMissingRefreshToken(t *testing.T) {
	setTestConfig(t)
	cipher := testCipher(t)
	conn := newGoogleConn(cipher, t, -time.Minute, "")
	repo := newFakeConnectionRepo(conn)

	svc := NewTokenService(repo, cipher, DefaultEndpoints("common"))

	token, err := svc.EnsureFreshAccessToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestEnsureFreshAccessTokenRefreshesAndPersists(t *testing.T) {
	setTestConfig(t)
	cipher := testCipher(t)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "rotated-refresh",
		})
	}))
	defer tokenSrv.Close()

	conn := newGoogleConn(cipher, t, -time.Minute, "refresh-1")
	repo := newFakeConnectionRepo(conn)

	svc := NewTokenService(repo, cipher, OAuthEndpoints{
		dto.ProviderGoogle: {TokenURL: tokenSrv.URL, AuthStyle: oauth2.AuthStyleInParams},
	})

	token, err := svc.EnsureFreshAccessToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)

	// The rotated credentials are on disk, encrypted, before the token is
	// handed out.
	stored := repo.get(conn.ID)
	require.NotNil(t, stored)
	assert.Equal(t, entity.SyncStatusHealthy, stored.SyncStatus)
	assert.Nil(t, stored.LastError)
	assert.True(t, stored.TokenExpiresAt.After(time.Now().Add(30*time.Minute)))

	access, err := cipher.Decrypt(stored.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)

	require.NotNil(t, stored.RefreshToken)
	refresh, err := cipher.Decrypt(*stored.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", refresh)
}

func TestEnsureFreshAccessTokenRejectedRefreshMarksError(t *testing.T) {
	setTestConfig(t)
	cipher := testCipher(t)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer tokenSrv.Close()

	conn := newGoogleConn(cipher, t, -time.Minute, "revoked-refresh")
	repo := newFakeConnectionRepo(conn)

	svc := NewTokenService(repo, cipher, OAuthEndpoints{
		dto.ProviderGoogle: {TokenURL: tokenSrv.URL, AuthStyle: oauth2.AuthStyleInParams},
	})

	token, err := svc.EnsureFreshAccessToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Empty(t, token)

	stored := repo.get(conn.ID)
	require.NotNil(t, stored)
	assert.Equal(t, entity.SyncStatusError, stored.SyncStatus)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "400")
}

func TestEnsureFreshAccessTokenStaleRefreshCannotClobberNewerToken(t *testing.T) {
	setTestConfig(t)
	cipher := testCipher(t)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "slow-access",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "slow-rotated-refresh",
		})
	}))
	defer tokenSrv.Close()

	// The caller holds an expired snapshot, but a concurrent refresh already
	// persisted newer credentials with a rotated refresh token.
	conn := newGoogleConn(cipher, t, -time.Minute, "refresh-1")
	repo := newFakeConnectionRepo(conn)

	winner := *conn
	winner.AccessToken = encrypt(t, cipher, "winner-access")
	rotated := encrypt(t, cipher, "winner-refresh")
	winner.RefreshToken = &rotated
	winner.TokenExpiresAt = time.Now().Add(2 * time.Hour)
	require.NoError(t, repo.UpdateTokens(context.Background(), &winner))

	svc := NewTokenService(repo, cipher, OAuthEndpoints{
		dto.ProviderGoogle: {TokenURL: tokenSrv.URL, AuthStyle: oauth2.AuthStyleInParams},
	})

	token, err := svc.EnsureFreshAccessToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "slow-access", token)

	// The winner's rotated refresh token survives; persisting the slower
	// exchange would have stored a refresh token the provider already
	// invalidated.
	stored := repo.get(conn.ID)
	require.NotNil(t, stored)
	assert.True(t, stored.TokenExpiresAt.After(time.Now().Add(90*time.Minute)))

	refresh, err := cipher.Decrypt(*stored.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "winner-refresh", refresh)

	access, err := cipher.Decrypt(stored.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "winner-access", access)
}

func TestEnsureFreshAccessTokenUnknownProvider(t *testing.T) {
	setTestConfig(t)
	cipher := testCipher(t)
	conn := newGoogleConn(cipher, t, -time.Minute, "refresh-1")
	conn.Provider = "caldav"
	repo := newFakeConnectionRepo(conn)

	svc := NewTokenService(repo, cipher, DefaultEndpoints("common"))

	token, err := svc.EnsureFreshAccessToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Empty(t, token)
}
