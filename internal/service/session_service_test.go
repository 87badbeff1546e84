package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idguard/api/internal/ids"
	"idguard/api/internal/models"
	"idguard/api/internal/security"
)

func newSessionService(store *fakeStore, at time.Time) *SessionService {
	return &SessionService{
		reads:  fakeSessions{store},
		writes: fakeSessions{store},
		users:  store,
		cfg:    testConfig(),
		log:    zerolog.Nop(),
		now:    func() time.Time { return at },
	}
}

func seedUser(store *fakeStore, status models.UserStatus) models.User {
	user := models.User{
		ID:     ids.New(),
		Email:  "alice@example.com",
		Role:   models.UserRoleUser,
		Status: status,
	}
	store.users[user.ID] = user
	return user
}

func TestSessionCreate(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newSessionService(store, now)
	user := seedUser(store, models.UserStatusActive)

	tokens, err := svc.Create(context.Background(), CreateSessionInput{
		UserID:   user.ID,
		DeviceID: "device-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, tokens.RefreshToken)
	require.NotEmpty(t, tokens.AccessToken)

	stored := store.sessions[tokens.Session.ID]
	assert.True(t, security.TokenEqual(stored.RefreshTokenHash, security.HashToken(tokens.RefreshToken)))
	assert.Equal(t, now.Add(testConfig().Security.SessionTTL), stored.ExpiresAt)

	claims, err := security.ParseAccessToken(tokens.AccessToken, testConfig().Security.JWTAccessSecret)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, tokens.Session.ID, claims.SessionID)
	assert.Equal(t, "device-1", claims.DeviceID)

	assert.Contains(t, store.auditActions(), models.AuditSessionCreated)
}

func TestSessionCreateEnforcesLimit(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newSessionService(store, now)
	user := seedUser(store, models.UserStatusActive)

	for i := 0; i < testConfig().Security.MaxSessions+2; i++ {
		_, err := svc.Create(context.Background(), CreateSessionInput{UserID: user.ID, DeviceID: ids.New()})
		require.NoError(t, err)
	}

	active, err := svc.ListActive(context.Background(), user.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(active), testConfig().Security.MaxSessions)
}

func TestSessionRefreshRotates(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newSessionService(store, now)
	user := seedUser(store, models.UserStatusActive)

	tokens, err := svc.Create(context.Background(), CreateSessionInput{UserID: user.ID, DeviceID: "d"})
	require.NoError(t, err)

	rotated, err := svc.Refresh(context.Background(), tokens.RefreshToken, "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, tokens.Session.ID, rotated.Session.ID)

	// The rotated token works.
	again, err := svc.Refresh(context.Background(), rotated.RefreshToken, "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.NotEqual(t, rotated.RefreshToken, again.RefreshToken)
}

func TestSessionRefreshStaleTokenKillsSession(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newSessionService(store, now)
	user := seedUser(store, models.UserStatusActive)

	tokens, err := svc.Create(context.Background(), CreateSessionInput{UserID: user.ID, DeviceID: "d"})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), tokens.RefreshToken, "1.2.3.4", "ua")
	require.NoError(t, err)

	// Replaying the pre-rotation token is treated as hijack evidence.
	_, err = svc.Refresh(context.Background(), tokens.RefreshToken, "6.6.6.6", "ua")
	assert.ErrorIs(t, err, ErrSessionRevoked)

	session := store.sessions[tokens.Session.ID]
	assert.True(t, session.Revoked)
	assert.Contains(t, store.auditActions(), models.AuditSessionReuseDetected)
}

func TestSessionRefreshDeadSessions(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newSessionService(store, now)
	user := seedUser(store, models.UserStatusActive)

	t.Run("unknown token", func(t *testing.T) {
		_, err := svc.Refresh(context.Background(), "no-such-token", "", "")
		assert.ErrorIs(t, err, ErrSessionInvalid)
	})

	t.Run("revoked", func(t *testing.T) {
		tokens, err := svc.Create(context.Background(), CreateSessionInput{UserID: user.ID, DeviceID: "d"})
		require.NoError(t, err)
		require.NoError(t, svc.Revoke(context.Background(), tokens.Session.ID, "test", Actor{UserID: user.ID}))

		_, err = svc.Refresh(context.Background(), tokens.RefreshToken, "", "")
		assert.ErrorIs(t, err, ErrSessionRevoked)
	})

	t.Run("expired", func(t *testing.T) {
		token, hash, err := security.NewOpaqueToken(security.DefaultTokenBytes)
		require.NoError(t, err)
		store.sessions["expired"] = models.Session{
			ID:               "expired",
			UserID:           user.ID,
			RefreshTokenHash: hash,
			ExpiresAt:        now.Add(-time.Minute),
		}

		_, err = svc.Refresh(context.Background(), token, "", "")
		assert.ErrorIs(t, err, ErrSessionExpired)
	})
}

func TestSessionRefreshSuspendedUser(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newSessionService(store, now)
	user := seedUser(store, models.UserStatusActive)

	tokens, err := svc.Create(context.Background(), CreateSessionInput{UserID: user.ID, DeviceID: "d"})
	require.NoError(t, err)

	user.Status = models.UserStatusSuspended
	store.users[user.ID] = user

	_, err = svc.Refresh(context.Background(), tokens.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrUserSuspended)
}

func TestSessionRefreshFailureLeavesTokenUsable(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newSessionService(store, now)
	user := seedUser(store, models.UserStatusActive)

	tokens, err := svc.Create(context.Background(), CreateSessionInput{UserID: user.ID, DeviceID: "d"})
	require.NoError(t, err)

	// Make the user lookup fail mid-refresh.
	delete(store.users, user.ID)

	_, err = svc.Refresh(context.Background(), tokens.RefreshToken, "", "")
	require.Error(t, err)

	session := store.sessions[tokens.Session.ID]
	assert.True(t, security.TokenEqual(session.RefreshTokenHash, security.HashToken(tokens.RefreshToken)),
		"a failed refresh must not rotate the stored hash")
	assert.False(t, session.Revoked)

	// The client's retry with the same token succeeds once the failure
	// clears, instead of being flagged as a replay.
	store.users[user.ID] = user
	_, err = svc.Refresh(context.Background(), tokens.RefreshToken, "", "")
	assert.NoError(t, err)
}

func TestSessionParallelRefreshSingleWinner(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newSessionService(store, now)
	user := seedUser(store, models.UserStatusActive)

	tokens, err := svc.Create(context.Background(), CreateSessionInput{UserID: user.ID, DeviceID: "d"})
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Refresh(context.Background(), tokens.RefreshToken, "", "")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrSessionRevoked)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent refresh may rotate the token")
}

func TestSessionRevokeIdempotent(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newSessionService(store, now)
	user := seedUser(store, models.UserStatusActive)

	tokens, err := svc.Create(context.Background(), CreateSessionInput{UserID: user.ID, DeviceID: "d"})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), tokens.Session.ID, "logout", Actor{UserID: user.ID}))
	require.NoError(t, svc.Revoke(context.Background(), tokens.Session.ID, "logout", Actor{UserID: user.ID}))

	revocations := 0
	for _, action := range store.auditActions() {
		if action == models.AuditSessionRevoked {
			revocations++
		}
	}
	assert.Equal(t, 1, revocations, "second revoke is a silent no-op")
}

func TestSessionRevokeUnknown(t *testing.T) {
	store := newFakeStore()
	svc := newSessionService(store, time.Now())

	err := svc.Revoke(context.Background(), "missing", "x", Actor{})
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSessionRevokeAllForUser(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newSessionService(store, now)
	user := seedUser(store, models.UserStatusActive)

	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), CreateSessionInput{UserID: user.ID, DeviceID: ids.New()})
		require.NoError(t, err)
	}

	revoked, err := svc.RevokeAllForUser(context.Background(), user.ID, "password change", Actor{UserID: user.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 3, revoked)

	active, err := svc.ListActive(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}
