package service

import (
	"bytes"
	"context"
	"sync"
	"time"

	"idguard/api/internal/config"
	"idguard/api/internal/models"
	"idguard/api/internal/repository"
)

// fakeStore is an in-memory stand-in for the pgx-backed store. Its
// guarded updates mirror the SQL WHERE clauses, so races resolve the
// same way they would against postgres.
type fakeStore struct {
	mu sync.Mutex

	users         map[string]models.User
	sessions      map[string]models.Session
	verifications map[string]models.VerificationToken
	resets        map[string]models.PasswordReset
	suspensions   map[string]models.Suspension
	audit         []models.AuditEntry

	// auditErr simulates the audit insert failing inside a store
	// transaction: the composition returns the error and none of its
	// staged changes land, matching the rollback of the pgx store.
	auditErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]models.User),
		sessions:      make(map[string]models.Session),
		verifications: make(map[string]models.VerificationToken),
		resets:        make(map[string]models.PasswordReset),
		suspensions:   make(map[string]models.Suspension),
	}
}

func (f *fakeStore) auditActions() []models.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]models.AuditAction, len(f.audit))
	for i, e := range f.audit {
		actions[i] = e.Action
	}
	return actions
}

// users

func (f *fakeStore) GetByID(_ context.Context, id string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (f *fakeStore) Create(_ context.Context, user models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) RecordLoginFailure(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	user.FailedLogins++
	f.users[id] = user
	return user.FailedLogins, nil
}

func (f *fakeStore) SetLockout(_ context.Context, id string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[id]
	user.LockedUntil = &until
	f.users[id] = user
	return nil
}

func (f *fakeStore) ClearLoginFailures(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[id]
	user.FailedLogins = 0
	user.LockedUntil = nil
	f.users[id] = user
	return nil
}

// audit

func (f *fakeStore) Insert(_ context.Context, e models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, e)
	return nil
}

func (f *fakeStore) ListByTarget(_ context.Context, targetUserID string, limit, offset int) ([]models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range f.audit {
		if e.TargetUserID != nil && *e.TargetUserID == targetUserID {
			out = append(out, e)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// sessions

func (f *fakeStore) GetSessionByID(_ context.Context, id string) (models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return models.Session{}, repository.ErrSessionNotFound
	}
	return session, nil
}

func (f *fakeStore) FindByTokenHash(_ context.Context, hash []byte) (models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if bytes.Equal(session.RefreshTokenHash, hash) || bytes.Equal(session.PrevTokenHash, hash) {
			return session, nil
		}
	}
	return models.Session{}, repository.ErrSessionNotFound
}

func (f *fakeStore) ListActive(_ context.Context, userID string, now time.Time) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, session := range f.sessions {
		if session.UserID == userID && session.Live(now) {
			out = append(out, session)
		}
	}
	return out, nil
}

func (f *fakeStore) CountActive(ctx context.Context, userID string, now time.Time) (int, error) {
	active, err := f.ListActive(ctx, userID, now)
	return len(active), err
}

func (f *fakeStore) RevokeOldest(_ context.Context, userID string, keepLatest int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []models.Session
	for _, session := range f.sessions {
		if session.UserID == userID && session.Live(at) {
			active = append(active, session)
		}
	}
	for len(active) > keepLatest {
		oldest := 0
		for i := range active {
			if active[i].CreatedAt.Before(active[oldest].CreatedAt) {
				oldest = i
			}
		}
		victim := active[oldest]
		victim.Revoked = true
		victim.RevokedAt = &at
		victim.RevokedReason = "session limit"
		f.sessions[victim.ID] = victim
		active = append(active[:oldest], active[oldest+1:]...)
	}
	return nil
}

func (f *fakeStore) RotateRefreshHash(_ context.Context, id string, oldHash, newHash []byte, lastUsed time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok || session.Revoked || !bytes.Equal(session.RefreshTokenHash, oldHash) {
		return false, nil
	}
	session.PrevTokenHash = session.RefreshTokenHash
	session.RefreshTokenHash = newHash
	session.LastUsedAt = lastUsed
	f.sessions[id] = session
	return true, nil
}

func (f *fakeStore) CreateSession(_ context.Context, session models.Session, audits ...models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return f.auditErr
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	f.sessions[session.ID] = session
	f.audit = append(f.audit, audits...)
	return nil
}

func (f *fakeStore) RevokeSession(_ context.Context, id, reason string, at time.Time, audit models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if !session.Revoked {
		session.Revoked = true
		session.RevokedAt = &at
		session.RevokedReason = reason
		f.sessions[id] = session
		f.audit = append(f.audit, audit)
	}
	return nil
}

func (f *fakeStore) RevokeAllSessions(_ context.Context, userID, reason string, at time.Time, audit models.AuditEntry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var revoked int64
	for id, session := range f.sessions {
		if session.UserID == userID && !session.Revoked {
			session.Revoked = true
			session.RevokedAt = &at
			session.RevokedReason = reason
			f.sessions[id] = session
			revoked++
		}
	}
	f.audit = append(f.audit, audit)
	return revoked, nil
}

// verifications

func (f *fakeStore) FindVerificationByHash(_ context.Context, hash []byte) (models.VerificationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, token := range f.verifications {
		if bytes.Equal(token.TokenHash, hash) {
			return token, nil
		}
	}
	return models.VerificationToken{}, repository.ErrVerificationNotFound
}

func (f *fakeStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.verifications[id]
	if !ok {
		return 0, repository.ErrVerificationNotFound
	}
	token.Attempts++
	f.verifications[id] = token
	return token.Attempts, nil
}

func (f *fakeStore) IssueVerification(_ context.Context, token models.VerificationToken, at time.Time, audit models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.verifications {
		if existing.UserID == token.UserID && existing.Purpose == token.Purpose &&
			existing.UsedAt == nil && existing.InvalidatedAt == nil {
			stamped := at
			existing.InvalidatedAt = &stamped
			f.verifications[id] = existing
		}
	}
	token.CreatedAt = at
	f.verifications[token.ID] = token
	f.audit = append(f.audit, audit)
	return nil
}

func (f *fakeStore) ConsumeVerification(_ context.Context, id string, at time.Time, audit models.AuditEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.verifications[id]
	if !ok || token.UsedAt != nil {
		return false, nil
	}
	token.UsedAt = &at
	f.verifications[id] = token
	f.audit = append(f.audit, audit)
	return true, nil
}

// resets

func (f *fakeStore) FindResetByHash(_ context.Context, hash []byte) (models.PasswordReset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, reset := range f.resets {
		if bytes.Equal(reset.TokenHash, hash) {
			return reset, nil
		}
	}
	return models.PasswordReset{}, repository.ErrResetNotFound
}

func (f *fakeStore) CreateReset(_ context.Context, pr models.PasswordReset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[pr.ID] = pr
	return nil
}

func (f *fakeStore) RedeemReset(_ context.Context, resetID, userID string, newHash []byte, at time.Time, audit models.AuditEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset, ok := f.resets[resetID]
	if !ok || reset.UsedAt != nil {
		return false, nil
	}
	if f.auditErr != nil {
		// The audit insert shares the redemption transaction; its
		// failure rolls back the token, the password and the sessions.
		return false, f.auditErr
	}
	reset.UsedAt = &at
	f.resets[resetID] = reset

	user := f.users[userID]
	user.PasswordHash = newHash
	f.users[userID] = user

	for id, session := range f.sessions {
		if session.UserID == userID && !session.Revoked {
			session.Revoked = true
			session.RevokedAt = &at
			session.RevokedReason = "password reset"
			f.sessions[id] = session
		}
	}

	f.audit = append(f.audit, audit)
	return true, nil
}

// suspensions

func (f *fakeStore) GetSuspensionByID(_ context.Context, id string) (models.Suspension, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	susp, ok := f.suspensions[id]
	if !ok {
		return models.Suspension{}, repository.ErrSuspensionNotFound
	}
	return susp, nil
}

func (f *fakeStore) FindActiveByUser(_ context.Context, userID string) (models.Suspension, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, susp := range f.suspensions {
		if susp.UserID == userID && susp.Active {
			return susp, nil
		}
	}
	return models.Suspension{}, repository.ErrSuspensionNotFound
}

func (f *fakeStore) ListByUser(_ context.Context, userID string) ([]models.Suspension, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Suspension
	for _, susp := range f.suspensions {
		if susp.UserID == userID {
			out = append(out, susp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListExpired(_ context.Context, now time.Time) ([]models.Suspension, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Suspension
	for _, susp := range f.suspensions {
		if susp.Active && susp.ExpiresBy(now) {
			out = append(out, susp)
		}
	}
	return out, nil
}

func (f *fakeStore) SuspendUser(_ context.Context, susp models.Suspension, at time.Time, audit models.AuditEntry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.suspensions {
		if existing.UserID == susp.UserID && existing.Active {
			return 0, repository.ErrActiveSuspensionExists
		}
	}
	f.suspensions[susp.ID] = susp

	user := f.users[susp.UserID]
	user.Status = models.UserStatusSuspended
	f.users[susp.UserID] = user

	var revoked int64
	for id, session := range f.sessions {
		if session.UserID == susp.UserID && !session.Revoked {
			session.Revoked = true
			session.RevokedAt = &at
			session.RevokedReason = "suspended"
			f.sessions[id] = session
			revoked++
		}
	}

	f.audit = append(f.audit, audit)
	return revoked, nil
}

func (f *fakeStore) FileAppeal(_ context.Context, id, reason string, at time.Time, audit *models.AuditEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	susp, ok := f.suspensions[id]
	if !ok || !susp.Active || !susp.CanAppeal || susp.HasAppealed {
		return false, nil
	}
	susp.HasAppealed = true
	susp.AppealReason = reason
	susp.AppealedAt = &at
	susp.AppealStatus = models.AppealPending
	f.suspensions[id] = susp
	if audit != nil {
		f.audit = append(f.audit, *audit)
	}
	return true, nil
}

func (f *fakeStore) ReviewAppeal(_ context.Context, susp models.Suspension, reviewerID string, status models.AppealStatus, lift bool, at time.Time, audit models.AuditEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.suspensions[susp.ID]
	if !ok || current.AppealStatus != models.AppealPending || !current.Active {
		return false, nil
	}
	current.AppealStatus = status
	current.AppealReviewedBy = &reviewerID
	current.AppealReviewedAt = &at
	if lift {
		current.Active = false
		current.LiftedAt = &at
		user := f.users[current.UserID]
		user.Status = models.UserStatusActive
		f.users[current.UserID] = user
	}
	f.suspensions[susp.ID] = current
	f.audit = append(f.audit, audit)
	return true, nil
}

func (f *fakeStore) LiftSuspension(_ context.Context, susp models.Suspension, reason string, at time.Time, audit models.AuditEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.suspensions[susp.ID]
	if !ok || !current.Active {
		return false, nil
	}
	current.Active = false
	current.LiftedAt = &at
	current.LiftedReason = reason
	f.suspensions[susp.ID] = current

	user := f.users[current.UserID]
	user.Status = models.UserStatusActive
	f.users[current.UserID] = user

	f.audit = append(f.audit, audit)
	return true, nil
}

func (f *fakeStore) ExpireSuspension(_ context.Context, susp models.Suspension, at time.Time, audit models.AuditEntry) (bool, error) {
	return f.LiftSuspension(context.Background(), susp, "expired", at, audit)
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Security: config.SecurityConfig{
			JWTAccessSecret:         "test-secret",
			JWTAccessTTL:            15 * time.Minute,
			SessionTTL:              30 * 24 * time.Hour,
			SessionRetention:        30 * 24 * time.Hour,
			MaxSessions:             3,
			MaxVerificationAttempts: 5,
			VerificationTokenTTL:    24 * time.Hour,
			ResetTokenTTL:           time.Hour,
			AppealWindowDays:        7,
			MaxFailedLogins:         5,
			LockoutDuration:         15 * time.Minute,
		},
	}
}

// Per-domain views over the shared fake. The consumer interfaces reuse
// method names across domains (GetByID, FindByHash, Create), so each
// view pins the colliding names to its own tables.

type fakeSessions struct{ *fakeStore }

func (f fakeSessions) GetByID(ctx context.Context, id string) (models.Session, error) {
	return f.GetSessionByID(ctx, id)
}

type fakeVerifications struct{ *fakeStore }

func (f fakeVerifications) FindByHash(ctx context.Context, hash []byte) (models.VerificationToken, error) {
	return f.FindVerificationByHash(ctx, hash)
}

type fakeResets struct{ *fakeStore }

func (f fakeResets) FindByHash(ctx context.Context, hash []byte) (models.PasswordReset, error) {
	return f.FindResetByHash(ctx, hash)
}

func (f fakeResets) Create(ctx context.Context, pr models.PasswordReset) error {
	return f.CreateReset(ctx, pr)
}

type fakeSuspensions struct{ *fakeStore }

func (f fakeSuspensions) GetByID(ctx context.Context, id string) (models.Suspension, error) {
	return f.GetSuspensionByID(ctx, id)
}
