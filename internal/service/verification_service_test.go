package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idguard/api/internal/models"
	"idguard/api/internal/notify"
)

func newVerificationService(store *fakeStore, clock *time.Time) *VerificationService {
	return &VerificationService{
		reads:  fakeVerifications{store},
		writes: fakeVerifications{store},
		users:  store,
		sender: notify.NopSender{},
		cfg:    testConfig(),
		log:    zerolog.Nop(),
		now:    func() time.Time { return *clock },
	}
}

func TestVerificationIssueAndVerify(t *testing.T) {
	store := newFakeStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newVerificationService(store, &clock)
	user := seedUser(store, models.UserStatusPending)

	issued, err := svc.Issue(context.Background(), IssueVerificationInput{
		UserID:  user.ID,
		Purpose: models.PurposeEmailVerify,
		Payload: user.Email,
	})
	require.NoError(t, err)
	require.NotEmpty(t, issued.Challenge)
	require.Len(t, issued.Proof, 8)

	payload, err := svc.Verify(context.Background(), issued.Challenge, issued.Proof)
	require.NoError(t, err)
	assert.Equal(t, user.Email, payload)

	token := store.verifications[issued.Token.ID]
	assert.NotNil(t, token.UsedAt)
	assert.Equal(t, []models.AuditAction{models.AuditVerificationIssued, models.AuditVerificationConsumed}, store.auditActions())
}

func TestVerificationIssueSupersedesPrevious(t *testing.T) {
	store := newFakeStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newVerificationService(store, &clock)
	user := seedUser(store, models.UserStatusPending)

	first, err := svc.Issue(context.Background(), IssueVerificationInput{UserID: user.ID, Purpose: models.PurposeEmailVerify})
	require.NoError(t, err)
	second, err := svc.Issue(context.Background(), IssueVerificationInput{UserID: user.ID, Purpose: models.PurposeEmailVerify})
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), first.Challenge, first.Proof)
	assert.ErrorIs(t, err, ErrTokenNotFound, "superseded token is dead even with the right proof")

	_, err = svc.Verify(context.Background(), second.Challenge, second.Proof)
	assert.NoError(t, err)
}

func TestVerificationIssueKeepsOtherPurposes(t *testing.T) {
	store := newFakeStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newVerificationService(store, &clock)
	user := seedUser(store, models.UserStatusActive)

	email, err := svc.Issue(context.Background(), IssueVerificationInput{UserID: user.ID, Purpose: models.PurposeEmailVerify})
	require.NoError(t, err)
	_, err = svc.Issue(context.Background(), IssueVerificationInput{UserID: user.ID, Purpose: models.PurposeTwoFactor})
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), email.Challenge, email.Proof)
	assert.NoError(t, err, "a two-factor issue must not retire the email token")
}

func TestVerificationWrongProof(t *testing.T) {
	store := newFakeStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newVerificationService(store, &clock)
	user := seedUser(store, models.UserStatusPending)

	issued, err := svc.Issue(context.Background(), IssueVerificationInput{UserID: user.ID, Purpose: models.PurposeEmailVerify})
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), issued.Challenge, "00000000")
	assert.ErrorIs(t, err, ErrProofMismatch)
	assert.Equal(t, 1, store.verifications[issued.Token.ID].Attempts)

	// The failed attempt does not burn the token.
	_, err = svc.Verify(context.Background(), issued.Challenge, issued.Proof)
	assert.NoError(t, err)
}

func TestVerificationAttemptExhaustion(t *testing.T) {
	store := newFakeStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newVerificationService(store, &clock)
	user := seedUser(store, models.UserStatusPending)
	limit := testConfig().Security.MaxVerificationAttempts

	issued, err := svc.Issue(context.Background(), IssueVerificationInput{UserID: user.ID, Purpose: models.PurposeEmailVerify})
	require.NoError(t, err)

	for i := 1; i < limit; i++ {
		_, err := svc.Verify(context.Background(), issued.Challenge, "00000000")
		assert.ErrorIs(t, err, ErrProofMismatch, "attempt %d", i)
	}

	// The failure that spends the last attempt already reports exhaustion.
	_, err = svc.Verify(context.Background(), issued.Challenge, "00000000")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	// Exhaustion is permanent: the correct proof no longer helps.
	_, err = svc.Verify(context.Background(), issued.Challenge, issued.Proof)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestVerificationCorrectProofOnLastAttempt(t *testing.T) {
	store := newFakeStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newVerificationService(store, &clock)
	user := seedUser(store, models.UserStatusPending)
	limit := testConfig().Security.MaxVerificationAttempts

	issued, err := svc.Issue(context.Background(), IssueVerificationInput{UserID: user.ID, Purpose: models.PurposeEmailVerify})
	require.NoError(t, err)

	for i := 1; i < limit; i++ {
		_, err := svc.Verify(context.Background(), issued.Challenge, "00000000")
		require.ErrorIs(t, err, ErrProofMismatch)
	}

	_, err = svc.Verify(context.Background(), issued.Challenge, issued.Proof)
	assert.NoError(t, err, "the final attempt may still succeed with the right proof")
}

func TestVerificationExpired(t *testing.T) {
	store := newFakeStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newVerificationService(store, &clock)
	user := seedUser(store, models.UserStatusPending)

	issued, err := svc.Issue(context.Background(), IssueVerificationInput{UserID: user.ID, Purpose: models.PurposeEmailVerify})
	require.NoError(t, err)

	clock = clock.Add(testConfig().Security.VerificationTokenTTL + time.Second)

	_, err = svc.Verify(context.Background(), issued.Challenge, issued.Proof)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerificationSingleUse(t *testing.T) {
	store := newFakeStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newVerificationService(store, &clock)
	user := seedUser(store, models.UserStatusPending)

	issued, err := svc.Issue(context.Background(), IssueVerificationInput{UserID: user.ID, Purpose: models.PurposeEmailVerify})
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), issued.Challenge, issued.Proof)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), issued.Challenge, issued.Proof)
	assert.ErrorIs(t, err, ErrTokenUsed)
}

func TestVerificationUnknownChallenge(t *testing.T) {
	store := newFakeStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newVerificationService(store, &clock)

	_, err := svc.Verify(context.Background(), "bogus", "00000000")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestVerificationConcurrentAttemptsStayBounded(t *testing.T) {
	store := newFakeStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newVerificationService(store, &clock)
	user := seedUser(store, models.UserStatusPending)

	issued, err := svc.Issue(context.Background(), IssueVerificationInput{UserID: user.ID, Purpose: models.PurposeEmailVerify})
	require.NoError(t, err)

	const probes = 20
	var wg sync.WaitGroup
	for i := 0; i < probes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Verify(context.Background(), issued.Challenge, "99999999")
		}()
	}
	wg.Wait()

	// Every probe is counted, none slips past the increment.
	assert.Equal(t, probes, store.verifications[issued.Token.ID].Attempts)

	_, err = svc.Verify(context.Background(), issued.Challenge, issued.Proof)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}
