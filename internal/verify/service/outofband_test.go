package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gigharbour/phonefactor/internal/verify/store"
)

func newOutOfBandPair(t *testing.T) (*OutOfBandIssuer, *OutOfBandConfirmer, *fakeSMS, *fakeClock) {
	t.Helper()

	challenges := newChallengeStore(t)
	factors := newFactorsStore(t)
	clk := newFakeClock()
	sms := newFakeSMS()

	issuer := &OutOfBandIssuer{
		Challenges: challenges,
		SMS:        sms,
		Now:        clk.Now,
	}
	confirmer := &OutOfBandConfirmer{
		Challenges: challenges,
		Factors:    factors,
		Purpose:    "hosting",
		Now:        clk.Now,
		Receipts: &ReceiptSigner{
			Secret: []byte("test-receipt-secret"),
			Issuer: "phonefactor-test",
			Now:    clk.Now,
		},
	}
	return issuer, confirmer, sms, clk
}

func TestOutOfBandHappyPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issuer, confirmer, sms, clk := newOutOfBandPair(t)

	res, err := issuer.Issue(ctx, IssueRequest{AccountID: "u1", PhoneNumber: "+15550000001"})
	require.NoError(t, err)
	require.Equal(t, "+15550000001", res.Challenge.PhoneNumber)
	require.Equal(t, clk.Now().Add(10*time.Minute), res.Challenge.ExpiresAt)
	require.Empty(t, res.Challenge.Attempts)

	code := extractCode(t, sms.lastMessage(t))

	out, err := confirmer.Confirm(ctx, ConfirmRequest{Challenge: res.Challenge, Code: code})
	require.NoError(t, err)
	require.Equal(t, "u1", out.Credential.UID)
	require.NotEmpty(t, out.Receipt)

	claims, err := confirmer.Receipts.Verify(out.Receipt)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "+15550000001", claims.PhoneNumber)
	require.Equal(t, "hosting", claims.Purpose)

	verified, err := confirmer.Factors.IsPhoneVerified(ctx, "u1", "+15550000001", "hosting")
	require.NoError(t, err)
	require.True(t, verified)

	// The record is consumed; retrying the same code finds nothing.
	_, err = confirmer.Confirm(ctx, ConfirmRequest{Challenge: res.Challenge, Code: code})
	require.ErrorIs(t, err, ErrChallengeNotFound)
}

// Scenario: four wrong codes are retryable, the fifth destroys the record.
func TestOutOfBandAttemptLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issuer, confirmer, sms, _ := newOutOfBandPair(t)

	res, err := issuer.Issue(ctx, IssueRequest{AccountID: "u1", PhoneNumber: "+15550000001"})
	require.NoError(t, err)

	code := extractCode(t, sms.lastMessage(t))
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 1; i <= 4; i++ {
		_, err := confirmer.Confirm(ctx, ConfirmRequest{Challenge: res.Challenge, Code: wrong})
		require.ErrorIs(t, err, ErrInvalidCode, "attempt %d", i)

		stored, err := issuer.Challenges.GetChallenge(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, i, stored.Attempts)
	}

	_, err = confirmer.Confirm(ctx, ConfirmRequest{Challenge: res.Challenge, Code: wrong})
	require.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = issuer.Challenges.GetChallenge(ctx, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Monotonicity: the next attempt reports a missing challenge, not an
	// invalid code.
	_, err = confirmer.Confirm(ctx, ConfirmRequest{Challenge: res.Challenge, Code: code})
	require.ErrorIs(t, err, ErrChallengeNotFound)
}

// Scenario: the originally correct code is useless after the window closes.
func TestOutOfBandExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issuer, confirmer, sms, clk := newOutOfBandPair(t)

	res, err := issuer.Issue(ctx, IssueRequest{AccountID: "u1", PhoneNumber: "+15550000001"})
	require.NoError(t, err)

	code := extractCode(t, sms.lastMessage(t))

	clk.Advance(11 * time.Minute)

	_, err = confirmer.Confirm(ctx, ConfirmRequest{Challenge: res.Challenge, Code: code})
	require.ErrorIs(t, err, ErrCodeExpired)

	// Expiry deletes the record; a second attempt on the same handle finds
	// nothing.
	_, err = confirmer.Confirm(ctx, ConfirmRequest{Challenge: res.Challenge, Code: code})
	require.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestOutOfBandPhoneMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issuer, confirmer, sms, _ := newOutOfBandPair(t)

	res, err := issuer.Issue(ctx, IssueRequest{AccountID: "u1", PhoneNumber: "+15550000001"})
	require.NoError(t, err)

	code := extractCode(t, sms.lastMessage(t))

	// The user changed the number mid-flow without re-issuing.
	tampered := res.Challenge
	tampered.PhoneNumber = "+15550000002"

	_, err = confirmer.Confirm(ctx, ConfirmRequest{Challenge: tampered, Code: code})
	require.ErrorIs(t, err, ErrPhoneMismatch)

	// The stored challenge survives a mismatch; the original flow can still
	// confirm.
	_, err = confirmer.Confirm(ctx, ConfirmRequest{Challenge: res.Challenge, Code: code})
	require.NoError(t, err)
}

func TestOutOfBandDeliveryFailureDeletesRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issuer, _, sms, _ := newOutOfBandPair(t)
	sms.err = errors.New("gateway rejected the number")

	_, err := issuer.Issue(ctx, IssueRequest{AccountID: "u1", PhoneNumber: "+15550000001"})
	require.ErrorIs(t, err, ErrChallengeDeliveryFailed)
	require.NotErrorIs(t, err, ErrDeliveryUnknown)

	// Implicit cleanup: a later confirmation finds "not found", not a stale
	// code.
	_, err = issuer.Challenges.GetChallenge(ctx, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestOutOfBandDeliveryNotAcknowledged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issuer, _, sms, _ := newOutOfBandPair(t)
	sms.ack = false

	_, err := issuer.Issue(ctx, IssueRequest{AccountID: "u1", PhoneNumber: "+15550000001"})
	require.ErrorIs(t, err, ErrChallengeDeliveryFailed)

	_, err = issuer.Challenges.GetChallenge(ctx, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestOutOfBandDeliveryTimeoutKeepsRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issuer, _, sms, _ := newOutOfBandPair(t)
	sms.blockOn = true
	issuer.SendTimeout = 50 * time.Millisecond

	res, err := issuer.Issue(ctx, IssueRequest{AccountID: "u1", PhoneNumber: "+15550000001"})
	require.ErrorIs(t, err, ErrDeliveryUnknown)
	require.ErrorIs(t, err, ErrChallengeDeliveryFailed)

	// The persisted challenge rides along with the error so the flow can
	// still confirm against it.
	require.Equal(t, "+15550000001", res.Challenge.PhoneNumber)
	require.NotEmpty(t, res.Challenge.ID)

	// Outcome unknown is distinct from "definitely not sent": the record
	// stays valid.
	stored, err := issuer.Challenges.GetChallenge(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "+15550000001", stored.PhoneNumber)
}

func TestOutOfBandRejectsBadPhoneNumbers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issuer, _, _, _ := newOutOfBandPair(t)

	_, err := issuer.Issue(ctx, IssueRequest{AccountID: "u1", PhoneNumber: "555-CALL-ME"})
	require.ErrorIs(t, err, ErrChallengeDeliveryFailed)
}

func TestOutOfBandResendThrottle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issuer, _, _, _ := newOutOfBandPair(t)
	issuer.ResendEvery = time.Hour
	issuer.ResendBurst = 2

	for range 2 {
		_, err := issuer.Issue(ctx, IssueRequest{AccountID: "u1", PhoneNumber: "+15550000001"})
		require.NoError(t, err)
	}

	_, err := issuer.Issue(ctx, IssueRequest{AccountID: "u1", PhoneNumber: "+15550000001"})
	require.ErrorIs(t, err, ErrChallengeDeliveryFailed)

	// The throttle is per account.
	_, err = issuer.Issue(ctx, IssueRequest{AccountID: "u2", PhoneNumber: "+15550000002"})
	require.NoError(t, err)
}

func TestReceiptRoundTrip(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	signer := &ReceiptSigner{
		Secret: []byte("test-receipt-secret"),
		Issuer: "phonefactor-test",
		TTL:    time.Hour,
		Now:    clk.Now,
	}

	receipt, err := signer.Sign("u1", "+15551234567", "hosting")
	require.NoError(t, err)

	claims, err := signer.Verify(receipt)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)

	// Tampered receipts and expired receipts are rejected.
	_, err = signer.Verify(receipt + "x")
	require.Error(t, err)

	clk.Advance(2 * time.Hour)
	_, err = signer.Verify(receipt)
	require.Error(t, err)
}
