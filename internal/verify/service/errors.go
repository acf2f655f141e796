package service

import (
	"errors"
	"fmt"
)

// Verification error taxonomy. Provider and transport errors are mapped to
// these at the manager boundary; raw provider errors never reach the
// presentation layer. Errors that invalidate the current challenge
// (ErrCodeExpired, ErrTooManyAttempts, ErrResolverSessionInvalid) force a
// return to the initial state; all others leave the same challenge
// retryable.
var (
	ErrNoAuthenticatedSession  = errors.New("no authenticated session")
	ErrChallengeDeliveryFailed = errors.New("challenge delivery failed")
	ErrInvalidCode             = errors.New("invalid verification code")
	ErrCodeExpired             = errors.New("verification code expired")
	ErrTooManyAttempts         = errors.New("too many failed attempts")
	ErrPhoneMismatch           = errors.New("phone number does not match the issued challenge")
	ErrChallengeNotFound       = errors.New("no outstanding verification challenge")
	ErrResolverSessionInvalid  = errors.New("second-factor session is no longer valid")
	ErrWidgetUnavailable       = errors.New("challenge widget unavailable")

	// ErrConfirmationFailed covers provider confirmation failures with no
	// more specific signal, including a challenge torn down under the flow
	// by a competing create.
	ErrConfirmationFailed = errors.New("confirmation failed")

	// ErrFlowCanceled reports that the flow was canceled while a call was in
	// flight; the late result has been discarded.
	ErrFlowCanceled = errors.New("verification flow canceled")
)

// ErrDeliveryUnknown reports that the delivery call timed out before the
// gateway acknowledged; the challenge record remains valid, unlike a
// definite delivery failure. Wraps ErrChallengeDeliveryFailed so callers
// matching the base taxonomy still catch it.
var ErrDeliveryUnknown = fmt.Errorf("delivery outcome unknown: %w", ErrChallengeDeliveryFailed)

// UserMessage maps a taxonomy error to the single human-readable sentence
// shown to the end user. Raw provider codes and stack traces are only ever
// logged internally.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoAuthenticatedSession):
		return "You need to be signed in to add a phone number."
	case errors.Is(err, ErrDeliveryUnknown):
		return "We may not have been able to send the code. Wait a moment, then try the code or request a new one."
	case errors.Is(err, ErrChallengeDeliveryFailed):
		return "We couldn't send a verification code to that number. Please check it and try again."
	case errors.Is(err, ErrInvalidCode):
		return "That code isn't right. Please check it and try again."
	case errors.Is(err, ErrCodeExpired):
		return "That code has expired. Please request a new one."
	case errors.Is(err, ErrTooManyAttempts):
		return "Too many incorrect attempts. Please request a new code."
	case errors.Is(err, ErrPhoneMismatch):
		return "The phone number changed since the code was sent. Please request a new code."
	case errors.Is(err, ErrChallengeNotFound):
		return "Please request a new code."
	case errors.Is(err, ErrResolverSessionInvalid):
		return "Your sign-in session expired. Please sign in again."
	case errors.Is(err, ErrWidgetUnavailable):
		return "We couldn't start the verification check. Please reload and try again."
	case errors.Is(err, ErrFlowCanceled):
		return "Verification was canceled."
	default:
		return "Something went wrong. Please restart verification."
	}
}
