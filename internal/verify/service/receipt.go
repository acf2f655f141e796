package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gigharbour/phonefactor/pkg/idx"
)

// ReceiptClaims is the payload of a verification receipt: a compact signed
// claim that an account proved possession of a phone number for a purpose.
type ReceiptClaims struct {
	PhoneNumber string `json:"phone_number"`
	Purpose     string `json:"purpose"`
	jwt.RegisteredClaims
}

// ReceiptSigner mints and verifies HS256 verification receipts. The secret
// is shared with the subsystems that consume the receipts.
type ReceiptSigner struct {
	Secret []byte
	Issuer string
	TTL    time.Duration

	// Now is replaceable for tests.
	Now func() time.Time
}

func (s *ReceiptSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *ReceiptSigner) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return 24 * time.Hour
}

// Sign mints a receipt for (accountID, phoneNumber, purpose).
func (s *ReceiptSigner) Sign(accountID, phoneNumber, purpose string) (string, error) {
	if len(s.Secret) == 0 {
		return "", errors.New("receipt signer has no secret configured")
	}

	now := s.now()
	claims := ReceiptClaims{
		PhoneNumber: phoneNumber,
		Purpose:     purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        idx.New().String(),
			Issuer:    s.Issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl())),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign verification receipt: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a receipt, returning its claims.
func (s *ReceiptSigner) Verify(receipt string) (*ReceiptClaims, error) {
	claims := &ReceiptClaims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.Issuer),
	)

	_, err := parser.ParseWithClaims(receipt, claims, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid verification receipt: %w", err)
	}
	return claims, nil
}
