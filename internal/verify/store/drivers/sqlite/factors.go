package sqlite

import (
	"context"
	"time"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
)

func (s *Store) CreateFactor(ctx context.Context, f domain.EnrolledFactor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrolled_factors (id, account_id, phone_number, label, enrolled_at)
		VALUES (?, ?, ?, ?, ?)
	`, f.ID, f.AccountID, f.PhoneNumber, f.Label, f.EnrolledAt.UTC().Format(time.RFC3339))
	return mapConstraint(err)
}

func (s *Store) ListFactorsByAccount(ctx context.Context, accountID string) ([]domain.EnrolledFactor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, phone_number, label, enrolled_at
		FROM enrolled_factors
		WHERE account_id = ?
		ORDER BY enrolled_at ASC, id ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var factors []domain.EnrolledFactor
	for rows.Next() {
		var f domain.EnrolledFactor
		var enrolledAt string
		if err := rows.Scan(&f.ID, &f.AccountID, &f.PhoneNumber, &f.Label, &enrolledAt); err != nil {
			return nil, err
		}
		f.EnrolledAt, err = time.Parse(time.RFC3339, enrolledAt)
		if err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	return factors, rows.Err()
}

func (s *Store) DeleteFactor(ctx context.Context, factorID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM enrolled_factors WHERE id = ?`, factorID)
	return err
}

func (s *Store) MarkPhoneVerified(ctx context.Context, v domain.PhoneVerification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phone_verifications (account_id, phone_number, purpose, verified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id, phone_number, purpose)
		DO UPDATE SET verified_at = excluded.verified_at
	`, v.AccountID, v.PhoneNumber, v.Purpose, v.VerifiedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) IsPhoneVerified(ctx context.Context, accountID, phoneNumber, purpose string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM phone_verifications
		WHERE account_id = ? AND phone_number = ? AND purpose = ?
	`, accountID, phoneNumber, purpose).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
