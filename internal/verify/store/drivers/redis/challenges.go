package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
	"github.com/gigharbour/phonefactor/internal/verify/store"
)

type challengeRecord struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	PhoneNumber string    `json:"phone_number"`
	CodeHash    string    `json:"code_hash"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
}

func toRecord(c domain.VerificationChallenge) challengeRecord {
	return challengeRecord{
		ID:          c.ID,
		AccountID:   c.AccountID,
		PhoneNumber: c.PhoneNumber,
		CodeHash:    c.CodeHash,
		IssuedAt:    c.IssuedAt,
		ExpiresAt:   c.ExpiresAt,
		Attempts:    c.Attempts,
		MaxAttempts: c.MaxAttempts,
	}
}

func (r challengeRecord) toDomain() domain.VerificationChallenge {
	return domain.VerificationChallenge{
		ID:          r.ID,
		Handle:      r.ID,
		AccountID:   r.AccountID,
		PhoneNumber: r.PhoneNumber,
		CodeHash:    r.CodeHash,
		IssuedAt:    r.IssuedAt,
		ExpiresAt:   r.ExpiresAt,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
	}
}

func (s *Store) CreateChallenge(ctx context.Context, c domain.VerificationChallenge) error {
	raw, err := json.Marshal(toRecord(c))
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(c.AccountID), raw, s.backstopTTL(c.ExpiresAt)).Err()
}

func (s *Store) GetChallenge(ctx context.Context, accountID string) (domain.VerificationChallenge, error) {
	raw, err := s.rdb.Get(ctx, key(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.VerificationChallenge{}, store.ErrNotFound
		}
		return domain.VerificationChallenge{}, err
	}

	var rec challengeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.VerificationChallenge{}, err
	}
	return rec.toDomain(), nil
}

// incrementRetries bounds optimistic-lock retries when concurrent
// confirmations race on the same record. Generous: each losing round means
// another writer committed, so the loop settles quickly.
const incrementRetries = 100

func (s *Store) IncrementChallengeAttempts(ctx context.Context, accountID string) (domain.VerificationChallenge, error) {
	k := key(accountID)
	var out domain.VerificationChallenge

	// WATCH makes the read-modify-write atomic: if another confirmation
	// rewrites the record between Get and Set, the transaction fails and is
	// retried, so no attempt is ever lost.
	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return store.ErrNotFound
			}
			return err
		}

		var rec challengeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}

		rec.Attempts++
		raw, err = json.Marshal(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// KeepTTL preserves the backstop expiry set at creation.
			pipe.Set(ctx, k, raw, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}

		out = rec.toDomain()
		return nil
	}

	for range incrementRetries {
		err := s.rdb.Watch(ctx, txn, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.VerificationChallenge{}, err
		}
		return out, nil
	}
	return domain.VerificationChallenge{}, redis.TxFailedErr
}

func (s *Store) DeleteChallenge(ctx context.Context, accountID string) error {
	return s.rdb.Del(ctx, key(accountID)).Err()
}

func (s *Store) DeleteExpiredChallenges(ctx context.Context) error {
	now := time.Now()

	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()

		raw, err := s.rdb.Get(ctx, k).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // raced with the backstop TTL
			}
			return err
		}

		var rec challengeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			// Unreadable record, drop it rather than keep it forever.
			_ = s.rdb.Del(ctx, k).Err()
			continue
		}

		if now.After(rec.ExpiresAt) {
			if err := s.rdb.Del(ctx, k).Err(); err != nil {
				return err
			}
		}
	}
	return iter.Err()
}
