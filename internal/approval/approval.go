// Package approval exposes the multisig pre-approval signal consumed by
// the safety governor when require_multisig is set. The engine never
// grants approval itself; an external governance process does, and the
// engine only polls for its presence.
package approval

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Source answers whether the exact (amountA, amountB, day) tuple has
// been pre-approved. Absence is a wait outcome, not an error.
type Source interface {
	IsApproved(ctx context.Context, amountA, amountB decimal.Decimal, day string) (bool, error)
}

// RedisSource reads approval marks the governance tooling writes under
// <prefix>:<day>:<amountA>:<amountB>. The value is irrelevant, only key
// existence counts, so the multisig side can store whatever metadata it
// wants (signer set, tx hash of the approval vote).
type RedisSource struct {
	client *redis.Client
	prefix string
}

func NewRedisSource(client *redis.Client, prefix string) *RedisSource {
	if prefix == "" {
		prefix = "multisig:approve"
	}
	return &RedisSource{client: client, prefix: prefix}
}

func (s *RedisSource) IsApproved(ctx context.Context, amountA, amountB decimal.Decimal, day string) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s:%s", s.prefix, day, amountA.String(), amountB.String())
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("approval lookup: %w", err)
	}
	return n > 0, nil
}

// Static always answers the same. Used when require_multisig is off and
// in tests.
type Static bool

func (s Static) IsApproved(ctx context.Context, amountA, amountB decimal.Decimal, day string) (bool, error) {
	return bool(s), nil
}

var (
	_ Source = (*RedisSource)(nil)
	_ Source = Static(false)
)
