package service

import (
	"context"
	"time"
)

// Allocator hands out pseudonym tokens for user pairs.
type Allocator interface {
	Assign(ctx context.Context, x, y int64) (string, error)
	PeekToken(ctx context.Context, x, y int64) (string, error)
	Touch(ctx context.Context, x, y int64) error
	Release(ctx context.Context, x, y int64) error
}

type allocator struct {
	store     Store
	poolSize  int
	freshness time.Duration
}

func NewAllocator(store Store, poolSize, freshnessHours int) Allocator {
	return &allocator{
		store:     store,
		poolSize:  poolSize,
		freshness: time.Duration(freshnessHours) * time.Hour,
	}
}

// Assign returns the pair's token, allocating a fresh one when needed.
// The same pair always resolves to the same token while its session lives,
// regardless of which side asks.
func (a *allocator) Assign(ctx context.Context, x, y int64) (string, error) {
	return a.store.AssignPseudonym(ctx, x, y, a.poolSize, a.freshness)
}

// PeekToken returns the pair's current token without touching or allocating.
func (a *allocator) PeekToken(ctx context.Context, x, y int64) (string, error) {
	return a.store.GetPairToken(ctx, x, y)
}

func (a *allocator) Touch(ctx context.Context, x, y int64) error {
	return a.store.TouchPairSession(ctx, x, y)
}

// Release ends the pair's session. The next contact between the two users
// gets a freshly drawn token.
func (a *allocator) Release(ctx context.Context, x, y int64) error {
	return a.store.ReleasePairSession(ctx, x, y)
}
