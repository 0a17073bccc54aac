// Package lease grants a worker exclusive, time-bounded ownership of a submission.
// A holder must renew its lease before the TTL runs out; an expired lease can be
// taken over by any other worker.
package lease

import (
	"context"
	"time"
)

//go:generate mockgen -destination=../../tests/mocks/mock_lease_store.go -package=mocks -mock_names=Store=MockLeaseStore . Store

type Store interface {
	// Acquire claims key for holder. It returns false when another holder owns a live lease.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// Renew extends a lease still owned by holder. It returns errors.ErrLeaseNotHeld otherwise.
	Renew(ctx context.Context, key, holder string, ttl time.Duration) error
	// Release drops the lease if holder still owns it.
	Release(ctx context.Context, key, holder string) error
	// Holder returns the current owner of key, or "" when there is no live lease.
	Holder(ctx context.Context, key string) (string, error)
}
