package etcd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const leaseTTLInSeconds = 15

// ErrLeaseHeld is returned when another controller instance owns the lease.
var ErrLeaseHeld = errors.New("upgrade lease is held by another controller")

// AcquireLease takes the advisory single writer lease at key without waiting.
// The returned channel is closed when the lease is lost.
func (s *Store) AcquireLease(ctx context.Context, key string) (<-chan struct{}, func(context.Context), error) {
	session, err := concurrency.NewSession(
		s.etcd,
		concurrency.WithContext(ctx),
		concurrency.WithTTL(leaseTTLInSeconds),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.session = session

	mu := concurrency.NewMutex(session, key)
	err = mu.TryLock(ctx)
	if errors.Is(err, concurrency.ErrLocked) {
		return nil, nil, ErrLeaseHeld
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	log.Info().Msgf("acquired upgrade lease %s", key)

	release := func(ctx context.Context) {
		err := mu.Unlock(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to gracefully release upgrade lease")
		}
	}
	return session.Done(), release, nil
}
