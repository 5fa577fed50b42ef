// Package guard implements the duplicate-invocation guard for the poll
// loop. A redis marker keyed by application name answers whether another
// runner is currently active; when none is, a lease left open by a crashed
// runner is force-evicted so the next cycle can take it.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"neptunesearch.evalgo.org/common"
	"neptunesearch.evalgo.org/db"
)

// DefaultMarkerTTL bounds how long a crashed runner blocks its successors.
const DefaultMarkerTTL = 15 * time.Minute

// Guard is the remote predicate deciding whether this process is the only
// active runner for an application.
type Guard struct {
	client          *redis.Client
	applicationName string
	runnerID        string
	ttl             time.Duration
}

// New creates a guard with a fresh runner identity.
func New(client *redis.Client, applicationName string) *Guard {
	return &Guard{
		client:          client,
		applicationName: applicationName,
		runnerID:        uuid.NewString(),
		ttl:             DefaultMarkerTTL,
	}
}

func (g *Guard) markerKey() string {
	return "neptunesearch:runner:" + g.applicationName
}

// AnotherRunnerActive reports whether a different runner holds the marker.
// The first call claims the marker for this runner.
func (g *Guard) AnotherRunnerActive(ctx context.Context) (bool, error) {
	acquired, err := g.client.SetNX(ctx, g.markerKey(), g.runnerID, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check runner marker: %w", err)
	}
	if acquired {
		return false, nil
	}

	holder, err := g.client.Get(ctx, g.markerKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Marker expired between SetNX and Get; retry claims it.
			return g.AnotherRunnerActive(ctx)
		}
		return false, fmt.Errorf("failed to read runner marker: %w", err)
	}
	return holder != g.runnerID, nil
}

// Refresh extends the marker while this runner keeps polling.
func (g *Guard) Refresh(ctx context.Context) error {
	refreshed, err := g.client.Expire(ctx, g.markerKey(), g.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh runner marker: %w", err)
	}
	if !refreshed {
		return fmt.Errorf("runner marker for %s disappeared", g.applicationName)
	}
	return nil
}

// Release drops the marker if this runner still holds it.
func (g *Guard) Release(ctx context.Context) error {
	holder, err := g.client.Get(ctx, g.markerKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to read runner marker: %w", err)
	}
	if holder != g.runnerID {
		return nil
	}
	if err := g.client.Del(ctx, g.markerKey()).Err(); err != nil {
		return fmt.Errorf("failed to release runner marker: %w", err)
	}
	return nil
}

// RecoverLease evicts a lease left open by a crashed runner, but only when
// no other runner is active.
func (g *Guard) RecoverLease(ctx context.Context, store db.LeaseStore) error {
	active, err := g.AnotherRunnerActive(ctx)
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("another runner is active for application %s", g.applicationName)
	}
	common.Logger.Info("Evicting any open lease...")
	return store.EvictAny(ctx, g.applicationName)
}
