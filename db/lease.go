// Package db provides the storage clients of the Neptune search replication
// service: the lease store that serializes poll cycles and tracks the stream
// checkpoint, and the search engine client used for index management,
// mappings and bulk updates.
package db

import (
	"context"
	"errors"
)

// LeaseOwnerNobody marks a lease that is not held by any worker.
const LeaseOwnerNobody = "nobody"

// ErrLeaseBusy is returned by Take when the lease is held by another owner.
var ErrLeaseBusy = errors.New("lease is already taken by another owner")

// ErrLeaseStolen is returned by Advance when the lease owner changed since
// the lease was taken. The running cycle must abort; the new owner has the
// checkpoint.
var ErrLeaseStolen = errors.New("lease owner changed during processing")

// Lease is the single mutual-exclusion record for one application. It stores
// the worker currently reading the stream and the checkpoint of the last
// record already processed.
type Lease struct {
	LeaseKey                    string `json:"leaseKey"`
	LeaseOwner                  string `json:"leaseOwner"`
	Checkpoint                  int64  `json:"checkpoint"`
	CheckpointSubSequenceNumber int64  `json:"checkpointSubSequenceNumber"`
	LastUpdateTime              int64  `json:"lastUpdateTime"`
}

// LeaseStore persists the lease record and mutates it with remote
// conditional writes. Two simultaneous workers cannot both take the same
// lease, and a worker that lost the lease cannot advance its checkpoint.
type LeaseStore interface {
	// CreateIfAbsent creates the initial lease record (owner "nobody",
	// checkpoint zero) unless one already exists. Idempotent.
	CreateIfAbsent(ctx context.Context, leaseKey string) error

	// Get returns the lease with a strongly consistent read.
	Get(ctx context.Context, leaseKey string) (*Lease, error)

	// Take assigns the lease to newOwner iff it is currently free.
	// Returns ErrLeaseBusy when another owner holds it.
	Take(ctx context.Context, leaseKey, newOwner string) (*Lease, error)

	// Advance moves the checkpoint forward iff owner still holds the lease.
	// Returns ErrLeaseStolen on an ownership mismatch.
	Advance(ctx context.Context, leaseKey, owner string, commitNum, opNum int64) error

	// Evict frees the lease iff owner still holds it. A conditional miss is
	// swallowed: some other cycle already reclaimed the lease.
	Evict(ctx context.Context, leaseKey, owner string) error

	// EvictAny frees the lease regardless of owner, as long as one is set.
	// Used to recover a lease left open by a crashed worker.
	EvictAny(ctx context.Context, leaseKey string) error
}
