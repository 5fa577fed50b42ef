// Package bolt implements the lease store on a local bbolt database. It is
// used for development runs against local clusters and in tests; production
// deployments use the DynamoDB store. The conditional-write semantics of the
// remote store are reproduced inside bbolt update transactions, which are
// serialized by the database.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"neptunesearch.evalgo.org/common"
	"neptunesearch.evalgo.org/db"
)

const leaseBucket = "leases"

// LeaseStore implements db.LeaseStore on a bbolt file.
type LeaseStore struct {
	db *bolt.DB
}

// Open opens or creates the bbolt database and the lease bucket.
func Open(path string) (*LeaseStore, error) {
	boltDB, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = boltDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(leaseBucket))
		return err
	})
	if err != nil {
		boltDB.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", leaseBucket, err)
	}

	return &LeaseStore{db: boltDB}, nil
}

// Close closes the underlying database.
func (s *LeaseStore) Close() error {
	return s.db.Close()
}

// CreateIfAbsent implements db.LeaseStore.
func (s *LeaseStore) CreateIfAbsent(_ context.Context, leaseKey string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(leaseBucket))
		if bucket.Get([]byte(leaseKey)) != nil {
			return nil
		}
		lease := &db.Lease{
			LeaseKey:       leaseKey,
			LeaseOwner:     db.LeaseOwnerNobody,
			LastUpdateTime: common.CurrentMilliTime(),
		}
		return putLease(bucket, lease)
	})
}

// Get implements db.LeaseStore.
func (s *LeaseStore) Get(_ context.Context, leaseKey string) (*db.Lease, error) {
	var lease *db.Lease
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		lease, err = getLease(tx.Bucket([]byte(leaseBucket)), leaseKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// Take implements db.LeaseStore.
func (s *LeaseStore) Take(_ context.Context, leaseKey, newOwner string) (*db.Lease, error) {
	var lease *db.Lease
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(leaseBucket))
		current, err := getLease(bucket, leaseKey)
		if err != nil {
			return err
		}
		if current.LeaseOwner != db.LeaseOwnerNobody {
			return db.ErrLeaseBusy
		}
		current.LeaseOwner = newOwner
		current.LastUpdateTime = common.CurrentMilliTime()
		if err := putLease(bucket, current); err != nil {
			return err
		}
		lease = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// Advance implements db.LeaseStore.
func (s *LeaseStore) Advance(_ context.Context, leaseKey, owner string, commitNum, opNum int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(leaseBucket))
		current, err := getLease(bucket, leaseKey)
		if err != nil {
			return err
		}
		if current.LeaseOwner != owner {
			return db.ErrLeaseStolen
		}
		current.Checkpoint = commitNum
		current.CheckpointSubSequenceNumber = opNum
		current.LastUpdateTime = common.CurrentMilliTime()
		return putLease(bucket, current)
	})
}

// Evict implements db.LeaseStore.
func (s *LeaseStore) Evict(_ context.Context, leaseKey, owner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(leaseBucket))
		current, err := getLease(bucket, leaseKey)
		if err != nil {
			return err
		}
		if current.LeaseOwner != owner {
			// Some other cycle already reclaimed the lease.
			return nil
		}
		current.LeaseOwner = db.LeaseOwnerNobody
		current.LastUpdateTime = common.CurrentMilliTime()
		return putLease(bucket, current)
	})
}

// EvictAny implements db.LeaseStore.
func (s *LeaseStore) EvictAny(_ context.Context, leaseKey string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(leaseBucket))
		current, err := getLease(bucket, leaseKey)
		if err != nil {
			return nil
		}
		if current.LeaseOwner == db.LeaseOwnerNobody {
			return nil
		}
		current.LeaseOwner = db.LeaseOwnerNobody
		current.LastUpdateTime = common.CurrentMilliTime()
		return putLease(bucket, current)
	})
}

func getLease(bucket *bolt.Bucket, leaseKey string) (*db.Lease, error) {
	data := bucket.Get([]byte(leaseKey))
	if data == nil {
		return nil, fmt.Errorf("lease %s not found", leaseKey)
	}
	var lease db.Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease %s: %w", leaseKey, err)
	}
	return &lease, nil
}

func putLease(bucket *bolt.Bucket, lease *db.Lease) error {
	data, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("failed to marshal lease %s: %w", lease.LeaseKey, err)
	}
	return bucket.Put([]byte(lease.LeaseKey), data)
}
