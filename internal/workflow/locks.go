package workflow

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// ErrWorkflowBusy is returned by Acquire when another run already holds
// the workflow's lock.
var ErrWorkflowBusy = errors.New("workflow is already running")

var lockBucket = []byte("workflow_locks")

// LockStore persists in-flight workflow runs in a bbolt database, so a
// restarted instance can detect and clear locks left behind by a crash.
// Lock values carry the owning instance ID; on startup every lock owned
// by a different instance is considered stale.
type LockStore struct {
	db         *bbolt.DB
	instanceID string
}

// OpenLockStore opens (or creates) the lock database.
func OpenLockStore(path, instanceID string) (*LockStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open lock database %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, errBucket := tx.CreateBucketIfNotExists(lockBucket)
		return errBucket
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &LockStore{db: db, instanceID: instanceID}, nil
}

// Close releases the database file.
func (s *LockStore) Close() error {
	return s.db.Close()
}

// Acquire claims the lock for one workflow run and returns its release
// function. ErrWorkflowBusy is returned when any holder, this instance
// included, already owns the lock.
func (s *LockStore) Acquire(user, workflow string) (func(), error) {
	key := []byte(user + "/" + workflow)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(lockBucket)
		if holder := b.Get(key); holder != nil {
			return fmt.Errorf("%w (held by %s)", ErrWorkflowBusy, holder)
		}
		return b.Put(key, []byte(s.instanceID))
	})
	if err != nil {
		return nil, err
	}
	release := func() {
		errRel := s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(lockBucket).Delete(key)
		})
		if errRel != nil {
			log.Errorf("failed to release workflow lock %s: %v", key, errRel)
		}
	}
	return release, nil
}

// ClearStale removes every lock owned by a different instance. Called
// once at startup, before serving.
func (s *LockStore) ClearStale() (int, error) {
	cleared := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(lockBucket)
		var stale [][]byte
		errEach := b.ForEach(func(k, v []byte) error {
			if string(v) != s.instanceID {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if errEach != nil {
			return errEach
		}
		for _, k := range stale {
			if errDel := b.Delete(k); errDel != nil {
				return errDel
			}
			cleared++
		}
		return nil
	})
	return cleared, err
}
