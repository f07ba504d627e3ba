package queue

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/shuttle/internal/logger"
)

// ErrNotStaged is returned when a staging key has no stored bytes,
// typically because a consumer already collected and deleted them.
var ErrNotStaged = errors.New("chunk bytes not found in staging store")

// Staging parks chunk bytes on local disk while their task travels
// through an external durable queue. The accepting request writes
// synchronously before enqueueing; the consumer reads the bytes back
// and deletes them at the terminal outcome.
type Staging struct {
	db *badger.DB
}

// OpenStaging opens (or creates) the staging database at path.
func OpenStaging(path string) (*Staging, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open staging store at %s: %w", path, err)
	}

	logger.Debug("chunk staging store opened", "path", path)
	return &Staging{db: db}, nil
}

// Put stores the chunk bytes under key.
func (s *Staging) Put(key string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to stage chunk %s: %w", key, err)
	}
	return nil
}

// Get returns a copy of the staged bytes.
func (s *Staging) Get(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return ErrNotStaged
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotStaged) {
			return nil, fmt.Errorf("staging key %s: %w", key, ErrNotStaged)
		}
		return nil, fmt.Errorf("failed to read staged chunk %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the staged bytes. Deleting an absent key is not an
// error.
func (s *Staging) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete staged chunk %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Staging) Close() error {
	return s.db.Close()
}
