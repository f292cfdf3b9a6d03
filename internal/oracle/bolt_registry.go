package oracle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/oracle-shell/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var threadsBucket = []byte("threads")

// BoltRegistry persists thread mappings in a bbolt file so conversations
// survive a restart.
type BoltRegistry struct {
	db *bolt.DB
}

// OpenBoltRegistry opens (creating if needed) the registry file at path.
func OpenBoltRegistry(path string) (*BoltRegistry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open thread registry: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(threadsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create threads bucket: %w", err)
	}
	return &BoltRegistry{db: db}, nil
}

// Lookup returns the handle recorded for key.
func (r *BoltRegistry) Lookup(key domain.ThreadKey) (string, bool, error) {
	var rec domain.ConversationThread
	var found bool
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(threadsBucket).Get([]byte(key.String()))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode thread %s: %w", key, err)
		}
		found = rec.ThreadHandle != ""
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return rec.ThreadHandle, found, nil
}

// Store records handle for key.
func (r *BoltRegistry) Store(key domain.ThreadKey, handle string) error {
	v, err := json.Marshal(domain.ConversationThread{
		SessionID:    key.SessionID,
		Mode:         key.Mode,
		ThreadHandle: handle,
	})
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", key, err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(threadsBucket).Put([]byte(key.String()), v)
	})
}

// Forget drops the mapping for key.
func (r *BoltRegistry) Forget(key domain.ThreadKey) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(threadsBucket).Delete([]byte(key.String()))
	})
}

// Close closes the registry file.
func (r *BoltRegistry) Close() error {
	return r.db.Close()
}

var (
	_ Registry = (*MemoryRegistry)(nil)
	_ Registry = (*BoltRegistry)(nil)
)
