package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const visitorBucket = "visitor_settings"

// BoltStore provides a BoltDB-backed settings store.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens a BoltDB-backed store at the provided path.
func OpenBolt(path string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}

	store := &BoltStore{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save persists settings for a visitor.
func (s *BoltStore) Save(ctx context.Context, visitorID string, settings Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("settings storage is not configured")
	}
	id, settings, err := Prepare(visitorID, settings)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(visitorBucket))
		if bucket == nil {
			return fmt.Errorf("settings bucket is missing")
		}
		return bucket.Put([]byte(id), payload)
	})
}

// Load fetches settings by visitor ID.
func (s *BoltStore) Load(ctx context.Context, visitorID string) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}
	if s == nil || s.db == nil {
		return Settings{}, fmt.Errorf("settings storage is not configured")
	}
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return Settings{}, ErrInvalidVisitor
	}

	var settings Settings
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(visitorBucket))
		if bucket == nil {
			return fmt.Errorf("settings bucket is missing")
		}
		payload := bucket.Get([]byte(visitorID))
		if payload == nil {
			return fmt.Errorf("%w: visitor %q", ErrNotFound, visitorID)
		}
		if err := json.Unmarshal(payload, &settings); err != nil {
			return fmt.Errorf("unmarshal settings: %w", err)
		}
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *BoltStore) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(visitorBucket)); err != nil {
			return fmt.Errorf("create settings bucket: %w", err)
		}
		return nil
	})
}
