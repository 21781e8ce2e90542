package pins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
)

// PebbleStore persists pin sets in an embedded Pebble keyspace, one key
// per user holding the sorted list of pinned correspondent ids as JSON.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the pin database at path.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pin store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func pinKey(userID string) []byte {
	return []byte("pins/" + userID)
}

// Read returns the user's pin set. A user with no stored pins gets an
// empty set.
func (s *PebbleStore) Read(ctx context.Context, userID string) (map[string]bool, error) {
	value, closer, err := s.db.Get(pinKey(userID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("read pins for %s: %w", userID, err)
	}
	defer closer.Close()

	var ids []string
	if err := json.Unmarshal(value, &ids); err != nil {
		return nil, fmt.Errorf("decode pins for %s: %w", userID, err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// Write replaces the user's pin set.
func (s *PebbleStore) Write(ctx context.Context, userID string, pins map[string]bool) error {
	ids := make([]string, 0, len(pins))
	for id, pinned := range pins {
		if pinned {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	value, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := s.db.Set(pinKey(userID), value, pebble.Sync); err != nil {
		return fmt.Errorf("write pins for %s: %w", userID, err)
	}
	return nil
}
