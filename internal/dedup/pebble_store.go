package dedup

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"
)

// PebbleStore implements Store on PebbleDB for deployments that need dedup
// state to survive restarts (or share a volume between rollouts).
type PebbleStore struct {
	db  *pebble.DB
	ttl time.Duration
}

type pebbleEntry struct {
	ProcessedAt int64 `json:"processedAt"`
	ExpiresAt   int64 `json:"expiresAt"`
}

func NewPebbleStore(dir string, ttl time.Duration) (*PebbleStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: db, ttl: ttl}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) IsDuplicate(orderID string) bool {
	v, closer, err := s.db.Get([]byte(orderID))
	if err != nil {
		return false
	}
	defer closer.Close()
	var e pebbleEntry
	if err := json.Unmarshal(v, &e); err != nil {
		return false
	}
	return Now().Unix() < e.ExpiresAt
}

func (s *PebbleStore) MarkProcessed(orderID string) {
	now := Now()
	e := pebbleEntry{ProcessedAt: now.Unix(), ExpiresAt: now.Add(s.ttl).Unix()}
	b, err := json.Marshal(&e)
	if err != nil {
		return
	}
	_ = s.db.Set([]byte(orderID), b, pebble.NoSync)
}

func (s *PebbleStore) Size() int {
	it, err := s.db.NewIter(nil)
	if err != nil {
		return 0
	}
	defer it.Close()
	now := Now().Unix()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		var e pebbleEntry
		if json.Unmarshal(it.Value(), &e) == nil && now < e.ExpiresAt {
			n++
		}
	}
	return n
}

func (s *PebbleStore) Clear() {
	it, err := s.db.NewIter(nil)
	if err != nil {
		return
	}
	var keys [][]byte
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	it.Close()
	if len(keys) == 0 {
		return
	}
	wb := s.db.NewBatch()
	for _, k := range keys {
		_ = wb.Delete(k, nil)
	}
	_ = wb.Commit(pebble.NoSync)
	_ = wb.Close()
}
