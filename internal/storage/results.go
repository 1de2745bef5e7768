package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

const (
	scansBucket   = "scans"
	scanIDsBucket = "scan_ids"
)

// ResultsStore persists ScanResults. Records are keyed by start time so a
// bucket scan yields them in chronological order; a second bucket maps scan
// IDs to record keys.
type ResultsStore struct {
	store Store
}

func NewResultsStore(store Store) *ResultsStore {
	return &ResultsStore{store: store}
}

func (r *ResultsStore) Save(result *scanner.ScanResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("scan result id is required")
	}
	key := recordKey(result)
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := r.store.Put(scansBucket, key, raw); err != nil {
		return err
	}
	return r.store.Put(scanIDsBucket, result.ID, []byte(key))
}

func (r *ResultsStore) Get(id string) (*scanner.ScanResult, error) {
	key, err := r.store.Get(scanIDsBucket, id)
	if err != nil {
		return nil, err
	}
	raw, err := r.store.Get(scansBucket, string(key))
	if err != nil {
		return nil, err
	}
	var res scanner.ScanResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}

// List returns up to limit results, newest first. limit <= 0 returns all.
func (r *ResultsStore) List(limit int) ([]scanner.ScanResult, error) {
	results := []scanner.ScanResult{}
	err := r.store.ForEach(scansBucket, func(_, value []byte) error {
		var res scanner.ScanResult
		if err := json.Unmarshal(value, &res); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		results = append(results, res)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []scanner.ScanResult{}, nil
		}
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].StartedAt.After(results[j].StartedAt) })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// PruneOlderThan removes results that finished before cutoff and reports how
// many were deleted.
func (r *ResultsStore) PruneOlderThan(cutoff time.Time) (int, error) {
	var keys, ids []string
	err := r.store.ForEach(scansBucket, func(key, value []byte) error {
		var res scanner.ScanResult
		if err := json.Unmarshal(value, &res); err != nil {
			return nil
		}
		if !res.FinishedAt.IsZero() && res.FinishedAt.Before(cutoff) {
			keys = append(keys, string(key))
			ids = append(ids, res.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.store.DeleteMany(scansBucket, keys); err != nil {
		return 0, err
	}
	if err := r.store.DeleteMany(scanIDsBucket, ids); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func recordKey(result *scanner.ScanResult) string {
	started := result.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return fmt.Sprintf("%020d-%s", started.UnixNano(), result.ID)
}
