package threatintel

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/storage"
)

const (
	feedsBucket      = "threat_feeds"
	indicatorsBucket = "threat_indicators"
	feedsStatusKey   = "status"
)

type Status struct {
	LastRun          time.Time               `json:"last_run"`
	NextRun          time.Time               `json:"next_run,omitempty"`
	AirgapMode       bool                    `json:"airgap_mode"`
	AirgapImportPath string                  `json:"airgap_import_path,omitempty"`
	Indicators       int                     `json:"indicators"`
	Sources          map[string]SourceStatus `json:"sources"`
}

type SourceStatus struct {
	Source     string    `json:"source"`
	URL        string    `json:"url,omitempty"`
	Path       string    `json:"path,omitempty"`
	Bytes      int64     `json:"bytes"`
	Indicators int       `json:"indicators"`
	Verified   bool      `json:"verified"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	Duration   string    `json:"duration,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Store persists feed status and the last good indicator set of each source.
type Store struct {
	store storage.Store
}

func NewStore(store storage.Store) *Store {
	return &Store{store: store}
}

func (s *Store) SaveStatus(status Status) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode feed status: %w", err)
	}
	return s.store.Put(feedsBucket, feedsStatusKey, raw)
}

func (s *Store) LoadStatus() (Status, error) {
	raw, err := s.store.Get(feedsBucket, feedsStatusKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Status{Sources: map[string]SourceStatus{}}, nil
		}
		return Status{}, err
	}
	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return Status{}, fmt.Errorf("decode feed status: %w", err)
	}
	if status.Sources == nil {
		status.Sources = map[string]SourceStatus{}
	}
	return status, nil
}

func (s *Store) SaveIndicators(source string, indicators []Indicator) error {
	raw, err := json.Marshal(indicators)
	if err != nil {
		return fmt.Errorf("encode indicators: %w", err)
	}
	return s.store.Put(indicatorsBucket, source, raw)
}

// LoadIndicators returns every persisted indicator keyed by source.
func (s *Store) LoadIndicators() (map[string][]Indicator, error) {
	out := map[string][]Indicator{}
	err := s.store.ForEach(indicatorsBucket, func(key, value []byte) error {
		var list []Indicator
		if err := json.Unmarshal(value, &list); err != nil {
			return fmt.Errorf("decode indicators %s: %w", key, err)
		}
		out[string(key)] = list
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
