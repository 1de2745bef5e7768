package daemon

import (
	"context"
	"fmt"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/alerting"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/state"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/storage"
)

// Service runs a scan and records the outcome: the result is persisted,
// cached for the API and handed to alerting.
type Service struct {
	engine       *scanner.Engine
	results      *storage.ResultsStore
	recent       *state.ResultCache
	alerts       *alerting.Engine
	logger       *logging.Logger
	maxFileBytes int64
}

func NewService(engine *scanner.Engine, results *storage.ResultsStore, recent *state.ResultCache, alerts *alerting.Engine, logger *logging.Logger, maxFileBytes int64) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		engine:       engine,
		results:      results,
		recent:       recent,
		alerts:       alerts,
		logger:       logger,
		maxFileBytes: maxFileBytes,
	}
}

func (s *Service) Scan(ctx context.Context, a *scanner.Artifact) (*scanner.ScanResult, error) {
	if a != nil && a.File != nil && s.maxFileBytes > 0 && a.File.Size > s.maxFileBytes {
		return nil, fmt.Errorf("%w: file is %d bytes, limit is %d", scanner.ErrInvalidArtifact, a.File.Size, s.maxFileBytes)
	}
	result, err := s.engine.Scan(ctx, a)
	if err != nil {
		return nil, err
	}
	if s.results != nil {
		// A storage failure must not hide the verdict from the caller.
		if err := s.results.Save(result); err != nil {
			s.logger.Error("persist scan result failed", logging.F("scan_id", result.ID), logging.F("error", err))
		}
	}
	if s.recent != nil {
		s.recent.Add(result)
	}
	if s.alerts != nil {
		s.alerts.Notify(result)
	}
	return result, nil
}
