package scanner

import "github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"

// NewLogObserver logs analyzer outcomes and scan completion.
func NewLogObserver(logger *logging.Logger) Observer {
	return ObserverFunc(func(e Event) {
		switch e.Type {
		case EventPhase:
			logger.Debug("scan phase",
				logging.F("scan_id", e.ScanID),
				logging.F("phase", e.Phase),
			)
		case EventAnalyzerDone:
			logger.Debug("analyzer completed",
				logging.F("scan_id", e.ScanID),
				logging.F("category", e.Category),
				logging.F("score", e.Score),
				logging.F("max_score", e.MaxScore),
				logging.F("duration", e.Elapsed.String()),
			)
		case EventAnalyzerFailed:
			logger.Warn("analyzer failed",
				logging.F("scan_id", e.ScanID),
				logging.F("category", e.Category),
				logging.F("reason", e.Reason),
				logging.F("error", e.Err),
			)
		case EventScanDone:
			logger.Info("scan completed",
				logging.F("scan_id", e.ScanID),
				logging.F("kind", e.Kind),
				logging.F("phase", e.Phase),
				logging.F("score", e.Score),
				logging.F("max_score", e.MaxScore),
				logging.F("risk_level", e.Level),
				logging.F("duration", e.Elapsed.String()),
			)
		}
	})
}
