package alerting

import (
	"context"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

type LogChannel struct {
	logger *logging.Logger
}

func NewLogChannel(logger *logging.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(_ context.Context, alert Alert) error {
	l.logger.Warn("risk alert",
		logging.F("id", alert.ID),
		logging.F("scan_id", alert.ScanID),
		logging.F("kind", alert.Kind),
		logging.F("target", alert.Target),
		logging.F("risk_level", alert.RiskLevel),
		logging.F("score", alert.Score),
		logging.F("findings", len(alert.Findings)),
		logging.F("reason", alert.Reason),
	)
	return nil
}

// filtered drops alerts below a per-channel level.
type filtered struct {
	Channel
	min scoring.RiskLevel
}

func (f *filtered) Send(ctx context.Context, alert Alert) error {
	if !alert.RiskLevel.AtLeast(f.min) {
		return nil
	}
	return f.Channel.Send(ctx, alert)
}
