package alerting

import (
	"fmt"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/config"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

func BuildChannels(cfg config.AlertingConfig, logger *logging.Logger) ([]Channel, error) {
	channels := []Channel{}
	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		var built Channel
		switch ch.Type {
		case "log":
			built = NewLogChannel(logger)
		case "webhook":
			if ch.URL == "" {
				return nil, fmt.Errorf("webhook url required")
			}
			built = NewWebhookChannel(ch.URL, ch.Headers)
		default:
			return nil, fmt.Errorf("unknown alert channel type: %s", ch.Type)
		}
		if ch.MinRiskLevel != "" {
			level, err := scoring.ParseRiskLevel(ch.MinRiskLevel)
			if err != nil {
				return nil, fmt.Errorf("channel %s: %w", ch.Type, err)
			}
			built = &filtered{Channel: built, min: level}
		}
		channels = append(channels, built)
	}
	if len(channels) == 0 {
		channels = append(channels, NewLogChannel(logger))
	}
	return channels, nil
}
