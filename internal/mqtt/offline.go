package mqtt

import "log/slog"

// LogPublisher stands in for the broker when MQTT is disabled: every message is
// written to the log instead.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(topic string, payload []byte) error {
	p.logger.Info("telemetry (offline)", "topic", topic, "payload", string(payload))
	return nil
}

// IsConnected is always true so the cycle never skips in offline mode.
func (p *LogPublisher) IsConnected() bool {
	return true
}
