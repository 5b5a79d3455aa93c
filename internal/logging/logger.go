package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/Old-Lx/AquaManagement/internal/config"
)

func New(cfg config.Config, version string, appName string) *slog.Logger {
	return NewWithWriter(os.Stdout, cfg, version, appName)
}

// NewWithWriter builds the process logger on w. Every record carries the
// controller identity (app, topic namespace, sensor source) so logs from
// several field controllers can share one sink. Dev builds get colored text,
// release builds JSON with version and env added.
func NewWithWriter(w io.Writer, cfg config.Config, version string, appName string) *slog.Logger {
	identity := []any{
		"app", appName,
		"namespace", cfg.TopicNamespace,
		"sensor_source", cfg.SensorSource,
	}

	if version == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With(identity...)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(identity...).With(
		"version", version,
		"env", cfg.AppEnv,
	)
}
