package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sensor sources.
const (
	SourceSimulated = "simulated"
	SourceReal      = "real"
)

// Hardware backends.
const (
	BackendNone   = "none"
	BackendPeriph = "periph"
)

// HTTPDisabled turns the local HTTP API off when used as HTTP_ADDR.
const HTTPDisabled = "off"

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	MQTTEnabled  bool
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	TopicNamespace  string
	PublishInterval time.Duration

	SensorSource    string
	HardwareBackend string

	// HTTPAddr is empty when the HTTP API is disabled.
	HTTPAddr string

	// ProvisioningFile is the YAML pump/tank layout. Empty selects the built-in layout.
	ProvisioningFile string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	mqttEnabledStr := strings.TrimSpace(os.Getenv("MQTT_ENABLED"))
	if mqttEnabledStr == "" {
		mqttEnabledStr = "true"
	}
	mqttEnabled, err := strconv.ParseBool(mqttEnabledStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_ENABLED %q: %w", mqttEnabledStr, err)
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("MQTT_PORT out of range, got %d", mqttPort)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "aquamanagement-controller"
	}

	// credentials are taken verbatim
	mqttUsername := os.Getenv("MQTT_USERNAME")
	mqttPassword := os.Getenv("MQTT_PASSWORD")
	if mqttPassword != "" && mqttUsername == "" {
		return Config{}, fmt.Errorf("MQTT_PASSWORD set without MQTT_USERNAME")
	}

	namespace := strings.Trim(strings.TrimSpace(os.Getenv("TOPIC_NAMESPACE")), "/")
	if namespace == "" {
		namespace = "caracas"
	}
	if strings.ContainsAny(namespace, "+#") {
		return Config{}, fmt.Errorf("invalid TOPIC_NAMESPACE %q: wildcards are not allowed", namespace)
	}

	publishIntervalStr := strings.TrimSpace(os.Getenv("PUBLISH_INTERVAL"))
	if publishIntervalStr == "" {
		publishIntervalStr = "5s"
	}
	publishInterval, err := time.ParseDuration(publishIntervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PUBLISH_INTERVAL %q: %w", publishIntervalStr, err)
	}
	if publishInterval <= 0 {
		return Config{}, fmt.Errorf("PUBLISH_INTERVAL must be positive, got %v", publishInterval)
	}

	sensorSource := strings.ToLower(strings.TrimSpace(os.Getenv("SENSOR_SOURCE")))
	if sensorSource == "" {
		sensorSource = SourceSimulated
	}
	switch sensorSource {
	case SourceSimulated, SourceReal:
	default:
		return Config{}, fmt.Errorf("invalid SENSOR_SOURCE %q (allowed: simulated, real)", sensorSource)
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("HARDWARE_BACKEND")))
	if backend == "" {
		backend = BackendNone
	}
	switch backend {
	case BackendNone, BackendPeriph:
	default:
		return Config{}, fmt.Errorf("invalid HARDWARE_BACKEND %q (allowed: none, periph)", backend)
	}
	if sensorSource == SourceReal && backend != BackendPeriph {
		return Config{}, fmt.Errorf("SENSOR_SOURCE=real requires HARDWARE_BACKEND=periph")
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	switch {
	case httpAddr == "":
		httpAddr = ":8080"
	case strings.EqualFold(httpAddr, HTTPDisabled):
		httpAddr = ""
	}

	return Config{
		AppEnv:           appEnv,
		LogLevel:         level,
		MQTTEnabled:      mqttEnabled,
		MQTTBroker:       mqttBroker,
		MQTTPort:         mqttPort,
		MQTTClientID:     mqttClientID,
		MQTTUsername:     mqttUsername,
		MQTTPassword:     mqttPassword,
		TopicNamespace:   namespace,
		PublishInterval:  publishInterval,
		SensorSource:     sensorSource,
		HardwareBackend:  backend,
		HTTPAddr:         httpAddr,
		ProvisioningFile: strings.TrimSpace(os.Getenv("PROVISIONING_FILE")),
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
