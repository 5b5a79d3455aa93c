package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Old-Lx/AquaManagement/internal/command"
	"github.com/Old-Lx/AquaManagement/internal/config"
	"github.com/Old-Lx/AquaManagement/internal/controller"
	"github.com/Old-Lx/AquaManagement/internal/httpapi"
	"github.com/Old-Lx/AquaManagement/internal/metrics"
	"github.com/Old-Lx/AquaManagement/internal/mqtt"
)

func Run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("config loaded",
		"app_env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"mqtt_enabled", cfg.MQTTEnabled,
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"mqtt_client_id", cfg.MQTTClientID,
		"publish_interval", cfg.PublishInterval,
		"hardware_backend", cfg.HardwareBackend,
		"http_addr", cfg.HTTPAddr,
		"provisioning_file", cfg.ProvisioningFile,
	)

	prov, err := loadProvisioning(cfg)
	if err != nil {
		return err
	}
	registry, err := newRegistry(prov)
	if err != nil {
		return err
	}

	hw, err := openBoard(cfg, prov, logger.With("component", "hardware"))
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.close(); err != nil {
			logger.Error("hardware close", "error", err)
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	source := newSource(cfg, prov, hw.bus, logger.With("component", "sensor"))

	dispatcher := command.NewDispatcher(registry, hw.bus, logger.With("component", "command"))
	dispatcher.SetRecorder(m)
	for _, p := range registry.List() {
		m.PumpState(p.ID, p.IsOn)
	}

	var (
		publisher  controller.Publisher
		mqttClient *mqtt.Client
	)
	if cfg.MQTTEnabled {
		mqttClient = mqtt.NewClient(cfg, logger.With("component", "mqtt"))
		mqttClient.SetConnectionHandler(m.SetConnected)
		publisher = mqttClient
	} else {
		logger.Warn("mqtt disabled, telemetry is logged only")
		publisher = mqtt.NewLogPublisher(logger.With("component", "telemetry"))
	}

	ctrl := controller.New(controller.NewState(registry), source, dispatcher, publisher, controller.Options{
		Namespace: cfg.TopicNamespace,
		Interval:  cfg.PublishInterval,
		Logger:    logger.With("component", "controller"),
	})
	ctrl.SetRecorder(m)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrl.Run(gctx)
	})

	if mqttClient != nil {
		// Set the handler before Connect so the first subscription already routes frames.
		mqttClient.SetMessageHandler(ctrl.Enqueue)
		g.Go(func() error {
			if err := mqttClient.Connect(gctx); err != nil && !errors.Is(err, context.Canceled) {
				// paho keeps retrying; the cycle skips publishing meanwhile
				logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
			}
			return nil
		})
		defer func() {
			logger.Info("mqtt disconnecting")
			mqttClient.Disconnect()
		}()
	}

	if cfg.HTTPAddr != "" {
		deps := httpapi.Deps{
			Namespace:  cfg.TopicNamespace,
			Controller: ctrl,
			Gatherer:   promReg,
			Logger:     logger.With("component", "http"),
		}
		if mqttClient != nil {
			deps.Link = mqttClient
		}
		srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewMux(deps), deps.Logger)

		g.Go(func() error {
			logger.Info("http listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			logger.Info("http shutting down")
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
