package app

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/Old-Lx/AquaManagement/internal/config"
	"github.com/Old-Lx/AquaManagement/internal/hardware"
	"github.com/Old-Lx/AquaManagement/internal/pump"
	"github.com/Old-Lx/AquaManagement/internal/sensor"
)

// board is the hardware bus plus its release function.
type board struct {
	bus   hardware.Bus
	close func() error
}

func loadProvisioning(cfg config.Config) (config.Provisioning, error) {
	if cfg.ProvisioningFile == "" {
		return config.DefaultProvisioning(), nil
	}
	return config.LoadProvisioning(cfg.ProvisioningFile)
}

func newRegistry(prov config.Provisioning) (*pump.Registry, error) {
	pumps := make([]pump.Pump, 0, len(prov.Pumps))
	for _, ps := range prov.Pumps {
		pumps = append(pumps, pump.Pump{ID: ps.ID, Actuator: ps.Relay})
	}
	return pump.New(pumps)
}

func openBoard(cfg config.Config, prov config.Provisioning, logger *slog.Logger) (board, error) {
	switch cfg.HardwareBackend {
	case config.BackendPeriph:
		p, err := hardware.OpenPeriph(periphOptions(prov, cfg.SensorSource == config.SourceReal), logger)
		if err != nil {
			return board{}, fmt.Errorf("open periph: %w", err)
		}
		return board{bus: p, close: p.Close}, nil
	default:
		logger.Info("no hardware backend, relay writes are kept in memory")
		return board{bus: hardware.NewMemory(), close: func() error { return nil }}, nil
	}
}

// periphOptions lists the pins to configure. Sensor inputs are only claimed when
// the real source will read them.
func periphOptions(prov config.Provisioning, sensors bool) hardware.PeriphOptions {
	var opts hardware.PeriphOptions
	for _, ps := range prov.Pumps {
		opts.Relays = append(opts.Relays, ps.Relay)
	}
	if !sensors {
		return opts
	}

	switch prov.Tank.LevelSensor {
	case sensor.LevelUltrasonic:
		opts.Triggers = append(opts.Triggers, prov.Tank.TrigPin)
		opts.Echoes = append(opts.Echoes, prov.Tank.EchoPin)
	default:
		opts.Inputs = append(opts.Inputs, prov.Tank.HighLevelPin, prov.Tank.LowLevelPin)
	}
	if prov.Tank.FlowPin != "" {
		opts.FlowPins = append(opts.FlowPins, prov.Tank.FlowPin)
	}

	for _, ps := range prov.Pumps {
		if ps.CurrentChannel != nil && !slices.Contains(opts.ADCChannel, *ps.CurrentChannel) {
			opts.ADCChannel = append(opts.ADCChannel, *ps.CurrentChannel)
		}
		if ps.TemperatureProbe != 0 && !slices.Contains(opts.TempProbes, ps.TemperatureProbe) {
			opts.TempProbes = append(opts.TempProbes, ps.TemperatureProbe)
		}
		if ps.FlowPin != "" && !slices.Contains(opts.FlowPins, ps.FlowPin) {
			opts.FlowPins = append(opts.FlowPins, ps.FlowPin)
		}
	}
	if len(opts.ADCChannel) > 0 {
		opts.ADCAddress = prov.ADC.I2CAddress
	}
	return opts
}

func newSource(cfg config.Config, prov config.Provisioning, bus hardware.Bus, logger *slog.Logger) sensor.Source {
	if cfg.SensorSource == config.SourceReal {
		return sensor.NewReal(bus, realOptions(prov, logger))
	}
	return sensor.NewSimulated(sensor.SimulatedOptions{
		DutyPeriod:    prov.Simulation.DutyPeriod,
		InitialLevel:  *prov.Simulation.InitialLevel,
		FlowThreshold: prov.Tank.FlowThreshold,
	})
}

func realOptions(prov config.Provisioning, logger *slog.Logger) sensor.RealOptions {
	opts := sensor.RealOptions{
		Tank: sensor.TankWiring{
			LevelSensor:     prov.Tank.LevelSensor,
			HighLevelPin:    prov.Tank.HighLevelPin,
			LowLevelPin:     prov.Tank.LowLevelPin,
			TrigPin:         prov.Tank.TrigPin,
			EchoPin:         prov.Tank.EchoPin,
			HeightCM:        prov.Tank.HeightCM,
			EmptyDistanceCM: prov.Tank.EmptyDistanceCM,
			FlowPin:         prov.Tank.FlowPin,
			FlowFactor:      prov.Tank.FlowFactor,
			FlowThreshold:   prov.Tank.FlowThreshold,
		},
		Pumps:        make(map[int]sensor.PumpWiring, len(prov.Pumps)),
		MaxAmps:      prov.ADC.MaxAmps,
		ADCFullScale: prov.ADC.FullScale,
		Logger:       logger,
	}
	for _, ps := range prov.Pumps {
		w := sensor.PumpWiring{
			CurrentScale: ps.CurrentScale,
			TempProbe:    ps.TemperatureProbe,
			FlowPin:      ps.FlowPin,
		}
		if ps.CurrentChannel != nil {
			w.CurrentChannel = *ps.CurrentChannel
			w.HasCurrent = true
		}
		opts.Pumps[ps.ID] = w
	}
	return opts
}
