package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provisioning is the physical layout: which pumps exist and where every
// transducer is wired.
type Provisioning struct {
	Pumps      []PumpSpec     `yaml:"pumps"`
	Tank       TankSpec       `yaml:"tank"`
	ADC        ADCSpec        `yaml:"adc"`
	Simulation SimulationSpec `yaml:"simulation"`
}

type PumpSpec struct {
	ID    int    `yaml:"id"`
	Relay string `yaml:"relay"`
	// CurrentChannel is the ADC channel of the current transformer; nil when
	// the pump has none.
	CurrentChannel   *int    `yaml:"current_channel"`
	CurrentScale     float64 `yaml:"current_scale"`
	TemperatureProbe uint16  `yaml:"temperature_probe"`
	FlowPin          string  `yaml:"flow_pin"`
}

type TankSpec struct {
	LevelSensor     string  `yaml:"level_sensor"`
	HighLevelPin    string  `yaml:"high_level_pin"`
	LowLevelPin     string  `yaml:"low_level_pin"`
	TrigPin         string  `yaml:"trig_pin"`
	EchoPin         string  `yaml:"echo_pin"`
	HeightCM        float64 `yaml:"height_cm"`
	EmptyDistanceCM float64 `yaml:"empty_distance_cm"`
	FlowPin         string  `yaml:"flow_pin"`
	FlowFactor      float64 `yaml:"flow_factor"`
	FlowThreshold   float64 `yaml:"flow_threshold"`
}

type ADCSpec struct {
	I2CAddress uint16  `yaml:"i2c_address"`
	MaxAmps    float64 `yaml:"max_amps"`
	FullScale  float64 `yaml:"full_scale"`
}

type SimulationSpec struct {
	DutyPeriod   time.Duration `yaml:"duty_period"`
	InitialLevel *float64      `yaml:"initial_level"`
}

// ADS1115FullScale is the largest raw sample the ADS1115 driver reports.
const ADS1115FullScale = math.MaxInt16

// DefaultProvisioning is the two-pump board layout used when no file is given.
func DefaultProvisioning() Provisioning {
	ch := 0
	p := Provisioning{
		Pumps: []PumpSpec{
			{ID: 1, Relay: "GPIO27", CurrentChannel: &ch, CurrentScale: 0.8, TemperatureProbe: 0x76},
			{ID: 2, Relay: "GPIO26", CurrentChannel: &ch, CurrentScale: 0.8, TemperatureProbe: 0x77},
		},
		Tank: TankSpec{
			HighLevelPin: "GPIO23",
			LowLevelPin:  "GPIO22",
			TrigPin:      "GPIO5",
			EchoPin:      "GPIO18",
			FlowPin:      "GPIO35",
		},
	}
	p.applyDefaults()
	return p
}

// LoadProvisioning reads a YAML layout from path.
func LoadProvisioning(path string) (Provisioning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Provisioning{}, fmt.Errorf("read provisioning %s: %w", path, err)
	}

	var p Provisioning
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Provisioning{}, fmt.Errorf("parse provisioning %s: %w", path, err)
	}

	p.applyDefaults()
	if err := p.validate(); err != nil {
		return Provisioning{}, fmt.Errorf("provisioning %s: %w", path, err)
	}
	return p, nil
}

func (p *Provisioning) applyDefaults() {
	for i := range p.Pumps {
		if p.Pumps[i].CurrentScale == 0 {
			p.Pumps[i].CurrentScale = 1
		}
	}
	if p.Tank.LevelSensor == "" {
		p.Tank.LevelSensor = "float"
	}
	if p.Tank.HeightCM == 0 {
		p.Tank.HeightCM = 200
	}
	if p.Tank.EmptyDistanceCM == 0 {
		p.Tank.EmptyDistanceCM = 180
	}
	if p.Tank.FlowFactor == 0 {
		p.Tank.FlowFactor = 0.00225
	}
	if p.Tank.FlowThreshold == 0 {
		p.Tank.FlowThreshold = 0.5
	}
	if p.ADC.I2CAddress == 0 {
		p.ADC.I2CAddress = 0x48
	}
	if p.ADC.MaxAmps == 0 {
		p.ADC.MaxAmps = 25
	}
	if p.ADC.FullScale == 0 {
		p.ADC.FullScale = ADS1115FullScale
	}
	if p.Simulation.DutyPeriod == 0 {
		p.Simulation.DutyPeriod = 30 * time.Second
	}
	if p.Simulation.InitialLevel == nil {
		level := 70.0
		p.Simulation.InitialLevel = &level
	}
}

func (p *Provisioning) validate() error {
	if len(p.Pumps) == 0 {
		return fmt.Errorf("at least one pump is required")
	}
	seen := make(map[int]bool, len(p.Pumps))
	for _, ps := range p.Pumps {
		if ps.ID <= 0 {
			return fmt.Errorf("pump id must be positive, got %d", ps.ID)
		}
		if seen[ps.ID] {
			return fmt.Errorf("duplicate pump id %d", ps.ID)
		}
		seen[ps.ID] = true
		if ps.Relay == "" {
			return fmt.Errorf("pump %d: relay is required", ps.ID)
		}
		if ps.CurrentChannel != nil && (*ps.CurrentChannel < 0 || *ps.CurrentChannel > 3) {
			return fmt.Errorf("pump %d: current_channel must be 0-3, got %d", ps.ID, *ps.CurrentChannel)
		}
		if ps.CurrentScale < 0 {
			return fmt.Errorf("pump %d: current_scale must not be negative", ps.ID)
		}
	}

	switch p.Tank.LevelSensor {
	case "float":
		if p.Tank.HighLevelPin == "" || p.Tank.LowLevelPin == "" {
			return fmt.Errorf("tank.high_level_pin and tank.low_level_pin are required for float sensing")
		}
	case "ultrasonic":
		if p.Tank.TrigPin == "" || p.Tank.EchoPin == "" {
			return fmt.Errorf("tank.trig_pin and tank.echo_pin are required for ultrasonic sensing")
		}
	default:
		return fmt.Errorf("invalid tank.level_sensor %q (allowed: float, ultrasonic)", p.Tank.LevelSensor)
	}
	if p.Tank.HeightCM < 0 || p.Tank.EmptyDistanceCM < 0 {
		return fmt.Errorf("tank dimensions must not be negative")
	}
	if p.Tank.FlowFactor < 0 || p.Tank.FlowThreshold < 0 {
		return fmt.Errorf("tank flow_factor and flow_threshold must not be negative")
	}
	if p.ADC.MaxAmps < 0 || p.ADC.FullScale < 0 {
		return fmt.Errorf("adc max_amps and full_scale must not be negative")
	}
	if level := *p.Simulation.InitialLevel; level < 0 || level > 100 {
		return fmt.Errorf("simulation.initial_level must be 0-100, got %v", level)
	}
	if p.Simulation.DutyPeriod < 0 {
		return fmt.Errorf("simulation.duty_period must be positive")
	}
	return nil
}
