package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Old-Lx/AquaManagement/internal/pump"
	"github.com/Old-Lx/AquaManagement/internal/sensor"
)

// Flow status labels. street_flow_status follows pump amperage, not tank inflow;
// current_inflow_rate carries the inflow signal separately.
const (
	StatusFlowing = "FLOWING"
	StatusStopped = "STOPPED"
)

// Message is one telemetry record for one pump in one cycle.
type Message struct {
	PumpID            int      `json:"pump_id"`
	Timestamp         int64    `json:"timestamp"`
	WaterLevelPercent float64  `json:"water_level_percent"`
	CurrentAmps       float64  `json:"current_amps"`
	StreetFlowStatus  string   `json:"street_flow_status"`
	CurrentInflowRate float64  `json:"current_inflow_rate"`
	TemperatureC      *float64 `json:"pump_temperature_celsius,omitempty"`
}

// Build assembles the message for p from this cycle's readings. It has no side
// effects; identical inputs give identical messages.
func Build(p pump.Pump, r sensor.PumpReading, tank sensor.TankState, now time.Time) Message {
	msg := Message{
		PumpID:            p.ID,
		Timestamp:         now.Unix(),
		WaterLevelPercent: tank.WaterLevelPercent,
		CurrentAmps:       r.Amps,
		StreetFlowStatus:  FlowStatus(r.Amps),
		CurrentInflowRate: tank.InflowRate,
	}
	if r.TemperatureC != nil {
		t := *r.TemperatureC
		msg.TemperatureC = &t
	}
	return msg
}

// FlowStatus is FLOWING iff the pump draws current.
func FlowStatus(amps float64) string {
	if amps > 0 {
		return StatusFlowing
	}
	return StatusStopped
}

// Encode renders msg as the wire JSON.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal telemetry: %w", err)
	}
	return data, nil
}

// Topic is the per-pump telemetry address.
func Topic(namespace string, pumpID int) string {
	return fmt.Sprintf("%s/pumps/%d/telemetry", namespace, pumpID)
}
