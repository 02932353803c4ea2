// Package telemetry samples the rover's health sensors and composes the
// periodic TELEMETRY line emitted on the shared link. Samples are
// refreshed on a fixed period and read by both the safety executor and the
// telemetry emitter; nothing here persists.
package telemetry

import (
	"fmt"
	"strings"

	"quantum-rover/pkg/entropy"
)

// Sample is one reading of the rover's health sensors.
type Sample struct {
	BatteryVoltage     float64
	MotorCurrent       float64
	TemperatureC       float64
	ObstacleDistanceCm float64 // <0 means unknown
	FreeMemoryBytes    uint64
	UptimeSeconds      uint64
}

// Sensors reads the rover's physical sensors. A negative obstacle distance
// means the rangefinder returned no echo.
type Sensors interface {
	BatteryVoltage() float64
	MotorCurrent() float64
	TemperatureC() float64
	ObstacleDistanceCm() float64
}

// Sampler refreshes samples from a Sensors backend, adding the synthetic
// memory and uptime figures.
type Sampler struct {
	sensors Sensors
	started float64 // monotonic seconds at construction
	last    Sample
}

// NewSampler creates a Sampler over the given backend.
func NewSampler(sensors Sensors, now float64) *Sampler {
	return &Sampler{sensors: sensors, started: now}
}

// Refresh takes a fresh sample.
func (s *Sampler) Refresh(now float64) Sample {
	s.last = Sample{
		BatteryVoltage:     s.sensors.BatteryVoltage(),
		MotorCurrent:       s.sensors.MotorCurrent(),
		TemperatureC:       s.sensors.TemperatureC(),
		ObstacleDistanceCm: s.sensors.ObstacleDistanceCm(),
		FreeMemoryBytes:    entropy.FreeMemory(),
		UptimeSeconds:      uint64(now - s.started),
	}
	return s.last
}

// Last returns the most recent sample without refreshing.
func (s *Sampler) Last() Sample {
	return s.last
}

// EngineReadout is the quantum-side portion of a telemetry line.
type EngineReadout struct {
	Entropy   float64
	Coherence float64
	StateTag  string
}

// DriveReadout is the movement-side portion of a telemetry line.
type DriveReadout struct {
	LastDirection string
	Speed         uint8
	Emergency     bool
}

// FormatLine composes the single TELEMETRY line. Key order is fixed so
// downstream consumers can parse positionally.
func FormatLine(s Sample, e EngineReadout, d DriveReadout) string {
	var sb strings.Builder
	sb.WriteString("TELEMETRY:")
	fmt.Fprintf(&sb, "BAT=%.2f,", s.BatteryVoltage)
	fmt.Fprintf(&sb, "CURRENT=%.2f,", s.MotorCurrent)
	fmt.Fprintf(&sb, "TEMP=%.1f,", s.TemperatureC)
	if s.ObstacleDistanceCm < 0 {
		sb.WriteString("DIST=-1,")
	} else {
		fmt.Fprintf(&sb, "DIST=%.1f,", s.ObstacleDistanceCm)
	}
	fmt.Fprintf(&sb, "MEM=%d,", s.FreeMemoryBytes)
	fmt.Fprintf(&sb, "UPTIME=%d,", s.UptimeSeconds)
	fmt.Fprintf(&sb, "ENTROPY=%.3f,", e.Entropy)
	fmt.Fprintf(&sb, "COHERENCE=%.3f,", e.Coherence)
	fmt.Fprintf(&sb, "STATE=%s,", e.StateTag)
	fmt.Fprintf(&sb, "LAST=%s,", d.LastDirection)
	fmt.Fprintf(&sb, "SPEED=%d,", d.Speed)
	if d.Emergency {
		sb.WriteString("EMERGENCY=1")
	} else {
		sb.WriteString("EMERGENCY=0")
	}
	return sb.String()
}
