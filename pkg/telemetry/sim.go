package telemetry

import (
	"math"

	"quantum-rover/pkg/entropy"
)

// SimSensors synthesizes plausible sensor readings for hardware-free
// operation: a slowly sagging battery, load-dependent current, drifting
// temperature, and a wandering obstacle distance. Values are best-effort
// synthetic diagnostics, not calibrated measurements.
type SimSensors struct {
	src   *entropy.Source
	ticks float64
}

// NewSimSensors creates a synthetic sensor backend.
func NewSimSensors(src *entropy.Source) *SimSensors {
	if src == nil {
		src = entropy.NewSource()
	}
	return &SimSensors{src: src}
}

func (s *SimSensors) step() float64 {
	s.ticks++
	return s.ticks
}

// BatteryVoltage implements Sensors.
func (s *SimSensors) BatteryVoltage() float64 {
	t := s.step()
	// 8.4V pack sagging toward 7.0V over ~4 hours of samples.
	v := 8.4 - t/10000.0 + s.src.Gauss(0.02)
	if v < 6.0 {
		v = 6.0
	}
	return v
}

// MotorCurrent implements Sensors.
func (s *SimSensors) MotorCurrent() float64 {
	return math.Abs(0.4 + s.src.Gauss(0.1))
}

// TemperatureC implements Sensors.
func (s *SimSensors) TemperatureC() float64 {
	return 24.0 + 3.0*math.Sin(s.ticks/500.0) + s.src.Gauss(0.3)
}

// ObstacleDistanceCm implements Sensors.
func (s *SimSensors) ObstacleDistanceCm() float64 {
	// Occasionally no echo.
	if s.src.Uniform() < 0.05 {
		return -1
	}
	return 20 + 180*s.src.Uniform()
}
