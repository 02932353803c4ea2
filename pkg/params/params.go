// Package params holds the tunable runtime parameters of the rover and
// their checksum-guarded persistence. Parameters are loaded once at boot,
// mutated only by validated commands inside the control loop, and written
// back on explicit save.
package params

import "math"

// Validation ranges. Out-of-range values clamp rather than reject so a
// sloppy operator command still produces a usable configuration.
const (
	MinAmplitude = 0.0
	MaxAmplitude = 1.0

	MinCoherenceTimeMs = 100
	MaxCoherenceTimeMs = 60000

	MinNoiseLevel = 0.0
	MaxNoiseLevel = 1.0

	MinMotorSpeed = 1
	MaxMotorSpeed = 10

	MinDecisionIntervalMs = 100
	MaxDecisionIntervalMs = 60000
)

// RuntimeParameters are the operator-tunable settings driving the engine
// and executor.
type RuntimeParameters struct {
	// Quantum model
	AmplitudeLeft  float64
	AmplitudeRight float64
	CoherenceTimeMs uint32
	NoiseLevel     float64

	// Drivetrain
	MotorSpeed      uint8
	MotorSpeedLeft  uint8
	MotorSpeedRight uint8

	// Decision cadence
	DecisionIntervalMs uint32
}

// Defaults returns the compiled-in parameter set used when no valid
// persisted record exists.
func Defaults() RuntimeParameters {
	return RuntimeParameters{
		AmplitudeLeft:      math.Sqrt2 / 2,
		AmplitudeRight:     math.Sqrt2 / 2,
		CoherenceTimeMs:    1000,
		NoiseLevel:         0.1,
		MotorSpeed:         5,
		MotorSpeedLeft:     5,
		MotorSpeedRight:    5,
		DecisionIntervalMs: 2000,
	}
}

// Clamp forces every field into its valid range and renormalizes the
// amplitude pair. Degenerate amplitudes (both zero) reset to equal
// superposition.
func (p *RuntimeParameters) Clamp() {
	p.AmplitudeLeft = clampFloat(p.AmplitudeLeft, MinAmplitude, MaxAmplitude)
	p.AmplitudeRight = clampFloat(p.AmplitudeRight, MinAmplitude, MaxAmplitude)
	p.CoherenceTimeMs = clampUint32(p.CoherenceTimeMs, MinCoherenceTimeMs, MaxCoherenceTimeMs)
	p.NoiseLevel = clampFloat(p.NoiseLevel, MinNoiseLevel, MaxNoiseLevel)
	p.MotorSpeed = clampUint8(p.MotorSpeed, MinMotorSpeed, MaxMotorSpeed)
	p.MotorSpeedLeft = clampUint8(p.MotorSpeedLeft, MinMotorSpeed, MaxMotorSpeed)
	p.MotorSpeedRight = clampUint8(p.MotorSpeedRight, MinMotorSpeed, MaxMotorSpeed)
	p.DecisionIntervalMs = clampUint32(p.DecisionIntervalMs, MinDecisionIntervalMs, MaxDecisionIntervalMs)
	p.normalizeAmplitudes()
}

func (p *RuntimeParameters) normalizeAmplitudes() {
	norm := math.Sqrt(p.AmplitudeLeft*p.AmplitudeLeft + p.AmplitudeRight*p.AmplitudeRight)
	if norm < 1e-9 {
		p.AmplitudeLeft = math.Sqrt2 / 2
		p.AmplitudeRight = math.Sqrt2 / 2
		return
	}
	if math.Abs(norm-1) < 1e-9 {
		return
	}
	p.AmplitudeLeft /= norm
	p.AmplitudeRight /= norm
}

// DecoherenceRate derives the engine's decay rate in 1/second.
func (p *RuntimeParameters) DecoherenceRate() float64 {
	return 1000.0 / float64(p.CoherenceTimeMs)
}

// SetSpeed applies a SPEED command: the base speed and both per-side speeds
// move together, discarding any previous calibration trim.
func (p *RuntimeParameters) SetSpeed(speed uint8) {
	p.MotorSpeed = clampUint8(speed, MinMotorSpeed, MaxMotorSpeed)
	p.MotorSpeedLeft = p.MotorSpeed
	p.MotorSpeedRight = p.MotorSpeed
}

// CalibrateLeft trims the left motor channel by a signed offset from the
// base speed.
func (p *RuntimeParameters) CalibrateLeft(offset int) {
	p.MotorSpeedLeft = offsetSpeed(p.MotorSpeed, offset)
}

// CalibrateRight trims the right motor channel by a signed offset from the
// base speed.
func (p *RuntimeParameters) CalibrateRight(offset int) {
	p.MotorSpeedRight = offsetSpeed(p.MotorSpeed, offset)
}

func offsetSpeed(base uint8, offset int) uint8 {
	v := int(base) + offset
	if v < MinMotorSpeed {
		v = MinMotorSpeed
	}
	if v > MaxMotorSpeed {
		v = MaxMotorSpeed
	}
	return uint8(v)
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampUint32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampUint8(v, lo, hi uint8) uint8 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
