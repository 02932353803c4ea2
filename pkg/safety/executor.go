// Package safety provides the rover's safety-gated movement executor.
// This owns the emergency-stop latch, the command watchdog, and the safety
// predicates that gate every motor command. Violations suppress movement
// and are reported; they never halt the control loop.
package safety

import (
	"quantum-rover/pkg/drive"
	"quantum-rover/pkg/log"
	"quantum-rover/pkg/roverrs"
	"quantum-rover/pkg/telemetry"
)

// Thresholds are the safety gating limits.
type Thresholds struct {
	// BatteryLowV suppresses movement; BatteryCriticalV latches the
	// emergency stop.
	BatteryLowV      float64
	BatteryCriticalV float64

	CurrentHighA     float64
	TemperatureHighC float64

	// MinClearanceCm is the obstacle stop distance. An unknown distance
	// (negative sample) passes the check.
	MinClearanceCm float64

	// WatchdogTimeout is the command-silence limit in seconds.
	WatchdogTimeout float64

	// MemoryFloorBytes is the hard floor below which the process must
	// restart. The only fatal condition.
	MemoryFloorBytes uint64
}

// DefaultThresholds returns the compiled-in limits for a 2S pack rover.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BatteryLowV:      6.6,
		BatteryCriticalV: 6.2,
		CurrentHighA:     2.5,
		TemperatureHighC: 60.0,
		MinClearanceCm:   15.0,
		WatchdogTimeout:  10.0,
		MemoryFloorBytes: 1 << 20,
	}
}

// Executor applies movement decisions to the drivetrain under safety
// gating. Owned by the single control loop; no internal locking.
type Executor struct {
	logger     *log.Logger
	drivetrain drive.Drivetrain
	thresholds Thresholds

	emergencyStopActive bool

	current  drive.Motion
	previous drive.Motion

	speedLeft  uint8
	speedRight uint8

	overrideMotion drive.Motion
	overrideUntil  float64
	overrideActive bool

	lastCommandAt     float64
	autonomousEnabled bool
}

// NewExecutor creates an executor over the given drivetrain.
func NewExecutor(dt drive.Drivetrain, th Thresholds, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.GetLogger("executor")
	}
	return &Executor{
		logger:            logger,
		drivetrain:        dt,
		thresholds:        th,
		autonomousEnabled: true,
		speedLeft:         5,
		speedRight:        5,
	}
}

// SetSpeeds updates the calibrated per-side speeds.
func (e *Executor) SetSpeeds(left, right uint8) {
	e.speedLeft, e.speedRight = left, right
}

// Speeds returns the calibrated per-side speeds.
func (e *Executor) Speeds() (left, right uint8) {
	return e.speedLeft, e.speedRight
}

// SafetyOK evaluates the safety predicates against the latest telemetry
// sample. On failure it returns the name of the first failing predicate.
// A critical battery additionally latches the emergency stop.
func (e *Executor) SafetyOK(s telemetry.Sample) (ok bool, predicate string) {
	if s.BatteryVoltage < e.thresholds.BatteryCriticalV {
		if !e.emergencyStopActive {
			e.logger.WithField("voltage", s.BatteryVoltage).Error("battery critical, latching emergency stop")
			e.EmergencyStop()
		}
		return false, "battery_critical"
	}
	if s.BatteryVoltage < e.thresholds.BatteryLowV {
		return false, "battery_low"
	}
	if s.MotorCurrent > e.thresholds.CurrentHighA {
		return false, "current_high"
	}
	if s.TemperatureC > e.thresholds.TemperatureHighC {
		return false, "temperature_high"
	}
	if s.ObstacleDistanceCm >= 0 && s.ObstacleDistanceCm < e.thresholds.MinClearanceCm {
		return false, "obstacle_close"
	}
	return true, ""
}

// ExecuteDecision applies a motion if the latch is clear and every safety
// predicate holds. Under the latch it is a silent no-op returning the
// emergency-stop error; a failing predicate forces a stop and returns a
// safety error naming it.
func (e *Executor) ExecuteDecision(m drive.Motion, s telemetry.Sample) error {
	if e.emergencyStopActive {
		return roverrs.New(roverrs.ErrEmergencyStop, "emergency stop active")
	}
	if m == drive.Stop {
		return e.applyMotion(drive.Stop)
	}
	if ok, predicate := e.SafetyOK(s); !ok {
		e.forceStop()
		return roverrs.SafetyError(predicate)
	}
	return e.applyMotion(m)
}

// ManualOverride records an operator movement that overrides the engine's
// collapse output until ttl seconds elapse, and applies it immediately.
// Expiry silently reverts to quantum-driven movement. Under the latch
// nothing is recorded: a rejected command must not replay after
// ResetEmergencyStop.
func (e *Executor) ManualOverride(m drive.Motion, ttl float64, eventtime float64, s telemetry.Sample) error {
	if e.emergencyStopActive {
		return roverrs.New(roverrs.ErrEmergencyStop, "emergency stop active")
	}
	e.overrideMotion = m
	e.overrideUntil = eventtime + ttl
	e.overrideActive = true
	return e.ExecuteDecision(m, s)
}

// Override returns the unexpired manual override motion, if any.
func (e *Executor) Override(eventtime float64) (drive.Motion, bool) {
	if !e.overrideActive {
		return drive.Stop, false
	}
	if eventtime >= e.overrideUntil {
		e.overrideActive = false
		return drive.Stop, false
	}
	return e.overrideMotion, true
}

// ClearOverride cancels any pending manual override.
func (e *Executor) ClearOverride() {
	e.overrideActive = false
}

// LastDirection returns the motion most recently in effect: the current
// one while moving, otherwise the one before the stop.
func (e *Executor) LastDirection() drive.Motion {
	if e.current.Moving() {
		return e.current
	}
	return e.previous
}

// NoteCommand records command activity for the watchdog and re-enables
// autonomous movement after a watchdog trip.
func (e *Executor) NoteCommand(eventtime float64) {
	e.lastCommandAt = eventtime
	e.autonomousEnabled = true
}

// AutonomousEnabled reports whether quantum-driven movement is allowed.
func (e *Executor) AutonomousEnabled() bool {
	return e.autonomousEnabled
}

// Watchdog checks command silence. If the timeout elapsed while the rover
// is moving it forces a stop, disables autonomous movement, and returns
// true. Telemetry and command intake are unaffected.
func (e *Executor) Watchdog(eventtime float64) bool {
	if eventtime-e.lastCommandAt <= e.thresholds.WatchdogTimeout {
		return false
	}
	if !e.current.Moving() {
		return false
	}
	e.logger.WithField("silence", eventtime-e.lastCommandAt).Warn("watchdog timeout, forcing stop")
	e.forceStop()
	e.autonomousEnabled = false
	e.overrideActive = false
	return true
}

// EmergencyStop latches the stop and halts the drivetrain immediately and
// unconditionally.
func (e *Executor) EmergencyStop() {
	e.emergencyStopActive = true
	e.overrideActive = false
	e.forceStop()
	e.logger.Error("EMERGENCY STOP")
}

// ResetEmergencyStop clears the latch. No-op when already clear.
func (e *Executor) ResetEmergencyStop() {
	if !e.emergencyStopActive {
		return
	}
	e.emergencyStopActive = false
	e.logger.Info("emergency stop reset")
}

// EmergencyStopActive reports the latch state.
func (e *Executor) EmergencyStopActive() bool {
	return e.emergencyStopActive
}

// CurrentMotion returns the motion currently applied to the drivetrain.
func (e *Executor) CurrentMotion() drive.Motion {
	return e.current
}

// PreviousMotion returns the motion applied before the current one.
func (e *Executor) PreviousMotion() drive.Motion {
	return e.previous
}

// CheckMemory enforces the resource floor. Returns the fatal resource
// error when free memory falls below it.
func (e *Executor) CheckMemory(s telemetry.Sample) error {
	if s.FreeMemoryBytes > 0 && s.FreeMemoryBytes < e.thresholds.MemoryFloorBytes {
		return roverrs.ResourceError("free memory below hard floor").SetComponent("executor")
	}
	return nil
}

func (e *Executor) applyMotion(m drive.Motion) error {
	if m != e.current {
		e.previous = e.current
		e.current = m
	}
	if err := drive.Apply(e.drivetrain, m, e.speedLeft, e.speedRight); err != nil {
		return roverrs.Wrap(err, roverrs.ErrComm, "drivetrain write failed")
	}
	return nil
}

func (e *Executor) forceStop() {
	e.previous = e.current
	e.current = drive.Stop
	if err := drive.Apply(e.drivetrain, drive.Stop, 0, 0); err != nil {
		e.logger.WithError(err).Error("drivetrain stop failed")
	}
}
