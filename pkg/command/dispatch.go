package command

import (
	"fmt"
	"math"

	"quantum-rover/pkg/drive"
	"quantum-rover/pkg/log"
	"quantum-rover/pkg/params"
	"quantum-rover/pkg/quantum"
	"quantum-rover/pkg/roverrs"
	"quantum-rover/pkg/safety"
	"quantum-rover/pkg/telemetry"
)

// DefaultOverrideTTL is how long a manual movement command suppresses
// quantum-driven movement, in seconds.
const DefaultOverrideTTL = 10.0

// Dispatcher routes parsed commands to the engine, executor, and store.
// Owned by the control loop; one Dispatch call per received line, one
// response line per call.
type Dispatcher struct {
	logger   *log.Logger
	engine   *quantum.Engine
	executor *safety.Executor
	store    *params.Store
	sampler  *telemetry.Sampler

	// Params are the live tunables, mutated in place by set commands.
	Params *params.RuntimeParameters

	// OverrideTTL is the manual override lifetime in seconds.
	OverrideTTL float64
}

// NewDispatcher wires a dispatcher over the controller's components.
func NewDispatcher(engine *quantum.Engine, executor *safety.Executor, store *params.Store,
	sampler *telemetry.Sampler, p *params.RuntimeParameters, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.GetLogger("command")
	}
	return &Dispatcher{
		logger:      logger,
		engine:      engine,
		executor:    executor,
		store:       store,
		sampler:     sampler,
		Params:      p,
		OverrideTTL: DefaultOverrideTTL,
	}
}

// HandleLine parses and dispatches one protocol line, returning the single
// response line. Never panics, never halts the loop.
func (d *Dispatcher) HandleLine(line string, eventtime float64) string {
	cmd, err := Parse(line)
	if err != nil {
		// Still command-source activity: the watchdog guards against
		// silence, not against malformed traffic.
		d.executor.NoteCommand(eventtime)
		if roverrs.CodeOf(err) == roverrs.ErrUnknownCommand {
			return fmt.Sprintf("ERROR: Unknown command: %s", cmd.Raw)
		}
		return fmt.Sprintf("ERROR: Invalid command: %s", cmd.Raw)
	}
	return d.Dispatch(cmd, eventtime)
}

// Dispatch executes one parsed command. The match is exhaustive over Kind;
// KindUnknown is the explicit default arm.
func (d *Dispatcher) Dispatch(cmd Command, eventtime float64) string {
	d.executor.NoteCommand(eventtime)

	switch cmd.Kind {
	case KindMove:
		return d.dispatchMove(cmd.Motion, eventtime)

	case KindSetSpeed:
		d.Params.SetSpeed(roundUint8(cmd.Value))
		d.syncSpeeds()
		return fmt.Sprintf("OK:SPEED=%d", d.Params.MotorSpeed)

	case KindSetAmplitudeLeft:
		d.Params.AmplitudeLeft = cmd.Value
		d.Params.Clamp()
		d.engine.Configure(*d.Params)
		return fmt.Sprintf("OK:QUANTUM_LEFT=%.3f", d.Params.AmplitudeLeft)

	case KindSetAmplitudeRight:
		d.Params.AmplitudeRight = cmd.Value
		d.Params.Clamp()
		d.engine.Configure(*d.Params)
		return fmt.Sprintf("OK:QUANTUM_RIGHT=%.3f", d.Params.AmplitudeRight)

	case KindSetCoherenceTime:
		d.Params.CoherenceTimeMs = roundMs(cmd.Value)
		d.Params.Clamp()
		d.engine.Configure(*d.Params)
		return fmt.Sprintf("OK:COHERENCE_TIME=%.3f", float64(d.Params.CoherenceTimeMs)/1000)

	case KindSetNoise:
		d.Params.NoiseLevel = cmd.Value
		d.Params.Clamp()
		d.engine.Configure(*d.Params)
		return fmt.Sprintf("OK:QUANTUM_NOISE=%.3f", d.Params.NoiseLevel)

	case KindSetInterval:
		d.Params.DecisionIntervalMs = roundMs(cmd.Value)
		d.Params.Clamp()
		return fmt.Sprintf("OK:INTERVAL=%.3f", float64(d.Params.DecisionIntervalMs)/1000)

	case KindCalibrate:
		if cmd.Side == SideLeft {
			d.Params.CalibrateLeft(cmd.Offset)
			d.syncSpeeds()
			return fmt.Sprintf("OK:CALIBRATE_LEFT=%d", d.Params.MotorSpeedLeft)
		}
		d.Params.CalibrateRight(cmd.Offset)
		d.syncSpeeds()
		return fmt.Sprintf("OK:CALIBRATE_RIGHT=%d", d.Params.MotorSpeedRight)

	case KindStartWalk:
		d.engine.SetWalking(true)
		return "OK:QUANTUM_WALK=1"

	case KindStopWalk:
		d.engine.SetWalking(false)
		d.executor.ClearOverride()
		d.executor.ExecuteDecision(drive.Stop, d.sampler.Last())
		return "OK:QUANTUM_WALK=0"

	case KindEmergencyStop:
		d.executor.EmergencyStop()
		return "OK:EMERGENCY=1"

	case KindResetEmergency:
		d.executor.ResetEmergencyStop()
		return "OK:EMERGENCY=0"

	case KindSystemReset:
		*d.Params = params.Defaults()
		d.engine.Reset(*d.Params)
		d.executor.ResetEmergencyStop()
		d.executor.ClearOverride()
		d.executor.ExecuteDecision(drive.Stop, d.sampler.Last())
		d.syncSpeeds()
		d.logger.Warn("full system reset")
		return "OK:SYSTEM_RESET"

	case KindSaveParams:
		if err := d.store.Save(*d.Params); err != nil {
			d.logger.WithError(err).Error("parameter save failed")
			return fmt.Sprintf("ERROR: Save failed: %v", err)
		}
		return "OK:SAVED"

	case KindLoadParams:
		p, fromDisk := d.store.Load()
		*d.Params = p
		d.engine.Configure(*d.Params)
		d.syncSpeeds()
		if fromDisk {
			return "OK:LOADED=1"
		}
		return "OK:LOADED=0"

	case KindQueryStatus:
		return d.statusLine()
	case KindQueryQuantumState:
		return d.quantumStateLine()
	case KindQueryTelemetry:
		return d.TelemetryLine()
	case KindQueryStatistics:
		return d.statisticsLine()

	default: // KindUnknown
		return fmt.Sprintf("ERROR: Unknown command: %s", cmd.Raw)
	}
}

func (d *Dispatcher) dispatchMove(m drive.Motion, eventtime float64) string {
	if m == drive.Stop {
		d.executor.ClearOverride()
		if err := d.executor.ExecuteDecision(drive.Stop, d.sampler.Last()); err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		return "OK:STOP"
	}
	if err := d.executor.ManualOverride(m, d.OverrideTTL, eventtime, d.sampler.Last()); err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return fmt.Sprintf("OK:%s", m)
}

func (d *Dispatcher) syncSpeeds() {
	d.executor.SetSpeeds(d.Params.MotorSpeedLeft, d.Params.MotorSpeedRight)
}

func (d *Dispatcher) statusLine() string {
	s := d.sampler.Last()
	walk := 0
	if d.engine.Walking() {
		walk = 1
	}
	emergency := 0
	if d.executor.EmergencyStopActive() {
		emergency = 1
	}
	autonomous := 0
	if d.executor.AutonomousEnabled() {
		autonomous = 1
	}
	return fmt.Sprintf("STATUS:WALK=%d,EMERGENCY=%d,AUTONOMOUS=%d,DIRECTION=%s,SPEED=%d,BAT=%.2f,UPTIME=%d",
		walk, emergency, autonomous, d.executor.CurrentMotion(), d.Params.MotorSpeed,
		s.BatteryVoltage, s.UptimeSeconds)
}

func (d *Dispatcher) quantumStateLine() string {
	st := d.engine.Snapshot()
	pLeft := st.AmplitudeLeft * st.AmplitudeLeft
	pRight := st.AmplitudeRight * st.AmplitudeRight
	return fmt.Sprintf("QUANTUM_STATE:AL=%.4f,AR=%.4f,PL=%.4f,PR=%.4f,PLEFT=%.4f,PRIGHT=%.4f,ENTROPY=%.3f,COHERENCE=%.3f,STATE=%s",
		st.AmplitudeLeft, st.AmplitudeRight, st.PhaseLeft, st.PhaseRight,
		pLeft, pRight, d.engine.Entropy(), d.engine.Coherence(), st.Tag)
}

// TelemetryLine composes the periodic telemetry line; the control loop
// emits it on its own cadence and the TELEMETRY query answers with the
// same format.
func (d *Dispatcher) TelemetryLine() string {
	st := d.engine.Snapshot()
	return telemetry.FormatLine(d.sampler.Last(),
		telemetry.EngineReadout{
			Entropy:   d.engine.Entropy(),
			Coherence: d.engine.Coherence(),
			StateTag:  st.Tag.String(),
		},
		telemetry.DriveReadout{
			LastDirection: d.executor.LastDirection().String(),
			Speed:         d.Params.MotorSpeed,
			Emergency:     d.executor.EmergencyStopActive(),
		})
}

func (d *Dispatcher) statisticsLine() string {
	stats := d.engine.Statistics()
	ratio := 0.0
	if stats.TotalDecisions > 0 {
		ratio = float64(stats.LeftCount) / float64(stats.TotalDecisions)
	}
	meanEntropy, meanCoherence := d.engine.RecentMeans()
	return fmt.Sprintf("STATISTICS:TOTAL=%d,LEFT=%d,RIGHT=%d,LEFT_RATIO=%.3f,MEAN_ENTROPY=%.3f,MEAN_COHERENCE=%.3f",
		stats.TotalDecisions, stats.LeftCount, stats.RightCount, ratio, meanEntropy, meanCoherence)
}

// roundUint8 converts a float payload to uint8, guarding the conversion
// against out-of-range values before the range clamp applies.
func roundUint8(v float64) uint8 {
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return uint8(r)
}

// roundMs converts a seconds payload to whole milliseconds.
func roundMs(seconds float64) uint32 {
	ms := math.Round(seconds * 1000)
	if ms < 0 {
		return 0
	}
	if ms > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(ms)
}
