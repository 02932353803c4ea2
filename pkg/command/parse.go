// Package command decodes the newline-framed text protocol arriving on the
// shared serial link into typed operations and dispatches them against the
// engine, executor, and parameter store. Every line produces exactly one
// response line; a malformed or unknown line is reported, never fatal.
package command

import (
	"strconv"
	"strings"

	"quantum-rover/pkg/drive"
	"quantum-rover/pkg/roverrs"
)

// Kind discriminates the closed set of command variants.
type Kind int

const (
	KindUnknown Kind = iota

	// Movement (manual overrides)
	KindMove

	// Parameter set
	KindSetSpeed
	KindSetAmplitudeLeft
	KindSetAmplitudeRight
	KindSetCoherenceTime
	KindSetNoise
	KindSetInterval
	KindCalibrate

	// System
	KindStartWalk
	KindStopWalk
	KindEmergencyStop
	KindResetEmergency
	KindSystemReset
	KindSaveParams
	KindLoadParams

	// Query
	KindQueryStatus
	KindQueryQuantumState
	KindQueryTelemetry
	KindQueryStatistics
)

// Side selects a motor channel for calibration.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

// Command is one parsed protocol line.
type Command struct {
	Kind   Kind
	Motion drive.Motion // KindMove
	Value  float64      // numeric payload for parameter sets
	Side   Side         // KindCalibrate
	Offset int          // KindCalibrate
	Raw    string       // original line, for reporting
}

// Parse classifies one trimmed line into a Command. Unknown verbs and
// malformed payloads come back as an error alongside a KindUnknown
// command; the dispatcher turns that into a response line.
func Parse(line string) (Command, error) {
	raw := strings.TrimSpace(line)
	cmd := Command{Kind: KindUnknown, Raw: raw}
	if raw == "" {
		return cmd, roverrs.UnknownCommandError("(empty)")
	}

	verb := raw
	payload := ""
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		verb = raw[:i]
		payload = raw[i+1:]
	}
	verb = strings.ToUpper(verb)

	switch verb {
	case "FORWARD":
		return Command{Kind: KindMove, Motion: drive.Forward, Raw: raw}, nil
	case "BACKWARD":
		return Command{Kind: KindMove, Motion: drive.Backward, Raw: raw}, nil
	case "LEFT":
		return Command{Kind: KindMove, Motion: drive.TurnLeft, Raw: raw}, nil
	case "RIGHT":
		return Command{Kind: KindMove, Motion: drive.TurnRight, Raw: raw}, nil
	case "STOP":
		return Command{Kind: KindMove, Motion: drive.Stop, Raw: raw}, nil

	case "SPEED":
		return parseValue(KindSetSpeed, raw, payload)
	case "QUANTUM_LEFT":
		return parseValue(KindSetAmplitudeLeft, raw, payload)
	case "QUANTUM_RIGHT":
		return parseValue(KindSetAmplitudeRight, raw, payload)
	case "COHERENCE_TIME":
		return parseValue(KindSetCoherenceTime, raw, payload)
	case "QUANTUM_NOISE":
		return parseValue(KindSetNoise, raw, payload)
	case "INTERVAL":
		return parseValue(KindSetInterval, raw, payload)
	case "CALIBRATE":
		return parseCalibrate(raw, payload)

	case "START_QUANTUM_WALK":
		return Command{Kind: KindStartWalk, Raw: raw}, nil
	case "STOP_QUANTUM_WALK":
		return Command{Kind: KindStopWalk, Raw: raw}, nil
	case "EMERGENCY_STOP":
		return Command{Kind: KindEmergencyStop, Raw: raw}, nil
	case "RESET_EMERGENCY":
		return Command{Kind: KindResetEmergency, Raw: raw}, nil
	case "SYSTEM_RESET":
		return Command{Kind: KindSystemReset, Raw: raw}, nil
	case "SAVE_PARAMS":
		return Command{Kind: KindSaveParams, Raw: raw}, nil
	case "LOAD_PARAMS":
		return Command{Kind: KindLoadParams, Raw: raw}, nil

	case "STATUS":
		return Command{Kind: KindQueryStatus, Raw: raw}, nil
	case "QUANTUM_STATE":
		return Command{Kind: KindQueryQuantumState, Raw: raw}, nil
	case "TELEMETRY":
		return Command{Kind: KindQueryTelemetry, Raw: raw}, nil
	case "STATISTICS":
		return Command{Kind: KindQueryStatistics, Raw: raw}, nil
	}

	return cmd, roverrs.UnknownCommandError(raw)
}

func parseValue(kind Kind, raw, payload string) (Command, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return Command{Kind: KindUnknown, Raw: raw},
			roverrs.ValidationError(raw, "numeric value expected")
	}
	return Command{Kind: kind, Value: v, Raw: raw}, nil
}

// parseCalibrate handles CALIBRATE:LEFT|RIGHT:<signed int>.
func parseCalibrate(raw, payload string) (Command, error) {
	side, offsetStr, ok := strings.Cut(payload, ":")
	if !ok {
		return Command{Kind: KindUnknown, Raw: raw},
			roverrs.ValidationError(raw, "expected CALIBRATE:LEFT|RIGHT:<offset>")
	}
	cmd := Command{Kind: KindCalibrate, Raw: raw}
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "LEFT":
		cmd.Side = SideLeft
	case "RIGHT":
		cmd.Side = SideRight
	default:
		return Command{Kind: KindUnknown, Raw: raw},
			roverrs.ValidationError(raw, "side must be LEFT or RIGHT")
	}
	offset, err := strconv.Atoi(strings.TrimSpace(offsetStr))
	if err != nil {
		return Command{Kind: KindUnknown, Raw: raw},
			roverrs.ValidationError(raw, "integer offset expected")
	}
	cmd.Offset = offset
	return cmd, nil
}
