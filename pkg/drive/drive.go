// Package drive models the rover's two-channel differential drivetrain.
// Movement is expressed as a Motion plus per-side speeds; the package maps
// that onto signed channel outputs for whatever motor backend is attached.
package drive

import (
	"quantum-rover/pkg/log"
)

// Motion is a drivetrain-level movement command.
type Motion int

const (
	Stop Motion = iota
	Forward
	Backward
	TurnLeft
	TurnRight
)

func (m Motion) String() string {
	switch m {
	case Stop:
		return "STOP"
	case Forward:
		return "FORWARD"
	case Backward:
		return "BACKWARD"
	case TurnLeft:
		return "LEFT"
	case TurnRight:
		return "RIGHT"
	default:
		return "UNKNOWN"
	}
}

// Moving reports whether the motion produces motor output.
func (m Motion) Moving() bool {
	return m != Stop
}

// PWM output range per channel.
const maxPWM = 255

// Drivetrain drives the two motor channels. Positive values spin a channel
// forward, negative backward, zero stops it.
type Drivetrain interface {
	SetChannels(left, right int) error
}

// pwmForSpeed maps the operator speed scale (1-10) onto the PWM range.
func pwmForSpeed(speed uint8) int {
	pwm := int(speed) * 25
	if pwm > maxPWM {
		pwm = maxPWM
	}
	return pwm
}

// Channels resolves a motion and per-side speeds into signed channel
// outputs with direction-specific polarity.
func Channels(m Motion, speedLeft, speedRight uint8) (left, right int) {
	l := pwmForSpeed(speedLeft)
	r := pwmForSpeed(speedRight)
	switch m {
	case Forward:
		return l, r
	case Backward:
		return -l, -r
	case TurnLeft:
		return -l, r
	case TurnRight:
		return l, -r
	default:
		return 0, 0
	}
}

// Apply resolves and issues a motion to the drivetrain.
func Apply(dt Drivetrain, m Motion, speedLeft, speedRight uint8) error {
	l, r := Channels(m, speedLeft, speedRight)
	return dt.SetChannels(l, r)
}

// Sim is a drivetrain backend for hardware-free operation. It remembers the
// last channel outputs and logs transitions.
type Sim struct {
	logger      *log.Logger
	left, right int
}

// NewSim creates a simulated drivetrain.
func NewSim(logger *log.Logger) *Sim {
	if logger == nil {
		logger = log.GetLogger("drive")
	}
	return &Sim{logger: logger}
}

// SetChannels implements Drivetrain.
func (s *Sim) SetChannels(left, right int) error {
	if left != s.left || right != s.right {
		s.logger.WithFields(log.Fields{"left": left, "right": right}).Debug("motor channels")
	}
	s.left, s.right = left, right
	return nil
}

// Channels returns the last issued channel outputs.
func (s *Sim) Channels() (left, right int) {
	return s.left, s.right
}
