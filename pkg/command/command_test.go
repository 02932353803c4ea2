package command

import (
	"bytes"
	"strings"
	"testing"

	"quantum-rover/pkg/drive"
	"quantum-rover/pkg/log"
	"quantum-rover/pkg/params"
	"quantum-rover/pkg/quantum"
	"quantum-rover/pkg/roverrs"
	"quantum-rover/pkg/safety"
	"quantum-rover/pkg/telemetry"
)

type stubSensors struct{}

func (stubSensors) BatteryVoltage() float64     { return 7.8 }
func (stubSensors) MotorCurrent() float64       { return 0.4 }
func (stubSensors) TemperatureC() float64       { return 25 }
func (stubSensors) ObstacleDistanceCm() float64 { return 100 }

type stubDrivetrain struct {
	left, right int
}

func (d *stubDrivetrain) SetChannels(left, right int) error {
	d.left, d.right = left, right
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *stubDrivetrain) {
	t.Helper()
	logger := log.New("test")
	logger.SetWriter(&bytes.Buffer{})

	store, err := params.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	p := params.Defaults()
	engine := quantum.New(p, nil)
	dt := &stubDrivetrain{}
	executor := safety.NewExecutor(dt, safety.DefaultThresholds(), logger)
	sampler := telemetry.NewSampler(stubSensors{}, 0)
	sampler.Refresh(1)

	return NewDispatcher(engine, executor, store, sampler, &p, logger), dt
}

func TestParseMovement(t *testing.T) {
	cases := map[string]drive.Motion{
		"FORWARD":  drive.Forward,
		"BACKWARD": drive.Backward,
		"LEFT":     drive.TurnLeft,
		"RIGHT":    drive.TurnRight,
		"STOP":     drive.Stop,
		"forward":  drive.Forward, // verbs are case-insensitive
	}
	for line, want := range cases {
		cmd, err := Parse(line)
		if err != nil {
			t.Errorf("Parse(%q): %v", line, err)
			continue
		}
		if cmd.Kind != KindMove || cmd.Motion != want {
			t.Errorf("Parse(%q) = %+v, want motion %v", line, cmd, want)
		}
	}
}

func TestParseParameterCommands(t *testing.T) {
	cmd, err := Parse("SPEED:7")
	if err != nil || cmd.Kind != KindSetSpeed || cmd.Value != 7 {
		t.Errorf("SPEED:7 parsed as %+v (%v)", cmd, err)
	}
	cmd, err = Parse("COHERENCE_TIME:1.5")
	if err != nil || cmd.Kind != KindSetCoherenceTime || cmd.Value != 1.5 {
		t.Errorf("COHERENCE_TIME:1.5 parsed as %+v (%v)", cmd, err)
	}
	cmd, err = Parse("CALIBRATE:RIGHT:-3")
	if err != nil || cmd.Kind != KindCalibrate || cmd.Side != SideRight || cmd.Offset != -3 {
		t.Errorf("CALIBRATE:RIGHT:-3 parsed as %+v (%v)", cmd, err)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, line := range []string{"SPEED:fast", "CALIBRATE:UP:2", "CALIBRATE:LEFT:x", ""} {
		if _, err := Parse(line); err == nil {
			t.Errorf("Parse(%q) accepted a malformed line", line)
		}
	}
	_, err := Parse("WARP_DRIVE:9")
	if roverrs.CodeOf(err) != roverrs.ErrUnknownCommand {
		t.Errorf("unknown verb error = %v", err)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.HandleLine("FLY", 1)
	if !strings.HasPrefix(resp, "ERROR: Unknown command") {
		t.Errorf("response = %q", resp)
	}
}

func TestDispatchSpeedAndCalibration(t *testing.T) {
	d, dt := newTestDispatcher(t)

	if resp := d.HandleLine("SPEED:8", 1); resp != "OK:SPEED=8" {
		t.Errorf("SPEED response = %q", resp)
	}
	if resp := d.HandleLine("CALIBRATE:LEFT:-2", 2); resp != "OK:CALIBRATE_LEFT=6" {
		t.Errorf("CALIBRATE response = %q", resp)
	}
	if resp := d.HandleLine("FORWARD", 3); resp != "OK:FORWARD" {
		t.Errorf("FORWARD response = %q", resp)
	}
	// Left channel trimmed to 6, right at base 8.
	if dt.left != 150 || dt.right != 200 {
		t.Errorf("channels = (%d, %d), want (150, 200)", dt.left, dt.right)
	}
}

func TestDispatchSpeedClamps(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if resp := d.HandleLine("SPEED:99", 1); resp != "OK:SPEED=10" {
		t.Errorf("over-range SPEED response = %q", resp)
	}
	if resp := d.HandleLine("SPEED:0", 2); resp != "OK:SPEED=1" {
		t.Errorf("under-range SPEED response = %q", resp)
	}
}

func TestDispatchCoherenceTimeClampsToMinimum(t *testing.T) {
	d, _ := newTestDispatcher(t)
	// 0.05s is below the 100ms floor.
	if resp := d.HandleLine("COHERENCE_TIME:0.05", 1); resp != "OK:COHERENCE_TIME=0.100" {
		t.Errorf("response = %q", resp)
	}
	if d.Params.CoherenceTimeMs != params.MinCoherenceTimeMs {
		t.Errorf("CoherenceTimeMs = %d", d.Params.CoherenceTimeMs)
	}
}

func TestDispatchAmplitudeNormalizes(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.HandleLine("QUANTUM_LEFT:0.6", 1)
	resp := d.HandleLine("QUANTUM_RIGHT:0.8", 2)
	if !strings.HasPrefix(resp, "OK:QUANTUM_RIGHT=") {
		t.Fatalf("response = %q", resp)
	}
	norm := d.Params.AmplitudeLeft*d.Params.AmplitudeLeft + d.Params.AmplitudeRight*d.Params.AmplitudeRight
	if norm < 0.999 || norm > 1.001 {
		t.Errorf("amplitudes not normalized: norm² = %v", norm)
	}
}

func TestDispatchEmergencyFlow(t *testing.T) {
	d, dt := newTestDispatcher(t)

	d.HandleLine("FORWARD", 1)
	if resp := d.HandleLine("EMERGENCY_STOP", 2); resp != "OK:EMERGENCY=1" {
		t.Errorf("EMERGENCY_STOP response = %q", resp)
	}
	if dt.left != 0 || dt.right != 0 {
		t.Errorf("motors running after emergency stop: (%d, %d)", dt.left, dt.right)
	}
	if resp := d.HandleLine("FORWARD", 3); !strings.HasPrefix(resp, "ERROR:") {
		t.Errorf("movement under latch accepted: %q", resp)
	}
	if dt.left != 0 || dt.right != 0 {
		t.Errorf("motor output under latch: (%d, %d)", dt.left, dt.right)
	}
	if resp := d.HandleLine("RESET_EMERGENCY", 4); resp != "OK:EMERGENCY=0" {
		t.Errorf("RESET_EMERGENCY response = %q", resp)
	}
	if resp := d.HandleLine("FORWARD", 5); resp != "OK:FORWARD" {
		t.Errorf("movement after reset rejected: %q", resp)
	}
}

func TestDispatchLatchedMoveLeavesNoOverride(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.HandleLine("EMERGENCY_STOP", 1)
	if resp := d.HandleLine("FORWARD", 2); !strings.HasPrefix(resp, "ERROR:") {
		t.Fatalf("movement under latch accepted: %q", resp)
	}
	d.HandleLine("RESET_EMERGENCY", 3)

	// The rejected FORWARD must not sit in the override slot waiting
	// for the decision cadence to replay it.
	if m, active := d.executor.Override(4); active {
		t.Errorf("override %v pending after emergency reset", m)
	}
}

func TestMalformedLineStillFeedsWatchdog(t *testing.T) {
	d, dt := newTestDispatcher(t)

	d.HandleLine("FORWARD", 100)
	if dt.left <= 0 {
		t.Fatal("rover should be moving forward")
	}
	d.HandleLine("SPEED:notanumber", 109)

	// Silence is measured from the last received line, valid or not.
	if d.executor.Watchdog(111) {
		t.Error("watchdog tripped despite recent traffic")
	}
	if dt.left <= 0 {
		t.Errorf("motors stopped inside the silence window: (%d, %d)", dt.left, dt.right)
	}
	if !d.executor.Watchdog(120) {
		t.Error("watchdog should trip after real silence")
	}
}

func TestDispatchWalkAndQueries(t *testing.T) {
	d, _ := newTestDispatcher(t)

	if resp := d.HandleLine("START_QUANTUM_WALK", 1); resp != "OK:QUANTUM_WALK=1" {
		t.Errorf("start response = %q", resp)
	}
	status := d.HandleLine("STATUS", 2)
	if !strings.HasPrefix(status, "STATUS:WALK=1,") {
		t.Errorf("status = %q", status)
	}
	qs := d.HandleLine("QUANTUM_STATE", 3)
	if !strings.Contains(qs, "PLEFT=0.5000") || !strings.Contains(qs, "STATE=superposition") {
		t.Errorf("quantum state = %q", qs)
	}
	tl := d.HandleLine("TELEMETRY", 4)
	if !strings.HasPrefix(tl, "TELEMETRY:BAT=7.80,") {
		t.Errorf("telemetry = %q", tl)
	}
	stats := d.HandleLine("STATISTICS", 5)
	if !strings.HasPrefix(stats, "STATISTICS:TOTAL=0,") {
		t.Errorf("statistics = %q", stats)
	}
	if resp := d.HandleLine("STOP_QUANTUM_WALK", 6); resp != "OK:QUANTUM_WALK=0" {
		t.Errorf("stop response = %q", resp)
	}
}

func TestDispatchSaveLoad(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.HandleLine("SPEED:9", 1)
	if resp := d.HandleLine("SAVE_PARAMS", 2); resp != "OK:SAVED" {
		t.Fatalf("save response = %q", resp)
	}
	d.HandleLine("SPEED:3", 3)
	if resp := d.HandleLine("LOAD_PARAMS", 4); resp != "OK:LOADED=1" {
		t.Fatalf("load response = %q", resp)
	}
	if d.Params.MotorSpeed != 9 {
		t.Errorf("MotorSpeed after load = %d, want 9", d.Params.MotorSpeed)
	}
}

func TestDispatchSystemReset(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.HandleLine("SPEED:9", 1)
	d.HandleLine("START_QUANTUM_WALK", 2)
	d.HandleLine("EMERGENCY_STOP", 3)
	if resp := d.HandleLine("SYSTEM_RESET", 4); resp != "OK:SYSTEM_RESET" {
		t.Fatalf("reset response = %q", resp)
	}
	if *d.Params != params.Defaults() {
		t.Errorf("params not restored to defaults: %+v", *d.Params)
	}
	if strings.Contains(d.HandleLine("STATUS", 5), "EMERGENCY=1") {
		t.Error("latch survived system reset")
	}
}
