package controller

import (
	"strings"
	"sync"
	"testing"
	"time"

	"quantum-rover/pkg/config"
	"quantum-rover/pkg/log"
	"quantum-rover/pkg/serial"
)

// fakeLink queues inbound lines and records everything written.
type fakeLink struct {
	inbound []string
	written []string
}

func (f *fakeLink) Poll() (string, bool) {
	if len(f.inbound) == 0 {
		return "", false
	}
	line := f.inbound[0]
	f.inbound = f.inbound[1:]
	return line, true
}

func (f *fakeLink) WriteLine(line string) error {
	f.written = append(f.written, line)
	return nil
}

func (f *fakeLink) Err() error { return nil }

// fixedSensors returns constant readings so safety outcomes are
// deterministic.
type fixedSensors struct {
	battery  float64
	current  float64
	temp     float64
	distance float64
}

func (s *fixedSensors) BatteryVoltage() float64     { return s.battery }
func (s *fixedSensors) MotorCurrent() float64       { return s.current }
func (s *fixedSensors) TemperatureC() float64       { return s.temp }
func (s *fixedSensors) ObstacleDistanceCm() float64 { return s.distance }

func healthySensors() *fixedSensors {
	return &fixedSensors{battery: 7.8, current: 0.5, temp: 25, distance: 120}
}

// recordingDrivetrain keeps the last channel values applied.
type recordingDrivetrain struct {
	mu    sync.Mutex
	left  int
	right int
}

func (d *recordingDrivetrain) SetChannels(left, right int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.left, d.right = left, right
	return nil
}

func (d *recordingDrivetrain) channels() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.left, d.right
}

// scriptedSampler replays fixed measurements.
type scriptedSampler struct {
	uniforms []float64
	idx      int
}

func (s *scriptedSampler) Reseed() {}

func (s *scriptedSampler) Uniform() float64 {
	if s.idx >= len(s.uniforms) {
		return 0.5
	}
	v := s.uniforms[s.idx]
	s.idx++
	return v
}

func (s *scriptedSampler) Gauss(sigma float64) float64 { return 0 }
func (s *scriptedSampler) Phase() float64              { return 0 }

func quietLogger() *log.Logger {
	l := log.New("test")
	l.SetLevel(log.ERROR)
	return l
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Defaults()
	cfg.Controller.DataDir = t.TempDir()
	return cfg
}

func newTestController(t *testing.T, link Link, sensors *fixedSensors, dt *recordingDrivetrain, uniforms []float64) *Controller {
	t.Helper()
	c, err := New(Options{
		Config:     testConfig(t),
		Link:       link,
		Sensors:    sensors,
		Drivetrain: dt,
		Logger:     quietLogger(),
		Sampler:    &scriptedSampler{uniforms: uniforms},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCommandEventAnswersEachLine(t *testing.T) {
	link := &fakeLink{inbound: []string{"SPEED:7", "BOGUS", "QUANTUM_STATE"}}
	c := newTestController(t, link, healthySensors(), &recordingDrivetrain{}, nil)

	c.commandEvent(1.0)

	if len(link.written) != 3 {
		t.Fatalf("responses = %v, want 3 lines", link.written)
	}
	if link.written[0] != "OK:SPEED=7" {
		t.Errorf("response[0] = %q", link.written[0])
	}
	if link.written[1] != "ERROR: Unknown command: BOGUS" {
		t.Errorf("response[1] = %q", link.written[1])
	}
	if !strings.HasPrefix(link.written[2], "QUANTUM_STATE:") {
		t.Errorf("response[2] = %q", link.written[2])
	}
}

func TestTelemetryEmittedWithoutClient(t *testing.T) {
	link := &fakeLink{}
	c := newTestController(t, link, healthySensors(), &recordingDrivetrain{}, nil)

	next := c.telemetryEvent(5.0)
	if next != 5.0+c.cfg.Controller.TelemetryPeriod {
		t.Errorf("next waketime = %g", next)
	}
	if len(link.written) != 1 || !strings.HasPrefix(link.written[0], "TELEMETRY:BAT=") {
		t.Fatalf("telemetry line = %v", link.written)
	}
}

func TestDecisionEventDrivesCollapse(t *testing.T) {
	link := &fakeLink{inbound: []string{"START_QUANTUM_WALK"}}
	dt := &recordingDrivetrain{}
	// Measurement 0.1 < pLeft=0.5 picks Left.
	c := newTestController(t, link, healthySensors(), dt, []float64{0.1})

	c.sampler.Refresh(1.0)
	c.commandEvent(1.0)
	c.decisionEvent(2.0)

	left, right := dt.channels()
	if left >= 0 || right <= 0 {
		t.Errorf("channels = (%d,%d), want a left turn", left, right)
	}
	if got := c.engine.Statistics().LeftCount; got != 1 {
		t.Errorf("left decisions = %d, want 1", got)
	}
}

func TestDecisionEventIdleWhenNotWalking(t *testing.T) {
	dt := &recordingDrivetrain{}
	c := newTestController(t, &fakeLink{}, healthySensors(), dt, []float64{0.1})

	c.sampler.Refresh(1.0)
	c.decisionEvent(2.0)

	if left, right := dt.channels(); left != 0 || right != 0 {
		t.Errorf("channels = (%d,%d), want idle", left, right)
	}
	if got := c.engine.Statistics().TotalDecisions; got != 0 {
		t.Errorf("decisions = %d, want 0", got)
	}
}

func TestManualOverrideBeatsCollapse(t *testing.T) {
	link := &fakeLink{inbound: []string{"START_QUANTUM_WALK", "FORWARD"}}
	dt := &recordingDrivetrain{}
	c := newTestController(t, link, healthySensors(), dt, []float64{0.1})

	c.sampler.Refresh(1.0)
	c.commandEvent(1.0)
	c.decisionEvent(2.0)

	if left, right := dt.channels(); left <= 0 || right <= 0 {
		t.Errorf("channels = (%d,%d), want forward while overridden", left, right)
	}
	if got := c.engine.Statistics().TotalDecisions; got != 0 {
		t.Errorf("collapse happened despite manual override: %d decisions", got)
	}
}

func TestSensorEventForcesStopOnViolation(t *testing.T) {
	sensors := healthySensors()
	link := &fakeLink{inbound: []string{"FORWARD"}}
	dt := &recordingDrivetrain{}
	c := newTestController(t, link, sensors, dt, nil)

	c.sampler.Refresh(1.0)
	c.commandEvent(1.0)
	if left, _ := dt.channels(); left <= 0 {
		t.Fatal("rover should be moving forward")
	}

	sensors.battery = 6.4 // below the low-battery threshold
	c.sensorEvent(2.0)

	if left, right := dt.channels(); left != 0 || right != 0 {
		t.Errorf("channels = (%d,%d) after violation, want stop", left, right)
	}
}

func TestWatchdogEventStopsAfterSilence(t *testing.T) {
	link := &fakeLink{inbound: []string{"FORWARD"}}
	dt := &recordingDrivetrain{}
	c := newTestController(t, link, healthySensors(), dt, nil)

	c.sampler.Refresh(1.0)
	c.commandEvent(100.0)

	c.watchdogEvent(105.0)
	if left, _ := dt.channels(); left <= 0 {
		t.Fatal("watchdog tripped inside the silence window")
	}

	c.watchdogEvent(111.0)
	if left, right := dt.channels(); left != 0 || right != 0 {
		t.Errorf("channels = (%d,%d) after watchdog, want stop", left, right)
	}
	if c.executor.AutonomousEnabled() {
		t.Error("autonomy should be disabled after a watchdog trip")
	}
}

func TestTickEventAdvancesState(t *testing.T) {
	c := newTestController(t, &fakeLink{}, healthySensors(), &recordingDrivetrain{}, nil)

	c.lastTick = 1.0
	next := c.tickEvent(1.05)
	if next <= 1.05 {
		t.Errorf("next waketime = %g", next)
	}
	st := c.engine.Snapshot()
	norm := st.AmplitudeLeft*st.AmplitudeLeft + st.AmplitudeRight*st.AmplitudeRight
	if norm < 0.999 || norm > 1.001 {
		t.Errorf("norm = %g after tick", norm)
	}
}

func TestRunLoopOverLoopback(t *testing.T) {
	ctrlEnd, bridgeEnd := serial.Loopback()
	ctrlFramer := serial.NewFramer(ctrlEnd)
	bridgeFramer := serial.NewFramer(bridgeEnd)

	c, err := New(Options{
		Config:     testConfig(t),
		Link:       ctrlFramer,
		Sensors:    healthySensors(),
		Drivetrain: &recordingDrivetrain{},
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run() }()
	defer func() {
		c.Stop()
		bridgeEnd.Close()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("Run did not return after Stop")
		}
	}()

	if err := bridgeFramer.WriteLine("STATUS"); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-bridgeFramer.Lines():
			if !ok {
				t.Fatal("bridge side closed")
			}
			if strings.HasPrefix(line, "STATUS:") {
				return
			}
			// Telemetry lines may interleave; keep reading.
		case <-deadline:
			t.Fatal("no STATUS response over the loopback link")
		}
	}
}
