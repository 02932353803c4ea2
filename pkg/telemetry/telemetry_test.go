package telemetry

import (
	"strings"
	"testing"
)

type fixedSensors struct {
	bat, cur, temp, dist float64
}

func (f fixedSensors) BatteryVoltage() float64     { return f.bat }
func (f fixedSensors) MotorCurrent() float64       { return f.cur }
func (f fixedSensors) TemperatureC() float64       { return f.temp }
func (f fixedSensors) ObstacleDistanceCm() float64 { return f.dist }

func TestFormatLine(t *testing.T) {
	s := Sample{
		BatteryVoltage:     7.4,
		MotorCurrent:       0.52,
		TemperatureC:       24.1,
		ObstacleDistanceCm: 35.5,
		FreeMemoryBytes:    123456,
		UptimeSeconds:      99,
	}
	e := EngineReadout{Entropy: 0.987, Coherence: 0.998, StateTag: "superposition"}
	d := DriveReadout{LastDirection: "LEFT", Speed: 5, Emergency: false}

	line := FormatLine(s, e, d)
	want := "TELEMETRY:BAT=7.40,CURRENT=0.52,TEMP=24.1,DIST=35.5,MEM=123456,UPTIME=99," +
		"ENTROPY=0.987,COHERENCE=0.998,STATE=superposition,LAST=LEFT,SPEED=5,EMERGENCY=0"
	if line != want {
		t.Errorf("line mismatch:\n got  %s\n want %s", line, want)
	}
}

func TestFormatLineUnknownDistanceAndEmergency(t *testing.T) {
	line := FormatLine(Sample{ObstacleDistanceCm: -1}, EngineReadout{StateTag: "decoherent"},
		DriveReadout{LastDirection: "STOP", Emergency: true})
	if !strings.Contains(line, "DIST=-1,") {
		t.Errorf("unknown distance not encoded as -1: %s", line)
	}
	if !strings.HasSuffix(line, "EMERGENCY=1") {
		t.Errorf("emergency flag missing: %s", line)
	}
}

func TestSamplerRefresh(t *testing.T) {
	sampler := NewSampler(fixedSensors{bat: 8.0, cur: 0.3, temp: 22, dist: 50}, 100)
	sample := sampler.Refresh(160)
	if sample.BatteryVoltage != 8.0 || sample.ObstacleDistanceCm != 50 {
		t.Errorf("sensor readings not carried into sample: %+v", sample)
	}
	if sample.UptimeSeconds != 60 {
		t.Errorf("uptime = %d, want 60", sample.UptimeSeconds)
	}
	if sample.FreeMemoryBytes == 0 {
		t.Error("free memory probe returned zero")
	}
	if sampler.Last() != sample {
		t.Error("Last() does not match the refreshed sample")
	}
}
