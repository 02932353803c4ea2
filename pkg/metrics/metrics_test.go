package metrics

import (
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("rover_commands_total", "Commands received")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Errorf("counter = %d, want 5", c.Value())
	}
	// Same name returns the same counter.
	if r.Counter("rover_commands_total", "").Value() != 5 {
		t.Error("registry returned a fresh counter for an existing name")
	}
}

func TestGauge(t *testing.T) {
	r := NewRegistry()
	g := r.Gauge("rover_battery_volts", "Battery voltage")
	g.Set(7.4)
	if g.Value() != 7.4 {
		t.Errorf("gauge = %v, want 7.4", g.Value())
	}
	g.Set(6.9)
	if g.Value() != 6.9 {
		t.Errorf("gauge = %v, want 6.9", g.Value())
	}
}

func TestExportFormat(t *testing.T) {
	r := NewRegistry()
	r.Counter("b_total", "second").Inc()
	r.Gauge("a_volts", "first").Set(1.5)

	out := r.Export()
	if !strings.Contains(out, "# TYPE a_volts gauge\na_volts 1.5\n") {
		t.Errorf("gauge missing from export:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE b_total counter\nb_total 1\n") {
		t.Errorf("counter missing from export:\n%s", out)
	}
	// Sorted by name.
	if strings.Index(out, "a_volts") > strings.Index(out, "b_total") {
		t.Errorf("export not sorted:\n%s", out)
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Counter("x_total", "").Add(3)
	r.Gauge("y", "").Set(2.5)
	snap := r.Snapshot()
	if snap["x_total"] != 3 || snap["y"] != 2.5 {
		t.Errorf("snapshot = %v", snap)
	}
}
