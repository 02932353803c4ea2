package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultsValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Controller.Baud != 115200 {
		t.Errorf("expected default baud, got %d", cfg.Controller.Baud)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.toml")
	writeFile(t, path, `
[controller]
device = "/dev/ttyAMA0"
baud = 57600
loopback = true

[bridge]
tcp_addr = ":9000"
session_timeout = 5.0

[safety]
battery_low_v = 6.8
battery_critical_v = 6.4

[log]
level = "debug"
format = "json"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Controller.Device != "/dev/ttyAMA0" || cfg.Controller.Baud != 57600 {
		t.Errorf("controller section not applied: %+v", cfg.Controller)
	}
	if !cfg.Controller.Loopback {
		t.Error("loopback not applied")
	}
	if cfg.Bridge.TCPAddr != ":9000" || cfg.Bridge.SessionTimeout != 5.0 {
		t.Errorf("bridge section not applied: %+v", cfg.Bridge)
	}
	// Untouched sections keep defaults.
	if cfg.Controller.TickHz != 20.0 {
		t.Errorf("tick_hz default lost: %g", cfg.Controller.TickHz)
	}
	th := cfg.Thresholds()
	if th.BatteryLowV != 6.8 || th.BatteryCriticalV != 6.4 {
		t.Errorf("safety overrides not applied: %+v", th)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero baud", "[controller]\nbaud = 0\n"},
		{"inverted battery limits", "[safety]\nbattery_low_v = 6.0\nbattery_critical_v = 6.5\n"},
		{"bad log format", "[log]\nformat = \"xml\"\n"},
		{"zero tick", "[controller]\ntick_hz = 0.0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rover.toml")
			writeFile(t, path, tc.body)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rover.toml")
	writeFile(t, path, "[controller]\nbaud = 115200\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	w := NewWatcher(path, cfg, nil)
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnChange(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	writeFile(t, path, "[controller]\nbaud = 57600\n")

	select {
	case c := <-reloaded:
		if c.Controller.Baud != 57600 {
			t.Errorf("reloaded baud = %d, want 57600", c.Controller.Baud)
		}
		if w.Config().Controller.Baud != 57600 {
			t.Error("Config() did not pick up reload")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcherIgnoresInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rover.toml")
	writeFile(t, path, "[controller]\nbaud = 115200\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	w := NewWatcher(path, cfg, nil)
	defer w.Stop()
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	writeFile(t, path, "[controller]\nbaud = 0\n")
	time.Sleep(500 * time.Millisecond)

	if w.Config().Controller.Baud != 115200 {
		t.Errorf("invalid reload replaced config: baud = %d", w.Config().Controller.Baud)
	}
}
