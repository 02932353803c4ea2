// Package config loads the host configuration for the rover controller
// and bridge from a TOML file, with hot-reload support.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"quantum-rover/pkg/log"
	"quantum-rover/pkg/safety"
)

// Controller holds settings for the on-robot control loop.
type Controller struct {
	Device          string  `toml:"device"`
	Baud            int     `toml:"baud"`
	DataDir         string  `toml:"data_dir"`
	TickHz          float64 `toml:"tick_hz"`
	TelemetryPeriod float64 `toml:"telemetry_period"`
	SensorPeriod    float64 `toml:"sensor_period"`
	Loopback        bool    `toml:"loopback"`
}

// Bridge holds settings for the wireless bridge process.
type Bridge struct {
	TCPAddr        string  `toml:"tcp_addr"`
	HTTPAddr       string  `toml:"http_addr"`
	SessionTimeout float64 `toml:"session_timeout"`
}

// Safety mirrors safety.Thresholds so operators can tune limits
// without rebuilding.
type Safety struct {
	BatteryLowV      float64 `toml:"battery_low_v"`
	BatteryCriticalV float64 `toml:"battery_critical_v"`
	CurrentHighA     float64 `toml:"current_high_a"`
	TemperatureHighC float64 `toml:"temperature_high_c"`
	MinClearanceCm   float64 `toml:"min_clearance_cm"`
	WatchdogTimeout  float64 `toml:"watchdog_timeout"`
}

// Log holds logging settings.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the top-level host configuration.
type Config struct {
	Controller Controller `toml:"controller"`
	Bridge     Bridge     `toml:"bridge"`
	Safety     Safety     `toml:"safety"`
	Log        Log        `toml:"log"`
}

// Defaults returns a configuration suitable for running on the bench
// with no config file at all.
func Defaults() *Config {
	st := safety.DefaultThresholds()
	return &Config{
		Controller: Controller{
			Device:          "/dev/ttyUSB0",
			Baud:            115200,
			DataDir:         "data",
			TickHz:          20.0,
			TelemetryPeriod: 1.0,
			SensorPeriod:    0.25,
		},
		Bridge: Bridge{
			TCPAddr:        ":8888",
			HTTPAddr:       ":8889",
			SessionTimeout: 30.0,
		},
		Safety: Safety{
			BatteryLowV:      st.BatteryLowV,
			BatteryCriticalV: st.BatteryCriticalV,
			CurrentHighA:     st.CurrentHighA,
			TemperatureHighC: st.TemperatureHighC,
			MinClearanceCm:   st.MinClearanceCm,
			WatchdogTimeout:  st.WatchdogTimeout,
		},
		Log: Log{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Load reads a TOML config file. A missing file is not an error: the
// defaults are returned so the controller can run unconfigured.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for _, key := range md.Undecoded() {
		log.Warn("Unknown config key: %s", key)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the controller cannot run with.
func (c *Config) Validate() error {
	if c.Controller.Baud <= 0 {
		return fmt.Errorf("controller.baud must be positive, got %d", c.Controller.Baud)
	}
	if c.Controller.TickHz <= 0 {
		return fmt.Errorf("controller.tick_hz must be positive, got %g", c.Controller.TickHz)
	}
	if c.Controller.TelemetryPeriod <= 0 {
		return fmt.Errorf("controller.telemetry_period must be positive, got %g", c.Controller.TelemetryPeriod)
	}
	if c.Controller.SensorPeriod <= 0 {
		return fmt.Errorf("controller.sensor_period must be positive, got %g", c.Controller.SensorPeriod)
	}
	if c.Bridge.SessionTimeout <= 0 {
		return fmt.Errorf("bridge.session_timeout must be positive, got %g", c.Bridge.SessionTimeout)
	}
	if c.Safety.BatteryCriticalV >= c.Safety.BatteryLowV {
		return fmt.Errorf("safety.battery_critical_v (%g) must be below battery_low_v (%g)",
			c.Safety.BatteryCriticalV, c.Safety.BatteryLowV)
	}
	if c.Safety.WatchdogTimeout <= 0 {
		return fmt.Errorf("safety.watchdog_timeout must be positive, got %g", c.Safety.WatchdogTimeout)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ApplyLogSettings pushes the log section onto the default logger.
func (c *Config) ApplyLogSettings() {
	log.SetLevel(log.ParseLevel(c.Log.Level))
	if c.Log.Format == "json" {
		log.SetFormat(log.FormatJSON)
	} else {
		log.SetFormat(log.FormatText)
	}
}

// Thresholds converts the safety section into the executor's form.
func (c *Config) Thresholds() safety.Thresholds {
	st := safety.DefaultThresholds()
	st.BatteryLowV = c.Safety.BatteryLowV
	st.BatteryCriticalV = c.Safety.BatteryCriticalV
	st.CurrentHighA = c.Safety.CurrentHighA
	st.TemperatureHighC = c.Safety.TemperatureHighC
	st.MinClearanceCm = c.Safety.MinClearanceCm
	st.WatchdogTimeout = c.Safety.WatchdogTimeout
	return st
}
