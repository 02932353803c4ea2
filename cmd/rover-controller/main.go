// rover-controller is the on-robot control loop host. It evolves the
// simulated quantum state, executes movement decisions under safety
// constraints, answers the line protocol over the shared serial link,
// and emits periodic telemetry.
//
// Usage:
//
//	rover-controller -config rover.toml [options]
//
// Options:
//
//	-config string   Host configuration file (TOML)
//	-device string   Serial device override
//	-baud int        Serial baud override
//	-loopback        Run without hardware: in-memory link plus an
//	                 in-process bridge on the configured addresses
//	-logfile string  Log file path (default: stderr)
//	-trace           Enable debug tracing
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quantum-rover/pkg/bridge"
	"quantum-rover/pkg/config"
	"quantum-rover/pkg/controller"
	"quantum-rover/pkg/drive"
	"quantum-rover/pkg/log"
	"quantum-rover/pkg/metrics"
	"quantum-rover/pkg/params"
	"quantum-rover/pkg/roverrs"
	"quantum-rover/pkg/serial"
	"quantum-rover/pkg/telemetry"
)

func main() {
	configFile := flag.String("config", "", "Host configuration file (TOML)")
	device := flag.String("device", "", "Serial device override")
	baud := flag.Int("baud", 0, "Serial baud override")
	loopback := flag.Bool("loopback", false, "Run with an in-memory link and in-process bridge")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	trace := flag.Bool("trace", false, "Enable debug tracing")
	flag.Parse()

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetWriter(f)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyLogSettings()
	if *trace {
		log.SetLevel(log.DEBUG)
	}
	if *device != "" {
		cfg.Controller.Device = *device
	}
	if *baud != 0 {
		cfg.Controller.Baud = *baud
	}
	if *loopback {
		cfg.Controller.Loopback = true
	}

	logger := log.GetLogger("rover")
	logger.Info("Rover controller starting")
	logger.Info("Device: %s @ %d baud (loopback=%v)",
		cfg.Controller.Device, cfg.Controller.Baud, cfg.Controller.Loopback)

	// Hot-reload only touches log settings; loop tunables and safety
	// thresholds are fixed for the life of the process.
	if *configFile != "" {
		watcher := config.NewWatcher(*configFile, cfg, logger)
		watcher.OnChange(func(c *config.Config) { c.ApplyLogSettings() })
		if err := watcher.Start(); err != nil {
			logger.Warn("Config watch unavailable: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	var link *serial.Framer
	if cfg.Controller.Loopback {
		ctrlEnd, bridgeEnd := serial.Loopback()
		link = serial.NewFramer(ctrlEnd)
		startInProcessBridge(cfg, serial.NewFramer(bridgeEnd), logger)
	} else {
		port, err := serial.Open(serial.Config{
			Device:   cfg.Controller.Device,
			BaudRate: cfg.Controller.Baud,
		})
		if err != nil {
			logger.Error("Serial open failed: %v", err)
			os.Exit(1)
		}
		defer port.Close()
		link = serial.NewFramer(port)
	}
	defer link.Close()

	ctrl, err := controller.New(controller.Options{
		Config:     cfg,
		Link:       link,
		Sensors:    telemetry.NewSimSensors(nil),
		Drivetrain: drive.NewSim(logger),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("Controller init failed: %v", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received %v, stopping", sig)
		ctrl.Stop()
	}()

	if err := ctrl.Run(); err != nil {
		logger.Error("Control loop exited: %v", err)
		if roverrs.IsFatal(err) {
			// Resource exhaustion: exit nonzero so the supervisor
			// restarts the process.
			os.Exit(1)
		}
		os.Exit(2)
	}
	logger.Info("Rover controller stopped")
}

// startInProcessBridge runs the bridge stack against the loopback link
// so the whole system works with no hardware attached.
func startInProcessBridge(cfg *config.Config, link *serial.Framer, logger *log.Logger) {
	store, err := params.NewStore(cfg.Controller.DataDir, logger)
	if err != nil {
		logger.Warn("Loopback bridge disabled: %v", err)
		return
	}
	nc, _ := store.LoadNetwork()
	registry := metrics.NewRegistry()
	manager := bridge.NewManager(bridge.Config{
		AuthToken:      nc.AuthToken,
		SessionTimeout: time.Duration(cfg.Bridge.SessionTimeout * float64(time.Second)),
		Link:           link,
		Store:          store,
		Logger:         log.GetLogger("bridge"),
		Registry:       registry,
	})
	server := bridge.NewServer(cfg.Bridge.TCPAddr, manager, nil)
	status := bridge.NewStatusServer(cfg.Bridge.HTTPAddr, manager, registry, nil)

	go func() {
		for line := range link.Lines() {
			manager.RelayFromController(line)
		}
	}()
	go func() {
		if err := server.ListenAndServe(context.Background()); err != nil {
			logger.Error("Loopback bridge server: %v", err)
		}
	}()
	go func() {
		if err := status.ListenAndServe(); err != nil {
			logger.Error("Loopback status server: %v", err)
		}
	}()
}
