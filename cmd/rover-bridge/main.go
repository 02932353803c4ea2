// rover-bridge is the wireless bridge process. It owns the serial link
// to the controller, admits a single authenticated TCP operator session,
// relays lines in both directions, and serves the read-only HTTP and
// WebSocket status surface.
//
// Usage:
//
//	rover-bridge -config rover.toml [options]
//
// Options:
//
//	-config string   Host configuration file (TOML)
//	-device string   Serial device override
//	-baud int        Serial baud override
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
	"quantum-rover/pkg/log"
	"quantum-rover/pkg/metrics"
	"quantum-rover/pkg/params"
	"quantum-rover/pkg/serial"
)

func main() {
	configFile := flag.String("config", "", "Host configuration file (TOML)")
	device := flag.String("device", "", "Serial device override")
	baud := flag.Int("baud", 0, "Serial baud override")
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

	logger := log.GetLogger("bridge")
	logger.Info("Rover bridge starting")
	logger.Info("Controller link: %s @ %d baud", cfg.Controller.Device, cfg.Controller.Baud)
	logger.Info("Session: %s, status: %s", cfg.Bridge.TCPAddr, cfg.Bridge.HTTPAddr)

	port, err := serial.Open(serial.Config{
		Device:   cfg.Controller.Device,
		BaudRate: cfg.Controller.Baud,
	})
	if err != nil {
		logger.Error("Serial open failed: %v", err)
		os.Exit(1)
	}
	defer port.Close()
	link := serial.NewFramer(port)
	defer link.Close()

	store, err := params.NewStore(cfg.Controller.DataDir, logger)
	if err != nil {
		logger.Error("Parameter store unavailable: %v", err)
		os.Exit(1)
	}
	nc, fromDisk := store.LoadNetwork()
	if fromDisk {
		logger.Info("Network config restored (ssid=%s)", nc.SSID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := metrics.NewRegistry()
	manager := bridge.NewManager(bridge.Config{
		AuthToken:      nc.AuthToken,
		SessionTimeout: time.Duration(cfg.Bridge.SessionTimeout * float64(time.Second)),
		Link:           link,
		Store:          store,
		Logger:         logger,
		Registry:       registry,
		OnReset: func() {
			// The supervisor restarts the process; a clean exit is
			// all a bridge restart needs.
			logger.Warn("Restart requested, shutting down")
			cancel()
		},
	})

	// Controller-to-session relay.
	go func() {
		for line := range link.Lines() {
			manager.RelayFromController(line)
		}
		logger.Error("Controller link lost: %v", link.Err())
		cancel()
	}()

	status := bridge.NewStatusServer(cfg.Bridge.HTTPAddr, manager, registry, nil)
	go func() {
		if err := status.ListenAndServe(); err != nil {
			logger.Error("Status surface exited: %v", err)
		}
	}()
	defer status.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received %v, stopping", sig)
		cancel()
	}()

	server := bridge.NewServer(cfg.Bridge.TCPAddr, manager, logger)
	if err := server.ListenAndServe(ctx); err != nil {
		logger.Error("Bridge server exited: %v", err)
		os.Exit(1)
	}
	logger.Info("Rover bridge stopped")
}
