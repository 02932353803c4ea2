// Package controller ties the quantum engine, safety executor, command
// dispatcher, and telemetry sampler together into the single-threaded
// control loop that runs on the rover.
package controller

import (
	"quantum-rover/pkg/command"
	"quantum-rover/pkg/config"
	"quantum-rover/pkg/drive"
	"quantum-rover/pkg/entropy"
	"quantum-rover/pkg/log"
	"quantum-rover/pkg/params"
	"quantum-rover/pkg/quantum"
	"quantum-rover/pkg/reactor"
	"quantum-rover/pkg/roverrs"
	"quantum-rover/pkg/safety"
	"quantum-rover/pkg/serial"
	"quantum-rover/pkg/telemetry"
)

// commandPollPeriod bounds the latency of inbound command lines without
// spinning the loop.
const commandPollPeriod = 0.02

// Link is the line transport to the bridge. Satisfied by serial.Framer
// and by the loopback pipe used in tests.
type Link interface {
	Poll() (line string, ok bool)
	WriteLine(line string) error
	Err() error
}

var _ Link = (*serial.Framer)(nil)

// Options configures a controller. Link, Sensors, and Drivetrain are
// required; everything else has working defaults.
type Options struct {
	Config     *config.Config
	Link       Link
	Sensors    telemetry.Sensors
	Drivetrain drive.Drivetrain
	Logger     *log.Logger
	Sampler    quantum.Sampler
}

// Controller owns every piece of loop state. All timer callbacks run on
// the reactor goroutine; nothing here needs locks.
type Controller struct {
	logger     *log.Logger
	cfg        *config.Config
	reactor    *reactor.Reactor
	engine     *quantum.Engine
	executor   *safety.Executor
	dispatcher *command.Dispatcher
	sampler    *telemetry.Sampler
	store      *params.Store
	link       Link
	runtime    params.RuntimeParameters

	lastTick float64
	fatalErr error
}

// New builds the full controller stack: parameter store, engine seeded
// from the persisted record, executor, and dispatcher.
func New(opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLogger("controller")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}

	store, err := params.NewStore(cfg.Controller.DataDir, logger)
	if err != nil {
		return nil, err
	}
	p, fromDisk := store.Load()
	if fromDisk {
		logger.Info("Runtime parameters restored from %s", store.Dir())
	} else {
		logger.Info("Runtime parameters at compiled-in defaults")
	}

	src := opts.Sampler
	if src == nil {
		src = entropy.NewSource()
	}
	engine := quantum.New(p, src)
	executor := safety.NewExecutor(opts.Drivetrain, cfg.Thresholds(), logger)
	executor.SetSpeeds(p.MotorSpeedLeft, p.MotorSpeedRight)

	c := &Controller{
		logger:   logger,
		cfg:      cfg,
		reactor:  reactor.New(),
		engine:   engine,
		executor: executor,
		store:    store,
		link:     opts.Link,
		runtime:  p,
	}
	c.sampler = telemetry.NewSampler(opts.Sensors, c.reactor.Monotonic())
	c.dispatcher = command.NewDispatcher(engine, executor, store, c.sampler, &c.runtime, logger)
	return c, nil
}

// Dispatcher exposes the command dispatcher, mainly for tests.
func (c *Controller) Dispatcher() *command.Dispatcher {
	return c.dispatcher
}

// Run registers the loop timers and blocks until Stop or a fatal
// resource error. The returned error is nil on a clean Stop.
func (c *Controller) Run() error {
	now := c.reactor.Monotonic()
	c.lastTick = now
	c.sampler.Refresh(now)

	tickPeriod := 1.0 / c.cfg.Controller.TickHz
	c.reactor.RegisterTimer("tick", c.tickEvent, now+tickPeriod)
	c.reactor.RegisterTimer("decision", c.decisionEvent, now+c.decisionPeriod())
	c.reactor.RegisterTimer("commands", c.commandEvent, reactor.NOW)
	c.reactor.RegisterTimer("telemetry", c.telemetryEvent, now+c.cfg.Controller.TelemetryPeriod)
	c.reactor.RegisterTimer("sensors", c.sensorEvent, now+c.cfg.Controller.SensorPeriod)
	c.reactor.RegisterTimer("watchdog", c.watchdogEvent, now+1.0)

	c.logger.Info("Control loop starting: tick=%.0fHz telemetry=%.1fs",
		c.cfg.Controller.TickHz, c.cfg.Controller.TelemetryPeriod)
	c.reactor.Run()
	return c.fatalErr
}

// Stop ends the loop from another goroutine.
func (c *Controller) Stop() {
	c.reactor.End()
}

func (c *Controller) decisionPeriod() float64 {
	return float64(c.runtime.DecisionIntervalMs) / 1000.0
}

// tickEvent advances the quantum state and fires a coherence-elapsed
// collapse when one is due.
func (c *Controller) tickEvent(eventtime float64) float64 {
	dt := eventtime - c.lastTick
	c.lastTick = eventtime
	if dt > 0 {
		c.engine.Tick(dt, eventtime)
	}
	if c.engine.CollapseDue(eventtime) {
		c.autonomousStep(eventtime)
	}
	return eventtime + 1.0/c.cfg.Controller.TickHz
}

// decisionEvent is the movement cadence: override first, otherwise an
// autonomous collapse when walking.
func (c *Controller) decisionEvent(eventtime float64) float64 {
	if m, ok := c.executor.Override(eventtime); ok {
		if err := c.executor.ExecuteDecision(m, c.sampler.Last()); err != nil {
			c.logger.Warn("Override movement suppressed: %v", err)
		}
	} else if c.engine.Walking() {
		c.autonomousStep(eventtime)
	}
	return eventtime + c.decisionPeriod()
}

// autonomousStep collapses the state into a direction and drives it,
// provided autonomy is allowed right now.
func (c *Controller) autonomousStep(eventtime float64) {
	if !c.executor.AutonomousEnabled() || c.executor.EmergencyStopActive() {
		return
	}
	if _, overridden := c.executor.Override(eventtime); overridden {
		return
	}
	rec := c.engine.Collapse(eventtime)
	m := drive.TurnRight
	if rec.Direction == quantum.Left {
		m = drive.TurnLeft
	}
	if err := c.executor.ExecuteDecision(m, c.sampler.Last()); err != nil {
		c.logger.Warn("Autonomous movement suppressed: %v", err)
	}
}

// commandEvent drains pending lines from the link and answers each one.
func (c *Controller) commandEvent(eventtime float64) float64 {
	for {
		line, ok := c.link.Poll()
		if !ok {
			break
		}
		resp := c.dispatcher.HandleLine(line, eventtime)
		if err := c.link.WriteLine(resp); err != nil {
			c.logger.Error("Response write failed: %v", err)
			break
		}
	}
	if err := c.link.Err(); err != nil {
		c.logger.Error("Link failed, stopping loop: %v", err)
		c.fatalErr = roverrs.Wrap(err, roverrs.ErrComm, "link lost")
		c.reactor.End()
		return reactor.NEVER
	}
	return eventtime + commandPollPeriod
}

// telemetryEvent emits the periodic telemetry line whether or not
// anyone is listening.
func (c *Controller) telemetryEvent(eventtime float64) float64 {
	if err := c.link.WriteLine(c.dispatcher.TelemetryLine()); err != nil {
		c.logger.Warn("Telemetry write failed: %v", err)
	}
	return eventtime + c.cfg.Controller.TelemetryPeriod
}

// sensorEvent refreshes telemetry, re-checks safety while moving, and
// enforces the memory floor. Memory exhaustion is the one fatal path.
func (c *Controller) sensorEvent(eventtime float64) float64 {
	sample := c.sampler.Refresh(eventtime)

	if err := c.executor.CheckMemory(sample); err != nil {
		c.logger.Error("Fatal: %v", err)
		c.link.WriteLine("ERROR: Memory exhausted, restarting")
		c.fatalErr = err
		c.reactor.End()
		return reactor.NEVER
	}

	if c.executor.CurrentMotion().Moving() {
		if ok, predicate := c.executor.SafetyOK(sample); !ok {
			// Re-driving the current motion routes through the gate,
			// which forces a stop and names the predicate.
			if err := c.executor.ExecuteDecision(c.executor.CurrentMotion(), sample); err != nil {
				c.logger.Warn("Safety stop (%s): %v", predicate, err)
			}
		}
	}
	return eventtime + c.cfg.Controller.SensorPeriod
}

// watchdogEvent forces a stop after prolonged command silence.
func (c *Controller) watchdogEvent(eventtime float64) float64 {
	if c.executor.Watchdog(eventtime) {
		c.logger.Warn("Watchdog tripped, autonomous movement disabled")
	}
	return eventtime + 1.0
}
