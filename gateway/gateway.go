// Package gateway owns the running core: the registry, the clock and both
// protocol engines, driven by a cooperative round-robin scheduler. All
// state mutation happens on the scheduler goroutine; there is no locking
// anywhere in the core.
package gateway

import (
	"context"
	"io"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/meterman/metergw/clock"
	"github.com/meterman/metergw/config"
	"github.com/meterman/metergw/host"
	"github.com/meterman/metergw/radio"
	"github.com/meterman/metergw/registry"
)

// fwVersion is announced in the boot message on startup.
const fwVersion = "6"

// bootFlagPowerOn mirrors the power-on reset flag of the original node
// hardware; a daemon start is always reported as a power-on.
const bootFlagPowerOn = 1

// subIterations per scheduling cycle: serial is polled on every
// sub-iteration, radio on even ones, the liveness sweep on the last. The
// bias keeps the host link responsive under radio load.
const subIterations = 5

// Gateway wires the core together and runs it.
type Gateway struct {
	logger log.Logger
	cfg    *config.Config
	clk    *clock.Clock
	reg    *registry.Registry
	radio  *radio.Engine
	host   *host.Engine

	lines    <-chan string
	interval time.Duration
}

// New assembles a gateway. lines carries inbound serial lines from the
// reader goroutine; interval is the pause between scheduling cycles.
func New(logger log.Logger, cfg *config.Config, clk *clock.Clock, transport radio.Transport, hostW io.Writer, lines <-chan string, interval time.Duration) *Gateway {
	reg := registry.New(logger, clk, cfg.MaxNodes)
	hostEng := host.NewEngine(logger, reg, clk, cfg, hostW)
	radioEng := radio.NewEngine(logger, reg, clk, cfg, transport, hostEng)

	return &Gateway{
		logger:   log.With(logger, "component", "gateway"),
		cfg:      cfg,
		clk:      clk,
		reg:      reg,
		radio:    radioEng,
		host:     hostEng,
		lines:    lines,
		interval: interval,
	}
}

// Registry exposes the node table for read-only consumers.
func (g *Gateway) Registry() *registry.Registry {
	return g.reg
}

// Clock exposes the synthesized clock for read-only consumers.
func (g *Gateway) Clock() *clock.Clock {
	return g.clk
}

// Host exposes the serial engine, e.g. to attach a console hook.
func (g *Gateway) Host() *host.Engine {
	return g.host
}

// Start announces the gateway on the serial link and primes the clock with
// the placeholder epoch until the host answers the time request.
func (g *Gateway) Start() {
	g.host.Boot(fwVersion, bootFlagPowerOn)
	if err := g.clk.SetTime(clock.InitTime); err != nil {
		level.Error(g.logger).Log("msg", "priming clock failed", "error", err)
	}
	g.host.RequestTime()
	level.Info(g.logger).Log("msg", "gateway started",
		"gateway_id", g.cfg.GatewayID, "network_id", g.cfg.NetworkIDString())
}

// Run drives scheduling cycles until the context is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	g.Start()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			level.Info(g.logger).Log("msg", "gateway stopping")
			return nil
		case <-ticker.C:
			g.RunCycle()
		}
	}
}

// RunCycle runs one full round-robin cycle.
func (g *Gateway) RunCycle() {
	for i := 1; i <= subIterations; i++ {
		g.pollSerial()
		if i%2 == 0 {
			g.radio.Poll()
		}
		if i == subIterations {
			g.sweep()
		}
	}
}

// pollSerial hands at most one pending host line to the serial engine,
// never blocking the scheduler.
func (g *Gateway) pollSerial() {
	select {
	case line, ok := <-g.lines:
		if !ok {
			g.lines = nil
			return
		}
		g.host.HandleLine(line)
	default:
	}
}

func (g *Gateway) sweep() {
	for _, d := range g.reg.SweepDark(g.cfg.PollTimeoutSeconds) {
		g.host.NodeDark(d)
	}
}
