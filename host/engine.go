package host

import (
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/meterman/metergw/clock"
	"github.com/meterman/metergw/config"
	"github.com/meterman/metergw/metrics"
	"github.com/meterman/metergw/radio"
	"github.com/meterman/metergw/registry"
)

type handler func(e *Engine, args []string)

type rule struct {
	tag string
	fn  handler
}

// rules is the inbound dispatch order, first match wins.
var rules = []rule{
	{TagSetTime, (*Engine).handleSetTime},
	{TagGetGatewaySnap, (*Engine).handleGatewaySnap},
	{TagGetNodeSnap, (*Engine).handleNodeSnap},
	{TagSetMeterValue, (*Engine).handleSetMeterValue},
	{TagSetLED, (*Engine).handleSetLED},
	{TagSetInterval, (*Engine).handleSetInterval},
	{TagSetPollOverride, (*Engine).handleSetPollOverride},
}

// Engine is the serial side of the gateway. It validates host requests,
// queues node instructions, answers queries, and relays radio events
// upward. Not safe for concurrent use; driven by the gateway scheduler.
type Engine struct {
	logger log.Logger
	reg    *registry.Registry
	clk    *clock.Clock
	cfg    *config.Config
	w      io.Writer

	// Console, when set, receives lines that carry no protocol prefix.
	// The interactive console itself lives outside the engine.
	Console func(line string)
}

func NewEngine(logger log.Logger, reg *registry.Registry, clk *clock.Clock, cfg *config.Config, w io.Writer) *Engine {
	logger = log.With(logger, "component", "host")
	return &Engine{
		logger: logger,
		reg:    reg,
		clk:    clk,
		cfg:    cfg,
		w:      w,
	}
}

// HandleLine processes one inbound line from the host. Protocol lines are
// dispatched through the rule table; anything else goes to the console
// hook.
func (e *Engine) HandleLine(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, RXPrefix) {
		if e.Console != nil {
			e.Console(line)
		}
		return
	}

	body := line[len(RXPrefix):]
	for _, r := range rules {
		args, ok := match(body, r.tag)
		if !ok {
			continue
		}
		metrics.HostMsgCounter.WithLabelValues(r.tag).Inc()
		level.Debug(e.logger).Log("msg", "host message", "tag", r.tag)
		r.fn(e, args)
		return
	}
	level.Info(e.logger).Log("msg", "unrecognized host message", "line", line)
}

// match tests body against tag and returns the comma-split arguments after
// the ";" separator. A bare tag matches with no arguments.
func match(body, tag string) ([]string, bool) {
	if body == tag {
		return nil, true
	}
	if !strings.HasPrefix(body, tag+";") {
		return nil, false
	}
	return strings.Split(body[len(tag)+1:], ","), true
}

func (e *Engine) handleSetTime(args []string) {
	if len(args) != 1 {
		e.emit(TagSetTime + "_NACK")
		return
	}
	epoch, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		e.emit(TagSetTime + "_NACK")
		return
	}
	if err := e.clk.SetTime(clock.EpochSeconds(epoch)); err != nil {
		level.Warn(e.logger).Log("msg", "time sync rejected", "epoch", args[0], "error", err)
		e.emit(TagSetTime + "_NACK")
		return
	}
	// elapsed-since-seen is meaningless across a clock jump
	e.reg.ResetLastSeen()
	level.Info(e.logger).Log("msg", "time synced", "epoch", epoch)
	e.emit(TagSetTime + "_ACK")
}

func (e *Engine) handleGatewaySnap(args []string) {
	e.emit(fmt.Sprintf("%s;%d,%d,%d,%d,%s,%s,%s,%d",
		TagGatewaySnap,
		e.cfg.GatewayID,
		e.clk.BootEpoch(),
		freeMem(),
		e.clk.Now(),
		e.cfg.LogLevelLabel(),
		e.cfg.EncryptKey,
		e.cfg.NetworkIDString(),
		e.cfg.TXPower))
}

func (e *Engine) handleNodeSnap(args []string) {
	if len(args) != 1 {
		e.emit(TagGetNodeSnap + "_NACK;0")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		e.emit(TagGetNodeSnap + "_NACK;" + args[0])
		return
	}

	if registry.NodeID(id) == registry.AllNodes {
		var b strings.Builder
		b.WriteString(TagNodeSnap)
		for _, rec := range e.reg.Records() {
			b.WriteByte(';')
			b.WriteString(formatRecord(rec))
		}
		e.emit(b.String())
		return
	}

	rec, ok := e.reg.Find(registry.NodeID(id))
	if !ok {
		e.emit(fmt.Sprintf("%s_NACK;%d", TagGetNodeSnap, id))
		return
	}
	e.emit(TagNodeSnap + ";" + formatRecord(rec))
}

func (e *Engine) handleSetMeterValue(args []string) {
	id, rec, ok := e.targetNode(args, 2)
	if !ok {
		e.nack(TagSetMeterValue, args)
		return
	}
	value, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil || value == 0 || value >= radio.MaxMeterValue {
		e.nack(TagSetMeterValue, args)
		return
	}
	rec.QueueMeterValue(uint32(value))
	metrics.InstructionQueuedCounter.WithLabelValues("meter_value").Inc()
	level.Info(e.logger).Log("msg", "meter value queued", "node_id", id, "value", value)
	e.ack(TagSetMeterValue, id)
}

func (e *Engine) handleSetLED(args []string) {
	id, rec, ok := e.targetNode(args, 3)
	if !ok {
		e.nack(TagSetLED, args)
		return
	}
	rate, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil || rate >= maxLEDRate {
		e.nack(TagSetLED, args)
		return
	}
	time, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil || time > maxLEDTime {
		e.nack(TagSetLED, args)
		return
	}
	rec.QueueLED(registry.LEDPulse{Rate: uint8(rate), Time: uint16(time)})
	metrics.InstructionQueuedCounter.WithLabelValues("led").Inc()
	level.Info(e.logger).Log("msg", "led pulse queued", "node_id", id, "rate", rate, "time", time)
	e.ack(TagSetLED, id)
}

func (e *Engine) handleSetInterval(args []string) {
	id, rec, ok := e.targetNode(args, 2)
	if !ok {
		e.nack(TagSetInterval, args)
		return
	}
	interval, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil || interval >= maxInterval {
		e.nack(TagSetInterval, args)
		return
	}
	rec.QueueMeterInterval(uint8(interval))
	metrics.InstructionQueuedCounter.WithLabelValues("meter_interval").Inc()
	level.Info(e.logger).Log("msg", "meter interval queued", "node_id", id, "interval", interval)
	e.ack(TagSetInterval, id)
}

func (e *Engine) handleSetPollOverride(args []string) {
	id, rec, ok := e.targetNode(args, 3)
	if !ok {
		e.nack(TagSetPollOverride, args)
		return
	}
	rate, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil || rate < pollRateMin || rate > pollRateMax {
		e.nack(TagSetPollOverride, args)
		return
	}
	period, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil || period < pollPeriodMin || period > pollPeriodMax {
		e.nack(TagSetPollOverride, args)
		return
	}
	rec.QueuePollOverride(registry.PollOverride{Rate: uint16(rate), Period: uint16(period)})
	metrics.InstructionQueuedCounter.WithLabelValues("poll_override").Inc()
	level.Info(e.logger).Log("msg", "poll override queued", "node_id", id, "rate", rate, "period", period)
	e.ack(TagSetPollOverride, id)
}

// targetNode resolves the node id argument of an instruction request,
// requiring the node to already exist.
func (e *Engine) targetNode(args []string, want int) (registry.NodeID, *registry.Record, bool) {
	if len(args) != want {
		return 0, nil, false
	}
	id, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return 0, nil, false
	}
	rec, ok := e.reg.Find(registry.NodeID(id))
	if !ok {
		return 0, nil, false
	}
	return registry.NodeID(id), rec, true
}

func (e *Engine) ack(tag string, id registry.NodeID) {
	e.emit(fmt.Sprintf("%s_ACK;%d", tag, id))
}

// nack refuses an instruction, echoing the target id it concerned.
func (e *Engine) nack(tag string, args []string) {
	id := "0"
	if len(args) > 0 && args[0] != "" {
		id = args[0]
	}
	level.Warn(e.logger).Log("msg", "host instruction refused", "tag", tag, "node_id", id)
	e.emit(tag + "_NACK;" + id)
}

// RequestTime asks the host for the current time.
func (e *Engine) RequestTime() {
	e.emit(TagRequestTime)
}

// Boot announces gateway startup, mirroring a node boot broadcast.
func (e *Engine) Boot(fwVersion string, resetFlags uint8) {
	e.emit(fmt.Sprintf("%s;%d,%s,BOOT v%s. Flags: %d",
		radio.TagGeneral, e.cfg.GatewayID, radio.TagGeneral, fwVersion, resetFlags))
}

// NodeDark emits the one-shot dark-node alert.
func (e *Engine) NodeDark(d registry.DarkNode) {
	metrics.DarkNodeCounter.Inc()
	level.Warn(e.logger).Log("msg", "node dark", "node_id", d.ID, "last_seen", d.LastSeen)
	e.emit(fmt.Sprintf("%s;%d,%d", TagNodeDark, d.ID, d.LastSeen))
}

// MeterRebase relays a rebase message from a node.
func (e *Engine) MeterRebase(id registry.NodeID, payload string) {
	e.relay(radio.TagRebase, id, payload)
}

// MeterUpdate relays a meter update from a node.
func (e *Engine) MeterUpdate(id registry.NodeID, payload string, withCurrent bool) {
	tag := radio.TagUpdate
	if withCurrent {
		tag = radio.TagUpdateWithCurrent
	}
	e.relay(tag, id, payload)
}

// NodeMessage relays a general broadcast from a node.
func (e *Engine) NodeMessage(id registry.NodeID, payload string) {
	e.relay(radio.TagGeneral, id, payload)
}

func (e *Engine) relay(tag string, id registry.NodeID, payload string) {
	e.emit(fmt.Sprintf("%s;%d,%s", tag, id, payload))
}

// formatRecord renders one node snapshot record.
func formatRecord(rec *registry.Record) string {
	fields := []string{
		strconv.FormatUint(uint64(rec.ID), 10),
		strconv.FormatUint(uint64(rec.Telemetry.BattMilliVolts), 10),
		strconv.FormatUint(uint64(rec.Telemetry.UptimeSeconds), 10),
		strconv.FormatUint(uint64(rec.Telemetry.SleptSeconds), 10),
		strconv.FormatUint(uint64(rec.Telemetry.FreeRAM), 10),
		strconv.FormatUint(uint64(rec.LastSeen), 10),
		strconv.FormatInt(int64(rec.LastDrift), 10),
		strconv.FormatUint(uint64(rec.Telemetry.MeterInterval), 10),
		strconv.FormatUint(uint64(rec.Telemetry.ImpPerKWh), 10),
		strconv.FormatUint(uint64(rec.LastEntryFinish), 10),
		strconv.FormatUint(uint64(rec.LastMeterValue), 10),
		strconv.FormatFloat(rec.LastCurrent, 'f', 2, 64),
		strconv.FormatUint(uint64(rec.Telemetry.LEDRate), 10),
		strconv.FormatUint(uint64(rec.Telemetry.LEDTime), 10),
		strconv.FormatInt(int64(rec.LastRSSI), 10),
	}
	return strings.Join(fields, ",")
}

func freeMem() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapSys - ms.HeapInuse
}

func (e *Engine) emit(body string) {
	if _, err := io.WriteString(e.w, TXPrefix+body+"\r\n"); err != nil {
		metrics.ErrorCounter.Inc()
		level.Error(e.logger).Log("msg", "serial write failed", "error", err)
	}
}
