package radio

import (
	"fmt"
	"strings"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/meterman/metergw/clock"
	"github.com/meterman/metergw/config"
	"github.com/meterman/metergw/metrics"
	"github.com/meterman/metergw/registry"
)

// EventSink receives the pass-through events the engine produces for the
// host side. The engine never talks to the serial link directly.
type EventSink interface {
	MeterRebase(id registry.NodeID, payload string)
	MeterUpdate(id registry.NodeID, payload string, withCurrent bool)
	NodeMessage(id registry.NodeID, payload string)
}

// handler processes one decoded inbound message. The record is the sender's
// registry slot, already marked seen.
type handler func(e *Engine, rec *registry.Record, pkt Packet, msg string)

// rule binds a message tag to its handler. Rules are matched in order,
// first match wins.
type rule struct {
	tag string
	fn  handler
}

var rules = []rule{
	{TagRebase, (*Engine).handleRebase},
	{TagUpdateWithCurrent, (*Engine).handleUpdateWithCurrent},
	{TagUpdate, (*Engine).handleUpdate},
	{TagInstructionRequest, (*Engine).handleInstructionRequest},
	{TagPingRequest, (*Engine).handlePing},
	{TagGeneral, (*Engine).handleGeneral},
}

// instruction is one outbound reply candidate for an instruction-request
// poll: pending reports whether the node has this kind queued, encode
// renders the reply, clear empties the slot after a successful send.
type instruction struct {
	kind    string
	pending func(rec *registry.Record) bool
	encode  func(rec *registry.Record, rssi int8) string
	clear   func(rec *registry.Record)
}

// instructionRules is the dispatch priority: one instruction per poll,
// earlier kinds win, later kinds wait for the node's next poll.
var instructionRules = []instruction{
	{
		kind: "poll_override",
		pending: func(rec *registry.Record) bool {
			_, ok := rec.PendingPollOverride()
			return ok
		},
		encode: func(rec *registry.Record, rssi int8) string {
			p, _ := rec.PendingPollOverride()
			return fmt.Sprintf("%s,%d,%d,%d", TagPollOverride, p.Rate, p.Period, rssi)
		},
		clear: (*registry.Record).ClearPollOverride,
	},
	{
		kind: "meter_value",
		pending: func(rec *registry.Record) bool {
			_, ok := rec.PendingMeterValue()
			return ok
		},
		encode: func(rec *registry.Record, rssi int8) string {
			v, _ := rec.PendingMeterValue()
			return fmt.Sprintf("%s,%d,%d", TagSetMeterValue, v, rssi)
		},
		clear: (*registry.Record).ClearMeterValue,
	},
	{
		kind: "meter_interval",
		pending: func(rec *registry.Record) bool {
			_, ok := rec.PendingMeterInterval()
			return ok
		},
		encode: func(rec *registry.Record, rssi int8) string {
			i, _ := rec.PendingMeterInterval()
			return fmt.Sprintf("%s,%d,%d", TagSetMeterInterval, i, rssi)
		},
		clear: (*registry.Record).ClearMeterInterval,
	},
	{
		kind: "led",
		pending: func(rec *registry.Record) bool {
			_, ok := rec.PendingLED()
			return ok
		},
		encode: func(rec *registry.Record, rssi int8) string {
			p, _ := rec.PendingLED()
			return fmt.Sprintf("%s,%d,%d,%d", TagSetLED, p.Rate, p.Time, rssi)
		},
		clear: (*registry.Record).ClearLED,
	},
}

// Engine is the radio side of the gateway: it decodes node messages,
// updates the registry and sends back the one reply a poll is entitled to.
// Not safe for concurrent use; driven by the gateway scheduler.
type Engine struct {
	logger    log.Logger
	reg       *registry.Registry
	clk       *clock.Clock
	cfg       *config.Config
	transport Transport
	events    EventSink
}

func NewEngine(logger log.Logger, reg *registry.Registry, clk *clock.Clock, cfg *config.Config, transport Transport, events EventSink) *Engine {
	logger = log.With(logger, "component", "radio")
	return &Engine{
		logger:    logger,
		reg:       reg,
		clk:       clk,
		cfg:       cfg,
		transport: transport,
		events:    events,
	}
}

// Poll samples the transport once and handles a packet if one arrived.
func (e *Engine) Poll() {
	pkt, ok, err := e.transport.Receive()
	if err != nil {
		metrics.ErrorCounter.Inc()
		level.Error(e.logger).Log("msg", "radio receive failed", "error", err)
		return
	}
	if !ok {
		return
	}
	e.Handle(pkt)
}

// Handle dispatches one inbound packet through the rule table. The sender
// is registered and marked seen before its handler runs; a message whose
// tag matches no rule, or whose body fails strict decoding, is logged and
// dropped without a reply.
func (e *Engine) Handle(pkt Packet) {
	msg := string(pkt.Payload)

	for _, r := range rules {
		if !strings.HasPrefix(msg, r.tag) {
			continue
		}
		metrics.RadioMsgCounter.WithLabelValues(r.tag).Inc()

		rec, err := e.reg.FindOrCreate(pkt.From)
		if err != nil {
			metrics.ErrorCounter.Inc()
			level.Error(e.logger).Log("msg", "dropping radio message", "node_id", pkt.From, "error", err)
			return
		}
		e.reg.MarkSeen(rec, pkt.RSSI)

		level.Debug(e.logger).Log("msg", "radio message", "node_id", pkt.From, "tag", r.tag, "rssi", pkt.RSSI)
		r.fn(e, rec, pkt, msg)
		return
	}

	level.Info(e.logger).Log("msg", "unrecognized radio message", "node_id", pkt.From, "payload", msg)
}

func (e *Engine) handleRebase(rec *registry.Record, pkt Packet, msg string) {
	reb, err := ParseRebase(msg)
	if err != nil {
		e.malformed(pkt, msg, err)
		return
	}
	rec.LastEntryFinish = reb.EntryFinishTime
	rec.LastMeterValue = reb.MeterValue
	e.events.MeterRebase(rec.ID, msg)
}

func (e *Engine) handleUpdateWithCurrent(rec *registry.Record, pkt Packet, msg string) {
	e.applyUpdate(rec, pkt, msg, true)
}

func (e *Engine) handleUpdate(rec *registry.Record, pkt Packet, msg string) {
	e.applyUpdate(rec, pkt, msg, false)
}

func (e *Engine) applyUpdate(rec *registry.Record, pkt Packet, msg string, withCurrent bool) {
	u, err := ParseUpdate(msg, withCurrent)
	if err != nil {
		e.malformed(pkt, msg, err)
		return
	}
	rec.LastEntryFinish = u.EntryFinishTime
	rec.LastMeterValue = u.MeterValue
	if u.HasCurrent {
		rec.LastCurrent = u.Current
	}
	e.events.MeterUpdate(rec.ID, msg, withCurrent)
}

// handleInstructionRequest stores the node's telemetry and answers with the
// highest-priority pending instruction, or a no-op when nothing is queued.
// The pending slot is cleared only once the transport confirms the send, so
// a failed delivery is retried at the node's next poll.
func (e *Engine) handleInstructionRequest(rec *registry.Record, pkt Packet, msg string) {
	tel, err := ParseTelemetry(msg)
	if err != nil {
		e.malformed(pkt, msg, err)
		return
	}
	rec.Telemetry = tel

	for _, ins := range instructionRules {
		if !ins.pending(rec) {
			continue
		}
		if err := e.send(ins.encode(rec, pkt.RSSI), rec.ID); err != nil {
			level.Warn(e.logger).Log("msg", "instruction send failed, staying queued",
				"node_id", rec.ID, "kind", ins.kind, "error", err)
			return
		}
		ins.clear(rec)
		metrics.InstructionSentCounter.WithLabelValues(ins.kind).Inc()
		level.Info(e.logger).Log("msg", "instruction sent", "node_id", rec.ID, "kind", ins.kind)
		return
	}

	if err := e.send(fmt.Sprintf("%s,%d", TagNoop, pkt.RSSI), rec.ID); err != nil {
		level.Warn(e.logger).Log("msg", "noop reply failed", "node_id", rec.ID, "error", err)
	}
}

func (e *Engine) handlePing(rec *registry.Record, pkt Packet, msg string) {
	nodeTime, err := ParsePingRequest(msg)
	if err != nil {
		e.malformed(pkt, msg, err)
		return
	}

	now := e.clk.Now()
	rec.LastDrift = int32(now - nodeTime)

	align := 0
	if e.cfg.AlignEntries {
		align = 1
	}
	reply := fmt.Sprintf("%s,%d,%d,%d,%d", TagPingResponse, nodeTime, now, align, pkt.RSSI)
	if err := e.send(reply, rec.ID); err != nil {
		level.Warn(e.logger).Log("msg", "ping reply failed", "node_id", rec.ID, "error", err)
	}
}

func (e *Engine) handleGeneral(rec *registry.Record, pkt Packet, msg string) {
	if flags, ok := ParseBootMessage(msg); ok {
		level.Info(e.logger).Log("msg", "node boot", "node_id", rec.ID,
			"reset_flags", strings.Join(BootFlags(flags), "+"))
	}
	e.events.NodeMessage(rec.ID, msg)
}

// send transmits one reply, refusing anything over the link's payload
// limit rather than truncating.
func (e *Engine) send(msg string, to registry.NodeID) error {
	if len(msg) > MaxPayload {
		metrics.ErrorCounter.Inc()
		level.Error(e.logger).Log("msg", "outbound radio message too long",
			"node_id", to, "len", len(msg), "max", MaxPayload)
		return errOversize
	}
	return e.transport.Send([]byte(msg), to)
}

func (e *Engine) malformed(pkt Packet, msg string, err error) {
	metrics.ErrorCounter.Inc()
	level.Info(e.logger).Log("msg", "malformed radio message",
		"node_id", pkt.From, "payload", msg, "error", err)
}
