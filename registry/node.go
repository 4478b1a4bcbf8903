package registry

import (
	"math"

	"github.com/meterman/metergw/clock"
)

// NodeID identifies a device on the radio network. The gateway itself is
// usually 1, nodes are 2..253.
type NodeID uint8

const (
	// AllNodes is the pseudo id used by host snapshot requests meaning
	// "every known node".
	AllNodes NodeID = 254

	// Broadcast is the radio broadcast address.
	Broadcast NodeID = 255
)

// DarkSentinel marks a node that has been reported dark: the sweep has
// alerted once and suppresses repeats until the node is seen again.
const DarkSentinel clock.EpochSeconds = math.MaxUint32

// Telemetry holds the last node-reported status values, overwritten
// verbatim on each instruction-request poll. No history is retained.
type Telemetry struct {
	BattMilliVolts uint16
	UptimeSeconds  uint32
	SleptSeconds   uint32
	FreeRAM        uint16
	NodeRSSI       int8
	LEDRate        uint8
	LEDTime        uint16
	MeterInterval  uint8
	ImpPerKWh      uint16
}

// LEDPulse is a queued LED instruction: flash every Rate meter pulses, for
// Time milliseconds.
type LEDPulse struct {
	Rate uint8
	Time uint16
}

// PollOverride is a queued request for a temporarily more aggressive
// instruction-poll rate: poll every Rate seconds for Period seconds.
type PollOverride struct {
	Rate   uint16
	Period uint16
}

// pending holds at most one outstanding instruction per kind. Absence is
// explicit (nil), never an in-band sentinel value. Queueing one kind does
// not clear another; dispatch order is decided by the radio engine.
type pending struct {
	meterValue    *uint32
	meterInterval *uint8
	led           *LEDPulse
	pollOverride  *PollOverride
}

// Record is the authoritative per-node state cached by the gateway. Records
// are created on first contact and only ever reset wholesale, never evicted.
type Record struct {
	ID NodeID

	// LastSeen is the epoch of the last inbound message from this node,
	// or DarkSentinel while the node is dark.
	LastSeen clock.EpochSeconds

	// LastDrift is gateway clock minus node clock at the last clock-sync
	// exchange, in seconds. Informational only.
	LastDrift int32

	// LastRSSI is the gateway-side signal strength of the last message.
	LastRSSI int8

	Telemetry Telemetry

	// Accumulation state as last reported by the node. The gateway only
	// relays these, it never accumulates itself.
	LastEntryFinish clock.EpochSeconds
	LastMeterValue  uint32
	LastCurrent     float64

	pending pending
}

// Dark reports whether the node has gone dark (alerted and not seen since).
func (r *Record) Dark() bool {
	return r.LastSeen == DarkSentinel
}

func (r *Record) QueueMeterValue(v uint32) {
	r.pending.meterValue = &v
}

// PendingMeterValue returns the queued set-meter-value instruction, if any.
func (r *Record) PendingMeterValue() (uint32, bool) {
	if r.pending.meterValue == nil {
		return 0, false
	}
	return *r.pending.meterValue, true
}

func (r *Record) ClearMeterValue() {
	r.pending.meterValue = nil
}

func (r *Record) QueueMeterInterval(i uint8) {
	r.pending.meterInterval = &i
}

func (r *Record) PendingMeterInterval() (uint8, bool) {
	if r.pending.meterInterval == nil {
		return 0, false
	}
	return *r.pending.meterInterval, true
}

func (r *Record) ClearMeterInterval() {
	r.pending.meterInterval = nil
}

func (r *Record) QueueLED(p LEDPulse) {
	r.pending.led = &p
}

func (r *Record) PendingLED() (LEDPulse, bool) {
	if r.pending.led == nil {
		return LEDPulse{}, false
	}
	return *r.pending.led, true
}

func (r *Record) ClearLED() {
	r.pending.led = nil
}

func (r *Record) QueuePollOverride(p PollOverride) {
	r.pending.pollOverride = &p
}

func (r *Record) PendingPollOverride() (PollOverride, bool) {
	if r.pending.pollOverride == nil {
		return PollOverride{}, false
	}
	return *r.pending.pollOverride, true
}

func (r *Record) ClearPollOverride() {
	r.pending.pollOverride = nil
}
