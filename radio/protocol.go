// Package radio implements the gateway side of the node radio protocol:
// decoding inbound node messages, updating the registry, and encoding the
// single reply a node poll is entitled to.
//
// The wire format is ASCII: a short alphabetic tag, comma-separated fields,
// semicolon-separated record groups. Decoding is strict; any field that
// fails to parse makes the whole message unrecognized.
package radio

import (
	"errors"
	"strconv"
	"strings"

	"github.com/meterman/metergw/registry"
)

// Message tags. M* concern meter data, G* the gateway exchange, P* clock
// sync.
const (
	TagRebase             = "MREB"
	TagUpdateWithCurrent  = "MUPC"
	TagUpdate             = "MUP_"
	TagInstructionRequest = "GINR"
	TagPollOverride       = "GITR"
	TagPingRequest        = "PREQ"
	TagPingResponse       = "PRSP"
	TagSetMeterValue      = "MVAI"
	TagSetMeterInterval   = "MINI"
	TagSetLED             = "MPLI"
	TagNoop               = "MNOI"
	TagGeneral            = "GMSG"
)

// MaxPayload is the transport's maximum radio payload in bytes. Outbound
// messages that would exceed it are refused, never truncated.
const MaxPayload = 60

// MaxMeterValue bounds meter values on the wire (the node accumulator
// overflows shortly above this).
const MaxMeterValue = 4000000000

var errMalformed = errors.New("radio: malformed message")

// Rebase is a node resetting its accumulation baseline.
type Rebase struct {
	EntryFinishTime uint32
	MeterValue      uint32
}

// Update is a digest of interval meter entries folded into a new
// accumulation state.
type Update struct {
	EntryFinishTime uint32
	MeterValue      uint32

	// Current is the latest spot reading in the digest; only valid for
	// updates with current. It is overwritten per entry, never summed.
	Current    float64
	HasCurrent bool
}

// fields splits a message body on the group and field separators, dropping
// a trailing terminator.
func fields(body string) []string {
	body = strings.TrimSuffix(body, ";")
	return strings.FieldsFunc(body, func(r rune) bool {
		return r == ',' || r == ';'
	})
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// ParseRebase decodes "MREB,<entry_finish_time>,<meter_value>".
func ParseRebase(msg string) (Rebase, error) {
	f := fields(msg)
	if len(f) != 3 || f[0] != TagRebase {
		return Rebase{}, errMalformed
	}
	t, err := parseUint32(f[1])
	if err != nil {
		return Rebase{}, errMalformed
	}
	v, err := parseUint32(f[2])
	if err != nil {
		return Rebase{}, errMalformed
	}
	return Rebase{EntryFinishTime: t, MeterValue: v}, nil
}

// EncodeRebase is the inverse of ParseRebase; nodes use it, the gateway
// only for tests and tooling.
func EncodeRebase(r Rebase) string {
	return TagRebase + "," +
		strconv.FormatUint(uint64(r.EntryFinishTime), 10) + "," +
		strconv.FormatUint(uint64(r.MeterValue), 10)
}

// ParseUpdate decodes a meter update digest:
//
//	MUP_,<t0>,<v0>;<dur>,<delta>;...
//	MUPC,<t0>,<v0>;<dur>,<delta>,<current>;...
//
// The first group is the baseline; every following group advances the
// entry finish time by its duration and the meter value by its delta. The
// current reading, when present, is the group's spot sample and the last
// one wins.
func ParseUpdate(msg string, withCurrent bool) (Update, error) {
	groups := strings.Split(strings.TrimSuffix(msg, ";"), ";")
	if len(groups) < 1 {
		return Update{}, errMalformed
	}

	head := strings.Split(groups[0], ",")
	wantTag := TagUpdate
	if withCurrent {
		wantTag = TagUpdateWithCurrent
	}
	if len(head) != 3 || head[0] != wantTag {
		return Update{}, errMalformed
	}

	u := Update{HasCurrent: withCurrent}
	var err error
	if u.EntryFinishTime, err = parseUint32(head[1]); err != nil {
		return Update{}, errMalformed
	}
	if u.MeterValue, err = parseUint32(head[2]); err != nil {
		return Update{}, errMalformed
	}

	wantFields := 2
	if withCurrent {
		wantFields = 3
	}
	for _, g := range groups[1:] {
		f := strings.Split(g, ",")
		if len(f) != wantFields {
			return Update{}, errMalformed
		}
		dur, err := parseUint32(f[0])
		if err != nil {
			return Update{}, errMalformed
		}
		delta, err := parseUint32(f[1])
		if err != nil {
			return Update{}, errMalformed
		}
		u.EntryFinishTime += dur
		u.MeterValue += delta
		if withCurrent {
			cur, err := strconv.ParseFloat(f[2], 64)
			if err != nil {
				return Update{}, errMalformed
			}
			u.Current = cur
		}
	}
	return u, nil
}

// ParseTelemetry decodes the GINR status block:
//
//	GINR,<batt_mv>,<uptime_s>,<sleep_s>,<free_ram>,<node_rssi>,
//	     <led_rate>,<led_time>,<interval>,<imp_per_kwh>
func ParseTelemetry(msg string) (registry.Telemetry, error) {
	f := fields(msg)
	if len(f) != 10 || f[0] != TagInstructionRequest {
		return registry.Telemetry{}, errMalformed
	}

	var tel registry.Telemetry
	batt, err := strconv.ParseUint(f[1], 10, 16)
	if err != nil {
		return registry.Telemetry{}, errMalformed
	}
	tel.BattMilliVolts = uint16(batt)
	if tel.UptimeSeconds, err = parseUint32(f[2]); err != nil {
		return registry.Telemetry{}, errMalformed
	}
	if tel.SleptSeconds, err = parseUint32(f[3]); err != nil {
		return registry.Telemetry{}, errMalformed
	}
	ram, err := strconv.ParseUint(f[4], 10, 16)
	if err != nil {
		return registry.Telemetry{}, errMalformed
	}
	tel.FreeRAM = uint16(ram)
	rssi, err := strconv.ParseInt(f[5], 10, 8)
	if err != nil {
		return registry.Telemetry{}, errMalformed
	}
	tel.NodeRSSI = int8(rssi)
	rate, err := strconv.ParseUint(f[6], 10, 8)
	if err != nil {
		return registry.Telemetry{}, errMalformed
	}
	tel.LEDRate = uint8(rate)
	ledTime, err := strconv.ParseUint(f[7], 10, 16)
	if err != nil {
		return registry.Telemetry{}, errMalformed
	}
	tel.LEDTime = uint16(ledTime)
	interval, err := strconv.ParseUint(f[8], 10, 8)
	if err != nil {
		return registry.Telemetry{}, errMalformed
	}
	tel.MeterInterval = uint8(interval)
	imp, err := strconv.ParseUint(f[9], 10, 16)
	if err != nil {
		return registry.Telemetry{}, errMalformed
	}
	tel.ImpPerKWh = uint16(imp)
	return tel, nil
}

// ParsePingRequest decodes "PREQ,<node_time>".
func ParsePingRequest(msg string) (uint32, error) {
	f := fields(msg)
	if len(f) != 2 || f[0] != TagPingRequest {
		return 0, errMalformed
	}
	t, err := parseUint32(f[1])
	if err != nil {
		return 0, errMalformed
	}
	return t, nil
}

// BootFlags decodes an AVR reset-cause register into its flag labels:
// watchdog, brown-out, external and power-on reset.
func BootFlags(v uint8) []string {
	var out []string
	if v&(1<<3) != 0 {
		out = append(out, "WD")
	}
	if v&(1<<2) != 0 {
		out = append(out, "BO")
	}
	if v&(1<<1) != 0 {
		out = append(out, "EX")
	}
	if v&(1<<0) != 0 {
		out = append(out, "PO")
	}
	return out
}

// ParseBootMessage extracts the reset-cause flags from a "GMSG,BOOT ..."
// broadcast, e.g. "GMSG,BOOT v6. Flags: 12". The second return is false
// when the message is not a boot report or carries no flags.
func ParseBootMessage(msg string) (uint8, bool) {
	if !strings.HasPrefix(msg, TagGeneral+",BOOT") {
		return 0, false
	}
	i := strings.LastIndex(msg, "Flags:")
	if i < 0 {
		return 0, false
	}
	raw := strings.TrimSpace(msg[i+len("Flags:"):])
	v, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(v), true
}
