// Package clock maintains the gateway's synthesized UTC clock. The gateway
// carries no RTC: epoch time is derived from a wrapping local millisecond
// counter plus a base offset supplied by the host over the serial link.
package clock

import (
	"errors"
	"math"
	"time"
)

// EpochSeconds is a UTC timestamp in seconds since the UNIX epoch.
type EpochSeconds = uint32

// InitTime is the placeholder epoch used before the first host sync
// (2017-01-01 00:00:00 UTC). A boot epoch at or below this value means the
// clock has never been synced by the host.
const InitTime EpochSeconds = 1483228800

// maxLocalSeconds is the wrap point of the local counter expressed in
// seconds: the millisecond counter wraps at MaxUint32, roughly every 49
// days.
const maxLocalSeconds = math.MaxUint32 / 1000

// ErrInvalidTime is returned by SetTime for an unusable epoch.
var ErrInvalidTime = errors.New("clock: invalid time")

// Millis returns a wrapping millisecond counter. The default source derives
// it from the Go monotonic clock; tests substitute their own.
type Millis func() uint32

// Clock synthesizes epoch time from the local counter and the last host
// sync. The zero offset state yields counter time directly; callers are
// expected to SetTime early (with InitTime as a fallback).
type Clock struct {
	millis Millis

	baseEpoch        EpochSeconds
	baseLocalSeconds uint32
	bootEpoch        EpochSeconds
}

// New returns a Clock reading from m, or from the process monotonic clock
// when m is nil.
func New(m Millis) *Clock {
	if m == nil {
		start := time.Now()
		m = func() uint32 {
			return uint32(time.Since(start).Milliseconds())
		}
	}
	return &Clock{millis: m}
}

func (c *Clock) localSeconds() uint32 {
	return c.millis() / 1000
}

// Now returns the synthesized epoch time. It is wraparound safe: when the
// counter has wrapped since the last sync, the elapsed delta is computed as
// (maxLocalSeconds - baseLocalSeconds) + current instead of underflowing.
func (c *Clock) Now() EpochSeconds {
	cur := c.localSeconds()
	if cur < c.baseLocalSeconds {
		return c.baseEpoch + cur + (maxLocalSeconds - c.baseLocalSeconds)
	}
	return c.baseEpoch + (cur - c.baseLocalSeconds)
}

// SetTime rebases the clock on a host-supplied epoch. The first successful
// call records the boot epoch; later calls shift the boot epoch by the same
// delta applied to now, so uptime-derived timestamps stay consistent across
// re-syncs. A zero epoch is rejected and the previous state retained.
func (c *Clock) SetTime(epoch EpochSeconds) error {
	if epoch == 0 {
		return ErrInvalidTime
	}

	var uptime uint32
	synced := c.Synced()
	if synced {
		uptime = c.Now() - c.bootEpoch
	}

	c.baseEpoch = epoch
	c.baseLocalSeconds = c.localSeconds()

	switch {
	case !synced:
		c.bootEpoch = epoch
	case uptime > epoch:
		c.bootEpoch = 0
	default:
		c.bootEpoch = epoch - uptime
	}
	return nil
}

// BootEpoch returns the epoch recorded at the first successful sync,
// adjusted across later re-syncs.
func (c *Clock) BootEpoch() EpochSeconds {
	return c.bootEpoch
}

// Synced reports whether the clock has ever been set past InitTime.
func (c *Clock) Synced() bool {
	return c.bootEpoch > InitTime
}
