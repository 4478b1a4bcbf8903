// Package host implements the gateway side of the serial line protocol to
// the host application: structured requests in, ACK/NACK and unsolicited
// events out. Lines the gateway sends are prefixed "G>S:", lines the host
// sends "S>G:"; anything else on the line is left to an optional console
// hook.
package host

// Line prefixes. A line carrying neither is not part of the protocol.
const (
	TXPrefix = "G>S:"
	RXPrefix = "S>G:"
)

// Host-to-gateway request tags.
const (
	TagSetTime         = "STIME"
	TagGetGatewaySnap  = "GGWSNAP"
	TagGetNodeSnap     = "GNOSNAP"
	TagSetMeterValue   = "SMVAL"
	TagSetLED          = "SPLED"
	TagSetInterval     = "SMINT"
	TagSetPollOverride = "SGITR"
)

// Gateway-to-host tags without an inbound counterpart.
const (
	TagRequestTime = "GTIME"
	TagGatewaySnap = "GWSNAP"
	TagNodeSnap    = "NOSNAP"
	TagNodeDark    = "NDARK"
)

// Instruction validation bounds.
const (
	maxLEDRate    = 255
	maxLEDTime    = 3000
	maxInterval   = 255
	pollRateMin   = 10
	pollRateMax   = 600
	pollPeriodMin = 10
	pollPeriodMax = 3000
)
