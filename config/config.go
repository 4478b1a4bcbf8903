// Package config holds the gateway's tunable parameters and their
// persistent store. Parameters survive restarts the way the original
// hardware kept them in EEPROM: validated on load, reset to defaults when
// the stored state is unusable.
package config

import (
	"fmt"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// KeyLength is the radio encryption key size in bytes.
const KeyLength = 16

// Log levels, in the order of the level filter.
const (
	LevelError = "error"
	LevelWarn  = "warn"
	LevelInfo  = "info"
	LevelDebug = "debug"
)

// Config is the set of persisted gateway parameters.
type Config struct {
	// GatewayID is this gateway's radio address, 1..253.
	GatewayID uint8 `json:"gateway_id"`

	// NetworkID is the 4-octet network address shared with the nodes.
	// Octets 3 and 4 are non-zero by convention.
	NetworkID [4]uint8 `json:"network_id"`

	// EncryptKey is the shared AES key, exactly KeyLength printable
	// ASCII bytes.
	EncryptKey []byte `json:"encrypt_key"`

	// TXPower in dBm. Valid range depends on RadioHighPower.
	TXPower        int8 `json:"tx_power"`
	RadioHighPower bool `json:"radio_high_power"`

	LogLevel string `json:"log_level"`

	// AlignEntries asks nodes to align meter entries to the top of the
	// minute; relayed in clock-sync responses.
	AlignEntries bool `json:"align_entries"`

	// MaxNodes is the registry slot capacity.
	MaxNodes int `json:"max_nodes"`

	// PollTimeoutSeconds is the liveness timeout before a node is
	// reported dark.
	PollTimeoutSeconds uint32 `json:"poll_timeout_seconds"`
}

// Default returns the deployment defaults.
func Default() Config {
	return Config{
		GatewayID:          1,
		NetworkID:          [4]uint8{0, 0, 1, 1},
		EncryptKey:         []byte("CHANGE_ME_PLEASE"),
		TXPower:            20,
		RadioHighPower:     true,
		LogLevel:           LevelDebug,
		AlignEntries:       true,
		MaxNodes:           5,
		PollTimeoutSeconds: 600,
	}
}

// TXPowerMin returns the lowest valid TX power for the radio variant.
func (c Config) TXPowerMin() int8 {
	if c.RadioHighPower {
		return -2
	}
	return -18
}

// TXPowerMax returns the highest valid TX power for the radio variant.
func (c Config) TXPowerMax() int8 {
	if c.RadioHighPower {
		return 20
	}
	return 13
}

// NetworkIDString renders the network id in dotted form, e.g. "0.0.1.1".
func (c Config) NetworkIDString() string {
	return fmt.Sprintf("%d.%d.%d.%d",
		c.NetworkID[0], c.NetworkID[1], c.NetworkID[2], c.NetworkID[3])
}

// LogLevelLabel returns the wire label for the configured level (DEBUG,
// INFO, WARN, ERROR).
func (c Config) LogLevelLabel() string {
	switch c.LogLevel {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// LevelOption maps the configured level to a go-kit level filter option.
func (c Config) LevelOption() level.Option {
	switch c.LogLevel {
	case LevelError:
		return level.AllowError()
	case LevelWarn:
		return level.AllowWarn()
	case LevelInfo:
		return level.AllowInfo()
	default:
		return level.AllowDebug()
	}
}

// Validate checks every field against its deployment range.
func (c Config) Validate() error {
	if c.GatewayID < 1 || c.GatewayID > 253 {
		return errors.Errorf("gateway id %d out of range 1..253", c.GatewayID)
	}
	if c.NetworkID[2] == 0 || c.NetworkID[3] == 0 {
		return errors.New("network id octets 3 and 4 must be non-zero")
	}
	if len(c.EncryptKey) != KeyLength {
		return errors.Errorf("encrypt key must be %d bytes, got %d", KeyLength, len(c.EncryptKey))
	}
	for _, b := range c.EncryptKey {
		if b < 32 || b > 126 {
			return errors.New("encrypt key must be printable ASCII")
		}
	}
	if c.TXPower < c.TXPowerMin() || c.TXPower > c.TXPowerMax() {
		return errors.Errorf("tx power %d out of range %d..%d",
			c.TXPower, c.TXPowerMin(), c.TXPowerMax())
	}
	switch c.LogLevel {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
	default:
		return errors.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.MaxNodes < 1 {
		return errors.Errorf("max nodes %d must be at least 1", c.MaxNodes)
	}
	if c.PollTimeoutSeconds == 0 {
		return errors.New("poll timeout must be non-zero")
	}
	return nil
}
