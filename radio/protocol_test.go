package radio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meterman/metergw/registry"
)

func TestRebaseRoundTrip(t *testing.T) {
	reb, err := ParseRebase("MREB,1496842913,18829393")
	require.NoError(t, err)
	require.Equal(t, uint32(1496842913), reb.EntryFinishTime)
	require.Equal(t, uint32(18829393), reb.MeterValue)

	require.Equal(t, "MREB,1496842913,18829393", EncodeRebase(reb))
}

func TestParseRebaseMalformed(t *testing.T) {
	for _, msg := range []string{
		"MREB",
		"MREB,123",
		"MREB,123,abc",
		"MREB,123,456,789",
		"MRXB,123,456",
	} {
		_, err := ParseRebase(msg)
		require.Error(t, err, msg)
	}
}

func TestParseUpdateWithCurrent(t *testing.T) {
	u, err := ParseUpdate("MUPC,100,50;10,5,1.50;20,7,2.25", true)
	require.NoError(t, err)
	require.Equal(t, uint32(130), u.EntryFinishTime)
	require.Equal(t, uint32(62), u.MeterValue)
	require.True(t, u.HasCurrent)
	// the last sample wins, samples are not summed
	require.Equal(t, 2.25, u.Current)
}

func TestParseUpdateWithoutCurrent(t *testing.T) {
	u, err := ParseUpdate("MUP_,100,50;10,5;20,7", false)
	require.NoError(t, err)
	require.Equal(t, uint32(130), u.EntryFinishTime)
	require.Equal(t, uint32(62), u.MeterValue)
	require.False(t, u.HasCurrent)
}

func TestParseUpdateBaselineOnly(t *testing.T) {
	u, err := ParseUpdate("MUP_,100,50", false)
	require.NoError(t, err)
	require.Equal(t, uint32(100), u.EntryFinishTime)
	require.Equal(t, uint32(50), u.MeterValue)
}

func TestParseUpdateMalformed(t *testing.T) {
	// wrong arity for the variant makes the whole message invalid
	_, err := ParseUpdate("MUPC,100,50;10,5", true)
	require.Error(t, err)
	_, err = ParseUpdate("MUP_,100,50;10,5,1.5", false)
	require.Error(t, err)
	_, err = ParseUpdate("MUPC,100,50;10,x,1.5", true)
	require.Error(t, err)
}

func TestParseTelemetry(t *testing.T) {
	tel, err := ParseTelemetry("GINR,2987,86400,80000,512,-71,2,500,15,1000")
	require.NoError(t, err)
	require.Equal(t, registry.Telemetry{
		BattMilliVolts: 2987,
		UptimeSeconds:  86400,
		SleptSeconds:   80000,
		FreeRAM:        512,
		NodeRSSI:       -71,
		LEDRate:        2,
		LEDTime:        500,
		MeterInterval:  15,
		ImpPerKWh:      1000,
	}, tel)

	_, err = ParseTelemetry("GINR,2987,86400,80000,512,-71,2,500,15")
	require.Error(t, err)
}

func TestParsePingRequest(t *testing.T) {
	v, err := ParsePingRequest("PREQ,1496842913")
	require.NoError(t, err)
	require.Equal(t, uint32(1496842913), v)

	_, err = ParsePingRequest("PREQ,")
	require.Error(t, err)
}

func TestBootFlags(t *testing.T) {
	require.Equal(t, []string{"PO"}, BootFlags(1))
	require.Equal(t, []string{"WD", "EX"}, BootFlags(0b1010))
	require.Empty(t, BootFlags(0))
}

func TestParseBootMessage(t *testing.T) {
	flags, ok := ParseBootMessage("GMSG,BOOT v6. Flags: 12")
	require.True(t, ok)
	require.Equal(t, uint8(12), flags)

	_, ok = ParseBootMessage("GMSG,hello there")
	require.False(t, ok)
	_, ok = ParseBootMessage("GMSG,BOOT v6.")
	require.False(t, ok)
}
