package clock

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeMillis is a settable counter standing in for the local timer.
type fakeMillis struct {
	ms uint32
}

func (f *fakeMillis) now() uint32 {
	return f.ms
}

func (f *fakeMillis) advance(seconds uint32) {
	f.ms += seconds * 1000
}

func TestSetTimeThenNow(t *testing.T) {
	fm := &fakeMillis{}
	c := New(fm.now)

	err := c.SetTime(1496842913)
	require.NoError(t, err)
	require.Equal(t, uint32(1496842913), c.Now())

	fm.advance(60)
	require.Equal(t, uint32(1496842973), c.Now())

	// re-sync always wins, regardless of local elapsed time
	err = c.SetTime(1500000000)
	require.NoError(t, err)
	require.Equal(t, uint32(1500000000), c.Now())
}

func TestInvalidTimeRetainsState(t *testing.T) {
	fm := &fakeMillis{}
	c := New(fm.now)

	require.NoError(t, c.SetTime(1496842913))
	fm.advance(10)

	err := c.SetTime(0)
	require.ErrorIs(t, err, ErrInvalidTime)
	require.Equal(t, uint32(1496842923), c.Now())
}

func TestCounterWrapDoesNotDecrease(t *testing.T) {
	fm := &fakeMillis{ms: math.MaxUint32 - 5000}
	c := New(fm.now)
	require.NoError(t, c.SetTime(1496842913))

	before := c.Now()

	// push the millisecond counter past its wrap point
	fm.ms = 3000

	after := c.Now()
	require.GreaterOrEqual(t, after, before)
}

func TestBootEpochFirstSync(t *testing.T) {
	fm := &fakeMillis{}
	c := New(fm.now)

	// the pre-sync placeholder does not count as a real sync
	require.NoError(t, c.SetTime(InitTime))
	require.False(t, c.Synced())
	require.Equal(t, InitTime, c.BootEpoch())

	require.NoError(t, c.SetTime(1496842913))
	require.True(t, c.Synced())
	require.Equal(t, uint32(1496842913), c.BootEpoch())
}

func TestBootEpochPreservesUptimeAcrossResync(t *testing.T) {
	fm := &fakeMillis{}
	c := New(fm.now)

	require.NoError(t, c.SetTime(1496842913))
	fm.advance(100)

	// host decides the gateway clock drifted 50s ahead
	require.NoError(t, c.SetTime(1496842963))

	// uptime was 100s when the re-sync arrived
	require.Equal(t, uint32(1496842963-100), c.BootEpoch())
	require.Equal(t, uint32(100), c.Now()-c.BootEpoch())
}
