package registry

import (
	"testing"

	log "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/require"

	"github.com/meterman/metergw/clock"
)

type fakeMillis struct {
	ms uint32
}

func (f *fakeMillis) now() uint32 {
	return f.ms
}

func testRegistry(t *testing.T, capacity int) (*Registry, *fakeMillis) {
	t.Helper()
	fm := &fakeMillis{}
	clk := clock.New(fm.now)
	require.NoError(t, clk.SetTime(1496842913))
	return New(log.NewNopLogger(), clk, capacity), fm
}

func TestFindOrCreateSameSlot(t *testing.T) {
	reg, _ := testRegistry(t, 5)

	a, err := reg.FindOrCreate(2)
	require.NoError(t, err)
	b, err := reg.FindOrCreate(2)
	require.NoError(t, err)
	require.Same(t, a, b)

	rec, ok := reg.Find(2)
	require.True(t, ok)
	require.Same(t, a, rec)
}

func TestFindOrCreateFull(t *testing.T) {
	reg, _ := testRegistry(t, 3)

	for id := NodeID(2); id <= 4; id++ {
		_, err := reg.FindOrCreate(id)
		require.NoError(t, err)
	}

	_, err := reg.FindOrCreate(9)
	require.ErrorIs(t, err, ErrFull)

	// existing slots untouched
	require.Len(t, reg.Records(), 3)
	for id := NodeID(2); id <= 4; id++ {
		_, ok := reg.Find(id)
		require.True(t, ok)
	}
}

func TestFindOrCreateRejectsZero(t *testing.T) {
	reg, _ := testRegistry(t, 2)
	_, err := reg.FindOrCreate(0)
	require.ErrorIs(t, err, ErrInvalidNode)
	require.Len(t, reg.Records(), 0)
}

func TestSweepDarkFiresOnce(t *testing.T) {
	reg, fm := testRegistry(t, 5)

	rec, err := reg.FindOrCreate(2)
	require.NoError(t, err)
	reg.MarkSeen(rec, -70)
	seenAt := rec.LastSeen

	// not yet past the timeout
	fm.ms += 600 * 1000
	require.Empty(t, reg.SweepDark(600))

	fm.ms += 1000
	dark := reg.SweepDark(600)
	require.Len(t, dark, 1)
	require.Equal(t, NodeID(2), dark[0].ID)
	require.Equal(t, seenAt, dark[0].LastSeen)
	require.True(t, rec.Dark())

	// suppressed until the node is seen again
	fm.ms += 10000 * 1000
	require.Empty(t, reg.SweepDark(600))

	reg.MarkSeen(rec, -70)
	require.False(t, rec.Dark())
	fm.ms += 601 * 1000
	require.Len(t, reg.SweepDark(600), 1)
}

func TestResetLastSeenMarksAllDark(t *testing.T) {
	reg, _ := testRegistry(t, 5)

	for id := NodeID(2); id <= 3; id++ {
		rec, err := reg.FindOrCreate(id)
		require.NoError(t, err)
		reg.MarkSeen(rec, -60)
	}

	reg.ResetLastSeen()
	for _, rec := range reg.Records() {
		require.True(t, rec.Dark())
	}

	// dark nodes never re-alert from the sweep
	require.Empty(t, reg.SweepDark(0))
}

func TestPendingSlotsIndependent(t *testing.T) {
	reg, _ := testRegistry(t, 5)
	rec, err := reg.FindOrCreate(2)
	require.NoError(t, err)

	rec.QueueMeterValue(10)
	rec.QueueLED(LEDPulse{Rate: 1, Time: 500})

	v, ok := rec.PendingMeterValue()
	require.True(t, ok)
	require.Equal(t, uint32(10), v)

	// clearing one kind leaves the other queued
	rec.ClearMeterValue()
	_, ok = rec.PendingMeterValue()
	require.False(t, ok)

	led, ok := rec.PendingLED()
	require.True(t, ok)
	require.Equal(t, LEDPulse{Rate: 1, Time: 500}, led)

	_, ok = rec.PendingMeterInterval()
	require.False(t, ok)
	_, ok = rec.PendingPollOverride()
	require.False(t, ok)
}
