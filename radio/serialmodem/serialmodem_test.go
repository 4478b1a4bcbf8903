package serialmodem

import (
	"bytes"
	"testing"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/meterman/metergw/radio"
	"github.com/meterman/metergw/registry"
)

type fakePort struct {
	serial.Port
	in  bytes.Buffer
	out bytes.Buffer
}

// an empty buffer reads as a serial timeout, not EOF
func (p *fakePort) Read(b []byte) (int, error) {
	if p.in.Len() == 0 {
		return 0, nil
	}
	return p.in.Read(b)
}
func (p *fakePort) Write(b []byte) (int, error)        { return p.out.Write(b) }
func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) Close() error                       { return nil }

func frame(dst, src, rssi byte, payload string) []byte {
	var b bytes.Buffer
	b.WriteString("PKT")
	b.WriteByte(byte(3 + len(payload)))
	b.Write([]byte{dst, src, rssi})
	b.WriteString(payload)
	return b.Bytes()
}

func testModem() (*Modem, *fakePort) {
	p := &fakePort{}
	return New(log.NewNopLogger(), p, 1), p
}

func TestSendFraming(t *testing.T) {
	m, p := testModem()

	require.NoError(t, m.Send([]byte("MNOI,-70"), 2))
	require.Equal(t, frame(2, 1, 0, "MNOI,-70"), p.out.Bytes())
}

func TestSendRefusesOversize(t *testing.T) {
	m, p := testModem()

	err := m.Send(bytes.Repeat([]byte{'A'}, radio.MaxPayload+1), 2)
	require.Error(t, err)
	require.Zero(t, p.out.Len())
}

func TestReceiveFrame(t *testing.T) {
	m, p := testModem()

	p.in.Write(frame(1, 2, 0xB6, "MREB,100,50"))

	pkt, ok, err := m.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, registry.NodeID(2), pkt.From)
	require.Equal(t, int8(-74), pkt.RSSI)
	require.Equal(t, "MREB,100,50", string(pkt.Payload))

	// nothing else queued
	_, ok, err = m.Receive()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReceiveResyncsOnGarbage(t *testing.T) {
	m, p := testModem()

	p.in.Write([]byte("noise PK junk"))
	p.in.Write(frame(1, 3, 0xC0, "PREQ,100"))

	pkt, ok, err := m.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, registry.NodeID(3), pkt.From)
	require.Equal(t, "PREQ,100", string(pkt.Payload))
}

func TestReceiveDropsForeignFrames(t *testing.T) {
	m, p := testModem()

	p.in.Write(frame(9, 2, 0xC0, "MREB,1,1"))
	p.in.Write(frame(byte(registry.Broadcast), 2, 0xC0, "GMSG,hello"))

	pkt, ok, err := m.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "GMSG,hello", string(pkt.Payload))
}

func TestReceivePartialFrame(t *testing.T) {
	m, p := testModem()

	full := frame(1, 2, 0xC0, "MREB,100,50")
	p.in.Write(full[:6])

	_, ok, err := m.Receive()
	require.NoError(t, err)
	require.False(t, ok)

	p.in.Write(full[6:])
	pkt, ok, err := m.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "MREB,100,50", string(pkt.Payload))
}

func TestSendAndAwaitReplyKeepsForeignTraffic(t *testing.T) {
	m, p := testModem()

	p.in.Write(frame(1, 3, 0xC0, "PREQ,100"))
	p.in.Write(frame(1, 2, 0xC0, "MNOI"))

	pkt, err := m.SendAndAwaitReply([]byte("GINR,1,2,3"), 2, 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, registry.NodeID(2), pkt.From)

	// the frame from node 3 was kept, not dropped
	kept, ok, err := m.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, registry.NodeID(3), kept.From)
}

func TestSendAndAwaitReplyTimeout(t *testing.T) {
	m, _ := testModem()

	_, err := m.SendAndAwaitReply([]byte("GINR"), 2, 10*time.Millisecond)
	require.ErrorIs(t, err, radio.ErrTimeout)
}
