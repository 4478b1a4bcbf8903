// Package serialmodem drives a radio modem attached over a serial port.
// Frames are exchanged with a small binary envelope: the ASCII marker
// "PKT", one length byte, then the body (destination, source, signal
// strength, payload). The modem owns encryption and link-level acks; this
// side only frames and unframes.
package serialmodem

import (
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/meterman/metergw/radio"
	"github.com/meterman/metergw/registry"
)

var marker = []byte{'P', 'K', 'T'}

// body bytes before the payload: dst, src, rssi
const headerLen = 3

const readTimeout = 20 * time.Millisecond

// Modem is a radio.Transport over a serial-attached modem. Not safe for
// concurrent use.
type Modem struct {
	logger log.Logger
	port   serial.Port
	self   registry.NodeID

	buf     []byte
	backlog []radio.Packet
}

// Open opens the modem's serial device. self is the gateway's own radio
// address; frames addressed elsewhere are dropped.
func Open(logger log.Logger, device string, baud int, self registry.NodeID) (*Modem, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open radio modem %s", device)
	}
	return New(logger, port, self), nil
}

// New wraps an already open port.
func New(logger log.Logger, port serial.Port, self registry.NodeID) *Modem {
	logger = log.With(logger, "component", "serialmodem")
	port.SetReadTimeout(readTimeout)
	return &Modem{logger: logger, port: port, self: self}
}

func (m *Modem) Close() error {
	return m.port.Close()
}

// Send frames and writes one payload to the given node.
func (m *Modem) Send(payload []byte, to registry.NodeID) error {
	if len(payload) > radio.MaxPayload {
		return errors.Errorf("payload %d bytes exceeds maximum %d", len(payload), radio.MaxPayload)
	}

	frame := make([]byte, 0, len(marker)+1+headerLen+len(payload))
	frame = append(frame, marker...)
	frame = append(frame, byte(headerLen+len(payload)))
	frame = append(frame, byte(to), byte(m.self), 0)
	frame = append(frame, payload...)

	if _, err := m.port.Write(frame); err != nil {
		return errors.Wrap(err, "write radio frame")
	}
	return nil
}

// Receive returns the next frame addressed to us, if one is available. It
// never blocks longer than the port's read timeout.
func (m *Modem) Receive() (radio.Packet, bool, error) {
	if len(m.backlog) > 0 {
		pkt := m.backlog[0]
		m.backlog = m.backlog[1:]
		return pkt, true, nil
	}
	return m.readFrame()
}

// SendAndAwaitReply sends one frame and waits up to timeout for an answer
// from the same node. Frames from other nodes arriving in the window are
// kept for later Receive calls, never dropped.
func (m *Modem) SendAndAwaitReply(payload []byte, to registry.NodeID, timeout time.Duration) (radio.Packet, error) {
	if err := m.Send(payload, to); err != nil {
		return radio.Packet{}, err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pkt, ok, err := m.readFrame()
		if err != nil {
			return radio.Packet{}, err
		}
		if !ok {
			continue
		}
		if pkt.From == to {
			return pkt, nil
		}
		m.backlog = append(m.backlog, pkt)
	}
	return radio.Packet{}, radio.ErrTimeout
}

func (m *Modem) readFrame() (radio.Packet, bool, error) {
	tmp := make([]byte, 256)
	n, err := m.port.Read(tmp)
	if err != nil {
		return radio.Packet{}, false, errors.Wrap(err, "read radio frame")
	}
	m.buf = append(m.buf, tmp[:n]...)
	return m.parse()
}

// parse scans the accumulated bytes for the next complete, well-addressed
// frame. Garbage before a marker is discarded to resynchronize.
func (m *Modem) parse() (radio.Packet, bool, error) {
	for {
		for len(m.buf) >= len(marker) &&
			!(m.buf[0] == marker[0] && m.buf[1] == marker[1] && m.buf[2] == marker[2]) {
			m.buf = m.buf[1:]
		}
		if len(m.buf) < len(marker)+1 {
			return radio.Packet{}, false, nil
		}

		bodyLen := int(m.buf[3])
		if bodyLen < headerLen {
			level.Debug(m.logger).Log("msg", "runt radio frame, resyncing", "len", bodyLen)
			m.buf = m.buf[1:]
			continue
		}
		if len(m.buf) < len(marker)+1+bodyLen {
			return radio.Packet{}, false, nil
		}

		body := m.buf[len(marker)+1 : len(marker)+1+bodyLen]
		m.buf = m.buf[len(marker)+1+bodyLen:]

		dst := registry.NodeID(body[0])
		if dst != m.self && dst != registry.Broadcast {
			level.Debug(m.logger).Log("msg", "frame for another node dropped", "dst", dst)
			continue
		}

		payload := make([]byte, bodyLen-headerLen)
		copy(payload, body[headerLen:])
		return radio.Packet{
			From:    registry.NodeID(body[1]),
			RSSI:    int8(body[2]),
			Payload: payload,
		}, true, nil
	}
}
