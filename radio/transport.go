package radio

import (
	"errors"
	"time"

	"github.com/meterman/metergw/registry"
)

// ErrTimeout is returned by SendAndAwaitReply when the node does not answer
// within the deadline.
var ErrTimeout = errors.New("radio: reply timeout")

var errOversize = errors.New("radio: payload exceeds link maximum")

// Packet is one received radio frame with its link metadata.
type Packet struct {
	From    registry.NodeID
	RSSI    int8
	Payload []byte
}

// Transport is the packet-radio link the engine drives. Send blocks until
// the frame is acknowledged or fails. Receive never blocks; the second
// return reports whether a packet was available. SendAndAwaitReply blocks
// the caller for at most timeout, which is acceptable because only one node
// is ever addressed at a time.
type Transport interface {
	Send(payload []byte, to registry.NodeID) error
	Receive() (Packet, bool, error)
	SendAndAwaitReply(payload []byte, to registry.NodeID, timeout time.Duration) (Packet, error)
}
