// Package registry is the gateway's fixed-capacity table of per-node state.
// Nodes register themselves on first radio contact; slots are never
// recycled while the gateway is up.
package registry

import (
	"errors"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/meterman/metergw/clock"
)

var (
	// ErrFull is returned when a new node shows up and every slot is
	// taken. The newcomer is refused, existing records are untouched.
	ErrFull = errors.New("registry: full")

	// ErrInvalidNode rejects the reserved empty-slot id 0.
	ErrInvalidNode = errors.New("registry: invalid node id")
)

// DarkNode is one liveness-sweep alert: a node that exceeded its timeout.
type DarkNode struct {
	ID       NodeID
	LastSeen clock.EpochSeconds
}

// Registry is a fixed set of Record slots keyed by node id. It is not safe
// for concurrent use: the gateway core is single-threaded by design.
type Registry struct {
	logger log.Logger
	clk    *clock.Clock
	slots  []Record
}

// New returns a Registry with the given slot capacity.
func New(logger log.Logger, clk *clock.Clock, capacity int) *Registry {
	logger = log.With(logger, "component", "registry")
	return &Registry{
		logger: logger,
		clk:    clk,
		slots:  make([]Record, capacity),
	}
}

// Find returns the record for id without creating one.
func (r *Registry) Find(id NodeID) (*Record, bool) {
	for i := range r.slots {
		if r.slots[i].ID == id {
			return &r.slots[i], true
		}
	}
	return nil, false
}

// FindOrCreate returns the record for id, claiming the first empty slot if
// the node is new. Claiming writes the id before returning, so a second
// lookup for the same id lands on the same slot.
func (r *Registry) FindOrCreate(id NodeID) (*Record, error) {
	if id == 0 {
		return nil, ErrInvalidNode
	}
	if rec, ok := r.Find(id); ok {
		return rec, nil
	}
	for i := range r.slots {
		if r.slots[i].ID == 0 {
			r.slots[i] = Record{ID: id}
			return &r.slots[i], nil
		}
	}
	level.Error(r.logger).Log("msg", "can't add node, registry full", "node_id", id)
	return nil, ErrFull
}

// MarkSeen stamps the record with the current time and signal strength.
func (r *Registry) MarkSeen(rec *Record, rssi int8) {
	rec.LastSeen = r.clk.Now()
	rec.LastRSSI = rssi
}

// Records returns the occupied slots in slot order.
func (r *Registry) Records() []*Record {
	var out []*Record
	for i := range r.slots {
		if r.slots[i].ID != 0 {
			out = append(out, &r.slots[i])
		}
	}
	return out
}

// Len returns the number of occupied slots.
func (r *Registry) Len() int {
	return len(r.Records())
}

// ResetLastSeen marks every known node dark. Called after a clock jump,
// when elapsed-since-seen arithmetic stops meaning anything.
func (r *Registry) ResetLastSeen() {
	for i := range r.slots {
		if r.slots[i].ID != 0 {
			r.slots[i].LastSeen = DarkSentinel
		}
	}
}

// SweepDark scans for nodes that have stopped reporting. Each node whose
// silence exceeds timeoutSeconds is returned once and then marked dark so
// it is not reported again until seen.
func (r *Registry) SweepDark(timeoutSeconds uint32) []DarkNode {
	now := r.clk.Now()
	var out []DarkNode
	for i := range r.slots {
		rec := &r.slots[i]
		if rec.ID == 0 || rec.Dark() {
			continue
		}
		if now-rec.LastSeen > timeoutSeconds {
			out = append(out, DarkNode{ID: rec.ID, LastSeen: rec.LastSeen})
			rec.LastSeen = DarkSentinel
		}
	}
	return out
}
