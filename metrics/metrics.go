package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	TagLabel  = "tag"
	KindLabel = "kind"
)

var (
	RadioMsgCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metergw",
			Name:      "radio_msg_total",
			Help:      "The total number of received radio messages by tag",
		},
		[]string{TagLabel},
	)

	HostMsgCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metergw",
			Name:      "host_msg_total",
			Help:      "The total number of received host commands by tag",
		},
		[]string{TagLabel},
	)

	ErrorCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "metergw",
			Name:      "error_total",
			Help:      "The total number of errors occurring",
		},
	)

	DarkNodeCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "metergw",
			Name:      "dark_node_total",
			Help:      "The total number of dark node alerts emitted",
		},
	)

	InstructionQueuedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metergw",
			Name:      "instruction_queued_total",
			Help:      "The total number of node instructions queued by kind",
		},
		[]string{KindLabel},
	)

	InstructionSentCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metergw",
			Name:      "instruction_sent_total",
			Help:      "The total number of node instructions dispatched by kind",
		},
		[]string{KindLabel},
	)
)
