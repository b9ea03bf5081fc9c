package chat

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

const logKeyCategory = "category"

var (
	MetricPeersRegistered     = []string{"chat", "broker", "peers", "registered"}
	MetricPeersRejected       = []string{"chat", "broker", "peers", "rejected"}
	MetricPeersReaped         = []string{"chat", "broker", "peers", "reaped"}
	MetricPeersActive         = []string{"chat", "broker", "peers", "active"}
	MetricMessagesRouted      = []string{"chat", "broker", "messages", "routed"}
	MetricMessagesDropped     = []string{"chat", "broker", "messages", "dropped"}
	MetricSessionTransitions  = []string{"chat", "session", "transitions"}
	MetricUndeliveredDiscards = []string{"chat", "broker", "undelivered", "discarded"}
)

type TelemetryLabel string

var (
	LabelError    TelemetryLabel = "error"
	LabelPeerName TelemetryLabel = "peer_name"
	LabelConnID   TelemetryLabel = "conn_id"
	LabelState    TelemetryLabel = "state"
	LabelTask     TelemetryLabel = "task"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
