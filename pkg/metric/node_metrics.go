package metric

import "time"

const (
	NodeOperationCount   = "node_operation_count"
	NodeOperationLatency = "node_operation_latency"
	NodeSweepReleased    = "node_sweep_released"
	NodeCount            = "node_count"
)

// ObserveNodeOperation records one NodeService call. outcome is the error
// kind, or "ok".
func ObserveNodeOperation(backend, operation, outcome string, latency time.Duration) {
	tags := BuildTag(
		NewTag(TagStoreBackend, backend),
		NewTag(TagOperation, operation),
		NewTag(TagOutcome, outcome),
	)
	Incr(NodeOperationCount, tags)
	Timing(NodeOperationLatency, latency, tags)
}

func ObserveSweep(backend string, released int) {
	Count(NodeSweepReleased, int64(released), BuildTag(NewTag(TagStoreBackend, backend)))
}

func ObserveNodeCount(backend string, reserved, available int) {
	Gauge(NodeCount, float64(reserved), BuildTag(NewTag(TagStoreBackend, backend), NewTag("status", "reserved")))
	Gauge(NodeCount, float64(available), BuildTag(NewTag(TagStoreBackend, backend), NewTag("status", "available")))
}
