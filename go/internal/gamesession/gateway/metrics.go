package gateway

// MetricsCollector defines the interface for collecting relay metrics
type MetricsCollector interface {
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordEventRelayed(event string)
	RecordNegativeAck(event string)
	RecordDroppedMessage()
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordConnectionOpened()         {}
func (NoOpMetricsCollector) RecordConnectionClosed()         {}
func (NoOpMetricsCollector) RecordEventRelayed(event string) {}
func (NoOpMetricsCollector) RecordNegativeAck(event string)  {}
func (NoOpMetricsCollector) RecordDroppedMessage()           {}
