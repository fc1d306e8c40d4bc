package kafka

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WithMetrics wraps a handler so every consumed message is counted and
// timed. The counter is labeled {topic, operation, status} and the
// histogram {operation}, matching the collector's standard Kafka metrics.
func WithMetrics(handler Handler, messages *prometheus.CounterVec, duration *prometheus.HistogramVec) Handler {
	return func(ctx context.Context, msg Message) error {
		start := time.Now()
		err := handler(ctx, msg)

		status := "success"
		if err != nil {
			status = "error"
		}
		if messages != nil {
			messages.WithLabelValues(msg.Topic, "consume", status).Inc()
		}
		if duration != nil {
			duration.WithLabelValues("consume").Observe(time.Since(start).Seconds())
		}

		return err
	}
}
