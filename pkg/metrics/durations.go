package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StorageMetrics tracks blob store write latency per backend.
type StorageMetrics struct {
	putDuration *prometheus.HistogramVec
}

// NewStorageMetrics creates the blob store instrument group.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStorageMetrics() *StorageMetrics {
	if !IsEnabled() {
		return nil
	}

	return &StorageMetrics{
		putDuration: promauto.With(GetRegistry()).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "shuttle_storage_put_duration_seconds",
				Help: "Blob store write latency",
				Buckets: []float64{
					0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30,
				},
			},
			[]string{"backend"},
		),
	}
}

// ObservePut records one blob write against its backend label.
func (m *StorageMetrics) ObservePut(backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.putDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// MetadataMetrics tracks metadata store mutation latency per operation.
type MetadataMetrics struct {
	updateDuration *prometheus.HistogramVec
}

// NewMetadataMetrics creates the metadata store instrument group.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewMetadataMetrics() *MetadataMetrics {
	if !IsEnabled() {
		return nil
	}

	return &MetadataMetrics{
		updateDuration: promauto.With(GetRegistry()).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "shuttle_metadata_update_duration_seconds",
				Help: "Metadata store mutation latency",
				Buckets: []float64{
					0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5,
				},
			},
			[]string{"operation"},
		),
	}
}

// ObserveUpdate records one metadata mutation against its operation label.
func (m *MetadataMetrics) ObserveUpdate(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.updateDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// HTTPMetrics tracks request latency on the public surface.
type HTTPMetrics struct {
	requestDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates the HTTP instrument group.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewHTTPMetrics() *HTTPMetrics {
	if !IsEnabled() {
		return nil
	}

	return &HTTPMetrics{
		requestDuration: promauto.With(GetRegistry()).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shuttle_http_request_duration_seconds",
				Help:    "HTTP request latency by method, route pattern and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status_code"},
		),
	}
}

// ObserveRequest records one served request.
func (m *HTTPMetrics) ObserveRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, itoa(statusCode)).Observe(duration.Seconds())
}

func itoa(code int) string {
	// Status codes are three digits; avoid strconv on the hot path.
	if code < 100 || code > 999 {
		return "000"
	}
	return string([]byte{
		byte('0' + code/100),
		byte('0' + (code/10)%10),
		byte('0' + code%10),
	})
}
