package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TransferMetrics tracks upload and download outcomes.
type TransferMetrics struct {
	chunksUploaded   prometheus.Counter
	bytesUploaded    prometheus.Counter
	chunkFailures    prometheus.Counter
	uploadsCompleted prometheus.Counter
	downloads        prometheus.Counter
	bytesDownloaded  prometheus.Counter
	replays          *prometheus.CounterVec
}

// NewTransferMetrics creates the transfer instrument group.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewTransferMetrics() *TransferMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &TransferMetrics{
		chunksUploaded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "shuttle_chunks_uploaded_total",
			Help: "Chunks durably persisted",
		}),
		bytesUploaded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "shuttle_bytes_uploaded_total",
			Help: "Bytes durably persisted across all chunks",
		}),
		chunkFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "shuttle_chunk_upload_failures_total",
			Help: "Chunk tasks that exhausted retries or failed permanently",
		}),
		uploadsCompleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "shuttle_uploads_completed_total",
			Help: "Uploads that reached COMPLETED",
		}),
		downloads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "shuttle_downloads_total",
			Help: "Download requests served (full and ranged)",
		}),
		bytesDownloaded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "shuttle_bytes_downloaded_total",
			Help: "Bytes streamed to download clients",
		}),
		replays: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuttle_idempotent_replays_total",
				Help: "Requests answered from the idempotency registry",
			},
			[]string{"kind"},
		),
	}
}

// RecordChunkUploaded counts one persisted chunk of the given size.
func (m *TransferMetrics) RecordChunkUploaded(bytes int64) {
	if m == nil {
		return
	}
	m.chunksUploaded.Inc()
	if bytes > 0 {
		m.bytesUploaded.Add(float64(bytes))
	}
}

// RecordChunkFailure counts a chunk task that reached a failure outcome.
func (m *TransferMetrics) RecordChunkFailure() {
	if m == nil {
		return
	}
	m.chunkFailures.Inc()
}

// RecordUploadCompleted counts one COMPLETED upload.
func (m *TransferMetrics) RecordUploadCompleted() {
	if m == nil {
		return
	}
	m.uploadsCompleted.Inc()
}

// RecordDownload counts a served download and the bytes it streamed.
func (m *TransferMetrics) RecordDownload(bytes int64) {
	if m == nil {
		return
	}
	m.downloads.Inc()
	if bytes > 0 {
		m.bytesDownloaded.Add(float64(bytes))
	}
}

// RecordReplay counts an idempotent replay by request kind.
func (m *TransferMetrics) RecordReplay(kind string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(kind).Inc()
}
