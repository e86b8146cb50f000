// Package metrics holds the process-wide Prometheus collectors and bridges
// OpenTelemetry instruments into the same registry.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// CatalogOpsInstrument names the OpenTelemetry counter the catalog records
// each operation on. Names use underscores so the exporter emits them as is.
const CatalogOpsInstrument = "musicbox_catalog_operations"

var (
	// UploadBytesTotal counts accepted audio bytes.
	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "musicbox_upload_bytes_total",
			Help: "Total number of audio bytes accepted by uploads",
		},
	)

	// UploadsTotal counts upload attempts by result category.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "musicbox_uploads_total",
			Help: "Total number of upload attempts by result",
		},
		[]string{"result"},
	)

	// JobDurationSeconds tracks background job runtimes.
	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "musicbox_job_duration_seconds",
			Help: "Duration of background jobs in seconds",
		},
		[]string{"queue", "type", "status"},
	)

	// OrphanBlobsTotal counts retried blob deletes by result.
	OrphanBlobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "musicbox_orphan_blobs_total",
			Help: "Orphaned blob delete retries by result",
		},
		[]string{"result"},
	)

	// PrunedMembershipsTotal counts removed dangling playlist entries.
	PrunedMembershipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "musicbox_pruned_memberships_total",
			Help: "Playlist entries removed because their song no longer exists",
		},
	)

	// HealthStatus reports dependency health (1=ok, 0=down).
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "musicbox_health_status",
			Help: "Health status of dependencies (1=ok, 0=down)",
		},
		[]string{"dependency"},
	)
)

// NewMeterProvider exports OpenTelemetry instruments through reg and installs
// the provider globally.
func NewMeterProvider(reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)
	return mp, nil
}
