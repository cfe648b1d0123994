// Package metrics handles Prometheus metrics initialization and system monitoring.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// Prometheus metrics - exported for use by other packages.
var (
	UploadDuration    prometheus.Histogram
	UploadErrorsTotal prometheus.Counter
	UploadsTotal      prometheus.Counter
	UploadSizeBytes   prometheus.Histogram

	DownloadsTotal      prometheus.Counter
	DownloadErrorsTotal prometheus.Counter

	ActiveSessions        prometheus.Gauge
	SessionsRefusedTotal  prometheus.Counter
	MessagesRelayedTotal  prometheus.Counter
	MessagesDroppedTotal  *prometheus.CounterVec
	MessagesRejectedTotal prometheus.Counter
	RateLimitedTotal      prometheus.Counter

	PendingUploadBytes prometheus.Gauge
	DiskFreeBytes      prometheus.Gauge

	MemoryUsage prometheus.Gauge
	CpuUsage    prometheus.Gauge
	Goroutines  prometheus.Gauge
)

// InitMetrics registers all Prometheus metrics.
func InitMetrics() {
	UploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "upload_duration_seconds",
		Help:    "Duration of file uploads in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	UploadErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_errors_total",
		Help: "Total number of upload errors.",
	})
	UploadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uploads_total",
		Help: "Total number of successful uploads.",
	})
	UploadSizeBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "upload_size_bytes",
		Help:    "Size of uploaded files in bytes.",
		Buckets: prometheus.ExponentialBuckets(1024, 2, 20),
	})
	DownloadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "downloads_total",
		Help: "Total number of served file downloads.",
	})
	DownloadErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "download_errors_total",
		Help: "Total number of download errors.",
	})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Number of connected realtime sessions.",
	})
	SessionsRefusedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_refused_total",
		Help: "Total number of connections refused at the session limit.",
	})
	MessagesRelayedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_relayed_total",
		Help: "Total number of messages broadcast to all sessions.",
	})
	MessagesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_dropped_total",
		Help: "Total number of messages silently dropped, by reason.",
	}, []string{"reason"})
	MessagesRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_rejected_total",
		Help: "Total number of messages rejected with an error event.",
	})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limited_total",
		Help: "Total number of rate-limited messages.",
	})
	PendingUploadBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pending_upload_bytes",
		Help: "Sum of declared content lengths of uploads in flight.",
	})
	DiskFreeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "disk_free_bytes",
		Help: "Free bytes on the storage filesystem at last sample.",
	})
	MemoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_percent",
		Help: "Current memory usage percentage.",
	})
	CpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "Current CPU usage percentage.",
	})
	Goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "goroutines",
		Help: "Number of running goroutines.",
	})

	prometheus.MustRegister(
		UploadDuration, UploadErrorsTotal, UploadsTotal, UploadSizeBytes,
		DownloadsTotal, DownloadErrorsTotal,
		ActiveSessions, SessionsRefusedTotal,
		MessagesRelayedTotal, MessagesDroppedTotal, MessagesRejectedTotal, RateLimitedTotal,
		PendingUploadBytes, DiskFreeBytes,
		MemoryUsage, CpuUsage, Goroutines,
	)

	log.Info("Prometheus metrics initialized")
}

// UpdateSystemMetrics refreshes system-level gauges until ctx is canceled.
func UpdateSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if memStats, err := mem.VirtualMemory(); err == nil {
				MemoryUsage.Set(memStats.UsedPercent)
			}
			if cpuPercents, err := cpu.Percent(0, false); err == nil && len(cpuPercents) > 0 {
				CpuUsage.Set(cpuPercents[0])
			}
			Goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}
