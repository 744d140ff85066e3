package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	CrawlBatches    prometheus.Counter
	MessagesSeen    prometheus.Counter
	AttachmentsSeen prometheus.Counter
	FilesCreated    prometheus.Counter
	URLRefreshes    prometheus.Counter
	RefreshFailures prometheus.Counter
	CrawlDuration   prometheus.Histogram
	LiveFiles       prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		CrawlBatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "discord_file_relay_crawl_batches",
			Help: "Total number of message pages fetched during crawls",
		}),
		MessagesSeen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "discord_file_relay_messages_seen",
			Help: "Total number of channel messages processed",
		}),
		AttachmentsSeen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "discord_file_relay_attachments_seen",
			Help: "Total number of attachments reconciled",
		}),
		FilesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "discord_file_relay_files_created",
			Help: "Total number of new file records created by crawls",
		}),
		URLRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "discord_file_relay_url_refreshes",
			Help: "Total number of attachment URLs republished",
		}),
		RefreshFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "discord_file_relay_refresh_failures",
			Help: "Total number of per-record refresh failures",
		}),
		CrawlDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "discord_file_relay_crawl_duration_seconds",
			Help:    "Time spent running full crawls",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		LiveFiles: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "discord_file_relay_live_files",
			Help: "Number of live (non-deleted) file records",
		}),
	}
}
