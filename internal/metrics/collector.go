package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/saviour/saviour/internal/registry"
)

// FleetSource is the scrape-time view the collector reads from, narrowed to
// what the controller's live state can answer without a database round
// trip — the registry is the authority (spec §4.4), never a cache this
// collector owns.
type FleetSource interface {
	All() []registry.Record
}

// SessionSource reports the controller's active recording sessions.
type SessionSource interface {
	ActiveSessionCount() int
}

// ExportSource reports the export pipeline's backlog depth.
type ExportSource interface {
	BacklogLen() int
}

// Collector implements prometheus.Collector by reading live fleet state at
// scrape time rather than maintaining pre-registered counters — the same
// "Collect reads live gauges through an interface" shape as the teacher's
// internal/metrics.Collector, retargeted from ingest/DB pool stats to
// registry, recording, and export state.
type Collector struct {
	fleet   FleetSource
	session SessionSource
	export  ExportSource

	modulesOnline   *prometheus.Desc
	modulesTotal    *prometheus.Desc
	statusCount     *prometheus.Desc
	activeSessions  *prometheus.Desc
	exportBacklog   *prometheus.Desc
	heartbeatsStale *prometheus.Desc
}

// NewCollector creates a Collector. session and export may be nil if those
// subsystems aren't wired — their gauges are simply omitted from a Collect
// pass.
func NewCollector(fleet FleetSource, session SessionSource, export ExportSource) *Collector {
	return &Collector{
		fleet:   fleet,
		session: session,
		export:  export,
		modulesOnline: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "modules_online"),
			"Number of modules currently online.", nil, nil),
		modulesTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "modules_total"),
			"Total number of known modules.", nil, nil),
		statusCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "modules_by_status"),
			"Number of modules in each status.", []string{"status"}, nil),
		activeSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_sessions"),
			"Number of currently active recording sessions.", nil, nil),
		exportBacklog: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "export_backlog"),
			"Number of segments staged awaiting export.", nil, nil),
		heartbeatsStale: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "modules_heartbeat_stale"),
			"Number of modules with no heartbeat in over heartbeat_timeout.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.modulesOnline
	ch <- c.modulesTotal
	ch <- c.statusCount
	ch <- c.activeSessions
	ch <- c.exportBacklog
	ch <- c.heartbeatsStale
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	records := c.fleet.All()
	now := time.Now()

	var online, stale int
	byStatus := make(map[registry.Status]int)
	for _, rec := range records {
		if rec.Online {
			online++
		}
		byStatus[rec.EffectiveStatus(now)]++
		if !rec.LastHeartbeat.IsZero() && now.Sub(rec.LastHeartbeat) > 90*time.Second {
			stale++
		}
	}

	ch <- prometheus.MustNewConstMetric(c.modulesOnline, prometheus.GaugeValue, float64(online))
	ch <- prometheus.MustNewConstMetric(c.modulesTotal, prometheus.GaugeValue, float64(len(records)))
	for _, status := range []registry.Status{
		registry.StatusNotReady, registry.StatusReady, registry.StatusRecording,
		registry.StatusFault, registry.StatusOffline,
	} {
		ch <- prometheus.MustNewConstMetric(c.statusCount, prometheus.GaugeValue, float64(byStatus[status]), string(status))
	}
	ch <- prometheus.MustNewConstMetric(c.heartbeatsStale, prometheus.GaugeValue, float64(stale))

	if c.session != nil {
		ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, float64(c.session.ActiveSessionCount()))
	}
	if c.export != nil {
		ch <- prometheus.MustNewConstMetric(c.exportBacklog, prometheus.GaugeValue, float64(c.export.BacklogLen()))
	}
}
