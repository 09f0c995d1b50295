package imagecache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a nil-safe set of prometheus observers, grounded on
// metrics.go's WriterMetrics: every method tolerates a nil receiver or
// a nil individual collector so callers can wire only the counters
// they care about.
type Metrics struct {
	MemoryHits    prometheus.Counter
	MemoryMisses  prometheus.Counter
	MemoryEvicted prometheus.Counter

	DiskHits     prometheus.Counter
	DiskMisses   prometheus.Counter
	DiskWrites   prometheus.Counter
	SweepRuns    prometheus.Counter
	SweepDeletes prometheus.Counter

	DownloadsStarted   prometheus.Counter
	DownloadsCoalesced prometheus.Counter
	DownloadsFailed    prometheus.Counter
	DownloadLatency    prometheus.Histogram

	OperationsCancelled prometheus.Counter
}

func (m *Metrics) inc(c prometheus.Counter) {
	if m == nil || c == nil {
		return
	}
	c.Inc()
}

func (m *Metrics) observe(h prometheus.Histogram, v float64) {
	if m == nil || h == nil {
		return
	}
	h.Observe(v)
}

func (m *Metrics) ObserveMemoryGet(hit bool) {
	if hit {
		m.inc(m.MemoryHits)
		return
	}
	m.inc(m.MemoryMisses)
}

func (m *Metrics) ObserveMemoryEviction() {
	m.inc(m.MemoryEvicted)
}

func (m *Metrics) ObserveDiskGet(hit bool) {
	if hit {
		m.inc(m.DiskHits)
		return
	}
	m.inc(m.DiskMisses)
}

func (m *Metrics) ObserveDiskWrite() {
	m.inc(m.DiskWrites)
}

func (m *Metrics) ObserveSweep(deleted int) {
	m.inc(m.SweepRuns)
	if m == nil || m.SweepDeletes == nil || deleted <= 0 {
		return
	}
	m.SweepDeletes.Add(float64(deleted))
}

func (m *Metrics) ObserveDownloadStart(coalesced bool) {
	m.inc(m.DownloadsStarted)
	if coalesced {
		m.inc(m.DownloadsCoalesced)
	}
}

func (m *Metrics) ObserveDownloadDone(d time.Duration, err error) {
	m.observe(m.DownloadLatency, d.Seconds())
	if err != nil {
		m.inc(m.DownloadsFailed)
	}
}

func (m *Metrics) ObserveOperationCancelled() {
	m.inc(m.OperationsCancelled)
}
