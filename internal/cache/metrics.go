package cache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks cache effectiveness counters. All counters reset together.
type Metrics struct {
	mu              sync.Mutex
	hits            uint64
	misses          uint64
	storedBytes     uint64
	compressedBytes uint64
	start           time.Time
}

// Snapshot is a consistent view of the cache counters.
type Snapshot struct {
	Hits               uint64  `json:"hits"`
	Misses             uint64  `json:"misses"`
	TotalRequests      uint64  `json:"total_requests"`
	HitRatio           float64 `json:"hit_ratio"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
	StoredBytes        uint64  `json:"stored_bytes"`
	CompressedBytes    uint64  `json:"compressed_bytes"`
	CompressionSavings float64 `json:"compression_savings"`
}

func newMetrics(now time.Time) *Metrics {
	return &Metrics{start: now}
}

func (m *Metrics) hit() {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *Metrics) miss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

// observeStored records the pre-compression size of a stored entry and, for
// compressed entries, the size actually written to the store.
func (m *Metrics) observeStored(original, stored int, compressed bool) {
	m.mu.Lock()
	m.storedBytes += uint64(original)
	if compressed {
		m.compressedBytes += uint64(stored)
	}
	m.mu.Unlock()
}

func (m *Metrics) snapshot(now time.Time) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Hits:            m.hits,
		Misses:          m.misses,
		TotalRequests:   m.hits + m.misses,
		UptimeSeconds:   now.Sub(m.start).Seconds(),
		StoredBytes:     m.storedBytes,
		CompressedBytes: m.compressedBytes,
	}
	if s.TotalRequests > 0 {
		s.HitRatio = float64(m.hits) / float64(s.TotalRequests) * 100
	}
	if m.storedBytes > 0 && m.compressedBytes > 0 {
		s.CompressionSavings = 100 - float64(m.compressedBytes)/float64(m.storedBytes)*100
	}
	return s
}

// reset zeroes all counters atomically relative to each other.
func (m *Metrics) reset(now time.Time) {
	m.mu.Lock()
	m.hits = 0
	m.misses = 0
	m.storedBytes = 0
	m.compressedBytes = 0
	m.start = now
	m.mu.Unlock()
}

// Collector exposes the cache counters to Prometheus as gauges, so that a
// metrics reset is reflected instead of breaking counter monotonicity.
type Collector struct {
	cache *Cache

	hits            *prometheus.Desc
	misses          *prometheus.Desc
	storedBytes     *prometheus.Desc
	compressedBytes *prometheus.Desc
}

func NewCollector(c *Cache) *Collector {
	return &Collector{
		cache:           c,
		hits:            prometheus.NewDesc("lms_cache_hits", "Number of cache hits since the last reset.", nil, nil),
		misses:          prometheus.NewDesc("lms_cache_misses", "Number of cache misses since the last reset.", nil, nil),
		storedBytes:     prometheus.NewDesc("lms_cache_stored_bytes", "Serialized bytes written to the cache before compression.", nil, nil),
		compressedBytes: prometheus.NewDesc("lms_cache_compressed_bytes", "Bytes written to the cache for compressed entries.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.storedBytes
	ch <- c.compressedBytes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.cache.Metrics()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.GaugeValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.GaugeValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.storedBytes, prometheus.GaugeValue, float64(s.StoredBytes))
	ch <- prometheus.MustNewConstMetric(c.compressedBytes, prometheus.GaugeValue, float64(s.CompressedBytes))
}
