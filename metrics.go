package nvmecheck

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-nvmecheck/internal/channel"
	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
	"github.com/ehrlich-b/go-nvmecheck/internal/queue"
)

// LatencyBuckets defines the reap latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// DoorbellKind selects the SQ tail or CQ head doorbell
type DoorbellKind = channel.DoorbellKind

const (
	DoorbellSQTail = channel.DoorbellSQTail
	DoorbellCQHead = channel.DoorbellCQHead
)

// Metrics tracks queue traffic and test outcomes for one harness run
type Metrics struct {
	// Submission counters
	AdminCmds atomic.Uint64 // Commands placed on the admin SQ
	WriteCmds atomic.Uint64 // NVM writes placed on IO SQs
	ReadCmds  atomic.Uint64
	FlushCmds atomic.Uint64
	OtherCmds atomic.Uint64 // Any other IO opcode

	// Doorbell writes
	SQTailDoorbells atomic.Uint64
	CQHeadDoorbells atomic.Uint64

	// Completion reaping
	ReapCalls   atomic.Uint64 // Reap invocations
	EmptyReaps  atomic.Uint64 // Reaps that timed out with nothing
	ReapedCEs   atomic.Uint64 // Completion entries consumed
	MaxReapSize atomic.Uint32 // Largest batch reaped at once

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative latency of productive reaps
	LatencyCount   atomic.Uint64

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of reaps with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Test outcomes
	TestsPassed  atomic.Uint64
	TestsFailed  atomic.Uint64
	TestsSkipped atomic.Uint64

	// Run lifecycle
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmit counts a command placed on queue qid
func (m *Metrics) RecordSubmit(qid uint16, opcode uint8) {
	if qid == constants.AdminQueueID {
		m.AdminCmds.Add(1)
		return
	}
	switch opcode {
	case nvme.NVMWrite:
		m.WriteCmds.Add(1)
	case nvme.NVMRead:
		m.ReadCmds.Add(1)
	case nvme.NVMFlush:
		m.FlushCmds.Add(1)
	default:
		m.OtherCmds.Add(1)
	}
}

// RecordDoorbell counts a doorbell write
func (m *Metrics) RecordDoorbell(kind DoorbellKind) {
	if kind == channel.DoorbellSQTail {
		m.SQTailDoorbells.Add(1)
	} else {
		m.CQHeadDoorbells.Add(1)
	}
}

// RecordReap records one Reap call that consumed n entries
func (m *Metrics) RecordReap(n uint32, latencyNs uint64) {
	m.ReapCalls.Add(1)
	if n == 0 {
		m.EmptyReaps.Add(1)
		return
	}
	m.ReapedCEs.Add(uint64(n))

	for {
		current := m.MaxReapSize.Load()
		if n <= current {
			break
		}
		if m.MaxReapSize.CompareAndSwap(current, n) {
			break
		}
	}
	m.recordLatency(latencyNs)
}

// RecordTest records the outcome of one test case
func (m *Metrics) RecordTest(passed, skipped bool) {
	switch {
	case skipped:
		m.TestsSkipped.Add(1)
	case passed:
		m.TestsPassed.Add(1)
	default:
		m.TestsFailed.Add(1)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.LatencyCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the run as finished
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	AdminCmds uint64
	WriteCmds uint64
	ReadCmds  uint64
	FlushCmds uint64
	OtherCmds uint64

	SQTailDoorbells uint64
	CQHeadDoorbells uint64

	ReapCalls   uint64
	EmptyReaps  uint64
	ReapedCEs   uint64
	MaxReapSize uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	// Reap latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	TestsPassed  uint64
	TestsFailed  uint64
	TestsSkipped uint64

	// Computed statistics
	TotalCmds   uint64
	CmdsPerSec  float64
	Outstanding uint64 // submitted commands not yet reaped
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		AdminCmds:       m.AdminCmds.Load(),
		WriteCmds:       m.WriteCmds.Load(),
		ReadCmds:        m.ReadCmds.Load(),
		FlushCmds:       m.FlushCmds.Load(),
		OtherCmds:       m.OtherCmds.Load(),
		SQTailDoorbells: m.SQTailDoorbells.Load(),
		CQHeadDoorbells: m.CQHeadDoorbells.Load(),
		ReapCalls:       m.ReapCalls.Load(),
		EmptyReaps:      m.EmptyReaps.Load(),
		ReapedCEs:       m.ReapedCEs.Load(),
		MaxReapSize:     m.MaxReapSize.Load(),
		TestsPassed:     m.TestsPassed.Load(),
		TestsFailed:     m.TestsFailed.Load(),
		TestsSkipped:    m.TestsSkipped.Load(),
	}

	snap.TotalCmds = snap.AdminCmds + snap.WriteCmds + snap.ReadCmds + snap.FlushCmds + snap.OtherCmds
	if snap.TotalCmds > snap.ReapedCEs {
		snap.Outstanding = snap.TotalCmds - snap.ReapedCEs
	}

	count := m.LatencyCount.Load()
	if count > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / count
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}
	if snap.UptimeNs > 0 {
		snap.CmdsPerSec = float64(snap.TotalCmds) / (float64(snap.UptimeNs) / 1e9)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if count > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.LatencyCount.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.AdminCmds, &m.WriteCmds, &m.ReadCmds, &m.FlushCmds, &m.OtherCmds,
		&m.SQTailDoorbells, &m.CQHeadDoorbells,
		&m.ReapCalls, &m.EmptyReaps, &m.ReapedCEs,
		&m.TotalLatencyNs, &m.LatencyCount,
		&m.TestsPassed, &m.TestsFailed, &m.TestsSkipped,
	} {
		c.Store(0)
	}
	m.MaxReapSize.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer receives queue activity from every queue the harness creates
type Observer interface {
	// ObserveSubmit is called when a command is placed on an SQ
	ObserveSubmit(qid uint16, opcode uint8)

	// ObserveDoorbell is called after each doorbell write
	ObserveDoorbell(qid uint16, kind DoorbellKind, value uint32)

	// ObserveReap is called for each Reap with the number of entries consumed
	ObserveReap(qid uint16, n uint32, latency time.Duration)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(uint16, uint8)                  {}
func (NoOpObserver) ObserveDoorbell(uint16, DoorbellKind, uint32) {}
func (NoOpObserver) ObserveReap(uint16, uint32, time.Duration)    {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit(qid uint16, opcode uint8) {
	o.metrics.RecordSubmit(qid, opcode)
}

func (o *MetricsObserver) ObserveDoorbell(qid uint16, kind DoorbellKind, value uint32) {
	o.metrics.RecordDoorbell(kind)
}

func (o *MetricsObserver) ObserveReap(qid uint16, n uint32, latency time.Duration) {
	o.metrics.RecordReap(n, uint64(latency.Nanoseconds()))
}

// multiObserver fans queue activity out to several observers
type multiObserver []Observer

func (m multiObserver) ObserveSubmit(qid uint16, opcode uint8) {
	for _, o := range m {
		o.ObserveSubmit(qid, opcode)
	}
}

func (m multiObserver) ObserveDoorbell(qid uint16, kind DoorbellKind, value uint32) {
	for _, o := range m {
		o.ObserveDoorbell(qid, kind, value)
	}
}

func (m multiObserver) ObserveReap(qid uint16, n uint32, latency time.Duration) {
	for _, o := range m {
		o.ObserveReap(qid, n, latency)
	}
}

// Compile-time interface checks
var (
	_ Observer       = (*MetricsObserver)(nil)
	_ Observer       = NoOpObserver{}
	_ queue.Observer = multiObserver(nil)
)
