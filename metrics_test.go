package nvmecheck

import (
	"testing"
	"time"

	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalCmds != 0 {
		t.Errorf("Expected 0 initial commands, got %d", snap.TotalCmds)
	}

	m.RecordSubmit(0, nvme.AdminIdentify)
	m.RecordSubmit(1, nvme.NVMWrite)
	m.RecordSubmit(1, nvme.NVMWrite)
	m.RecordSubmit(1, nvme.NVMRead)
	m.RecordSubmit(1, nvme.NVMFlush)
	m.RecordSubmit(1, nvme.NVMCompare)

	snap = m.Snapshot()

	if snap.AdminCmds != 1 {
		t.Errorf("Expected 1 admin command, got %d", snap.AdminCmds)
	}
	if snap.WriteCmds != 2 {
		t.Errorf("Expected 2 writes, got %d", snap.WriteCmds)
	}
	if snap.ReadCmds != 1 || snap.FlushCmds != 1 || snap.OtherCmds != 1 {
		t.Errorf("Unexpected read/flush/other counts %d/%d/%d", snap.ReadCmds, snap.FlushCmds, snap.OtherCmds)
	}
	if snap.TotalCmds != 6 {
		t.Errorf("Expected 6 commands, got %d", snap.TotalCmds)
	}
	if snap.Outstanding != 6 {
		t.Errorf("Expected 6 outstanding before any reap, got %d", snap.Outstanding)
	}

	m.RecordReap(4, 1_000_000)
	snap = m.Snapshot()
	if snap.Outstanding != 2 {
		t.Errorf("Expected 2 outstanding, got %d", snap.Outstanding)
	}
}

func TestMetricsReap(t *testing.T) {
	m := NewMetrics()

	m.RecordReap(1, 1_000_000)
	m.RecordReap(3, 2_000_000)
	m.RecordReap(0, 5_000_000_000) // timed out, not a latency sample

	snap := m.Snapshot()

	if snap.ReapCalls != 3 {
		t.Errorf("Expected 3 reap calls, got %d", snap.ReapCalls)
	}
	if snap.EmptyReaps != 1 {
		t.Errorf("Expected 1 empty reap, got %d", snap.EmptyReaps)
	}
	if snap.ReapedCEs != 4 {
		t.Errorf("Expected 4 reaped entries, got %d", snap.ReapedCEs)
	}
	if snap.MaxReapSize != 3 {
		t.Errorf("Expected max reap size 3, got %d", snap.MaxReapSize)
	}

	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsDoorbellsAndTests(t *testing.T) {
	m := NewMetrics()

	m.RecordDoorbell(DoorbellSQTail)
	m.RecordDoorbell(DoorbellSQTail)
	m.RecordDoorbell(DoorbellCQHead)
	m.RecordTest(true, false)
	m.RecordTest(false, false)
	m.RecordTest(false, true)
	m.RecordTest(true, false)

	snap := m.Snapshot()
	if snap.SQTailDoorbells != 2 || snap.CQHeadDoorbells != 1 {
		t.Errorf("Expected 2 SQ and 1 CQ doorbell, got %d and %d", snap.SQTailDoorbells, snap.CQHeadDoorbells)
	}
	if snap.TestsPassed != 2 || snap.TestsFailed != 1 || snap.TestsSkipped != 1 {
		t.Errorf("Unexpected outcomes passed=%d failed=%d skipped=%d", snap.TestsPassed, snap.TestsFailed, snap.TestsSkipped)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()

	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()

	// Uptime should not have increased significantly after stop
	if snap2.UptimeNs > snap.UptimeNs+2*1000000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordSubmit(1, nvme.NVMWrite)
	m.RecordReap(1, 1_000_000)
	m.RecordTest(true, false)

	snap := m.Snapshot()
	if snap.TotalCmds == 0 {
		t.Error("Expected some commands before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalCmds != 0 {
		t.Errorf("Expected 0 commands after reset, got %d", snap.TotalCmds)
	}
	if snap.ReapedCEs != 0 || snap.MaxReapSize != 0 {
		t.Errorf("Expected reap counters cleared, got %d/%d", snap.ReapedCEs, snap.MaxReapSize)
	}
	if snap.TestsPassed != 0 {
		t.Errorf("Expected 0 passed tests after reset, got %d", snap.TestsPassed)
	}
	if snap.LatencyHistogram[3] != 0 {
		t.Errorf("Expected empty histogram after reset, got %v", snap.LatencyHistogram)
	}
}

func TestObserver(t *testing.T) {
	// NoOpObserver must not panic
	var observer Observer = NoOpObserver{}
	observer.ObserveSubmit(1, nvme.NVMWrite)
	observer.ObserveDoorbell(1, DoorbellSQTail, 1)
	observer.ObserveReap(1, 1, time.Millisecond)

	m := NewMetrics()
	other := NewMetrics()
	fan := multiObserver{NewMetricsObserver(m), NewMetricsObserver(other)}

	fan.ObserveSubmit(1, nvme.NVMWrite)
	fan.ObserveDoorbell(1, DoorbellSQTail, 1)
	fan.ObserveReap(1, 1, 2*time.Millisecond)

	for _, mm := range []*Metrics{m, other} {
		snap := mm.Snapshot()
		if snap.WriteCmds != 1 {
			t.Errorf("Expected 1 write from observer, got %d", snap.WriteCmds)
		}
		if snap.SQTailDoorbells != 1 {
			t.Errorf("Expected 1 doorbell from observer, got %d", snap.SQTailDoorbells)
		}
		if snap.AvgLatencyNs != 2_000_000 {
			t.Errorf("Expected 2ms average latency, got %d", snap.AvgLatencyNs)
		}
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordSubmit(1, nvme.NVMWrite)
	m.RecordSubmit(1, nvme.NVMRead)

	// Simulate 1 second has passed
	m.StopTime.Store(startTime.Add(time.Second).UnixNano())

	snap := m.Snapshot()
	if snap.CmdsPerSec < 1.9 || snap.CmdsPerSec > 2.1 {
		t.Errorf("Expected ~2 commands/sec, got %.2f", snap.CmdsPerSec)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	// 50 reaps at 500us, 49 at 5ms, 1 at 50ms
	for i := 0; i < 50; i++ {
		m.RecordReap(1, 500_000)
	}
	for i := 0; i < 49; i++ {
		m.RecordReap(1, 5_000_000)
	}
	m.RecordReap(1, 50_000_000)

	snap := m.Snapshot()

	if snap.ReapedCEs != 100 {
		t.Errorf("Expected 100 reaped entries, got %d", snap.ReapedCEs)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	// Buckets are cumulative: 1ms holds the 500us samples, 10ms adds the 5ms ones
	if snap.LatencyHistogram[3] != 50 || snap.LatencyHistogram[4] != 99 || snap.LatencyHistogram[5] != 100 {
		t.Errorf("Unexpected histogram %v", snap.LatencyHistogram)
	}
}
