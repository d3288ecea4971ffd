package observability

import "testing"

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("update_code", 5)
	w.Observe("update_code", 7)
	w.Observe("update_code", 9)
	w.ObserveIndicator("lost_update")
	w.ObserveIndicator("lost_update")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Ops) != 1 {
		t.Fatalf("len(Ops) = %d, want 1", len(snap.Ops))
	}
	s := snap.Ops[0]
	if s.Op != "update_code" {
		t.Fatalf("Op = %q, want %q", s.Op, "update_code")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 9 {
		t.Fatalf("LastMS = %.2f, want 9", s.LastMS)
	}
	if s.P50MS != 7 {
		t.Fatalf("P50MS = %.2f, want 7", s.P50MS)
	}
	if s.P95MS <= 7 || s.P95MS > 9 {
		t.Fatalf("P95MS = %.2f, want (7,9]", s.P95MS)
	}
	if s.TargetP95MS != 10 {
		t.Fatalf("TargetP95MS = %.2f, want 10", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want lost_update x2", snap.Indicators)
	}
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe("get", 100)
	w.Observe("get", 1)
	w.Observe("get", 3)

	s := w.Snapshot().Ops[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 2 {
		t.Fatalf("AvgMS = %.2f, want 2 (oldest sample evicted)", s.AvgMS)
	}
}

func TestLatencyWindowIgnoresInvalidSamples(t *testing.T) {
	w := newLatencyWindow(4)
	w.Observe("", 1)
	w.Observe("get", -1)
	w.ObserveIndicator("  ")
	snap := w.Snapshot()
	if len(snap.Ops) != 0 || len(snap.Indicators) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestNilMetricsHelpers(t *testing.T) {
	var m *Metrics
	m.ObserveStoreOp("get", 1)
	m.ObserveSessionEvent("created")
	m.ObserveLostUpdate()
	m.AddSignalConnections(1)
	m.ObserveSignalDrop("buffer_full")
	m.SetActiveSessions(3)
	if snap := m.SnapshotStoreLatency(); len(snap.Ops) != 0 {
		t.Fatalf("nil metrics snapshot should be empty: %+v", snap)
	}
}
