package observability

import "testing"

func TestPipelineWindowSnapshot(t *testing.T) {
	w := newPipelineWindow(8)
	w.Observe("llm_complete", 500)
	w.Observe("llm_complete", 700)
	w.Observe("llm_complete", 900)
	w.ObserveIndicator("fallback_voice")
	w.ObserveIndicator("fallback_voice")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "llm_complete" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "llm_complete")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 4000 {
		t.Fatalf("TargetP95MS = %.2f, want 4000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "fallback_voice" {
		t.Fatalf("Indicators[0].Name = %q, want %q", snap.Indicators[0].Name, "fallback_voice")
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want %d", snap.Indicators[0].Count, 2)
	}
}

func TestPipelineWindowWraps(t *testing.T) {
	w := newPipelineWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe("synth_remote", float64(100*(i+1)))
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	if snap.Stages[0].Samples != 4 {
		t.Fatalf("Samples = %d, want 4 after wrap", snap.Stages[0].Samples)
	}
	if snap.Stages[0].LastMS != 1000 {
		t.Fatalf("LastMS = %.2f, want 1000", snap.Stages[0].LastMS)
	}
	// Oldest surviving samples are 700..1000.
	if snap.Stages[0].P50MS != 800 {
		t.Fatalf("P50MS = %.2f, want 800", snap.Stages[0].P50MS)
	}
}
