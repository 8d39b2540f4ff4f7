package planning

import "testing"

func TestOverlay_ConsumeIsOneShot(t *testing.T) {
	cwd := t.TempDir()
	m, _ := newTestManager(t)
	st, err := m.Start(cwd, 2)
	if err != nil {
		t.Fatal(err)
	}

	if runID, ok := m.ConsumeOverlay(cwd); !ok || runID != st.RunID {
		t.Fatalf("ConsumeOverlay = %q, %v", runID, ok)
	}
	if _, ok := m.ConsumeOverlay(cwd); ok {
		t.Error("second ConsumeOverlay returned a run")
	}

	// Re-marking the same live run is allowed.
	if !m.MarkOverlay(cwd, st.RunID) {
		t.Error("MarkOverlay rejected the active run")
	}
}

func TestOverlay_Dismissed(t *testing.T) {
	cwd := t.TempDir()
	m, _ := newTestManager(t)
	st, err := m.Start(cwd, 2)
	if err != nil {
		t.Fatal(err)
	}

	m.DismissOverlay(st.RunID)
	if _, ok := m.PeekOverlay(cwd); ok {
		t.Error("dismissed run still pending")
	}
	if m.MarkOverlay(cwd, st.RunID) {
		t.Error("MarkOverlay accepted a dismissed run")
	}
}

func TestOverlay_StaleRunNeverSurfaces(t *testing.T) {
	cwd := t.TempDir()
	m, _ := newTestManager(t)

	if m.MarkOverlay(cwd, "not-active") {
		t.Error("MarkOverlay accepted a run that is not active")
	}

	first, err := m.Start(cwd, 2)
	if err != nil {
		t.Fatal(err)
	}
	// Superseded by a new run.
	m.mu.Lock()
	m.pending[cwd] = first.RunID
	m.mu.Unlock()
	second, err := m.Start(cwd, 2)
	if err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	m.pending[cwd] = first.RunID
	m.mu.Unlock()

	if runID, ok := m.PeekOverlay(cwd); ok {
		t.Errorf("PeekOverlay surfaced superseded run %q (active %q)", runID, second.RunID)
	}
}

func TestOverlay_OtherDirectory(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	m, _ := newTestManager(t)
	st, err := m.Start(a, 2)
	if err != nil {
		t.Fatal(err)
	}

	if m.MarkOverlay(b, st.RunID) {
		t.Error("MarkOverlay accepted a run from another directory")
	}
	if _, ok := m.PeekOverlay(b); ok {
		t.Error("PeekOverlay(b) found a pending run")
	}
}
