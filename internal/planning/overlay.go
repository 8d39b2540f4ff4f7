package planning

// MarkOverlay records that a notification is owed for runID in cwd. It is
// ignored unless runID is cwd's active run and has not been dismissed.
func (m *Manager) MarkOverlay(cwd, runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markLocked(cwd, runID)
}

func (m *Manager) markLocked(cwd, runID string) bool {
	if _, gone := m.dismissed[runID]; gone {
		return false
	}
	st := m.entryLocked(cwd).state
	if !st.Active || st.RunID != runID {
		return false
	}
	m.pending[cwd] = runID
	return true
}

// PeekOverlay returns the pending run id for cwd without clearing it. A
// pending run that is no longer cwd's active run is dropped.
func (m *Manager) PeekOverlay(cwd string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingLocked(cwd)
}

// ConsumeOverlay is PeekOverlay followed by clearing the pending entry.
func (m *Manager) ConsumeOverlay(cwd string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runID, ok := m.pendingLocked(cwd)
	if ok {
		delete(m.pending, cwd)
	}
	return runID, ok
}

func (m *Manager) pendingLocked(cwd string) (string, bool) {
	runID, ok := m.pending[cwd]
	if !ok {
		return "", false
	}
	st := m.entryLocked(cwd).state
	if _, gone := m.dismissed[runID]; gone || !st.Active || st.RunID != runID || st.Cwd != cwd {
		delete(m.pending, cwd)
		return "", false
	}
	return runID, true
}

// DismissOverlay suppresses notifications for runID for the life of the
// Manager.
func (m *Manager) DismissOverlay(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dismissed[runID] = struct{}{}
	for cwd, pending := range m.pending {
		if pending == runID {
			delete(m.pending, cwd)
		}
	}
}
