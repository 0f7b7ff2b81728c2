package models

import "testing"

func TestSyncSession_HasNextBatch(t *testing.T) {
	session := SyncSession{Status: SyncSessionStatusInProgress, CurrentBatch: 2, TotalBatches: 3}
	if !session.HasNextBatch() {
		t.Fatalf("an in_progress session within range has a next batch")
	}
	session.Status = SyncSessionStatusCompleted
	if session.HasNextBatch() {
		t.Fatalf("a terminal session has no next batch")
	}
}

func TestSyncSession_IsTerminal(t *testing.T) {
	cases := []struct {
		status   string
		terminal bool
	}{
		{SyncSessionStatusPending, false},
		{SyncSessionStatusInProgress, false},
		{SyncSessionStatusCompleted, true},
		{SyncSessionStatusFailed, true},
	}
	for _, tc := range cases {
		session := SyncSession{Status: tc.status}
		if session.IsTerminal() != tc.terminal {
			t.Fatalf("IsTerminal for %s should be %v", tc.status, tc.terminal)
		}
	}
}
