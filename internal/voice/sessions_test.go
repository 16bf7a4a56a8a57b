package voice

import (
	"sync"
	"testing"
	"time"
)

func TestCallStatus_IsTerminal(t *testing.T) {
	terminal := []CallStatus{StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}

	nonTerminal := []CallStatus{StatusInitiated, StatusQueued, StatusRinging, StatusInProgress, "", "unknown"}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %q to NOT be terminal", s)
		}
	}
}

func TestRecipientKind_Valid(t *testing.T) {
	if !RecipientClient.Valid() || !RecipientNumber.Valid() {
		t.Fatal("known kinds should be valid")
	}
	if RecipientKind("sip").Valid() || RecipientKind("").Valid() {
		t.Fatal("unknown kinds should be invalid")
	}
}

func TestSessionRegistry_OpenIsIdempotent(t *testing.T) {
	r := NewSessionRegistry()

	first, created := r.Open(CallSession{CallSID: "CA1", VoiceID: "voice-a"})
	if !created {
		t.Fatal("expected new session")
	}
	if first.Status != StatusInitiated {
		t.Errorf("Status = %q, want initiated", first.Status)
	}

	again, created := r.Open(CallSession{CallSID: "CA1", VoiceID: "voice-b"})
	if created {
		t.Fatal("expected existing session")
	}
	if again.VoiceID != "voice-a" {
		t.Errorf("VoiceID = %q, want snapshot voice-a", again.VoiceID)
	}
}

func TestSessionRegistry_UpdateStatus(t *testing.T) {
	r := NewSessionRegistry()
	r.Open(CallSession{CallSID: "CA1"})

	s := r.UpdateStatus("CA1", StatusInProgress)
	if s.Status != StatusInProgress {
		t.Fatalf("Status = %q", s.Status)
	}
	if r.Active() != 1 {
		t.Fatalf("Active() = %d, want 1", r.Active())
	}

	s = r.UpdateStatus("CA1", StatusCompleted)
	if s.EndedAt == nil {
		t.Fatal("expected EndedAt on terminal status")
	}

	s = r.UpdateStatus("CA1", StatusRinging)
	if s.Status != StatusCompleted {
		t.Errorf("late status changed terminal session to %q", s.Status)
	}
	if r.Active() != 0 {
		t.Errorf("Active() = %d, want 0", r.Active())
	}
}

func TestSessionRegistry_UpdateStatusUnknownCreates(t *testing.T) {
	r := NewSessionRegistry()
	r.UpdateStatus("CA9", StatusRinging)

	s, ok := r.Get("CA9")
	if !ok || s.Status != StatusRinging {
		t.Fatalf("Get() = %+v, %v", s, ok)
	}
}

func TestSessionRegistry_AttachConference(t *testing.T) {
	r := NewSessionRegistry()
	if r.AttachConference("missing", "CF1") {
		t.Fatal("attached to unknown session")
	}

	r.Open(CallSession{CallSID: "CA1"})
	if !r.AttachConference("CA1", "CF1") {
		t.Fatal("AttachConference() = false")
	}
	s, _ := r.Get("CA1")
	if s.ConferenceSID != "CF1" {
		t.Errorf("ConferenceSID = %q", s.ConferenceSID)
	}
}

func TestSessionRegistry_GetReturnsCopy(t *testing.T) {
	r := NewSessionRegistry()
	r.Open(CallSession{CallSID: "CA1", VoiceID: "v"})

	s, _ := r.Get("CA1")
	s.VoiceID = "changed"

	again, _ := r.Get("CA1")
	if again.VoiceID != "v" {
		t.Fatalf("registry state mutated through copy: %q", again.VoiceID)
	}
}

func TestSessionRegistry_Prune(t *testing.T) {
	r := NewSessionRegistry()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.Open(CallSession{CallSID: "old"})
	r.UpdateStatus("old", StatusCompleted)
	r.Open(CallSession{CallSID: "live"})

	r.now = func() time.Time { return base.Add(30 * time.Minute) }
	r.Open(CallSession{CallSID: "recent"})
	r.UpdateStatus("recent", StatusFailed)

	r.now = func() time.Time { return base.Add(2 * time.Hour) }
	if removed := r.Prune(time.Hour + 45*time.Minute); removed != 1 {
		t.Fatalf("Prune() removed %d, want 1", removed)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("old session not pruned")
	}
	if _, ok := r.Get("recent"); !ok {
		t.Error("recent session pruned")
	}
	if _, ok := r.Get("live"); !ok {
		t.Error("live session pruned")
	}
}

func TestSessionRegistry_Concurrent(t *testing.T) {
	r := NewSessionRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Open(CallSession{CallSID: "CA1"})
			r.UpdateStatus("CA1", StatusInProgress)
			r.Get("CA1")
			r.Active()
		}()
	}
	wg.Wait()

	if r.Active() != 1 {
		t.Fatalf("Active() = %d, want 1", r.Active())
	}
}
