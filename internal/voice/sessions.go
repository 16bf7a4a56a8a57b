package voice

import (
	"sync"
	"time"
)

// SessionRegistry tracks call sessions by call SID. Sessions are returned by
// value so callers never share mutable state with the registry.
type SessionRegistry struct {
	sessions map[string]*CallSession
	mu       sync.RWMutex

	now func() time.Time
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*CallSession),
		now:      time.Now,
	}
}

// Open registers a session. Opening a SID that is already known keeps the
// existing session, so webhook redeliveries do not reset it. The returned
// bool is true when a new session was created.
func (r *SessionRegistry) Open(session CallSession) (CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[session.CallSID]; ok {
		return *existing, false
	}

	now := r.now()
	if session.Status == "" {
		session.Status = StatusInitiated
	}
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Status.IsTerminal() {
		session.EndedAt = &now
	}
	r.sessions[session.CallSID] = &session
	return session, true
}

// Get returns the session for callSID.
func (r *SessionRegistry) Get(callSID string) (CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[callSID]
	if !ok {
		return CallSession{}, false
	}
	return *session, true
}

// UpdateStatus records a status webhook. Unknown SIDs get a new session so
// originated legs are tracked. Terminal sessions ignore later, out-of-order
// statuses.
func (r *SessionRegistry) UpdateStatus(callSID string, status CallStatus) CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	session, ok := r.sessions[callSID]
	if !ok {
		session = &CallSession{CallSID: callSID, CreatedAt: now}
		r.sessions[callSID] = session
	}
	if session.Status.IsTerminal() {
		return *session
	}

	session.Status = status
	session.UpdatedAt = now
	if status.IsTerminal() {
		session.EndedAt = &now
	}
	return *session
}

// AttachConference records the conference a call sits in.
func (r *SessionRegistry) AttachConference(callSID, conferenceSID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[callSID]
	if !ok {
		return false
	}
	session.ConferenceSID = conferenceSID
	session.UpdatedAt = r.now()
	return true
}

// Active returns the number of sessions that have not ended.
func (r *SessionRegistry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, session := range r.sessions {
		if !session.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Prune removes ended sessions older than the specified duration.
func (r *SessionRegistry) Prune(olderThan time.Duration) int {
	cutoff := r.now().Add(-olderThan)
	removed := 0

	r.mu.Lock()
	defer r.mu.Unlock()

	for sid, session := range r.sessions {
		if session.Status.IsTerminal() && session.EndedAt != nil && session.EndedAt.Before(cutoff) {
			delete(r.sessions, sid)
			removed++
		}
	}
	return removed
}
