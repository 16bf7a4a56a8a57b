package conversation

import (
	"errors"
	"strings"
	"sync"
)

// VoiceSelection is the process-wide default voice. Sessions snapshot it
// when they open; it is only read directly for turns with no session.
type VoiceSelection struct {
	mu sync.RWMutex
	id string
}

// NewVoiceSelection creates a selection with an initial voice.
func NewVoiceSelection(initial string) *VoiceSelection {
	return &VoiceSelection{id: initial}
}

// Current returns the selected voice id.
func (v *VoiceSelection) Current() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.id
}

// Set replaces the selected voice id.
func (v *VoiceSelection) Set(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("conversation: voice id is required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.id = id
	return nil
}
