package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/gl-pgege/gl-fraud-mobile/internal/cache"
)

// GateMode selects how final fragments qualify as turns.
type GateMode string

const (
	// GateParity accepts every even final sequence number once, in arrival
	// order. Late fragments are not re-sequenced.
	GateParity GateMode = "parity"

	// GateMonotonic accepts any final fragment newer than the last accepted
	// one for its stream.
	GateMonotonic GateMode = "monotonic"
)

// Decision is the gate's verdict on one fragment.
type Decision string

const (
	DecisionAccept    Decision = "accept"
	DecisionInterim   Decision = "interim"
	DecisionDuplicate Decision = "duplicate"
	DecisionParity    Decision = "parity"
	DecisionStale     Decision = "stale"
	DecisionDebounce  Decision = "debounce"
	DecisionEmpty     Decision = "empty"
	DecisionInvalid   Decision = "invalid"
)

// GateConfig configures the turn gate.
type GateConfig struct {
	Mode GateMode

	// DebounceWindow suppresses fragments that arrive this soon after the
	// last accepted fragment on the same stream. Zero disables it.
	DebounceWindow time.Duration

	// DedupeTTL is how long a (stream, sequence) delivery is remembered.
	// Default: 10m
	DedupeTTL time.Duration
}

// Gate decides which transcription fragments start a turn. It tracks the
// highest accepted sequence per stream; only GateMonotonic drops fragments
// at or below it.
//
// Thread Safety:
// Gate is safe for concurrent use.
type Gate struct {
	mode     GateMode
	debounce time.Duration
	seen     *cache.DedupeCache

	mu      sync.Mutex
	streams map[string]*streamState

	now func() time.Time
}

type streamState struct {
	highest  int
	accepted time.Time
}

// NewGate creates a Gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = GateParity
	case GateParity, GateMonotonic:
	default:
		return nil, fmt.Errorf("conversation: unknown gate mode %q", cfg.Mode)
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}
	return &Gate{
		mode:     cfg.Mode,
		debounce: cfg.DebounceWindow,
		seen:     cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: cfg.DedupeTTL}),
		streams:  make(map[string]*streamState),
		now:      time.Now,
	}, nil
}

// Evaluate returns the decision for f and, on DecisionAccept, records it as
// the stream's newest accepted fragment.
func (g *Gate) Evaluate(f Fragment) Decision {
	if !f.Final {
		return DecisionInterim
	}

	now := g.now()
	if g.seen.SeenAt(cache.FragmentKey(f.StreamSID, f.Sequence), now) {
		return DecisionDuplicate
	}
	if g.mode == GateParity && f.Sequence%2 != 0 {
		return DecisionParity
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.streams[f.StreamSID]
	if ok && g.mode == GateMonotonic && f.Sequence <= state.highest {
		return DecisionStale
	}
	if ok && g.debounce > 0 && now.Sub(state.accepted) < g.debounce {
		return DecisionDebounce
	}
	if f.Text == "" {
		return DecisionEmpty
	}

	if !ok {
		state = &streamState{}
		g.streams[f.StreamSID] = state
	}
	if f.Sequence > state.highest {
		state.highest = f.Sequence
	}
	state.accepted = now
	return DecisionAccept
}

// Forget drops the state of a finished stream. Redeliveries are still
// caught by the dedupe cache until its TTL expires.
func (g *Gate) Forget(streamSID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.streams, streamSID)
}

// Streams returns the number of streams being tracked.
func (g *Gate) Streams() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.streams)
}
