package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// LoopSeverity classifies repeated tool calls within one message turn.
type LoopSeverity int

const (
	LoopNone LoopSeverity = iota
	// LoopWarning: same (name, args) seen twice with differing results.
	LoopWarning
	// LoopCritical: same (name, args) seen three or more times with
	// identical results.
	LoopCritical
	// LoopCircuitBreaker: same (name, args) seen five or more times.
	LoopCircuitBreaker
)

func (s LoopSeverity) String() string {
	switch s {
	case LoopWarning:
		return "warning"
	case LoopCritical:
		return "critical"
	case LoopCircuitBreaker:
		return "circuit_breaker"
	default:
		return "none"
	}
}

type loopCall struct {
	argsHash   string
	resultHash string
}

// LoopDetector tracks tool invocations for a single inbound message and
// flags repetition. One detector per turn; never shared across messages.
type LoopDetector struct {
	mu    sync.Mutex
	calls map[string][]loopCall // keyed by tool name
}

func NewLoopDetector() *LoopDetector {
	return &LoopDetector{calls: make(map[string][]loopCall)}
}

// Record notes one call and returns the severity of the repetition
// pattern it completes.
func (d *LoopDetector) Record(name string, args map[string]interface{}, result string) LoopSeverity {
	argsHash := hashArgs(args)
	resultHash := hashString(result)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[name] = append(d.calls[name], loopCall{argsHash: argsHash, resultHash: resultHash})

	sameArgs := 0
	sameResult := 0
	resultsDiffer := false
	for _, c := range d.calls[name] {
		if c.argsHash != argsHash {
			continue
		}
		sameArgs++
		if c.resultHash == resultHash {
			sameResult++
		} else {
			resultsDiffer = true
		}
	}

	switch {
	case sameArgs >= 5:
		return LoopCircuitBreaker
	case sameResult >= 3:
		return LoopCritical
	case sameArgs >= 2 && resultsDiffer:
		return LoopWarning
	default:
		return LoopNone
	}
}

func hashArgs(args map[string]interface{}) string {
	// json.Marshal sorts map keys, so equal maps hash equally.
	b, err := json.Marshal(args)
	if err != nil {
		return "unhashable"
	}
	return hashString(string(b))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
