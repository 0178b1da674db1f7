package om

import (
	"slices"
	"strings"
	"sync"
)

// TraceEntry is one leaf frame received on behalf of the reporter
type TraceEntry struct {
	Path  []int // relayers innermost first, the commander last
	Value Decision
}

// String() renders the entry as 'relayer:...:commander:V'
func (e TraceEntry) String() string {
	return (&Message{Path: e.Path, Value: e.Value}).String()
}

// Commander() is the id in the outermost slot
func (e TraceEntry) Commander() int { return e.Path[len(e.Path)-1] }

// Lieutenant() is the first general to relay the commander's frame, or NoSender in OM(0)
func (e TraceEntry) Lieutenant() int {
	if len(e.Path) < 2 {
		return NoSender
	}
	return e.Path[len(e.Path)-2]
}

// Trace is the append-only record of values reaching the reporter at tier 0
type Trace struct {
	mu      sync.Mutex
	entries []TraceEntry
}

// Append() adds the leaf message received by the reporter
func (t *Trace) Append(m *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TraceEntry{Path: m.Relayers(), Value: m.Value})
}

// Entries() returns a copy of the entries in arrival order
func (t *Trace) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.entries)
}

// Len() is the number of entries
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Values() returns just the decisions in arrival order
func (t *Trace) Values() []Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	values := make([]Decision, len(t.entries))
	for i, e := range t.entries {
		values[i] = e.Value
	}
	return values
}

// String() is the emitted trace line: space separated entries in arrival order
func (t *Trace) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	tokens := make([]string, len(t.entries))
	for i, e := range t.entries {
		tokens[i] = e.String()
	}
	return strings.Join(tokens, " ")
}
