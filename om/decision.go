package om

import (
	"strings"

	"github.com/canopy-network/generals/lib"
)

// Decision is the order a general relays
type Decision byte

const (
	Unknown Decision = 0
	Attack  Decision = 'A'
	Retreat Decision = 'R'
)

// String() returns the single letter form used in traces
func (d Decision) String() string {
	switch d {
	case Attack, Retreat:
		return string(rune(d))
	default:
		return "?"
	}
}

// Name() returns the long form
func (d Decision) Name() string {
	switch d {
	case Attack:
		return "attack"
	case Retreat:
		return "retreat"
	default:
		return "unknown"
	}
}

// Valid() is true for Attack and Retreat
func (d Decision) Valid() bool { return d == Attack || d == Retreat }

// ParseDecision() accepts 'A', 'R', 'attack' or 'retreat' in any case
func ParseDecision(s string) (Decision, lib.ErrorI) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "attack":
		return Attack, nil
	case "r", "retreat":
		return Retreat, nil
	}
	return Unknown, ErrInvalidCommand(s)
}

// alternating() is how a traitor commander equivocates: even recipients retreat, odd recipients attack
func alternating(i int) Decision {
	if i%2 == 0 {
		return Retreat
	}
	return Attack
}

// corrupted() is the value a traitor relays regardless of what it received
func corrupted(id int) Decision { return alternating(id) }
