package status

// Transition classifies how an inbound status relates to the stored one
type Transition int

const (
	TransitionNew Transition = iota
	TransitionUnchanged
	TransitionAdvanced
	// TransitionStale is a replayed or out-of-order event that would move the
	// order backwards; the stored status is kept.
	TransitionStale
	// TransitionTerminalFlip is a terminal order receiving a different
	// terminal status. It is applied but must be reported as an anomaly.
	TransitionTerminalFlip
)

func (t Transition) String() string {
	switch t {
	case TransitionNew:
		return "new"
	case TransitionUnchanged:
		return "unchanged"
	case TransitionAdvanced:
		return "advanced"
	case TransitionStale:
		return "stale"
	case TransitionTerminalFlip:
		return "terminal_flip"
	}
	return "unknown"
}

// Advance resolves the next stored status for an order currently in
// current (empty for a new order) that received incoming.
func Advance(current, incoming Canonical) (Canonical, Transition) {
	if current == "" {
		return incoming, TransitionNew
	}
	if current == incoming {
		return current, TransitionUnchanged
	}
	if current.IsTerminal() && incoming.IsTerminal() {
		return incoming, TransitionTerminalFlip
	}
	if incoming.rank() < current.rank() {
		return current, TransitionStale
	}
	return incoming, TransitionAdvanced
}
