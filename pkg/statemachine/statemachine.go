package statemachine

// Machine enforces status transitions and orders states by lifecycle stage
// so that late or duplicate updates can be recognized as stale.
type Machine struct {
	allowedTransitions map[string][]string
	stageRanks         map[string]int
}

// New creates a state machine from an allowed-transition table and a
// stage-rank map. A higher rank means a later lifecycle stage.
func New(transitions map[string][]string, ranks map[string]int) *Machine {
	return &Machine{
		allowedTransitions: transitions,
		stageRanks:         ranks,
	}
}

// CanTransition checks if a status transition is allowed
func (m *Machine) CanTransition(from, to string) bool {
	allowed, exists := m.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// IsStale reports whether an update to `to` arriving while `from` is
// persisted reports an earlier (or equal) lifecycle stage and is not an
// allowed transition. Stale updates must be treated as no-ops.
func (m *Machine) IsStale(from, to string) bool {
	if m.CanTransition(from, to) {
		return false
	}
	return m.stageRanks[to] <= m.stageRanks[from]
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (m *Machine) GetAllowedTransitions(from string) []string {
	allowed, exists := m.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}
