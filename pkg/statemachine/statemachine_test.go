package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testMachine() *Machine {
	return New(
		map[string][]string{
			"PENDING":     {"IN_PROGRESS", "FAILED"},
			"IN_PROGRESS": {"VERIFIED", "FAILED"},
			"VERIFIED":    {"EXPIRED", "SUSPENDED"},
			"EXPIRED":     {"IN_PROGRESS"},
			"FAILED":      {},
			"SUSPENDED":   {},
		},
		map[string]int{
			"PENDING":     1,
			"IN_PROGRESS": 2,
			"VERIFIED":    3,
			"FAILED":      3,
			"EXPIRED":     4,
			"SUSPENDED":   4,
		},
	)
}

func TestCanTransition(t *testing.T) {
	m := testMachine()

	assert.True(t, m.CanTransition("PENDING", "IN_PROGRESS"))
	assert.True(t, m.CanTransition("IN_PROGRESS", "VERIFIED"))
	assert.True(t, m.CanTransition("IN_PROGRESS", "FAILED"))
	assert.True(t, m.CanTransition("VERIFIED", "EXPIRED"))
	assert.True(t, m.CanTransition("VERIFIED", "SUSPENDED"))
	assert.True(t, m.CanTransition("EXPIRED", "IN_PROGRESS"))

	assert.False(t, m.CanTransition("VERIFIED", "IN_PROGRESS"))
	assert.False(t, m.CanTransition("FAILED", "VERIFIED"))
	assert.False(t, m.CanTransition("PENDING", "VERIFIED"))
	assert.False(t, m.CanTransition("SUSPENDED", "VERIFIED"))
	assert.False(t, m.CanTransition("UNKNOWN", "VERIFIED"))
}

func TestIsStale(t *testing.T) {
	m := testMachine()

	// Duplicate or late deliveries report an earlier stage.
	assert.True(t, m.IsStale("VERIFIED", "IN_PROGRESS"))
	assert.True(t, m.IsStale("VERIFIED", "PENDING"))
	assert.True(t, m.IsStale("IN_PROGRESS", "PENDING"))
	assert.True(t, m.IsStale("FAILED", "IN_PROGRESS"))
	assert.True(t, m.IsStale("VERIFIED", "VERIFIED"))

	// Allowed edges are never stale, including the recheck re-entry.
	assert.False(t, m.IsStale("EXPIRED", "IN_PROGRESS"))
	assert.False(t, m.IsStale("PENDING", "IN_PROGRESS"))
	assert.False(t, m.IsStale("VERIFIED", "EXPIRED"))
}

func TestGetAllowedTransitions(t *testing.T) {
	m := testMachine()

	assert.ElementsMatch(t, []string{"VERIFIED", "FAILED"}, m.GetAllowedTransitions("IN_PROGRESS"))
	assert.Empty(t, m.GetAllowedTransitions("FAILED"))
	assert.Empty(t, m.GetAllowedTransitions("UNKNOWN"))
}
