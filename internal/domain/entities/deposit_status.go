package entities

import "fmt"

// PendingStatus is the lifecycle status of a candidate deposit
type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "PENDING"
	PendingStatusCompleted PendingStatus = "COMPLETED"
	PendingStatusFailed    PendingStatus = "FAILED"
)

// ValidPendingStatuses contains all valid pending statuses
var ValidPendingStatuses = map[PendingStatus]bool{
	PendingStatusPending:   true,
	PendingStatusCompleted: true,
	PendingStatusFailed:    true,
}

// ValidPendingTransitions defines allowed status transitions.
// PENDING may stay PENDING when the chain has no answer yet.
var ValidPendingTransitions = map[PendingStatus][]PendingStatus{
	PendingStatusPending:   {PendingStatusPending, PendingStatusCompleted, PendingStatusFailed},
	PendingStatusCompleted: {},
	PendingStatusFailed:    {},
}

// IsValid checks if the status is a valid pending status
func (s PendingStatus) IsValid() bool {
	return ValidPendingStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s PendingStatus) CanTransitionTo(newStatus PendingStatus) bool {
	allowed, exists := ValidPendingTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s PendingStatus) IsTerminal() bool {
	return s == PendingStatusCompleted || s == PendingStatusFailed
}

// ValidateTransition validates and returns error if transition is invalid
func (s PendingStatus) ValidateTransition(newStatus PendingStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid pending status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}

// Pending store configuration constants
const (
	ProcessedTxExpiryMinutes = 30 // ProcessedTxCache entry lifetime
	AddressLockExpiryHours   = 1  // Address lock lifetime when never unlocked
	MaxPendingAgeHours       = 24 // Age after which a pending entry is flagged for review
)
