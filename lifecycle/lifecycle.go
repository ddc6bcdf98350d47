// Package lifecycle is the pure state machine for a letter's locked and
// archived transitions. It never performs I/O; gateways and the mailbox call
// into it to validate transitions before persisting them.
package lifecycle

import (
	"errors"

	"moonletter/models"
)

// State classifies a letter as still sealed or already opened.
type State int

const (
	// Locked is the initial state: no verified capture attached yet.
	Locked State = iota
	// Unlocked is terminal and equivalent to archived.
	Unlocked
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition indicates an unlock attempt on an already-unlocked
// message, which guards the double-unlock race.
var ErrInvalidTransition = errors.New("lifecycle: message is already unlocked")

// Classify derives the lifecycle state from the persisted fields alone.
func Classify(m models.Message) State {
	if !m.Locked || m.ReceivePhoto != nil {
		return Unlocked
	}
	return Locked
}

// CanUnlock reports whether the message may still transition to Unlocked.
func CanUnlock(m models.Message) bool {
	return Classify(m) == Locked
}

// ApplyUnlock returns a copy of m unlocked with the given capture record.
//
// The three mutable fields transition together; the input message is never
// modified, so a failed persistence attempt leaves the caller's copy intact.
func ApplyUnlock(m models.Message, record models.CaptureRecord, nowMilli int64) (models.Message, error) {
	if !CanUnlock(m) {
		return models.Message{}, ErrInvalidTransition
	}

	// ReceiveAt is monotonically >= SentAt even under clock skew.
	if nowMilli < m.SentAt {
		nowMilli = m.SentAt
	}

	out := m
	out.Locked = false
	out.ReceiveAt = &nowMilli
	out.ReceivePhoto = &record
	return out, nil
}
