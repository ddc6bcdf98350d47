// Package gateway defines the contract both persistence backends implement:
// the embedded SQLite store and the relay client. The mailbox only ever sees
// this interface.
package gateway

import (
	"context"
	"errors"

	"moonletter/models"
)

var (
	// ErrTransport indicates the backend could not be reached or answered
	// with a malformed response.
	ErrTransport = errors.New("gateway: transport failure")
	// ErrAccessDenied indicates the store refused the operation for this
	// identity.
	ErrAccessDenied = errors.New("gateway: access denied")
	// ErrNotFound indicates the referenced message row does not exist.
	ErrNotFound = errors.New("gateway: message not found")
	// ErrValidation indicates the submitted fields were rejected.
	ErrValidation = errors.New("gateway: invalid message fields")
	// ErrConflict indicates the row was already unlocked by a concurrent
	// caller.
	ErrConflict = errors.New("gateway: message already unlocked")
)

// EventType identifies change-feed notifications.
type EventType string

const (
	// EventInserted is emitted when a new message row is created.
	EventInserted EventType = "inserted"
	// EventUpdated is emitted when an existing row changes.
	EventUpdated EventType = "updated"
)

// Event is one change-feed notification for the whole collection. Consumers
// filter by viewer themselves.
type Event struct {
	Type    EventType      `json:"type"`
	Message models.Message `json:"message"`
}

// Unsubscribe tears down a change-feed subscription. Safe to call more than
// once.
type Unsubscribe func()

// NewMessage carries the caller-controlled fields of an insert. The store
// assigns ID and SentAt and forces Locked.
type NewMessage struct {
	Sender    string                `json:"sender"`
	Recipient string                `json:"recipient"`
	Body      string                `json:"body"`
	SendPhoto *models.CaptureRecord `json:"send_photo,omitempty"`
}

// Gateway is the durable store plus its change feed.
type Gateway interface {
	// FetchMessagesForUser returns rows where the user is sender or
	// recipient, newest first.
	FetchMessagesForUser(ctx context.Context, name string) ([]models.Message, error)

	// InsertMessage creates a locked row and returns the authoritative copy.
	InsertMessage(ctx context.Context, msg NewMessage) (models.Message, error)

	// UnlockMessage sets locked=false, receive_photo, and receive_at on
	// exactly one still-locked row and returns the authoritative copy.
	UnlockMessage(ctx context.Context, id string, photo models.CaptureRecord) (models.Message, error)

	// Subscribe delivers insert/update events for the entire collection in
	// delivery order until the returned Unsubscribe runs.
	Subscribe(onEvent func(Event)) (Unsubscribe, error)
}
