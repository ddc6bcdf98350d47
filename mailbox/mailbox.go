// Package mailbox holds the viewer's visible letter collection, fed by one
// authoritative snapshot plus the live change feed, and serves reads sorted
// by send time regardless of feed arrival order.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"moonletter/gateway"
	"moonletter/lifecycle"
	"moonletter/models"
)

const (
	// loadAttempts bounds transport retries for the initial snapshot.
	loadAttempts = 3
	// loadBackoffBase is the first retry delay; it doubles per attempt.
	loadBackoffBase = 250 * time.Millisecond
)

// ErrClosed reports an operation on a torn-down mailbox.
var ErrClosed = errors.New("mailbox: store closed")

// Entry is one visible letter with its viewer projection applied.
type Entry struct {
	Message models.Message
	View    models.Projection
}

// Store is the client-side message collection for one viewer.
type Store struct {
	gw     gateway.Gateway
	viewer string

	mu       sync.RWMutex
	messages map[string]models.Message
	unsub    gateway.Unsubscribe
	gen      int
	closed   bool
}

// New creates an empty store for the viewer.
func New(gw gateway.Gateway, viewer string) (*Store, error) {
	if viewer == "" {
		return nil, errors.New("mailbox: viewer is required")
	}
	return &Store{
		gw:       gw,
		viewer:   viewer,
		messages: make(map[string]models.Message),
	}, nil
}

// Viewer returns the identity this store projects for.
func (s *Store) Viewer() string {
	return s.viewer
}

// Load fetches the authoritative snapshot and replaces the collection
// wholesale. Transport failures are retried with bounded backoff; on final
// failure the prior collection is left untouched.
func (s *Store) Load(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	gen := s.gen
	s.mu.RUnlock()

	var (
		rows []models.Message
		err  error
	)
	backoff := loadBackoffBase
	for attempt := 1; ; attempt++ {
		rows, err = s.gw.FetchMessagesForUser(ctx, s.viewer)
		if err == nil {
			break
		}
		if !errors.Is(err, gateway.ErrTransport) || attempt >= loadAttempts {
			return fmt.Errorf("load messages for %q: %w", s.viewer, err)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("load messages for %q: %w", s.viewer, ctx.Err())
		}
		backoff *= 2
	}

	next := make(map[string]models.Message, len(rows))
	for _, row := range rows {
		if err := gateway.ValidateMessage(row); err != nil {
			log.Printf("mailbox: dropping invalid row %q: %v", row.ID, err)
			continue
		}
		next[row.ID] = row
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen {
		// The snapshot resolved after teardown; discard it.
		return ErrClosed
	}

	// Keep any locally newer copies so a slow snapshot cannot roll back an
	// unlock that the feed already delivered.
	for id, existing := range s.messages {
		if incoming, ok := next[id]; ok {
			next[id] = preferNewer(existing, incoming)
		}
	}
	s.messages = next
	return nil
}

// Subscribe opens the change feed and merges matching events until Close.
// Replaying the same event twice leaves the collection unchanged.
func (s *Store) Subscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.unsub != nil {
		s.mu.Unlock()
		return errors.New("mailbox: already subscribed")
	}
	gen := s.gen
	s.mu.Unlock()

	unsub, err := s.gw.Subscribe(func(event gateway.Event) {
		s.applyEvent(gen, event)
	})
	if err != nil {
		return fmt.Errorf("subscribe change feed: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return ErrClosed
	}
	s.unsub = unsub
	s.mu.Unlock()
	return nil
}

func (s *Store) applyEvent(gen int, event gateway.Event) {
	row := event.Message
	// The feed covers the whole collection; only this viewer's rows matter.
	if row.Sender != s.viewer && row.Recipient != s.viewer {
		return
	}
	if err := gateway.ValidateMessage(row); err != nil {
		log.Printf("mailbox: dropping invalid feed row %q: %v", row.ID, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen {
		// Event delivered after teardown; discard.
		return
	}
	s.mergeLocked(row)
}

// Visible returns the viewer-projected collection sorted by send time,
// newest first. The sort runs on every call: merge order never tracks
// chronology once feed events interleave with loads.
func (s *Store) Visible() []Entry {
	s.mu.RLock()
	rows := make([]models.Message, 0, len(s.messages))
	for _, row := range s.messages {
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SentAt == rows[j].SentAt {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].SentAt > rows[j].SentAt
	})

	entries := make([]Entry, len(rows))
	for i, row := range rows {
		entries[i] = Entry{Message: row, View: models.Project(row, s.viewer)}
	}
	return entries
}

// Send inserts a new locked letter from this viewer and merges the
// authoritative row.
func (s *Store) Send(ctx context.Context, recipient, body string, sendPhoto *models.CaptureRecord) (models.Message, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return models.Message{}, ErrClosed
	}
	gen := s.gen
	s.mu.RUnlock()

	row, err := s.gw.InsertMessage(ctx, gateway.NewMessage{
		Sender:    s.viewer,
		Recipient: recipient,
		Body:      body,
		SendPhoto: sendPhoto,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	s.merge(gen, row)
	return row, nil
}

// Unlock transitions a held letter using a verified capture record. The
// local lifecycle check rejects a duplicate unlock before any write; the
// merged result is the gateway's authoritative row, never a local guess.
func (s *Store) Unlock(ctx context.Context, id string, photo models.CaptureRecord) (models.Message, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return models.Message{}, ErrClosed
	}
	gen := s.gen
	local, ok := s.messages[id]
	s.mu.RUnlock()

	if !ok {
		return models.Message{}, fmt.Errorf("unlock message: %w: %q", gateway.ErrNotFound, id)
	}
	if !lifecycle.CanUnlock(local) {
		return models.Message{}, fmt.Errorf("unlock message %q: %w", id, lifecycle.ErrInvalidTransition)
	}

	row, err := s.gw.UnlockMessage(ctx, id, photo)
	if err != nil {
		return models.Message{}, fmt.Errorf("unlock message %q: %w", id, err)
	}

	s.merge(gen, row)
	return row, nil
}

// Close unsubscribes from the feed and invalidates in-flight results.
// Guaranteed pairing for Subscribe; safe to call repeatedly.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (s *Store) merge(gen int, row models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen {
		return
	}
	s.mergeLocked(row)
}

// mergeLocked replaces by id, inserting unknown rows. Caller holds s.mu.
func (s *Store) mergeLocked(row models.Message) {
	if existing, ok := s.messages[row.ID]; ok {
		row = preferNewer(existing, row)
	}
	s.messages[row.ID] = row
}

// preferNewer keeps an unlocked copy over a locked one for the same id, so
// an out-of-order insert replay cannot re-lock a letter the feed already
// unlocked.
func preferNewer(existing, incoming models.Message) models.Message {
	if lifecycle.Classify(existing) == lifecycle.Unlocked && lifecycle.Classify(incoming) == lifecycle.Locked {
		return existing
	}
	return incoming
}
