package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"moonletter/gateway"
	"moonletter/models"
)

const messageColumns = `
	message_id,
	sender,
	recipient,
	body,
	locked,
	sent_at,
	receive_at,
	send_photo,
	receive_photo`

// FetchMessagesForUser returns rows where the user is sender or recipient,
// newest first.
func (s *Store) FetchMessagesForUser(ctx context.Context, name string) ([]models.Message, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: user name is required", gateway.ErrValidation)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT`+messageColumns+`
		FROM messages
		WHERE sender = ? OR recipient = ?
		ORDER BY sent_at DESC, message_id`,
		name,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch messages for %q: %v", gateway.ErrTransport, name, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan message row: %v", gateway.ErrTransport, err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate message rows: %v", gateway.ErrTransport, err)
	}

	return messages, nil
}

// InsertMessage creates a locked row with a store-assigned id and sent_at and
// returns the authoritative copy.
func (s *Store) InsertMessage(ctx context.Context, msg gateway.NewMessage) (models.Message, error) {
	if err := gateway.ValidateNewMessage(msg); err != nil {
		return models.Message{}, err
	}

	sendPhoto, err := encodePhoto(msg.SendPhoto)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
	}

	row := models.Message{
		ID:        uuid.NewString(),
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Body:      msg.Body,
		Locked:    true,
		SentAt:    nowUnixMilli(),
		SendPhoto: msg.SendPhoto,
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (
			message_id,
			sender,
			recipient,
			body,
			locked,
			sent_at,
			receive_at,
			send_photo,
			receive_photo
		) VALUES (?, ?, ?, ?, 1, ?, NULL, ?, NULL)`,
		row.ID,
		row.Sender,
		row.Recipient,
		row.Body,
		row.SentAt,
		sendPhoto,
	); err != nil {
		return models.Message{}, fmt.Errorf("%w: insert message: %v", gateway.ErrTransport, err)
	}

	s.emit(gateway.Event{Type: gateway.EventInserted, Message: row})
	return row, nil
}

// UnlockMessage transitions exactly one still-locked row. The locked
// predicate in the update is the optimistic-concurrency guard: a second
// unlock of the same row reports ErrConflict instead of overwriting the
// first capture record.
func (s *Store) UnlockMessage(ctx context.Context, id string, photo models.CaptureRecord) (models.Message, error) {
	if id == "" {
		return models.Message{}, fmt.Errorf("%w: message id is required", gateway.ErrValidation)
	}

	receivePhoto, err := encodePhoto(&photo)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
	}

	receiveAt := nowUnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		SET locked = 0, receive_at = MAX(?, sent_at), receive_photo = ?
		WHERE message_id = ? AND locked = 1`,
		receiveAt,
		receivePhoto,
		id,
	)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: unlock message %q: %v", gateway.ErrTransport, id, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: read rows affected for unlock %q: %v", gateway.ErrTransport, id, err)
	}
	if rowsAffected == 0 {
		if _, err := s.getMessage(ctx, id); err != nil {
			return models.Message{}, err
		}
		return models.Message{}, fmt.Errorf("%w: message %q", gateway.ErrConflict, id)
	}

	row, err := s.getMessage(ctx, id)
	if err != nil {
		return models.Message{}, err
	}

	s.emit(gateway.Event{Type: gateway.EventUpdated, Message: *row})
	return *row, nil
}

func (s *Store) getMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+messageColumns+`
		FROM messages
		WHERE message_id = ?`,
		id,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: message %q", gateway.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get message %q: %v", gateway.ErrTransport, id, err)
	}
	return message, nil
}
