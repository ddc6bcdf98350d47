package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"moonletter/models"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		message      models.Message
		locked       int
		receiveAt    sql.NullInt64
		sendPhoto    sql.NullString
		receivePhoto sql.NullString
	)

	if err := row.Scan(
		&message.ID,
		&message.Sender,
		&message.Recipient,
		&message.Body,
		&locked,
		&message.SentAt,
		&receiveAt,
		&sendPhoto,
		&receivePhoto,
	); err != nil {
		return nil, err
	}

	message.Locked = locked == 1
	message.ReceiveAt = int64Ptr(receiveAt)

	var err error
	if message.SendPhoto, err = decodePhoto(sendPhoto); err != nil {
		return nil, fmt.Errorf("decode send photo for message %q: %w", message.ID, err)
	}
	if message.ReceivePhoto, err = decodePhoto(receivePhoto); err != nil {
		return nil, fmt.Errorf("decode receive photo for message %q: %w", message.ID, err)
	}

	return &message, nil
}

func encodePhoto(record *models.CaptureRecord) (sql.NullString, error) {
	if record == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode capture record: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodePhoto(ns sql.NullString) (*models.CaptureRecord, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var record models.CaptureRecord
	if err := json.Unmarshal([]byte(ns.String), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
