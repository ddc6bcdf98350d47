package gateway

import (
	"errors"
	"testing"
	"time"

	"moonletter/models"
)

func validRow() models.Message {
	return models.Message{
		ID:        "msg-1",
		Sender:    "Alice",
		Recipient: "Bob",
		Body:      "hello",
		Locked:    true,
		SentAt:    time.Now().UnixMilli(),
	}
}

func TestValidateMessageAcceptsLockedRow(t *testing.T) {
	if err := ValidateMessage(validRow()); err != nil {
		t.Fatalf("expected valid locked row, got %v", err)
	}
}

func TestValidateMessageAcceptsUnlockedRow(t *testing.T) {
	row := validRow()
	receiveAt := row.SentAt + 1000
	row.Locked = false
	row.ReceiveAt = &receiveAt
	row.ReceivePhoto = &models.CaptureRecord{Image: "digest.jpg", Confidence: 0.9, VerifiedAt: receiveAt}

	if err := ValidateMessage(row); err != nil {
		t.Fatalf("expected valid unlocked row, got %v", err)
	}
}

func TestValidateMessageRejectsBrokenRows(t *testing.T) {
	receiveAt := time.Now().UnixMilli()

	cases := []struct {
		name   string
		mutate func(*models.Message)
	}{
		{"missing id", func(m *models.Message) { m.ID = "" }},
		{"missing sender", func(m *models.Message) { m.Sender = "" }},
		{"missing recipient", func(m *models.Message) { m.Recipient = "" }},
		{"zero sent_at", func(m *models.Message) { m.SentAt = 0 }},
		{"unlocked without photo", func(m *models.Message) { m.Locked = false }},
		{"receive_at without photo", func(m *models.Message) { m.ReceiveAt = &receiveAt }},
		{"photo without receive_at", func(m *models.Message) {
			m.ReceivePhoto = &models.CaptureRecord{Image: "digest.jpg", Confidence: 0.9, VerifiedAt: receiveAt}
		}},
		{"receive_at before sent_at", func(m *models.Message) {
			early := m.SentAt - 5000
			m.Locked = false
			m.ReceiveAt = &early
			m.ReceivePhoto = &models.CaptureRecord{Image: "digest.jpg", Confidence: 0.9, VerifiedAt: early}
		}},
		{"confidence out of range", func(m *models.Message) {
			at := m.SentAt + 1
			m.Locked = false
			m.ReceiveAt = &at
			m.ReceivePhoto = &models.CaptureRecord{Image: "digest.jpg", Confidence: 1.5, VerifiedAt: at}
		}},
	}

	for _, tc := range cases {
		row := validRow()
		tc.mutate(&row)
		err := ValidateMessage(row)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestValidateNewMessage(t *testing.T) {
	valid := NewMessage{Sender: "Alice", Recipient: "Bob", Body: "hello"}
	if err := ValidateNewMessage(valid); err != nil {
		t.Fatalf("expected valid insert, got %v", err)
	}

	for _, broken := range []NewMessage{
		{Recipient: "Bob", Body: "hello"},
		{Sender: "Alice", Body: "hello"},
		{Sender: "Alice", Recipient: "Bob", Body: "   "},
		{Sender: "Alice", Recipient: "Bob", Body: "hi", SendPhoto: &models.CaptureRecord{}},
	} {
		if err := ValidateNewMessage(broken); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %+v, got %v", broken, err)
		}
	}
}
