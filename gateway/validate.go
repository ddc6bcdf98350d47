package gateway

import (
	"fmt"
	"strings"

	"moonletter/models"
)

// ValidateNewMessage checks caller-supplied insert fields before they reach
// a backend.
func ValidateNewMessage(msg NewMessage) error {
	if strings.TrimSpace(msg.Sender) == "" {
		return fmt.Errorf("%w: sender is required", ErrValidation)
	}
	if strings.TrimSpace(msg.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(msg.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if msg.SendPhoto != nil {
		if err := validateCaptureRecord(*msg.SendPhoto); err != nil {
			return fmt.Errorf("%w: send photo: %v", ErrValidation, err)
		}
	}
	return nil
}

// ValidateMessage checks a row crossing the trust boundary from a backend
// before it is merged into local state.
func ValidateMessage(m models.Message) error {
	if m.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if m.Sender == "" {
		return fmt.Errorf("%w: sender is required", ErrValidation)
	}
	if m.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if m.SentAt <= 0 {
		return fmt.Errorf("%w: sent_at is required", ErrValidation)
	}
	if !m.Locked && m.ReceivePhoto == nil {
		return fmt.Errorf("%w: unlocked row without receive photo", ErrValidation)
	}
	if (m.ReceiveAt != nil) != (m.ReceivePhoto != nil) {
		return fmt.Errorf("%w: receive_at and receive photo must be set together", ErrValidation)
	}
	if m.ReceiveAt != nil && *m.ReceiveAt < m.SentAt {
		return fmt.Errorf("%w: receive_at precedes sent_at", ErrValidation)
	}
	if m.ReceivePhoto != nil {
		if err := validateCaptureRecord(*m.ReceivePhoto); err != nil {
			return fmt.Errorf("%w: receive photo: %v", ErrValidation, err)
		}
	}
	return nil
}

func validateCaptureRecord(record models.CaptureRecord) error {
	if record.Image == "" {
		return fmt.Errorf("image reference is required")
	}
	if record.Confidence < 0 || record.Confidence > 1 {
		return fmt.Errorf("confidence %f out of range", record.Confidence)
	}
	if record.VerifiedAt <= 0 {
		return fmt.Errorf("verified_at is required")
	}
	return nil
}
