package network

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"moonletter/gateway"
	"moonletter/models"
)

// Relay wire surface:
//
//	GET  /v1/messages?user=NAME      -> []models.Message, newest first
//	POST /v1/messages                -> models.Message (authoritative row)
//	POST /v1/messages/{id}/unlock    -> models.Message (authoritative row)
//	GET  /v1/feed                    -> websocket stream of gateway.Event
const (
	messagesPath = "/v1/messages"
	feedPath     = "/v1/feed"
)

// unlockRequest is the body of an unlock call; the relay assigns receive_at.
type unlockRequest struct {
	ReceivePhoto models.CaptureRecord `json:"receive_photo"`
}

// errorEnvelope is the relay's error response body.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// mapStatus translates a non-2xx relay response into the gateway taxonomy.
func mapStatus(status int, body []byte) error {
	detail := ""
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		detail = fmt.Sprintf(" [%s]: %s", envelope.Error.Code, envelope.Error.Message)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: relay status %d%s", gateway.ErrAccessDenied, status, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: relay status %d%s", gateway.ErrNotFound, status, detail)
	case http.StatusConflict:
		return fmt.Errorf("%w: relay status %d%s", gateway.ErrConflict, status, detail)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: relay status %d%s", gateway.ErrValidation, status, detail)
	default:
		return fmt.Errorf("%w: relay status %d%s", gateway.ErrTransport, status, detail)
	}
}

func decodeMessage(body io.Reader) (models.Message, error) {
	var row models.Message
	if err := json.NewDecoder(body).Decode(&row); err != nil {
		return models.Message{}, fmt.Errorf("%w: decode message row: %v", gateway.ErrTransport, err)
	}
	if err := gateway.ValidateMessage(row); err != nil {
		return models.Message{}, err
	}
	return row, nil
}
