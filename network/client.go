// Package network is the relay-backed persistence gateway: plain JSON over
// HTTP for fetch/insert/unlock and a websocket subscription for the change
// feed. It satisfies the same gateway contract as the embedded SQLite store.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"moonletter/gateway"
	"moonletter/models"
)

const defaultRequestTimeout = 15 * time.Second

// Options tunes the relay client; zero values get defaults.
type Options struct {
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

func (o Options) withDefaults() Options {
	out := o
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if out.Dialer == nil {
		out.Dialer = websocket.DefaultDialer
	}
	return out
}

// Relay is a persistence gateway speaking to a remote letters relay.
type Relay struct {
	baseURL *url.URL
	client  *http.Client
	dialer  *websocket.Dialer
}

// NewRelay validates the base URL and builds a client.
func NewRelay(baseURL string, options Options) (*Relay, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url %q: %w", baseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("relay url %q must be http or https", baseURL)
	}

	opts := options.withDefaults()
	return &Relay{
		baseURL: parsed,
		client:  opts.HTTPClient,
		dialer:  opts.Dialer,
	}, nil
}

// FetchMessagesForUser returns the user's rows, newest first.
func (r *Relay) FetchMessagesForUser(ctx context.Context, name string) ([]models.Message, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: user name is required", gateway.ErrValidation)
	}

	endpoint := r.endpoint(messagesPath)
	query := endpoint.Query()
	query.Set("user", name)
	endpoint.RawQuery = query.Encode()

	body, err := r.do(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}

	var rows []models.Message
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: decode message rows: %v", gateway.ErrTransport, err)
	}
	for _, row := range rows {
		if err := gateway.ValidateMessage(row); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// InsertMessage creates a locked row and returns the authoritative copy.
func (r *Relay) InsertMessage(ctx context.Context, msg gateway.NewMessage) (models.Message, error) {
	if err := gateway.ValidateNewMessage(msg); err != nil {
		return models.Message{}, err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: encode insert: %v", gateway.ErrValidation, err)
	}

	body, err := r.do(ctx, http.MethodPost, r.endpoint(messagesPath).String(), payload)
	if err != nil {
		return models.Message{}, err
	}
	return decodeMessage(bytes.NewReader(body))
}

// UnlockMessage transitions one row on the relay and returns the
// authoritative copy. The relay rejects already-unlocked rows with 409.
func (r *Relay) UnlockMessage(ctx context.Context, id string, photo models.CaptureRecord) (models.Message, error) {
	if id == "" {
		return models.Message{}, fmt.Errorf("%w: message id is required", gateway.ErrValidation)
	}

	payload, err := json.Marshal(unlockRequest{ReceivePhoto: photo})
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: encode unlock: %v", gateway.ErrValidation, err)
	}

	endpoint := r.endpoint(messagesPath + "/" + url.PathEscape(id) + "/unlock")
	body, err := r.do(ctx, http.MethodPost, endpoint.String(), payload)
	if err != nil {
		return models.Message{}, err
	}
	return decodeMessage(bytes.NewReader(body))
}

func (r *Relay) endpoint(path string) *url.URL {
	out := *r.baseURL
	out.Path = path
	return &out
}

func (r *Relay) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", gateway.ErrTransport, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", gateway.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mapStatus(resp.StatusCode, body)
	}
	return body, nil
}
