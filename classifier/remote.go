package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultPredictTimeout = 30 * time.Second

// remoteModel posts the encoded frame to a scoring endpoint and normalizes
// its response against the configured label set.
type remoteModel struct {
	endpoint string
	labels   []string
	client   *http.Client
}

func newRemoteModel(endpoint string, labels []string) *remoteModel {
	return &remoteModel{
		endpoint: endpoint,
		labels:   labels,
		client:   &http.Client{Timeout: defaultPredictTimeout},
	}
}

func (m *remoteModel) Labels() []string {
	return m.labels
}

func (m *remoteModel) Predict(ctx context.Context, encoded []byte) ([]Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: build predict request: %v", ErrInference, err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: call scoring endpoint: %v", ErrInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: scoring endpoint status %d", ErrInference, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read predictions: %v", ErrInference, err)
	}

	var returned []Prediction
	if err := json.Unmarshal(raw, &returned); err != nil {
		return nil, fmt.Errorf("%w: parse predictions: %v", ErrInference, err)
	}

	// The contract requires a distribution over the full label set; reorder
	// the response into configured label order and refuse partial answers.
	byLabel := make(map[string]float64, len(returned))
	for _, p := range returned {
		byLabel[strings.ToLower(p.Label)] = p.Probability
	}

	predictions := make([]Prediction, len(m.labels))
	for i, label := range m.labels {
		probability, ok := byLabel[strings.ToLower(label)]
		if !ok {
			return nil, fmt.Errorf("%w: response missing label %q", ErrInference, label)
		}
		predictions[i] = Prediction{Label: label, Probability: probability}
	}
	return predictions, nil
}
