// Package classifier loads an image-classification model plus its ordered
// label set and scores captured frames against it. Two backends exist behind
// the one Model interface: a remote HTTP scoring endpoint and an embedded
// linear model read from a local weights file. The backend is picked once at
// load time from the shape of the model reference and is opaque to callers.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var (
	// ErrModelLoad indicates the model or its metadata could not be fetched
	// or parsed.
	ErrModelLoad = errors.New("classifier: model load failed")
	// ErrInference indicates the predict call itself failed, as opposed to a
	// low-confidence result.
	ErrInference = errors.New("classifier: inference failed")
)

const defaultFetchTimeout = 30 * time.Second

// Prediction is one class probability from the model output distribution.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Model scores an encoded image against the full label set. The returned
// predictions always cover every configured label, in label-set order.
type Model interface {
	Labels() []string
	Predict(ctx context.Context, image []byte) ([]Prediction, error)
}

type metadata struct {
	Labels []string `json:"labels"`
}

// LoadModel resolves the metadata (ordered label list) and the model itself.
//
// A http(s) model reference selects the remote scoring backend; anything else
// is read as a local linear-weights file.
func LoadModel(ctx context.Context, modelRef, metadataRef string) (Model, error) {
	rawMeta, err := fetchRef(ctx, metadataRef)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch metadata %q: %v", ErrModelLoad, metadataRef, err)
	}

	var meta metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("%w: parse metadata %q: %v", ErrModelLoad, metadataRef, err)
	}
	if len(meta.Labels) == 0 {
		return nil, fmt.Errorf("%w: metadata %q has no labels", ErrModelLoad, metadataRef)
	}

	if isHTTPRef(modelRef) {
		return newRemoteModel(modelRef, meta.Labels), nil
	}
	return loadLinearModel(modelRef, meta.Labels)
}

func isHTTPRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func fetchRef(ctx context.Context, ref string) ([]byte, error) {
	if !isHTTPRef(ref) {
		return os.ReadFile(ref)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
