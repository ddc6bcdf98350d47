package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeMetadata(t *testing.T, labels []string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "metadata.json")
	raw, err := json.Marshal(map[string]any{"labels": labels})
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	return path
}

func writeWeights(t *testing.T, w linearWeights) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "weights.json")
	raw, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal weights: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write weights: %v", err)
	}
	return path
}

func solidJPEG(t *testing.T, gray uint8) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.Gray{Y: gray})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestLoadModelRejectsBadMetadata(t *testing.T) {
	weights := writeWeights(t, linearWeights{
		Width: 2, Height: 2,
		Bias:    []float64{0},
		Weights: [][]float64{{0, 0, 0, 0}},
	})

	_, err := LoadModel(context.Background(), weights, filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad for missing metadata, got %v", err)
	}

	empty := writeMetadata(t, nil)
	if _, err := LoadModel(context.Background(), weights, empty); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad for empty label set, got %v", err)
	}
}

func TestLoadLinearModelValidatesShape(t *testing.T) {
	meta := writeMetadata(t, []string{"Moon", "Not Moon"})

	badRows := writeWeights(t, linearWeights{
		Width: 2, Height: 2,
		Bias:    []float64{0, 0},
		Weights: [][]float64{{0, 0, 0, 0}},
	})
	if _, err := LoadModel(context.Background(), badRows, meta); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad for mismatched weight rows, got %v", err)
	}

	badFeatures := writeWeights(t, linearWeights{
		Width: 2, Height: 2,
		Bias:    []float64{0, 0},
		Weights: [][]float64{{0, 0, 0, 0}, {0, 0}},
	})
	if _, err := LoadModel(context.Background(), badFeatures, meta); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad for short feature row, got %v", err)
	}
}

func TestLinearModelPredictsFavorsBrightFrames(t *testing.T) {
	meta := writeMetadata(t, []string{"Moon", "Not Moon"})

	// "Moon" responds positively to brightness, "Not Moon" negatively.
	weights := writeWeights(t, linearWeights{
		Width: 2, Height: 2,
		Bias: []float64{0, 0},
		Weights: [][]float64{
			{2, 2, 2, 2},
			{-2, -2, -2, -2},
		},
	})

	model, err := LoadModel(context.Background(), weights, meta)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if labels := model.Labels(); len(labels) != 2 || labels[0] != "Moon" {
		t.Fatalf("unexpected label set %v", labels)
	}

	bright, err := model.Predict(context.Background(), solidJPEG(t, 250))
	if err != nil {
		t.Fatalf("Predict bright failed: %v", err)
	}
	if len(bright) != 2 {
		t.Fatalf("expected predictions to cover the full label set, got %d", len(bright))
	}
	if bright[0].Label != "Moon" || bright[0].Probability <= bright[1].Probability {
		t.Fatalf("expected Moon to win on a bright frame, got %+v", bright)
	}

	total := bright[0].Probability + bright[1].Probability
	if total < 0.999 || total > 1.001 {
		t.Fatalf("expected probabilities to sum to 1, got %f", total)
	}

	dark, err := model.Predict(context.Background(), solidJPEG(t, 5))
	if err != nil {
		t.Fatalf("Predict dark failed: %v", err)
	}
	if dark[0].Probability >= dark[1].Probability {
		t.Fatalf("expected Not Moon to win on a dark frame, got %+v", dark)
	}
}

func TestLinearModelPredictRejectsGarbage(t *testing.T) {
	meta := writeMetadata(t, []string{"Moon"})
	weights := writeWeights(t, linearWeights{
		Width: 2, Height: 2,
		Bias:    []float64{0},
		Weights: [][]float64{{0, 0, 0, 0}},
	})

	model, err := LoadModel(context.Background(), weights, meta)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	if _, err := model.Predict(context.Background(), []byte("not an image")); !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference for undecodable bytes, got %v", err)
	}
}

func TestRemoteModelNormalizesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("expected image/jpeg request, got %q", r.Header.Get("Content-Type"))
		}
		// Out of configured order and with different label casing.
		_ = json.NewEncoder(w).Encode([]Prediction{
			{Label: "not moon", Probability: 0.2},
			{Label: "MOON", Probability: 0.8},
		})
	}))
	defer server.Close()

	meta := writeMetadata(t, []string{"Moon", "Not Moon"})
	model, err := LoadModel(context.Background(), server.URL, meta)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	predictions, err := model.Predict(context.Background(), solidJPEG(t, 128))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if predictions[0].Label != "Moon" || predictions[0].Probability != 0.8 {
		t.Fatalf("expected Moon=0.8 first, got %+v", predictions)
	}
	if predictions[1].Label != "Not Moon" || predictions[1].Probability != 0.2 {
		t.Fatalf("expected Not Moon=0.2 second, got %+v", predictions)
	}
}

func TestRemoteModelErrorsArePredictFailures(t *testing.T) {
	meta := writeMetadata(t, []string{"Moon", "Not Moon"})

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	model, err := LoadModel(context.Background(), failing.URL, meta)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if _, err := model.Predict(context.Background(), solidJPEG(t, 128)); !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference for server error, got %v", err)
	}

	partial := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Prediction{{Label: "Moon", Probability: 0.9}})
	}))
	defer partial.Close()

	model, err = LoadModel(context.Background(), partial.URL, meta)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if _, err := model.Predict(context.Background(), solidJPEG(t, 128)); !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference for partial label coverage, got %v", err)
	}
}

func TestLoadModelFetchesMetadataOverHTTP(t *testing.T) {
	metaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"labels": []string{"Moon"}})
	}))
	defer metaServer.Close()

	scoreServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Prediction{{Label: "Moon", Probability: 1}})
	}))
	defer scoreServer.Close()

	model, err := LoadModel(context.Background(), scoreServer.URL, metaServer.URL)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if labels := model.Labels(); len(labels) != 1 || labels[0] != "Moon" {
		t.Fatalf("unexpected labels %v", labels)
	}
}
