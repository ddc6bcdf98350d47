package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
)

// linearWeights is the on-disk shape of an exported affine classifier:
// per-label bias plus weights over a downsampled grayscale image.
type linearWeights struct {
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	Bias    []float64   `json:"bias"`
	Weights [][]float64 `json:"weights"`
}

type linearModel struct {
	labels  []string
	width   int
	height  int
	bias    []float64
	weights [][]float64
}

func loadLinearModel(path string, labels []string) (*linearModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read weights %q: %v", ErrModelLoad, path, err)
	}

	var w linearWeights
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: parse weights %q: %v", ErrModelLoad, path, err)
	}

	if w.Width <= 0 || w.Height <= 0 {
		return nil, fmt.Errorf("%w: weights %q: invalid input size %dx%d", ErrModelLoad, path, w.Width, w.Height)
	}
	if len(w.Bias) != len(labels) || len(w.Weights) != len(labels) {
		return nil, fmt.Errorf("%w: weights %q: %d labels but %d bias / %d weight rows",
			ErrModelLoad, path, len(labels), len(w.Bias), len(w.Weights))
	}
	featureCount := w.Width * w.Height
	for i, row := range w.Weights {
		if len(row) != featureCount {
			return nil, fmt.Errorf("%w: weights %q: row %d has %d features, want %d",
				ErrModelLoad, path, i, len(row), featureCount)
		}
	}

	return &linearModel{
		labels:  labels,
		width:   w.Width,
		height:  w.Height,
		bias:    w.Bias,
		weights: w.Weights,
	}, nil
}

func (m *linearModel) Labels() []string {
	return m.labels
}

func (m *linearModel) Predict(ctx context.Context, encoded []byte) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrInference, err)
	}

	features := grayscaleFeatures(img, m.width, m.height)

	scores := make([]float64, len(m.labels))
	for i := range m.labels {
		score := m.bias[i]
		for j, x := range features {
			score += m.weights[i][j] * x
		}
		scores[i] = score
	}

	probs := softmax(scores)
	predictions := make([]Prediction, len(m.labels))
	for i, label := range m.labels {
		predictions[i] = Prediction{Label: label, Probability: probs[i]}
	}
	return predictions, nil
}

// grayscaleFeatures samples the image down to width x height luminance values
// normalized to [0,1].
func grayscaleFeatures(img image.Image, width, height int) []float64 {
	bounds := img.Bounds()
	out := make([]float64, 0, width*height)

	for y := 0; y < height; y++ {
		srcY := bounds.Min.Y + y*bounds.Dy()/height
		for x := 0; x < width; x++ {
			srcX := bounds.Min.X + x*bounds.Dx()/width
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			luma := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			out = append(out, luma/0xffff)
		}
	}
	return out
}

func softmax(scores []float64) []float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}

	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
