// Package capture owns the camera and classifier lifecycle for one capture
// session: acquire both concurrently, hold a frame, verify it against the
// target label, and emit the capture record that gates an unlock.
package capture

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"moonletter/camera"
	"moonletter/classifier"
	"moonletter/models"
)

// State is the pipeline position between acquisition and verification.
type State int

const (
	// StateInitializing covers concurrent camera and model acquisition.
	StateInitializing State = iota
	// StateReady means both acquisitions succeeded and no frame is held.
	StateReady
	// StateCaptured means a frame is held but not yet verified.
	StateCaptured
	// StateVerifying means inference is in flight.
	StateVerifying
	// StateVerified is terminal: a capture record was emitted.
	StateVerified
	// StateRejected means the last verification fell below the threshold;
	// the frame is still held, so Verify or Retake may follow.
	StateRejected
	// StateFailed is terminal: an acquisition failed.
	StateFailed
	// StateReleased is terminal: the session was torn down.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateCaptured:
		return "captured"
	case StateVerifying:
		return "verifying"
	case StateVerified:
		return "verified"
	case StateRejected:
		return "rejected"
	case StateFailed:
		return "failed"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

var (
	// ErrReleased reports an operation on a torn-down session, including a
	// slow async result that landed after Release.
	ErrReleased = errors.New("capture: session released")
	// ErrNotReady reports an operation in the wrong pipeline state.
	ErrNotReady = errors.New("capture: operation not valid in current state")
)

// RejectionError carries the human-readable reason for a below-threshold
// verification.
type RejectionError struct {
	Label      string
	Confidence float64
	Threshold  float64
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("capture: %s confidence %.0f%% is below the required %.0f%%",
		e.Label, e.Confidence*100, e.Threshold*100)
}

type openSourceFunc func(ctx context.Context) (camera.Source, error)
type loadModelFunc func(ctx context.Context, modelRef, metadataRef string) (classifier.Model, error)

// Options configures one capture session.
type Options struct {
	CameraURL   string
	Camera      camera.Preferences
	ModelRef    string
	MetadataRef string

	// ImageDir receives verified frames as digest-named JPEG files.
	ImageDir string

	// Location and Coords annotate the emitted capture record.
	Location string
	Coords   *models.Coordinates

	openSource openSourceFunc
	loadModel  loadModelFunc
	now        func() time.Time
}

func (o Options) withDefaults() Options {
	out := o
	if out.openSource == nil {
		url := out.CameraURL
		prefs := out.Camera
		out.openSource = func(ctx context.Context) (camera.Source, error) {
			return camera.OpenHTTP(ctx, url, prefs)
		}
	}
	if out.loadModel == nil {
		out.loadModel = func(ctx context.Context, modelRef, metadataRef string) (classifier.Model, error) {
			return classifier.LoadModel(ctx, modelRef, metadataRef)
		}
	}
	if out.now == nil {
		out.now = time.Now
	}
	return out
}

func (o Options) validate() error {
	if o.openSource == nil && strings.TrimSpace(o.CameraURL) == "" {
		return errors.New("camera URL is required")
	}
	if o.loadModel == nil && strings.TrimSpace(o.ModelRef) == "" {
		return errors.New("model reference is required")
	}
	if strings.TrimSpace(o.ImageDir) == "" {
		return errors.New("image directory is required")
	}
	return nil
}

// Pipeline is one capture-verification session. All methods are safe for
// concurrent use; async completions are discarded once Release has run.
type Pipeline struct {
	opts Options

	mu        sync.Mutex
	state     State
	failure   error
	source    camera.Source
	model     classifier.Model
	frame     *camera.Frame
	rejection string
	gen       int
}

// New validates options and returns an unstarted pipeline.
func New(opts Options) (*Pipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return &Pipeline{
		opts:  opts.withDefaults(),
		state: StateInitializing,
	}, nil
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Failure returns the acquisition error for a failed pipeline.
func (p *Pipeline) Failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}

// Rejection returns the reason text of the last below-threshold verification.
func (p *Pipeline) Rejection() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rejection
}

// Start acquires the camera and loads the model concurrently; neither blocks
// the other's completion. On any acquisition failure the pipeline becomes
// Failed, partial acquisitions are released, and the error is returned.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateInitializing {
		p.mu.Unlock()
		return fmt.Errorf("%w: start in state %s", ErrNotReady, p.state)
	}
	gen := p.gen
	p.mu.Unlock()

	var (
		wg        sync.WaitGroup
		source    camera.Source
		sourceErr error
		model     classifier.Model
		modelErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		source, sourceErr = p.opts.openSource(ctx)
	}()
	go func() {
		defer wg.Done()
		model, modelErr = p.opts.loadModel(ctx, p.opts.ModelRef, p.opts.MetadataRef)
	}()
	wg.Wait()

	p.mu.Lock()
	if p.gen != gen {
		// Released while acquiring: do not leak a device handle.
		p.mu.Unlock()
		if source != nil {
			_ = source.Close()
		}
		return ErrReleased
	}

	if sourceErr != nil || modelErr != nil {
		p.state = StateFailed
		p.failure = errors.Join(sourceErr, modelErr)
		failure := p.failure
		p.mu.Unlock()
		if source != nil {
			_ = source.Close()
		}
		return failure
	}

	p.source = source
	p.model = model
	p.state = StateReady
	p.mu.Unlock()
	return nil
}

// Capture snapshots the current live frame and holds it for verification.
// The camera keeps streaming; Capture never releases the device.
func (p *Pipeline) Capture(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateReady {
		p.mu.Unlock()
		return fmt.Errorf("%w: capture in state %s", ErrNotReady, p.state)
	}
	source := p.source
	gen := p.gen
	p.mu.Unlock()

	frame, err := source.Frame(ctx)
	if err != nil {
		return fmt.Errorf("capture frame: %w", err)
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		frame.Width = camera.DefaultFrameWidth
		frame.Height = camera.DefaultFrameHeight
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return ErrReleased
	}
	if p.state != StateReady {
		return fmt.Errorf("%w: capture in state %s", ErrNotReady, p.state)
	}
	p.frame = &frame
	p.state = StateCaptured
	return nil
}

// Retake discards the held frame and returns to Ready.
//
// Policy: the live stream keeps running; only the held frame is cleared.
// This applies uniformly, including after a rejection.
func (p *Pipeline) Retake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateCaptured && p.state != StateRejected {
		return fmt.Errorf("%w: retake in state %s", ErrNotReady, p.state)
	}
	p.frame = nil
	p.rejection = ""
	p.state = StateReady
	return nil
}

// Verify runs inference on the held frame and gates acceptance on the
// threshold (inclusive). The target label matches case-insensitively; a
// label absent from the distribution counts as probability zero. An
// inference failure is distinct from a rejection and leaves the frame held.
func (p *Pipeline) Verify(ctx context.Context, targetLabel string, threshold float64) (*models.CaptureRecord, error) {
	p.mu.Lock()
	if p.state != StateCaptured && p.state != StateRejected {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: verify in state %s", ErrNotReady, p.state)
	}
	model := p.model
	frame := *p.frame
	gen := p.gen
	p.state = StateVerifying
	p.mu.Unlock()

	predictions, err := model.Predict(ctx, frame.JPEG)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return nil, ErrReleased
	}

	if err != nil {
		p.state = StateCaptured
		return nil, fmt.Errorf("verify capture: %w", err)
	}

	probability := 0.0
	for _, prediction := range predictions {
		if strings.EqualFold(prediction.Label, targetLabel) {
			probability = prediction.Probability
			break
		}
	}

	if probability < threshold {
		rejection := &RejectionError{Label: targetLabel, Confidence: probability, Threshold: threshold}
		p.rejection = rejection.Error()
		p.state = StateRejected
		return nil, rejection
	}

	record, err := p.storeRecord(frame, probability)
	if err != nil {
		p.state = StateCaptured
		return nil, err
	}
	p.rejection = ""
	p.state = StateVerified
	return record, nil
}

// Release tears the session down on every exit path: it stops the camera,
// invalidates in-flight results, and is safe to call repeatedly, even after
// a partially completed acquisition.
func (p *Pipeline) Release() {
	p.mu.Lock()
	source := p.source
	p.source = nil
	p.model = nil
	p.frame = nil
	p.gen++
	p.state = StateReleased
	p.mu.Unlock()

	if source != nil {
		_ = source.Close()
	}
}

// storeRecord writes the frame to the image directory and builds the record.
// Called with p.mu held.
func (p *Pipeline) storeRecord(frame camera.Frame, probability float64) (*models.CaptureRecord, error) {
	if err := os.MkdirAll(p.opts.ImageDir, 0o700); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}

	digest := blake2b.Sum256(frame.JPEG)
	name := hex.EncodeToString(digest[:]) + ".jpg"
	path := filepath.Join(p.opts.ImageDir, name)
	if err := os.WriteFile(path, frame.JPEG, 0o600); err != nil {
		return nil, fmt.Errorf("write capture image: %w", err)
	}

	return &models.CaptureRecord{
		Image:      name,
		ImageSize:  int64(len(frame.JPEG)),
		Confidence: probability,
		VerifiedAt: p.opts.now().UnixMilli(),
		Location:   p.opts.Location,
		Coords:     p.opts.Coords,
	}, nil
}
