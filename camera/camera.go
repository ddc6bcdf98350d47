// Package camera acquires live frames for the capture pipeline. The concrete
// source consumes an MJPEG stream over HTTP; the pipeline only depends on the
// Source interface so tests substitute their own.
package camera

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrPermissionDenied indicates the device refused access.
	ErrPermissionDenied = errors.New("camera: permission denied")
	// ErrNotFound indicates no device answers at the requested address.
	ErrNotFound = errors.New("camera: device not found")
	// ErrBusy indicates the device is already held by another owner.
	ErrBusy = errors.New("camera: device busy")
	// ErrGeneric covers device failures with no more specific kind.
	ErrGeneric = errors.New("camera: device failure")
	// ErrClosed indicates the source was released before the call.
	ErrClosed = errors.New("camera: source closed")
)

const (
	// DefaultFrameWidth is used when the device reports no resolution.
	DefaultFrameWidth = 640
	// DefaultFrameHeight is used when the device reports no resolution.
	DefaultFrameHeight = 480
)

// Preferences carries facing-mode and resolution hints for acquisition.
type Preferences struct {
	FacingMode string
	Width      int
	Height     int
}

// Frame is one still image pulled from a live source.
type Frame struct {
	JPEG   []byte
	Width  int
	Height int
}

// Source is a live camera feed. Implementations hold exclusive ownership of
// the underlying device from open until Close.
type Source interface {
	// Frame returns the most recent frame, waiting for the first one if the
	// stream has not produced any yet.
	Frame(ctx context.Context) (Frame, error)

	// Resolution reports the device frame size, ok=false if unknown.
	Resolution() (width, height int, ok bool)

	// Close stops the stream and releases the device. Safe to call twice.
	Close() error
}

// devices tracks which device keys are currently owned so a second open
// before release fails instead of silently sharing the handle.
var devices = struct {
	mu   sync.Mutex
	held map[string]struct{}
}{held: make(map[string]struct{})}

func acquireDevice(key string) error {
	devices.mu.Lock()
	defer devices.mu.Unlock()
	if _, taken := devices.held[key]; taken {
		return ErrBusy
	}
	devices.held[key] = struct{}{}
	return nil
}

func releaseDevice(key string) {
	devices.mu.Lock()
	defer devices.mu.Unlock()
	delete(devices.held, key)
}
