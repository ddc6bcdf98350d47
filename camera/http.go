package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultStreamTimeout = 10 * time.Second

// HTTPSource reads an MJPEG stream (multipart/x-mixed-replace) from an IP
// camera endpoint and keeps the newest decoded frame available.
type HTTPSource struct {
	key    string
	cancel context.CancelFunc

	mu         sync.Mutex
	latest     *Frame
	streamErr  error
	firstFrame chan struct{}
	firstOnce  sync.Once

	closeOnce sync.Once
	done      chan struct{}
}

// OpenHTTP connects to an MJPEG endpoint, applying the preferences as query
// hints, and starts pulling frames. The device key (the URL) stays owned
// until Close.
func OpenHTTP(ctx context.Context, rawURL string, prefs Preferences) (*HTTPSource, error) {
	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse camera url %q: %v", ErrNotFound, rawURL, err)
	}

	query := endpoint.Query()
	if prefs.FacingMode != "" {
		query.Set("facing", prefs.FacingMode)
	}
	if prefs.Width > 0 {
		query.Set("width", strconv.Itoa(prefs.Width))
	}
	if prefs.Height > 0 {
		query.Set("height", strconv.Itoa(prefs.Height))
	}
	endpoint.RawQuery = query.Encode()

	if err := acquireDevice(rawURL); err != nil {
		return nil, err
	}

	released := true
	defer func() {
		if released {
			releaseDevice(rawURL)
		}
	}()

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: build stream request: %v", ErrGeneric, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrGeneric, ctxErr)
		}
		return nil, fmt.Errorf("%w: connect to camera: %v", ErrNotFound, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, statusError(resp.StatusCode)
	}

	boundary, err := streamBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		_ = resp.Body.Close()
		cancel()
		return nil, err
	}

	source := &HTTPSource{
		key:        rawURL,
		cancel:     cancel,
		firstFrame: make(chan struct{}),
		done:       make(chan struct{}),
	}

	released = false
	go source.readLoop(resp.Body, boundary)
	return source, nil
}

// Frame returns the newest frame, waiting for the first one to arrive.
func (s *HTTPSource) Frame(ctx context.Context) (Frame, error) {
	select {
	case <-s.firstFrame:
	case <-s.done:
		return Frame{}, s.failure()
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("%w: %v", ErrGeneric, ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		if s.streamErr != nil {
			return Frame{}, s.streamErr
		}
		return Frame{}, ErrClosed
	}
	return *s.latest, nil
}

// Resolution reports the size of the newest frame.
func (s *HTTPSource) Resolution() (int, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return 0, 0, false
	}
	return s.latest.Width, s.latest.Height, true
}

// Close stops the stream and releases the device key.
func (s *HTTPSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		releaseDevice(s.key)
		select {
		case <-s.done:
		case <-time.After(defaultStreamTimeout):
		}
	})
	return nil
}

func (s *HTTPSource) readLoop(body io.ReadCloser, boundary string) {
	defer close(s.done)
	defer body.Close()

	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			s.setFailure(err)
			return
		}

		raw, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			s.setFailure(err)
			return
		}

		cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			// Skip undecodable parts; the stream may interleave metadata.
			continue
		}

		s.mu.Lock()
		s.latest = &Frame{JPEG: raw, Width: cfg.Width, Height: cfg.Height}
		s.mu.Unlock()
		s.firstOnce.Do(func() { close(s.firstFrame) })
	}
}

func (s *HTTPSource) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamErr == nil {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			s.streamErr = ErrClosed
		} else {
			s.streamErr = fmt.Errorf("%w: read stream: %v", ErrGeneric, err)
		}
	}
}

func (s *HTTPSource) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamErr != nil {
		return s.streamErr
	}
	return ErrClosed
}

func statusError(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: http status %d", ErrPermissionDenied, code)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: http status %d", ErrNotFound, code)
	case http.StatusConflict, http.StatusLocked, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: http status %d", ErrBusy, code)
	default:
		return fmt.Errorf("%w: http status %d", ErrGeneric, code)
	}
}

func streamBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: parse content type %q: %v", ErrGeneric, contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("%w: unexpected content type %q", ErrGeneric, mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", fmt.Errorf("%w: stream content type without boundary", ErrGeneric)
	}
	return boundary, nil
}
