package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"
)

func encodeTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newMJPEGServer(t *testing.T, frames ...[]byte) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writer := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+writer.Boundary())
		w.WriteHeader(http.StatusOK)

		for _, frame := range frames {
			part, err := writer.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {fmt.Sprint(len(frame))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(frame); err != nil {
				return
			}
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}

		// Keep the stream open until the client hangs up.
		<-r.Context().Done()
	}))
}

func TestOpenHTTPDeliversFrames(t *testing.T) {
	frame := encodeTestJPEG(t, 320, 240)
	server := newMJPEGServer(t, frame)
	defer server.Close()

	source, err := OpenHTTP(context.Background(), server.URL, Preferences{FacingMode: "environment"})
	if err != nil {
		t.Fatalf("OpenHTTP failed: %v", err)
	}
	defer source.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := source.Frame(ctx)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	if got.Width != 320 || got.Height != 240 {
		t.Fatalf("expected 320x240 frame, got %dx%d", got.Width, got.Height)
	}
	if !bytes.Equal(got.JPEG, frame) {
		t.Fatalf("expected frame bytes to round-trip")
	}

	width, height, ok := source.Resolution()
	if !ok || width != 320 || height != 240 {
		t.Fatalf("expected reported resolution 320x240, got %dx%d ok=%v", width, height, ok)
	}
}

func TestOpenHTTPEnforcesExclusiveOwnership(t *testing.T) {
	frame := encodeTestJPEG(t, 64, 48)
	server := newMJPEGServer(t, frame)
	defer server.Close()

	first, err := OpenHTTP(context.Background(), server.URL, Preferences{})
	if err != nil {
		t.Fatalf("first OpenHTTP failed: %v", err)
	}

	if _, err := OpenHTTP(context.Background(), server.URL, Preferences{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for second open, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Ownership is released on close, so a re-open succeeds.
	second, err := OpenHTTP(context.Background(), server.URL, Preferences{})
	if err != nil {
		t.Fatalf("re-open after close failed: %v", err)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestOpenHTTPMapsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrPermissionDenied},
		{http.StatusForbidden, ErrPermissionDenied},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrBusy},
		{http.StatusServiceUnavailable, ErrBusy},
		{http.StatusInternalServerError, ErrGeneric},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := OpenHTTP(context.Background(), server.URL, Preferences{})
		server.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestOpenHTTPSendsPreferenceHints(t *testing.T) {
	frame := encodeTestJPEG(t, 64, 48)
	var gotQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		writer := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+writer.Boundary())
		w.WriteHeader(http.StatusOK)
		part, _ := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
		_, _ = part.Write(frame)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	source, err := OpenHTTP(context.Background(), server.URL, Preferences{
		FacingMode: "environment",
		Width:      1280,
		Height:     720,
	})
	if err != nil {
		t.Fatalf("OpenHTTP failed: %v", err)
	}
	defer source.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := source.Frame(ctx); err != nil {
		t.Fatalf("Frame failed: %v", err)
	}

	for _, want := range []string{"facing=environment", "width=1280", "height=720"} {
		if !bytes.Contains([]byte(gotQuery), []byte(want)) {
			t.Fatalf("expected query %q to contain %q", gotQuery, want)
		}
	}
}
