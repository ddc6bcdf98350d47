package storage

import (
	"context"
	"testing"

	"moonletter/gateway"
	"moonletter/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustInsert(t *testing.T, store *Store, sender, recipient, body string) models.Message {
	t.Helper()

	row, err := store.InsertMessage(context.Background(), gateway.NewMessage{
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
	})
	if err != nil {
		t.Fatalf("insert message %q -> %q: %v", sender, recipient, err)
	}
	return row
}

func testCapture(verifiedAt int64) models.CaptureRecord {
	return models.CaptureRecord{
		Image:      "0a1b2c3d.jpg",
		ImageSize:  2048,
		Confidence: 0.95,
		VerifiedAt: verifiedAt,
		Location:   "Lisbon",
		Coords:     &models.Coordinates{Lat: 38.72, Lon: -9.14},
	}
}
