package models

// Coordinates is an optional capture location in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CaptureRecord is the proof attached to a message by a verified moon capture.
type CaptureRecord struct {
	Image      string       `json:"image"`
	ImageSize  int64        `json:"image_size"`
	Confidence float64      `json:"confidence"`
	VerifiedAt int64        `json:"verified_at"`
	Location   string       `json:"location,omitempty"`
	Coords     *Coordinates `json:"coords,omitempty"`
}

// Message represents one letter row as persisted by the gateway.
type Message struct {
	ID           string         `json:"id"`
	Sender       string         `json:"sender"`
	Recipient    string         `json:"recipient"`
	Body         string         `json:"body"`
	Locked       bool           `json:"locked"`
	SentAt       int64          `json:"sent_at"`
	ReceiveAt    *int64         `json:"receive_at,omitempty"`
	SendPhoto    *CaptureRecord `json:"send_photo,omitempty"`
	ReceivePhoto *CaptureRecord `json:"receive_photo,omitempty"`
}

// Archived reports whether the letter has been opened with a verified capture.
func (m Message) Archived() bool {
	return m.ReceivePhoto != nil
}

const (
	// StatusSealed labels a letter still waiting for a moon capture.
	StatusSealed = "Sealed"
	// StatusOpened labels a letter whose recipient has verified a capture.
	StatusOpened = "Opened"
)

// Projection is the per-viewer relabeling of sender and recipient.
type Projection struct {
	IsSender bool
	From     string
	To       string
	Status   string
}

// Project computes viewer-relative labels for a message.
//
// The result is derived, never persisted, and must be recomputed per viewer.
func Project(m Message, viewer string) Projection {
	p := Projection{
		IsSender: m.Sender == viewer,
		Status:   StatusSealed,
	}
	if p.IsSender {
		p.From = "You"
		p.To = m.Recipient
	} else {
		p.From = m.Sender
		p.To = "You"
	}
	if m.Archived() {
		p.Status = StatusOpened
	}
	return p
}
