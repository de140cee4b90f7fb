// Package models defines the core data structures used throughout the application.
package models

import (
	"strings"
	"time"
)

// Role is the authorization role attached to a console user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is the identity issued by the auth provider at login. It is immutable
// for the lifetime of the session that carries it.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// AnonymousUserID is recorded on history entries when no user is attached.
const AnonymousUserID = "anonymous"

// The single registered detection model. The console always submits uploads to
// the ELA + Random Forest backend under this identifier.
const (
	ModelIDElaRF   = "ela_rf"
	ModelNameElaRF = "ELA + Random Forest"
)

// ModelNameFor returns the display name for a model identifier. Unregistered
// identifiers fall back to the identifier itself.
func ModelNameFor(id string) string {
	if id == ModelIDElaRF {
		return ModelNameElaRF
	}
	return id
}

// DetectionResult is the canonical, normalized outcome of one detection call.
// Confidence is the fake-probability in [0,1]; the ×100 conversion happens only
// at the history boundary. The explainability images are embeddable references
// (data URLs or plain URLs) and may be empty.
type DetectionResult struct {
	IsFake            bool    `json:"is_fake"`
	Confidence        float64 `json:"confidence"`
	OriginalWithBoxes string  `json:"original_with_boxes,omitempty"`
	ElaHeatmap        string  `json:"ela_heatmap,omitempty"`
	ElaWithBoxes      string  `json:"ela_with_boxes,omitempty"`
	Message           string  `json:"message,omitempty"`
}

// HistoryEntry is one detection event as recorded by the history store.
// Entries are append-only and fully populated by the detection workflow;
// the store assigns nothing. Confidence is a percentage (0–100).
type HistoryEntry struct {
	ID                string  `json:"id"`
	Timestamp         string  `json:"timestamp"`
	UserID            string  `json:"user_id"`
	ModelID           string  `json:"model_id"`
	ModelName         string  `json:"model_name"`
	ResultLabel       string  `json:"result_label"`
	Confidence        float64 `json:"confidence"`
	PreviewDataURL    string  `json:"preview_data_url,omitempty"`
	OriginalWithBoxes string  `json:"original_with_boxes,omitempty"`
	ElaHeatmap        string  `json:"ela_heatmap,omitempty"`
	ElaWithBoxes      string  `json:"ela_with_boxes,omitempty"`
}

// Human-readable verdict labels. The Japanese marker in the real label is the
// contract downstream classification depends on; see IsRealLabel.
const (
	LabelReal = "本物 (Real)"
	LabelFake = "偽物 (Fake)"

	realMarker = "本物"
)

// VerdictLabel returns the canonical result label for a verdict.
func VerdictLabel(isFake bool) string {
	if isFake {
		return LabelFake
	}
	return LabelReal
}

// IsRealLabel classifies a result label: an entry is real exactly when its
// label contains the real marker, otherwise it counts as fake. The substring
// check is a deliberate simplification kept from the original console and is
// relied on by stats and filtering.
func IsRealLabel(label string) bool {
	return strings.Contains(label, realMarker)
}

// LoginRequest is the request body for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ArchivedDetection is a history entry mirrored into the database, tagged with
// the session that produced it.
type ArchivedDetection struct {
	SessionID  string    `json:"session_id"`
	ArchivedAt time.Time `json:"archived_at"`
	HistoryEntry
}

// DatasetImage is one ingested training image and its derived metadata.
// Checksum (SHA-256 of the raw bytes) is the dedupe key; PHash is the
// perceptual hash stored as a signed 64-bit value.
type DatasetImage struct {
	ID           int64     `json:"id"`
	BucketName   string    `json:"bucket_name"`
	ObjectPath   string    `json:"object_path"`
	Domain       string    `json:"domain"`
	Authenticity string    `json:"authenticity"`
	Split        string    `json:"split"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	Checksum     string    `json:"checksum"`
	PHash        int64     `json:"phash"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	ThumbPath    string    `json:"thumb_path"`
	ThumbWidth   int       `json:"thumb_width"`
	ThumbHeight  int       `json:"thumb_height"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
}
