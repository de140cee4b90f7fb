package detect

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ahnjh51-tft/deepguard-v1/internal/cache"
	"github.com/ahnjh51-tft/deepguard-v1/internal/database"
	"github.com/ahnjh51-tft/deepguard-v1/internal/history"
	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
)

// MaxUploadBytes is the upload size limit for detection images.
const MaxUploadBytes = 8 << 20

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// State is the workflow's position in the per-upload state machine.
type State string

const (
	StateIdle         State = "idle"
	StateFileSelected State = "file_selected"
	StateDetecting    State = "detecting"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// Upload is a validated file selection held until detection runs.
type Upload struct {
	Filename       string
	ContentType    string
	Data           []byte
	PreviewDataURL string
}

// Workflow drives detection for one session: it validates file selections,
// issues the backend call, and appends the resulting history entry. At most
// one detection runs at a time; a second call is rejected, not queued.
type Workflow struct {
	client    *Client
	history   *history.Store
	archive   database.Store // optional, nil disables archiving
	verdicts  cache.Cache    // optional, nil disables caching
	sessionID string
	userID    string
	modelName string

	mu      sync.Mutex
	state   State
	pending *Upload
	result  *models.DetectionResult
}

// NewWorkflow creates a workflow writing to the given history store. The
// archive store and verdict cache may be nil.
func NewWorkflow(client *Client, hist *history.Store, archive database.Store, verdicts cache.Cache, sessionID, userID string) *Workflow {
	return &Workflow{
		client:    client,
		history:   hist,
		archive:   archive,
		verdicts:  verdicts,
		sessionID: sessionID,
		userID:    userID,
		modelName: models.ModelNameFor(client.ModelID()),
		state:     StateIdle,
	}
}

// SelectFile validates an upload and makes it the pending file, discarding any
// previous selection and result. Rejected while a detection is in flight.
func (w *Workflow) SelectFile(filename, contentType string, data []byte) error {
	if len(data) > MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(data), MaxUploadBytes)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !allowedImageTypes[contentType] {
		return fmt.Errorf("%w: %s", ErrUnsupportedImageType, contentType)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateDetecting {
		return ErrDetectionBusy
	}
	w.pending = &Upload{
		Filename:       filename,
		ContentType:    contentType,
		Data:           data,
		PreviewDataURL: previewDataURL(contentType, data),
	}
	w.result = nil
	w.state = StateFileSelected
	return nil
}

// Detect runs one detection for the pending file. A call while another
// detection is in flight fails with ErrDetectionBusy and has no effect. On
// success the result is recorded in the session history; on failure the
// pending file is kept so the user can try again.
func (w *Workflow) Detect(ctx context.Context) (models.DetectionResult, error) {
	w.mu.Lock()
	if w.state == StateDetecting {
		w.mu.Unlock()
		return models.DetectionResult{}, ErrDetectionBusy
	}
	if w.pending == nil {
		w.mu.Unlock()
		return models.DetectionResult{}, ErrNoFileSelected
	}
	upload := w.pending
	w.state = StateDetecting
	w.mu.Unlock()

	result, err := w.run(ctx, upload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.state = StateFailed
		return models.DetectionResult{}, err
	}
	w.result = &result
	w.state = StateSucceeded
	return result, nil
}

func (w *Workflow) run(ctx context.Context, upload *Upload) (models.DetectionResult, error) {
	key := cacheKey(upload.Data, w.client.ModelID())

	var result models.DetectionResult
	cached := false
	if w.verdicts != nil {
		hit, err := w.verdicts.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("verdict cache lookup failed")
		} else if hit != nil {
			result = *hit
			cached = true
			log.Debug().Str("filename", upload.Filename).Msg("verdict cache hit")
		}
	}

	if !cached {
		var err error
		result, err = w.client.Detect(ctx, upload.Filename, upload.Data)
		if err != nil {
			return models.DetectionResult{}, err
		}
		if w.verdicts != nil {
			if err := w.verdicts.Set(ctx, key, result); err != nil {
				log.Warn().Err(err).Msg("verdict cache store failed")
			}
		}
	}

	entry := w.buildEntry(result, upload)
	w.history.Add(entry)

	if w.archive != nil {
		if err := w.archive.ArchiveDetection(ctx, w.sessionID, entry); err != nil {
			log.Warn().Err(err).Str("entry_id", entry.ID).Msg("failed to archive detection")
		}
	}

	return result, nil
}

func (w *Workflow) buildEntry(result models.DetectionResult, upload *Upload) models.HistoryEntry {
	userID := w.userID
	if userID == "" {
		userID = models.AnonymousUserID
	}
	return models.HistoryEntry{
		ID:                uuid.New().String(),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		UserID:            userID,
		ModelID:           w.client.ModelID(),
		ModelName:         w.modelName,
		ResultLabel:       models.VerdictLabel(result.IsFake),
		Confidence:        result.Confidence * 100,
		PreviewDataURL:    upload.PreviewDataURL,
		OriginalWithBoxes: result.OriginalWithBoxes,
		ElaHeatmap:        result.ElaHeatmap,
		ElaWithBoxes:      result.ElaWithBoxes,
	}
}

// ModelID returns the model identifier this workflow submits uploads under.
func (w *Workflow) ModelID() string {
	return w.client.ModelID()
}

// Reset returns the workflow to idle, discarding the pending file and result.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateDetecting {
		return ErrDetectionBusy
	}
	w.pending = nil
	w.result = nil
	w.state = StateIdle
	return nil
}

// Status reports the current state and the pending filename, if any.
func (w *Workflow) Status() (State, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var filename string
	if w.pending != nil {
		filename = w.pending.Filename
	}
	return w.state, filename
}

// LastResult returns a copy of the most recent successful result, or nil.
func (w *Workflow) LastResult() *models.DetectionResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return nil
	}
	result := *w.result
	return &result
}

func cacheKey(data []byte, modelID string) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) + ":" + modelID
}

func previewDataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
