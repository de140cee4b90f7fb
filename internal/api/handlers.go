// Package api provides HTTP API handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ahnjh51-tft/deepguard-v1/internal/auth"
	"github.com/ahnjh51-tft/deepguard-v1/internal/database"
	"github.com/ahnjh51-tft/deepguard-v1/internal/detect"
	"github.com/ahnjh51-tft/deepguard-v1/internal/history"
	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
	"github.com/ahnjh51-tft/deepguard-v1/internal/session"
	"github.com/ahnjh51-tft/deepguard-v1/internal/view"
)

// multipartSlack covers form boundaries and headers so an upload at the exact
// image size limit still parses; the limit itself is enforced on the file bytes.
const multipartSlack = 1 << 20

// Handler contains all HTTP handlers.
type Handler struct {
	sessions *session.Manager
	archive  database.Store // optional, nil disables the archive endpoint
}

// NewHandler creates a new handler.
func NewHandler(sessions *session.Manager, archive database.Store) *Handler {
	return &Handler{
		sessions: sessions,
		archive:  archive,
	}
}

// HealthCheck returns the service health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, http.StatusOK, response)
}

// Login verifies credentials and opens a fresh session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	sess, token, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		log.Error().Err(err).Msg("Login failed")
		writeError(w, http.StatusBadGateway, "Authentication service unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":       token,
		"user":        sess.User,
		"tabs":        view.VisibleTabs(sess.User.Role),
		"default_tab": view.DefaultTab(sess.User.Role),
	})
}

// Logout ends the session, revoking its token and discarding its history.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r.Context())
	h.sessions.Logout(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

// GetSession returns the logged-in user and what the console shows them.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":        sess.User,
		"tabs":        view.VisibleTabs(sess.User.Role),
		"default_tab": view.DefaultTab(sess.User.Role),
	})
}

// GetTabs returns the tabs visible to the session's role.
func (h *Handler) GetTabs(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tabs":        view.VisibleTabs(sess.User.Role),
		"default_tab": view.DefaultTab(sess.User.Role),
	})
}

// Detect accepts an image upload, runs one detection and returns the verdict
// with its explainability gallery. The session's history records the event.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, detect.MaxUploadBytes+multipartSlack)
	if err := r.ParseMultipartForm(detect.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Upload too large or malformed")
		return
	}

	if modelID := r.FormValue("model_id"); modelID != "" && modelID != sess.Workflow.ModelID() {
		writeError(w, http.StatusBadRequest, "Unknown model_id: "+modelID)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "An image file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	if err := sess.Workflow.SelectFile(header.Filename, header.Header.Get("Content-Type"), data); err != nil {
		writeDetectError(w, err)
		return
	}

	result, err := sess.Workflow.Detect(r.Context())
	if err != nil {
		writeDetectError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":  result,
		"label":   models.VerdictLabel(result.IsFake),
		"gallery": view.Gallery(result),
	})
}

// GetHistory returns the session's detection log and its aggregate counts. The
// optional range parameter is validated and echoed back; it does not narrow
// the list.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r.Context())

	rng := r.URL.Query().Get("range")
	var entries []models.HistoryEntry
	if rng != "" {
		var err error
		entries, err = sess.History.FilterByRange(history.Range(rng))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid range: "+rng)
			return
		}
	} else {
		entries = sess.History.Entries()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"stats":   sess.History.Stats(),
		"range":   rng,
	})
}

// ExportHistoryCSV downloads the session history as a CSV file.
func (h *Handler) ExportHistoryCSV(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r.Context())

	w.Header().Set("Content-Type", "text/csv;charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename("csv")+`"`)
	w.Write([]byte(sess.History.ExportCSV()))
}

// ExportHistoryJSON downloads the session history as a JSON file.
func (h *Handler) ExportHistoryJSON(w http.ResponseWriter, r *http.Request) {
	sess := getSession(r.Context())

	out, err := sess.History.ExportJSON()
	if err != nil {
		log.Error().Err(err).Msg("Failed to export history")
		writeError(w, http.StatusInternalServerError, "Failed to export history")
		return
	}

	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename("json")+`"`)
	w.Write([]byte(out))
}

// ListArchive returns paginated detection records persisted across sessions.
func (h *Handler) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "Archive not configured")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	detections, err := h.archive.ListArchivedDetections(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list archived detections")
		writeError(w, http.StatusInternalServerError, "Failed to list archived detections")
		return
	}
	if detections == nil {
		detections = []*models.ArchivedDetection{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"detections": detections,
		"limit":      limit,
		"offset":     offset,
	})
}

func exportFilename(ext string) string {
	return fmt.Sprintf("deepguard_history_%d.%s", time.Now().UnixMilli(), ext)
}

// writeDetectError maps workflow and backend failures onto HTTP statuses:
// invalid uploads are 400, a concurrent attempt is 409, a failed backend call
// is 502 with a message suggesting a retry.
func writeDetectError(w http.ResponseWriter, err error) {
	var se *detect.ServerError
	switch {
	case errors.Is(err, detect.ErrDetectionBusy):
		writeError(w, http.StatusConflict, "A detection is already in progress")
	case errors.Is(err, detect.ErrFileTooLarge),
		errors.Is(err, detect.ErrUnsupportedImageType),
		errors.Is(err, detect.ErrNoFileSelected):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &se):
		log.Error().Err(err).Msg("Detection failed")
		writeError(w, http.StatusBadGateway, "Detection service unavailable, please try again")
	default:
		log.Error().Err(err).Msg("Detection failed")
		writeError(w, http.StatusInternalServerError, "Detection failed")
	}
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
