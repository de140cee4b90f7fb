package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahnjh51-tft/deepguard-v1/internal/auth"
	"github.com/ahnjh51-tft/deepguard-v1/internal/config"
	"github.com/ahnjh51-tft/deepguard-v1/internal/database"
	"github.com/ahnjh51-tft/deepguard-v1/internal/detect"
	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
	"github.com/ahnjh51-tft/deepguard-v1/internal/session"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func pngBytes(size int) []byte {
	data := make([]byte, size)
	copy(data, pngHeader)
	return data
}

var defaultRates = config.RateLimitConfig{LoginPerMinute: 100, DetectPerMinute: 100}

type testEnv struct {
	router   http.Handler
	sessions *session.Manager
}

func newTestEnv(t *testing.T, detector http.HandlerFunc, archive database.Store, rates config.RateLimitConfig) *testEnv {
	t.Helper()

	srv := httptest.NewServer(detector)
	t.Cleanup(srv.Close)

	adminHash, err := auth.HashPassword("admin-pw")
	require.NoError(t, err)
	userHash, err := auth.HashPassword("user-pw")
	require.NoError(t, err)

	provider := auth.NewStaticProvider([]config.StaticUser{
		{Email: "admin@example.com", Name: "Admin", Role: "admin", PasswordHash: adminHash},
		{Email: "user@example.com", Name: "User", Role: "user", PasswordHash: userHash},
	})

	client := detect.NewClient(config.DetectorConfig{BaseURL: srv.URL, ModelID: models.ModelIDElaRF, TimeoutSeconds: 5})
	sessions := session.NewManager(provider, client, archive, nil, "test-secret", time.Hour)

	cfg := &config.Config{
		Server:     config.ServerConfig{Port: 8080},
		RateLimits: rates,
	}

	return &testEnv{
		router:   NewRouter(cfg, sessions, archive, embed.FS{}),
		sessions: sessions,
	}
}

func fakeDetector(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

func (env *testEnv) do(t *testing.T, method, path, token, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	body, err := json.Marshal(models.LoginRequest{Email: email, Password: password})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/login", "", "application/json", bytes.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// multipartUpload builds a detect request body. An empty filename skips the
// file part so missing-file handling can be exercised.
func multipartUpload(t *testing.T, filename, fileContentType string, data []byte, modelID string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
		h.Set("Content-Type", fileContentType)
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	if modelID != "" {
		require.NoError(t, writer.WriteField("model_id", modelID))
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)

	rec := env.do(t, http.MethodGet, "/api/health", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestLogin_TabsByRole(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)

	body, _ := json.Marshal(models.LoginRequest{Email: "admin@example.com", Password: "admin-pw"})
	rec := env.do(t, http.MethodPost, "/api/login", "", "application/json", bytes.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody(t, rec)
	assert.NotEmpty(t, resp["token"])
	assert.Equal(t, "detection", resp["default_tab"])
	user := resp["user"].(map[string]any)
	assert.Equal(t, "admin@example.com", user["email"])
	assert.Equal(t, "admin", user["role"])
	tabs := resp["tabs"].([]any)
	require.Len(t, tabs, 2)
	assert.Equal(t, "history", tabs[1].(map[string]any)["id"])

	body, _ = json.Marshal(models.LoginRequest{Email: "user@example.com", Password: "user-pw"})
	rec = env.do(t, http.MethodPost, "/api/login", "", "application/json", bytes.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody(t, rec)
	tabs = resp["tabs"].([]any)
	require.Len(t, tabs, 1)
	assert.Equal(t, "detection", tabs[0].(map[string]any)["id"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)

	body, _ := json.Marshal(models.LoginRequest{Email: "admin@example.com", Password: "wrong"})
	rec := env.do(t, http.MethodPost, "/api/login", "", "application/json", bytes.NewReader(body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "Invalid email or password")
}

func TestLogin_MalformedRequests(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)

	rec := env.do(t, http.MethodPost, "/api/login", "", "application/json", strings.NewReader("not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/login", "", "application/json", strings.NewReader(`{"email": "a@x.com"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_RateLimited(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, config.RateLimitConfig{LoginPerMinute: 1, DetectPerMinute: 100})

	body, _ := json.Marshal(models.LoginRequest{Email: "admin@example.com", Password: "admin-pw"})
	rec := env.do(t, http.MethodPost, "/api/login", "", "application/json", bytes.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ = json.Marshal(models.LoginRequest{Email: "admin@example.com", Password: "admin-pw"})
	rec = env.do(t, http.MethodPost, "/api/login", "", "application/json", bytes.NewReader(body))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)

	rec := env.do(t, http.MethodGet, "/api/session", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/session", "garbage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Basic abc123")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)
	token := env.login(t, "user@example.com", "user-pw")

	rec := env.do(t, http.MethodGet, "/api/session", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "user@example.com", resp["user"].(map[string]any)["email"])
	assert.Equal(t, "detection", resp["default_tab"])
}

func TestGetTabs(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)
	token := env.login(t, "admin@example.com", "admin-pw")

	rec := env.do(t, http.MethodGet, "/api/tabs", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Len(t, resp["tabs"].([]any), 2)
}

func TestDetect_Success(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{"is_fake": true, "confidence": 0.912,
		"original_with_boxes": "data:image/png;base64,AAA",
		"ela_heatmap": "data:image/png;base64,BBB"}`), nil, defaultRates)
	token := env.login(t, "admin@example.com", "admin-pw")

	body, contentType := multipartUpload(t, "suspect.png", "image/png", pngBytes(256), models.ModelIDElaRF)
	rec := env.do(t, http.MethodPost, "/api/detect", token, contentType, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody(t, rec)
	result := resp["result"].(map[string]any)
	assert.Equal(t, true, result["is_fake"])
	assert.InDelta(t, 0.912, result["confidence"].(float64), 1e-9)
	assert.Equal(t, models.LabelFake, resp["label"])
	gallery := resp["gallery"].([]any)
	require.Len(t, gallery, 2)
	assert.Equal(t, "Original with detected regions", gallery[0].(map[string]any)["caption"])

	// The event lands in the session history.
	rec = env.do(t, http.MethodGet, "/api/history", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decodeBody(t, rec)
	entries := hist["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "admin@example.com", entry["user_id"])
	assert.Equal(t, models.LabelFake, entry["result_label"])
	assert.InDelta(t, 91.2, entry["confidence"].(float64), 1e-9)
	stats := hist["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["total"])
	assert.Equal(t, float64(1), stats["fake"])
}

func TestDetect_LegacyPredictionShape(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{"prediction": "Fake", "confidence": 0.77}`), nil, defaultRates)
	token := env.login(t, "user@example.com", "user-pw")

	body, contentType := multipartUpload(t, "a.png", "image/png", pngBytes(64), "")
	rec := env.do(t, http.MethodPost, "/api/detect", token, contentType, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody(t, rec)
	assert.Equal(t, true, resp["result"].(map[string]any)["is_fake"])
	assert.Equal(t, models.LabelFake, resp["label"])
}

func TestDetect_MissingFile(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)
	token := env.login(t, "user@example.com", "user-pw")

	body, contentType := multipartUpload(t, "", "", nil, models.ModelIDElaRF)
	rec := env.do(t, http.MethodPost, "/api/detect", token, contentType, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "image file is required")
}

func TestDetect_UnknownModelID(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)
	token := env.login(t, "user@example.com", "user-pw")

	body, contentType := multipartUpload(t, "a.png", "image/png", pngBytes(64), "resnet_50")
	rec := env.do(t, http.MethodPost, "/api/detect", token, contentType, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "resnet_50")
}

func TestDetect_OversizedFile(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)
	token := env.login(t, "user@example.com", "user-pw")

	body, contentType := multipartUpload(t, "big.png", "image/png", pngBytes(detect.MaxUploadBytes+1), "")
	rec := env.do(t, http.MethodPost, "/api/detect", token, contentType, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "size limit")
}

func TestDetect_UpstreamFailureThenRetry(t *testing.T) {
	failing := true
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if failing {
			http.Error(w, "model crashed", http.StatusInternalServerError)
			return
		}
		fakeDetector(`{"is_fake": false, "confidence": 0.1}`)(w, r)
	}, nil, defaultRates)
	token := env.login(t, "user@example.com", "user-pw")

	body, contentType := multipartUpload(t, "a.png", "image/png", pngBytes(64), "")
	rec := env.do(t, http.MethodPost, "/api/detect", token, contentType, body)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "try again")

	// The workflow is re-attemptable after the failure.
	failing = false
	body, contentType = multipartUpload(t, "a.png", "image/png", pngBytes(64), "")
	rec = env.do(t, http.MethodPost, "/api/detect", token, contentType, body)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestDetect_RateLimited(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{"is_fake": false, "confidence": 0.5}`), nil,
		config.RateLimitConfig{LoginPerMinute: 100, DetectPerMinute: 1})
	token := env.login(t, "user@example.com", "user-pw")

	body, contentType := multipartUpload(t, "a.png", "image/png", pngBytes(64), "")
	rec := env.do(t, http.MethodPost, "/api/detect", token, contentType, body)
	require.Equal(t, http.StatusOK, rec.Code)

	body, contentType = multipartUpload(t, "b.png", "image/png", pngBytes(64), "")
	rec = env.do(t, http.MethodPost, "/api/detect", token, contentType, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHistory_RoleGating(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)
	userToken := env.login(t, "user@example.com", "user-pw")
	adminToken := env.login(t, "admin@example.com", "admin-pw")

	for _, path := range []string{
		"/api/history",
		"/api/history/export.csv",
		"/api/history/export.json",
		"/api/history/archive",
	} {
		rec := env.do(t, http.MethodGet, path, userToken, "", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}

	rec := env.do(t, http.MethodGet, "/api/history", adminToken, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHistory_RangeParam(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)
	token := env.login(t, "admin@example.com", "admin-pw")

	rec := env.do(t, http.MethodGet, "/api/history?range=weekly", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "weekly", decodeBody(t, rec)["range"])

	rec = env.do(t, http.MethodGet, "/api/history?range=yearly", token, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryExport_Downloads(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{"is_fake": false, "confidence": 0.95}`), nil, defaultRates)
	token := env.login(t, "admin@example.com", "admin-pw")

	body, contentType := multipartUpload(t, "a.png", "image/png", pngBytes(64), "")
	rec := env.do(t, http.MethodPost, "/api/detect", token, contentType, body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/history/export.csv", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv;charset=utf-8", rec.Header().Get("Content-Type"))
	disposition := rec.Header().Get("Content-Disposition")
	assert.Contains(t, disposition, "attachment")
	assert.Contains(t, disposition, "deepguard_history_")
	assert.Contains(t, disposition, ".csv")
	lines := strings.Split(rec.Body.String(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,user_id,model,result,confidence", lines[0])
	assert.Contains(t, lines[1], `"95.00"`)

	rec = env.do(t, http.MethodGet, "/api/history/export.json", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json;charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".json")
	var records []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, models.LabelReal, records[0]["result"])
}

func TestArchive_ListsAcrossSessions(t *testing.T) {
	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := newTestEnv(t, fakeDetector(`{"is_fake": true, "confidence": 0.8}`), store, defaultRates)
	token := env.login(t, "admin@example.com", "admin-pw")

	body, contentType := multipartUpload(t, "a.png", "image/png", pngBytes(64), "")
	rec := env.do(t, http.MethodPost, "/api/detect", token, contentType, body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/history/archive", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	detections := resp["detections"].([]any)
	require.Len(t, detections, 1)
	assert.Equal(t, "admin@example.com", detections[0].(map[string]any)["user_id"])
}

func TestArchive_NotConfigured(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)
	token := env.login(t, "admin@example.com", "admin-pw")

	rec := env.do(t, http.MethodGet, "/api/history/archive", token, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogout_RevokesToken(t *testing.T) {
	env := newTestEnv(t, fakeDetector(`{}`), nil, defaultRates)
	token := env.login(t, "user@example.com", "user-pw")

	rec := env.do(t, http.MethodPost, "/api/logout", token, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/session", token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, env.sessions.Count())
}
