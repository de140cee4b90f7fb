// Package api provides HTTP router setup.
package api

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ahnjh51-tft/deepguard-v1/internal/config"
	"github.com/ahnjh51-tft/deepguard-v1/internal/database"
	"github.com/ahnjh51-tft/deepguard-v1/internal/session"
)

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg *config.Config, sessions *session.Manager, archive database.Store, staticFS embed.FS) http.Handler {
	r := chi.NewRouter()

	handler := NewHandler(sessions, archive)

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", handler.HealthCheck)

		// Login is the only other unauthenticated endpoint
		r.With(LoginRateLimitMiddleware(cfg.RateLimits.LoginPerMinute)).Post("/login", handler.Login)

		// Session-scoped routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(sessions))

			r.Post("/logout", handler.Logout)
			r.Get("/session", handler.GetSession)
			r.Get("/tabs", handler.GetTabs)

			r.With(DetectRateLimitMiddleware(cfg.RateLimits.DetectPerMinute)).Post("/detect", handler.Detect)

			// History endpoints mirror the history tab's visibility
			r.Route("/history", func(r chi.Router) {
				r.Use(AdminMiddleware)

				r.Get("/", handler.GetHistory)
				r.Get("/export.csv", handler.ExportHistoryCSV)
				r.Get("/export.json", handler.ExportHistoryJSON)
				r.Get("/archive", handler.ListArchive)
			})
		})
	})

	// Serve static frontend if enabled
	if cfg.Server.EnableUI {
		// Try to serve embedded files
		staticContent, err := fs.Sub(staticFS, "static")
		if err == nil {
			fileServer := http.FileServer(http.FS(staticContent))
			r.Handle("/*", fileServer)
		} else {
			// Serve a simple placeholder if no static files
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>DeepGuard Console</title>
    <style>
        body { font-family: system-ui, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
        h1 { color: #2563eb; }
        code { background: #f1f5f9; padding: 2px 6px; border-radius: 4px; }
        .endpoint { margin: 10px 0; }
    </style>
</head>
<body>
    <h1>DeepGuard API</h1>
    <p>The detection console API is running. Use the endpoints below:</p>

    <h2>Endpoints</h2>
    <div class="endpoint"><code>GET /api/health</code> - Health check</div>
    <div class="endpoint"><code>POST /api/login</code> - Open a session</div>
    <div class="endpoint"><code>POST /api/detect</code> - Submit an image for detection</div>
    <div class="endpoint"><code>GET /api/history</code> - Session detection history (admin)</div>
    <div class="endpoint"><code>GET /api/history/export.csv</code> - Download history as CSV (admin)</div>

    <h2>Authentication</h2>
    <p>Log in with <code>POST /api/login</code> and send the returned token as
    <code>Authorization: Bearer &lt;token&gt;</code> on every other request.</p>
</body>
</html>`))
			})
		}
	}

	return r
}
