package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(MetricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			// Chat session routes
			r.Post("/session", apiHandler.CreateSessionHandler)
			r.Get("/sessions", apiHandler.ListSessionsHandler)
			r.Get("/session/{sessionID}/history", apiHandler.SessionHistoryHandler)
			r.Post("/new-chat", apiHandler.NewChatHandler)
			r.Post("/chat-stream", apiHandler.ChatStreamHandler)

			// Spreadsheet routes
			r.Post("/upload-full", apiHandler.UploadFullHandler)
			r.Post("/upload-google-sheet", apiHandler.UploadGoogleSheetHandler)
			r.Get("/session-files/{sessionID}", apiHandler.SessionFilesHandler)
			r.Post("/set-active-file", apiHandler.SetActiveFileHandler)
			r.Get("/preview/{filename}", apiHandler.PreviewHandler)
			r.Get("/download/{filename}", apiHandler.DownloadHandler)

			// Speech synthesis
			r.Post("/tts/synthesize", apiHandler.TTSSynthesizeHandler)

			// Approval workflow routes
			r.Post("/forms", apiHandler.SubmitFormHandler)
			r.Get("/{role}/queue", apiHandler.RoleQueueHandler)
			r.Post("/{role}/update-status", apiHandler.UpdateStatusHandler)
			r.Get("/{role}/form-details/{formID}", apiHandler.FormDetailsHandler)
		})
	})

	return r
}
