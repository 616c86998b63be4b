package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(origins) == 0 {
		origins = defaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health.HandleHealth)
	r.Get("/health/live", h.health.HandleLiveness)

	r.Route("/api", func(r chi.Router) {
		r.Use(jsonOnly)

		r.Post("/tags", h.ApplyTag)
		r.Delete("/subjects/{subjectID}/tags/{label}", h.RemoveTag)
		r.Get("/subjects/{subjectID}/score", h.SubjectScore)
		r.Get("/subjects/{subjectID}/enrollments", h.SubjectEnrollments)

		r.Post("/events", h.LifecycleEvent)
		r.Post("/engagement", h.Engagement)

		r.Post("/enrollments", h.Enroll)
		r.Get("/enrollments/{id}", h.GetEnrollment)
		r.Post("/enrollments/{id}/pause", h.Pause)
		r.Post("/enrollments/{id}/resume", h.Resume)
		r.Delete("/enrollments/{subjectID}/{sequenceID}", h.Exit)

		r.Post("/ticks/dispatch", h.RunDispatch)
		r.Post("/ticks/nudges", h.RunNudges)
	})

	return r
}

// jsonOnly rejects request bodies that are not JSON.
func jsonOnly(next http.Handler) http.Handler {
	return middleware.AllowContentType("application/json")(next)
}
