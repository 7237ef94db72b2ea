package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts every session endpoint on a router. propagate serves the
// websocket propagation stream and is wired separately because it lives
// outside the JSON request/response surface.
func Routes(r chi.Router, h *Handler, propagate http.HandlerFunc) {
	r.Get("/api/health", h.Health)
	r.Post("/api/videos/upload", h.UploadVideo)
	r.Route("/api/sessions/{session_id}", func(r chi.Router) {
		r.Get("/frames/{frame}", h.GetFrame)
		r.Get("/frames/{frame}/overlay.jpg", h.GetOverlayFrame)
		r.Post("/prompt/text", h.PromptText)
		r.Post("/prompt/clicks", h.PromptClicks)
		r.Post("/objects", h.CreateObject)
		r.Get("/objects", h.ListObjects)
		r.Post("/objects/{obj_id}/remove", h.RemoveObject)
		r.Post("/objects/{obj_id}/visibility", h.SetObjectVisibility)
		r.Patch("/objects/{obj_id}", h.RenameObject)
		r.Post("/reset", h.ResetSession)
		r.Delete("/", h.DeleteSession)
		r.Get("/propagate", propagate)
	})
}
