package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter mounts the handler's routes. The webhook route sits outside the
// actor group: the processor authenticates by signature, not user identity.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", h.readyz)

	r.Post("/webhooks/stripe", h.stripeWebhook)
	r.Get("/codes/{code}", h.lookupCode)

	r.Group(func(r chi.Router) {
		r.Use(actorMiddleware)
		r.Post("/codes", h.createCode)
		r.Post("/referrals", h.createReferral)
		r.Get("/users/{user_id}/stats", h.getStats)
		r.Get("/users/{user_id}/referrals", h.listReferrals)
		r.Get("/users/{user_id}/commissions", h.listCommissions)
	})
	return r
}
