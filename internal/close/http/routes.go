package closehttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers lock, period and reconciliation endpoints under a
// /tenants/{tenantID} router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/lock", h.getLock)
	r.Put("/lock", h.setLock)
	r.Route("/periods", func(r chi.Router) {
		r.Get("/", h.listPeriods)
		r.Get("/status", h.periodStatus)
		r.Post("/close", h.closePeriod)
		r.Post("/open", h.openPeriod)
	})
	r.Route("/reconciliations", func(r chi.Router) {
		r.Get("/", h.listReconciliations)
		r.Post("/", h.createReconciliation)
		r.Get("/validate", h.validateReconciliations)
		r.Get("/{reconID}", h.getReconciliation)
		r.Post("/{reconID}/verify", h.verifyReconciliation)
	})
}
