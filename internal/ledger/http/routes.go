package ledgerhttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers ledger endpoints under a /tenants/{tenantID} router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/entries", func(r chi.Router) {
		r.Get("/", h.listEntries)
		r.Post("/", h.postEntry)
		r.Get("/{entryID}", h.getEntry)
	})
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.listAccounts)
		r.Post("/", h.createAccount)
		r.Get("/{code}", h.getAccount)
		r.Patch("/{code}", h.setAccountActive)
		r.Get("/{code}/balance", h.getBalance)
	})
	r.Post("/events/{kind}", h.postEvent)
}
