package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi"
)

func (h *Handler) SetRoutes(r *chi.Mux) {
	r.Get("/", h.Info)

	r.Route("/raffle", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/entries/{address}", h.WalletEntries)
		r.Get("/ws", h.HandleWebSocket)
	})

	// paid route, the gate settles before Enter runs
	r.With(h.gate.Require).Post("/btc-raffle-enter", h.Enter)

	// aliases kept for older clients
	r.Get("/lottery/status", redirect("/raffle/status"))
	r.Get("/lottery/entries/{address}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/raffle/entries/"+url.PathEscape(chi.URLParam(r, "address")), http.StatusTemporaryRedirect)
	})
	r.Post("/btc-lottery-buy", redirect("/btc-raffle-enter"))

	r.Route("/admin", func(r chi.Router) {
		r.Post("/token", h.IssueToken)
		r.Get("/rounds", h.Rounds)

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(h.AdminOnly)

			r.Post("/draw", h.Draw)
			r.Get("/entries", h.AdminEntries)
		})
	})
}

func redirect(to string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, to, http.StatusTemporaryRedirect)
	}
}
