package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marchway/mailsync/audit"
	"github.com/marchway/mailsync/protection"
)

// SweepResponse is the body of POST /v1/sweep.
type SweepResponse struct {
	Reclaimed int `json:"reclaimed"`
}

func (a *API) getProtection(w http.ResponseWriter, r *http.Request) {
	st, err := a.eng.ProtectionStats(r.Context(),
		chi.URLParam(r, "tenantID"), chi.URLParam(r, "operation"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if st == nil {
		// No calls recorded yet for this tenant+operation.
		a.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no protection state"})
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

func (a *API) listProtection(w http.ResponseWriter, r *http.Request) {
	states, err := a.eng.Store().ListProtection(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if states == nil {
		states = []*protection.State{}
	}
	a.writeJSON(w, http.StatusOK, states)
}

func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := a.eng.ListAudit(r.Context(), audit.ListOpts{
		TenantID:   q.Get("tenant_id"),
		Action:     q.Get("action"),
		ResourceID: q.Get("resource_id"),
		Limit:      queryInt(r, "limit", 100),
		Offset:     queryInt(r, "offset", 0),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) sweep(w http.ResponseWriter, r *http.Request) {
	n, err := a.eng.Sweep(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, SweepResponse{Reclaimed: n})
}
