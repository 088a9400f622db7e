package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/id"
)

// DLQCountResponse is the body of GET /v1/dlq/count.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	entries, err := a.eng.ListDLQ(r.Context(), dlq.ListOpts{
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
		TenantID: r.URL.Query().Get("tenant_id"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.eng.Store().CountDLQ(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, DLQCountResponse{Count: n})
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, ok := a.dlqIDParam(w, r)
	if !ok {
		return
	}
	entry, err := a.eng.Store().GetDLQ(r.Context(), entryID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entry)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, ok := a.dlqIDParam(w, r)
	if !ok {
		return
	}
	j, err := a.eng.ReplayDLQ(r.Context(), entryID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) dlqIDParam(w http.ResponseWriter, r *http.Request) (id.DLQID, bool) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid DLQ entry ID: %v", err))
		return id.Nil, false
	}
	return entryID, true
}
