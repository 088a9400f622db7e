package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/syncjob"
)

// CreateJobRequest is the JSON body for POST /v1/jobs.
type CreateJobRequest struct {
	TenantID       string         `json:"tenant_id"`
	MailboxID      string         `json:"mailbox_id"`
	Kind           string         `json:"kind,omitempty"`
	EstimatedCount int            `json:"estimated_count,omitempty"`
	Priority       int            `json:"priority,omitempty"`
	MaxAttempts    int            `json:"max_attempts,omitempty"`
	Deferred       bool           `json:"deferred,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ResetRequest is the JSON body for job and chunk reset endpoints.
type ResetRequest struct {
	Reason string `json:"reason"`
}

// CancelRequest is the JSON body for POST /v1/jobs/{jobID}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// ResetJobResponse reports how many chunks a job-level reset touched.
type ResetJobResponse struct {
	ChunksReset int64 `json:"chunks_reset"`
}

func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.TenantID == "" {
		a.badRequest(w, "tenant_id is required")
		return
	}
	if req.MailboxID == "" {
		a.badRequest(w, "mailbox_id is required")
		return
	}

	j, err := a.eng.CreateSyncJob(r.Context(), syncjob.CreateRequest{
		TenantID:       req.TenantID,
		MailboxID:      req.MailboxID,
		Kind:           syncjob.Kind(req.Kind),
		EstimatedCount: req.EstimatedCount,
		Priority:       req.Priority,
		MaxAttempts:    req.MaxAttempts,
		Deferred:       req.Deferred,
		Metadata:       req.Metadata,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	status := syncjob.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = syncjob.StatusPending
	}

	jobs, err := a.eng.ListJobs(r.Context(), status, syncjob.ListOpts{
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
		TenantID: r.URL.Query().Get("tenant_id"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*syncjob.Job{}
	}
	a.writeJSON(w, http.StatusOK, jobs)
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := a.eng.Store().CountJobs(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, counts)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobIDParam(w, r)
	if !ok {
		return
	}
	j, err := a.eng.GetJob(r.Context(), jobID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) getProgress(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobIDParam(w, r)
	if !ok {
		return
	}
	p, err := a.eng.GetProgress(r.Context(), jobID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, p)
}

func (a *API) listChunks(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobIDParam(w, r)
	if !ok {
		return
	}
	chunks, err := a.eng.ListChunks(r.Context(), jobID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if chunks == nil {
		chunks = []*syncjob.Chunk{}
	}
	a.writeJSON(w, http.StatusOK, chunks)
}

func (a *API) releaseJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobIDParam(w, r)
	if !ok {
		return
	}
	j, err := a.eng.Release(r.Context(), jobID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobIDParam(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.badRequest(w, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	j, err := a.eng.Cancel(r.Context(), jobID, req.Reason)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) resetJobChunks(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobIDParam(w, r)
	if !ok {
		return
	}

	var req ResetRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.badRequest(w, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	n, err := a.eng.ResetAllChunks(r.Context(), jobID, req.Reason)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, ResetJobResponse{ChunksReset: n})
}

func (a *API) resetChunk(w http.ResponseWriter, r *http.Request) {
	chunkID, err := id.ParseChunkID(chi.URLParam(r, "chunkID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid chunk ID: %v", err))
		return
	}

	var req ResetRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.badRequest(w, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	if err := a.eng.ForceResetChunk(r.Context(), chunkID, req.Reason); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) jobIDParam(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid job ID: %v", err))
		return id.Nil, false
	}
	return jobID, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
