package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/engine"
)

// SubmitResponse is returned for an accepted capture.
type SubmitResponse struct {
	SessionID string `json:"session_id"`
}

// ResolveRequest is the optional body of a resolve call.
type ResolveRequest struct {
	Note string `json:"note"`
}

// RetryResponse reports the outcome of a manual retry.
type RetryResponse struct {
	SessionID string `json:"session_id"`
	Delivered bool   `json:"delivered"`
}

func (a *API) submitCapture(w http.ResponseWriter, r *http.Request) {
	var c engine.Capture
	if err := decodeBody(r, &c); err != nil {
		badRequest(w, "%v", err)
		return
	}
	sessionID, err := a.eng.Submit(r.Context(), c)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{SessionID: sessionID})
}

func (a *API) listBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	attention, err := queryBool(r, "attention")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	statuses, err := parseStatuses(r.URL.Query()["status"])
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	batches, err := a.eng.ListBatches(r.Context(), batch.ListOpts{
		Statuses:  statuses,
		Attention: attention,
		Newest:    r.URL.Query().Get("order") != "asc",
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(batches))
}

func (a *API) listAttention(w http.ResponseWriter, r *http.Request) {
	batches, err := a.eng.ListAttention(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(batches))
}

func (a *API) getBatch(w http.ResponseWriter, r *http.Request) {
	b, err := a.eng.Status(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) resolveBatch(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	b, err := a.eng.Resolve(r.Context(), r.PathValue("sessionId"), req.Note)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) retryBatch(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	ok, err := a.eng.Retry(r.Context(), sessionID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RetryResponse{SessionID: sessionID, Delivered: ok})
}

// parseStatuses accepts repeated and comma separated status values.
func parseStatuses(raw []string) ([]batch.Status, error) {
	var out []batch.Status
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			s := batch.Status(strings.ToUpper(part))
			if !s.Valid() {
				return nil, fmt.Errorf("invalid status %q", part)
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
