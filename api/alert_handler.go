package api

import (
	"net/http"

	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/event"
	"github.com/xraph/kegsync/id"
	"github.com/xraph/kegsync/retryq"
)

func (a *API) listRetries(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	entries, err := a.eng.ListRetries(r.Context(), retryq.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (a *API) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	unresolved, err := queryBool(r, "unresolved")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	q := r.URL.Query()
	alerts, err := a.eng.ListAlerts(r.Context(), alert.ListOpts{
		Type:       alert.Type(q.Get("type")),
		SessionID:  q.Get("session_id"),
		Unresolved: unresolved,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(alerts))
}

func (a *API) resolveAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := id.ParseAlertID(r.PathValue("alertId"))
	if err != nil {
		badRequest(w, "invalid alert ID: %v", err)
		return
	}
	if err := a.eng.ResolveAlert(r.Context(), alertID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	events, err := a.eng.ListEvents(r.Context(), event.ListOpts{
		Type:   event.Type(r.URL.Query().Get("type")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}
