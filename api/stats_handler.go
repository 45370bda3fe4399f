package api

import (
	"net/http"
	"time"
)

// NetworkResponse is the answer of a connectivity probe.
type NetworkResponse struct {
	Online    bool      `json:"online"`
	CheckedAt time.Time `json:"checked_at"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	s, err := a.eng.Stats(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) beerTypes(w http.ResponseWriter, r *http.Request) {
	types, err := a.eng.BeerTypes(r.Context())
	if err != nil {
		// Upstream catalog failure.
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, nonNil(types))
}

func (a *API) network(w http.ResponseWriter, r *http.Request) {
	online := a.eng.Network(r.Context())
	writeJSON(w, http.StatusOK, NetworkResponse{Online: online, CheckedAt: time.Now().UTC()})
}
