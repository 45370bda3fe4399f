package api

import (
	"net/http"
	"strings"

	"github.com/xraph/kegsync/id"
	"github.com/xraph/kegsync/pallet"
)

// AdvancePalletRequest moves a pallet to a later shipment status.
type AdvancePalletRequest struct {
	Status string `json:"status"`
}

func (a *API) listPallets(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var status pallet.Status
	if v := r.URL.Query().Get("status"); v != "" {
		status = pallet.Status(strings.ToUpper(v))
		if !status.Valid() {
			badRequest(w, "invalid status %q", v)
			return
		}
	}
	pallets, err := a.eng.ListPallets(r.Context(), pallet.ListOpts{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(pallets))
}

func (a *API) advancePallet(w http.ResponseWriter, r *http.Request) {
	palletID, err := id.ParsePalletID(r.PathValue("palletId"))
	if err != nil {
		badRequest(w, "invalid pallet ID: %v", err)
		return
	}
	var req AdvancePalletRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	p, err := a.eng.AdvancePallet(r.Context(), palletID, pallet.Status(strings.ToUpper(req.Status)))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
