package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lexintake.org/internal/aml"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/auth"
)

func amlActor(r *http.Request) aml.Actor {
	c, _ := auth.CallerFromContext(r.Context())
	return aml.Actor{FirmID: c.FirmID, IP: clientIP(r)}
}

func (a *API) handleCreateCheck(w http.ResponseWriter, r *http.Request) {
	var in aml.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := a.deps.AML.Create(r.Context(), amlActor(r), in)
	if err != nil {
		if errors.Is(err, aml.ErrProviderUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":      "AML check failed",
				"status":     aml.StatusPending,
				"request_id": audit.RequestIDFromContext(r.Context()),
			})
			return
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleGetChecks serves one check by path or query id, else a list.
func (a *API) handleGetChecks(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.CallerFromContext(r.Context())
	id := chi.URLParam(r, "checkID")
	if id == "" {
		q := r.URL.Query()
		id = q.Get("check_id")
		if id == "" {
			id = q.Get("checkId")
		}
	}
	if id != "" {
		c, err := a.deps.AML.Get(r.Context(), caller.FirmID, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
		return
	}
	limit, offset, err := page(r, 0)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	checks, err := a.deps.AML.List(r.Context(), caller.FirmID, aml.ListFilter{
		ClientID: r.URL.Query().Get("client_id"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(checks))
}

func (a *API) handleUpdateCheck(w http.ResponseWriter, r *http.Request) {
	var in aml.StatusInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	c, err := a.deps.AML.UpdateStatus(r.Context(), amlActor(r), chi.URLParam(r, "checkID"), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
