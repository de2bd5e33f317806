package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"lexintake.org/internal/apperr"
	"lexintake.org/internal/auth"
	"lexintake.org/internal/intake"
)

func sessionActor(r *http.Request) intake.Actor {
	u, _ := auth.SessionFromContext(r.Context())
	return intake.Actor{FirmID: u.FirmID, UserID: u.UserID, IP: clientIP(r)}
}

func keyActor(r *http.Request) intake.Actor {
	c, _ := auth.CallerFromContext(r.Context())
	return intake.Actor{FirmID: c.FirmID, IP: clientIP(r)}
}

// page reads limit and offset query parameters.
func page(r *http.Request, defLimit int) (limit, offset int, err error) {
	limit, err = queryInt(r, "limit", defLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err = queryInt(r, "offset", 0)
	return limit, offset, err
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Validation(name+" must be a non-negative integer", nil)
	}
	return v, nil
}

func (a *API) handleListClients(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r, 100)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	clients, err := a.deps.Intake.ListClients(r.Context(), sessionActor(r), limit, offset)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(clients))
}

func (a *API) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var in intake.ClientInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	c, err := a.deps.Intake.CreateClient(r.Context(), sessionActor(r), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleExternalClient(w http.ResponseWriter, r *http.Request) {
	var in intake.ExternalClientInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := a.deps.Intake.UpsertExternalClient(r.Context(), keyActor(r), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, res)
}

func (a *API) handleUpdateMatter(w http.ResponseWriter, r *http.Request) {
	var in intake.MatterUpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	m, err := a.deps.Intake.UpdateMatter(r.Context(), keyActor(r), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "matter": m})
}

func (a *API) handleExportMatters(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r, 0)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	out, err := a.deps.Intake.ExportMatters(r.Context(), keyActor(r), limit, offset)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleExternalLead(w http.ResponseWriter, r *http.Request) {
	var in intake.ExternalLeadInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := a.deps.Intake.CaptureExternalLead(r.Context(), keyActor(r), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Lead saved", "lead_id": res.LeadID})
}

func (a *API) handleFirmLead(w http.ResponseWriter, r *http.Request) {
	var in intake.LeadInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	remaining := 0
	if d, ok := decisionFromContext(r.Context()); ok {
		remaining = d.Remaining
	}
	res, err := a.deps.Intake.CaptureFirmLead(r.Context(), keyActor(r), in, remaining)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeLeadResult(w, res)
}

func (a *API) handlePublicLead(w http.ResponseWriter, r *http.Request) {
	var in intake.LeadInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := a.deps.Intake.CapturePublicLead(r.Context(), clientIP(r), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeLeadResult(w, res)
}

func writeLeadResult(w http.ResponseWriter, res intake.LeadResult) {
	if !res.Created {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Email already registered"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Lead saved", "lead_id": res.LeadID})
}

func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(r.URL.Query().Get("source"))
	res, err := a.deps.Intake.Cleanup(r.Context(), clientIP(r), source)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
