package httpapi

import (
	"net/http"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/gdpr"
)

func (a *API) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.SessionFromContext(r.Context())
	a.export(w, r, gdpr.Requester{FirmID: u.FirmID, UserID: u.UserID, IP: clientIP(r)})
}

// handleExportMe returns only the signed-in user's profile and the audit
// events they caused.
func (a *API) handleExportMe(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.SessionFromContext(r.Context())
	doc, err := a.deps.GDPR.ExportUser(r.Context(), gdpr.Requester{FirmID: u.FirmID, UserID: u.UserID, IP: clientIP(r)})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeAttachment(w, doc.Filename(), doc)
}

func (a *API) handleExternalExport(w http.ResponseWriter, r *http.Request) {
	c, _ := auth.CallerFromContext(r.Context())
	a.export(w, r, gdpr.Requester{FirmID: c.FirmID, IP: clientIP(r)})
}

func (a *API) export(w http.ResponseWriter, r *http.Request, req gdpr.Requester) {
	doc, err := a.deps.GDPR.Export(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeAttachment(w, doc.Filename(), doc)
}

// handleDeleteMyData erases the signed-in user's firm data. The session
// rows are gone afterwards, so cookies are cleared either way.
func (a *API) handleDeleteMyData(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.SessionFromContext(r.Context())
	res := a.deps.GDPR.DeleteUserData(r.Context(), u.FirmID, u.UserID, clientIP(r))
	a.clearSessionCookies(w)
	code := http.StatusOK
	if !res.Success {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, res)
}
