package httpapi

import (
	"net/http"

	"lexintake.org/internal/apperr"
	"lexintake.org/internal/auth"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeAppError(w, r, apperr.Validation("email and password are required", nil))
		return
	}
	res, err := a.deps.Auth.SignIn(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	a.setSessionCookies(w, res)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.SessionFromContext(r.Context())
	if err := a.deps.Auth.SignOut(r.Context(), u, clientIP(r)); err != nil {
		writeAppError(w, r, err)
		return
	}
	a.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type rotateKeyRequest struct {
	FirmID string   `json:"firm_id"`
	Scopes []string `json:"scopes,omitempty"`
}

func (a *API) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	var req rotateKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	issued, err := a.deps.Auth.RotateAPIKey(r.Context(), req.FirmID, req.Scopes, clientIP(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}
