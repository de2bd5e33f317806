package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"lexintake.org/internal/apperr"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/obs"
	"lexintake.org/internal/ratelimit"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorDetails(w, r, code, msg, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, code int, msg string, details any) {
	payload := map[string]any{"error": msg}
	if details != nil {
		payload["details"] = details
	}
	// Client errors keep the bare envelope; X-Request-ID already carries
	// the id. Server errors repeat it so support can find the log line.
	if code >= http.StatusInternalServerError {
		if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
	}
	writeJSON(w, code, payload)
}

func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.MissingCredential, apperr.InvalidCredential:
		return http.StatusUnauthorized
	case apperr.InsufficientScope:
		return http.StatusForbidden
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.ValidationFailed:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.UpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError is the single place where error kinds become HTTP
// responses. Internal causes are logged, never serialized.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Wrap(apperr.Unexpected, "Unexpected error", err)
	}
	code := statusForKind(ae.Kind)
	if code >= 500 {
		obs.Logger().Error("request failed",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("kind", string(ae.Kind)),
			zap.Error(err),
		)
	}
	if ae.Kind == apperr.RateLimited && ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(ae.RetryAfter.Seconds()))))
	}
	writeErrorDetails(w, r, code, ae.Message, ae.Details)
}

func setRateHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

var errContentType = apperr.Validation("Content-Type must be application/json", nil)

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
// and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return errContentType
	}
	reader := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return bodyError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return apperr.Validation("Unexpected data after JSON body", nil)
		}
		return bodyError(err)
	}
	return nil
}

func bodyError(err error) error {
	var (
		maxErr  *http.MaxBytesError
		syntax  *json.SyntaxError
		typeErr *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, io.EOF):
		return apperr.Validation("Request body is required", nil)
	case errors.As(err, &maxErr):
		return apperr.Validation(fmt.Sprintf("Request body must be %d bytes or fewer", maxErr.Limit), nil)
	case errors.As(err, &syntax), errors.Is(err, io.ErrUnexpectedEOF):
		return apperr.Validation("Invalid JSON body", nil)
	case errors.As(err, &typeErr):
		return apperr.Validation(fmt.Sprintf("Field %q has the wrong type", typeErr.Field), nil)
	default:
		// Unknown fields and custom unmarshalers land here.
		return apperr.Validation("Invalid request body", map[string]string{"reason": err.Error()})
	}
}
