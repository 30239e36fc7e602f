package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authbridge"
	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Error codes returned in the "error" field.
const (
	codeUnauthorized       = "unauthorized"
	codeRateLimited        = "rate_limited"
	codeIntegrityConflict  = "account_integrity_conflict"
	codeMigrationRequired  = "migration_required"
	codeInvalidRequest     = "invalid_request"
	codeEmailNotVerified   = "email_not_verified"
	codeTOTPInvalidCode    = "totp_invalid_code"
	codeTOTPAlreadyEnabled = "totp_already_enabled"
	codeTOTPNotEnabled     = "totp_not_enabled"
	codeTOTPSetupNotFound  = "totp_setup_not_found"
	codeTOTPAttempts       = "totp_attempts_exceeded"
	codeInternal           = "internal_error"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

var errMissingRefreshCookie = errors.New("missing refresh cookie")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: codeUnauthorized})
}

// writeError maps err onto a status and body. retryAfter is only used for
// rate-limit errors.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error, retryAfter time.Duration) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: codeInvalidRequest, Reason: validationReason(verrs)})

	case errors.Is(err, authbridge.ErrInvalidCredentials),
		errors.Is(err, authbridge.ErrInvalidRefreshToken),
		errors.Is(err, authbridge.ErrUnauthorized),
		errors.Is(err, authbridge.ErrUserNotFound),
		errors.Is(err, errMissingRefreshCookie):
		writeUnauthorized(w)

	case errors.Is(err, authbridge.ErrLoginRateLimited),
		errors.Is(err, authbridge.ErrRefreshRateLimited),
		errors.Is(err, authbridge.ErrTOTPRateLimited):
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
		}
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: codeRateLimited})

	case errors.Is(err, authbridge.ErrDataIntegrity):
		capture(r, err)
		log.Error().Err(err).Str("path", r.URL.Path).Msg("account integrity conflict")
		writeJSON(w, http.StatusConflict, errorBody{Error: codeIntegrityConflict})

	case errors.Is(err, authbridge.ErrMigrationRequired):
		writeJSON(w, http.StatusPreconditionRequired, errorBody{Error: codeMigrationRequired})

	case errors.Is(err, authbridge.ErrEmailNotVerified):
		writeJSON(w, http.StatusForbidden, errorBody{Error: codeEmailNotVerified})

	case errors.Is(err, authbridge.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: codeInvalidRequest, Reason: err.Error()})

	case errors.Is(err, authbridge.ErrTOTPInvalidCode):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: codeTOTPInvalidCode})
	case errors.Is(err, authbridge.ErrTOTPAlreadyEnabled):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: codeTOTPAlreadyEnabled})
	case errors.Is(err, authbridge.ErrTOTPNotEnabled):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: codeTOTPNotEnabled})
	case errors.Is(err, authbridge.ErrTOTPSetupNotFound):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: codeTOTPSetupNotFound})
	case errors.Is(err, authbridge.ErrTOTPAttemptsExceeded):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: codeTOTPAttempts})

	default:
		capture(r, err)
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: codeInternal})
	}
}

func retrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	return max(s, 1)
}

func validationReason(verrs validator.ValidationErrors) string {
	if len(verrs) == 0 {
		return ""
	}
	fe := verrs[0]
	return fe.Field() + " failed " + fe.Tag()
}

func capture(r *http.Request, err error) {
	hub := sentry.GetHubFromContext(r.Context())
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("path", r.URL.Path)
		scope.SetTag("method", r.Method)
		hub.CaptureException(err)
	})
}
