package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/MrEthical07/authbridge"
	"github.com/MrEthical07/authbridge/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 16

type handler struct {
	svc      Service
	cookies  CookieConfig
	validate *validator.Validate
	log      zerolog.Logger
}

func newHandler(svc Service, cookies CookieConfig, log zerolog.Logger) *handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &handler{svc: svc, cookies: cookies, validate: v, log: log}
}

// decode reads a JSON body into dst and validates it.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed body", authbridge.ErrValidation)
	}
	return h.validate.Struct(dst)
}

type signInRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required,max=128"`
	RememberMe bool   `json:"rememberMe"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}

	res, err := h.svc.Login(r.Context(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		var retry time.Duration
		if isRateLimited(err) {
			retry = h.svc.LoginRetryAfter(r.Context(), req.Email)
		}
		writeError(w, r, h.log, err, retry)
		return
	}

	if res.RefreshToken != "" {
		h.cookies.set(w, res.RefreshToken, res.RefreshTTL)
	} else {
		h.cookies.clear(w)
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: res.AccessToken})
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	token := h.cookies.read(r)
	if token == "" {
		writeError(w, r, h.log, errMissingRefreshCookie, 0)
		return
	}

	res, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		if !isRateLimited(err) {
			h.cookies.clear(w)
		}
		writeError(w, r, h.log, err, 0)
		return
	}

	h.cookies.set(w, res.RefreshToken, res.RefreshTTL)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: res.AccessToken})
}

func (h *handler) signOut(w http.ResponseWriter, r *http.Request) {
	token := h.cookies.read(r)
	h.cookies.clear(w)

	if token != "" {
		if err := h.svc.Logout(r.Context(), token); err != nil {
			writeError(w, r, h.log, err, 0)
			return
		}
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type migrateRequest struct {
	Email          string `json:"email" validate:"required,email,max=254"`
	LegacyPassword string `json:"legacyPassword" validate:"required,max=128"`
}

type migrateResponse struct {
	AccessToken     string `json:"accessToken"`
	ExternalID      string `json:"externalId"`
	AlreadyMigrated bool   `json:"alreadyMigrated"`
}

func (h *handler) migrate(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}

	out, err := h.svc.MigrateLegacyAccount(r.Context(), req.Email, req.LegacyPassword)
	if err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, migrateResponse{
		AccessToken:     out.AccessToken,
		ExternalID:      out.ExternalID,
		AlreadyMigrated: out.AlreadyMigrated,
	})
}

type externalRequest struct {
	IDToken string `json:"idToken" validate:"required,max=8192"`
}

type externalResponse struct {
	AccessToken string                    `json:"accessToken"`
	State       authbridge.MigrationState `json:"state"`
}

func (h *handler) external(w http.ResponseWriter, r *http.Request) {
	var req externalRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}

	out, err := h.svc.AuthenticateExternalToken(r.Context(), req.IDToken)
	if err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, externalResponse{AccessToken: out.AccessToken, State: out.State})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type totpSetupResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

type totpCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

func (h *handler) totpSetup(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	setup, err := h.svc.BeginTOTPSetup(r.Context(), p.Email)
	if err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, totpSetupResponse{Secret: setup.Secret, URI: setup.URI})
}

func (h *handler) totpConfirm(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, h.svc.ConfirmTOTPSetup)
}

func (h *handler) totpDisable(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, h.svc.DisableTOTP)
}

func (h *handler) withCode(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, email, code string) error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	var req totpCodeRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}
	if err := op(r.Context(), p.Email, req.Code); err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	latency, err := h.svc.Ping(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"redisLatencyMs": latency.Milliseconds(),
	})
}

func isRateLimited(err error) bool {
	return errors.Is(err, authbridge.ErrLoginRateLimited) || errors.Is(err, authbridge.ErrRefreshRateLimited)
}
