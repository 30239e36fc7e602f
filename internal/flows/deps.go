package flows

import (
	"context"
	"strings"
)

// UserRecord is the flow-local view of a directory user.
type UserRecord struct {
	ID           string
	Email        string
	Username     string
	Authorities  []string
	PasswordHash string
	ExternalID   string
	TOTPSecret   string
	Active       bool
}

// HasLegacyPassword reports whether the record still carries a legacy hash.
func (u UserRecord) HasLegacyPassword() bool {
	return u.PasswordHash != ""
}

// HasExternalLink reports whether the record is linked to the identity provider.
func (u UserRecord) HasExternalLink() bool {
	return u.ExternalID != ""
}

// AuditFunc emits one audit event. Metadata is built lazily.
type AuditFunc func(ctx context.Context, eventType string, success bool, identity string, err error, metadata func() map[string]string)

// LogFunc logs msg with alternating key/value fields.
type LogFunc func(msg string, fields ...any)

// Hooks groups the observability callbacks every flow accepts.
type Hooks struct {
	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      LogFunc
	Error     LogFunc
}

func (h Hooks) withDefaults() Hooks {
	if h.MetricInc == nil {
		h.MetricInc = func(int) {}
	}
	if h.EmitAudit == nil {
		h.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if h.Warn == nil {
		h.Warn = func(string, ...any) {}
	}
	if h.Error == nil {
		h.Error = func(string, ...any) {}
	}
	return h
}

// NormalizeIdentity canonicalizes an email for lookups and key derivation.
func NormalizeIdentity(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func reason(r string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": r}
	}
}

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow implementation.
type Deps struct {
	Login     LoginDeps
	Refresh   RefreshDeps
	Logout    LogoutDeps
	Migration MigrationDeps
	TOTP      TOTPDeps
}
