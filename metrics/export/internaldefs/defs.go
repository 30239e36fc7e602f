package internaldefs

import (
	"github.com/MrEthical07/authbridge"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   authbridge.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   authbridge.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for events lost to dispatcher backpressure.
const (
	AuditDroppedName = "authbridge_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

var CounterDefs = []CounterDef{
	{ID: authbridge.MetricLoginSuccess, Name: "authbridge_login_success_total", Help: "Successful login attempts."},
	{ID: authbridge.MetricLoginFailure, Name: "authbridge_login_failure_total", Help: "Failed login attempts."},
	{ID: authbridge.MetricLoginRateLimited, Name: "authbridge_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: authbridge.MetricRefreshSuccess, Name: "authbridge_refresh_success_total", Help: "Successful refresh operations."},
	{ID: authbridge.MetricRefreshFailure, Name: "authbridge_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: authbridge.MetricRefreshRateLimited, Name: "authbridge_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: authbridge.MetricSessionCreated, Name: "authbridge_session_created_total", Help: "Created remembered sessions."},
	{ID: authbridge.MetricLogout, Name: "authbridge_logout_total", Help: "Logout operations."},
	{ID: authbridge.MetricMigrationSuccess, Name: "authbridge_migration_success_total", Help: "Legacy accounts moved to the identity provider."},
	{ID: authbridge.MetricMigrationFailure, Name: "authbridge_migration_failure_total", Help: "Failed legacy account migrations."},
	{ID: authbridge.MetricIntegrityConflict, Name: "authbridge_integrity_conflict_total", Help: "Accounts found with both a legacy hash and an external link."},
	{ID: authbridge.MetricExternalAuthSuccess, Name: "authbridge_external_auth_success_total", Help: "Accepted identity provider assertions."},
	{ID: authbridge.MetricExternalAuthFailure, Name: "authbridge_external_auth_failure_total", Help: "Rejected identity provider assertions."},
	{ID: authbridge.MetricUserProvisioned, Name: "authbridge_user_provisioned_total", Help: "Directory users created from external assertions."},
	{ID: authbridge.MetricGateAllow, Name: "authbridge_gate_allow_total", Help: "Requests admitted by the gate."},
	{ID: authbridge.MetricGateDeny, Name: "authbridge_gate_deny_total", Help: "Requests rejected by the gate."},
	{ID: authbridge.MetricTOTPSuccess, Name: "authbridge_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: authbridge.MetricTOTPFailure, Name: "authbridge_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: authbridge.MetricTOTPEnabled, Name: "authbridge_totp_enabled_total", Help: "Confirmed TOTP enrollments."},
	{ID: authbridge.MetricTOTPDisabled, Name: "authbridge_totp_disabled_total", Help: "TOTP removals."},
}

var HistogramDefs = []HistogramDef{
	{ID: authbridge.MetricValidateLatency, Name: "authbridge_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramUpperBounds are the bucket limits in seconds; the last bucket is
// unbounded.
var HistogramUpperBounds = [7]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
