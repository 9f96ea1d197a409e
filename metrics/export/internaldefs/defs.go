package internaldefs

import (
	"github.com/MrEthical07/sessionauth"
)

// Def names one exported series.
type Def struct {
	ID   sessionauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const (
	AuditDroppedName = "sessionauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// Counters lists every counter in export order.
var Counters = []Def{
	{sessionauth.MetricLoginSuccess, "sessionauth_login_success_total", "Successful password logins."},
	{sessionauth.MetricLoginFailure, "sessionauth_login_failure_total", "Rejected password and federated logins."},
	{sessionauth.MetricLoginLockedOut, "sessionauth_login_locked_out_total", "Logins refused while a lockout was active."},
	{sessionauth.MetricAutologinSuccess, "sessionauth_autologin_success_total", "Sessions re-established by the strategy."},
	{sessionauth.MetricAutologinMiss, "sessionauth_autologin_miss_total", "Strategy lookups that found no user."},
	{sessionauth.MetricFederatedLogin, "sessionauth_federated_login_total", "Successful logins through an identity provider."},
	{sessionauth.MetricSessionCreated, "sessionauth_session_created_total", "Sessions created."},
	{sessionauth.MetricSessionResumed, "sessionauth_session_resumed_total", "Sessions resumed from a cookie."},
	{sessionauth.MetricSessionRegenerated, "sessionauth_session_regenerated_total", "Session id rotations."},
	{sessionauth.MetricSessionIdleExpired, "sessionauth_session_idle_expired_total", "Logged-in sessions demoted after inactivity."},
	{sessionauth.MetricSessionFinished, "sessionauth_session_finished_total", "Sessions destroyed."},
	{sessionauth.MetricLogout, "sessionauth_logout_total", "Explicit logouts."},
	{sessionauth.MetricForcedLogout, "sessionauth_forced_logout_total", "Logouts caused by an inactive or banned account."},
	{sessionauth.MetricPasswordChangeRequired, "sessionauth_password_change_required_total", "Requests from users who must change their password."},
	{sessionauth.MetricLockoutCleared, "sessionauth_lockout_cleared_total", "Lockouts cleared by an operator."},
	{sessionauth.MetricAuthorizedDenied, "sessionauth_authorized_denied_total", "Authorization filters that did not match."},
}

// Histograms lists every histogram.
var Histograms = []Def{
	{sessionauth.MetricLoginLatency, "sessionauth_login_latency_seconds", "Login latency including password verification."},
}

// Bounds are the upper bucket edges in seconds, matching the in-process
// histogram.
var Bounds = [BucketCount]string{"0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "1", "+Inf"}

// BucketCount is the number of histogram buckets.
const BucketCount = 8

// BoundSuffix turns a bound into an instrument name fragment: "0.025"
// becomes "0_025" and "+Inf" becomes "inf".
func BoundSuffix(bound string) string {
	if bound == "+Inf" {
		return "inf"
	}
	out := []byte(bound)
	for i, c := range out {
		if c == '.' {
			out[i] = '_'
		}
	}
	return string(out)
}

// Cumulative pads or truncates raw per-bucket counts to BucketCount and
// returns running totals.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
