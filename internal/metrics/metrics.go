package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	otpIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credential_otp_issued_total",
		Help: "Total number of one-time codes issued",
	}, []string{"purpose"})

	otpVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credential_otp_verifications_total",
		Help: "Total number of one-time code verifications by result",
	}, []string{"result"})

	otpRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credential_otp_rate_limited_total",
		Help: "Total number of one-time code requests rejected by the resend interval",
	}, []string{"purpose"})

	tokenRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credential_refresh_rotations_total",
		Help: "Total number of refresh credential rotations by result",
	}, []string{"result"})

	sessionsRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credential_sessions_revoked_total",
		Help: "Total number of revoked sessions by reason",
	}, []string{"reason"})
)

func OTPIssued(purpose string) {
	otpIssued.WithLabelValues(purpose).Inc()
}

func OTPVerified(result string) {
	otpVerifications.WithLabelValues(result).Inc()
}

func OTPRateLimited(purpose string) {
	otpRateLimited.WithLabelValues(purpose).Inc()
}

func TokenRotated(result string) {
	tokenRotations.WithLabelValues(result).Inc()
}

func SessionRevoked(reason string) {
	sessionsRevoked.WithLabelValues(reason).Inc()
}
