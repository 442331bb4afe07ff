package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(otpIssued.WithLabelValues("verify-email"))
	OTPIssued("verify-email")
	OTPIssued("verify-email")
	assert.Equal(t, before+2, testutil.ToFloat64(otpIssued.WithLabelValues("verify-email")))

	before = testutil.ToFloat64(otpVerifications.WithLabelValues("mismatch"))
	OTPVerified("mismatch")
	assert.Equal(t, before+1, testutil.ToFloat64(otpVerifications.WithLabelValues("mismatch")))

	before = testutil.ToFloat64(otpRateLimited.WithLabelValues("reset-password"))
	OTPRateLimited("reset-password")
	assert.Equal(t, before+1, testutil.ToFloat64(otpRateLimited.WithLabelValues("reset-password")))

	before = testutil.ToFloat64(tokenRotations.WithLabelValues("reuse"))
	TokenRotated("reuse")
	assert.Equal(t, before+1, testutil.ToFloat64(tokenRotations.WithLabelValues("reuse")))

	before = testutil.ToFloat64(sessionsRevoked.WithLabelValues("logout"))
	SessionRevoked("logout")
	assert.Equal(t, before+1, testutil.ToFloat64(sessionsRevoked.WithLabelValues("logout")))
}
