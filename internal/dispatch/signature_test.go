package dispatch

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	payload := `{"event":"submission.created","formId":"f1"}`
	secret := "whsec_test"

	sig := SignPayload(payload, secret)
	assert.True(t, strings.HasPrefix(sig, "t="))
	assert.Contains(t, sig, ",v1=")

	assert.True(t, VerifySignature(payload, sig, secret, SignatureTolerance))
}

func TestVerifySignatureRejects(t *testing.T) {
	payload := `{"a":1}`
	secret := "whsec_test"
	sig := SignPayload(payload, secret)

	tests := []struct {
		name      string
		payload   string
		signature string
		secret    string
	}{
		{"wrong secret", payload, sig, "other"},
		{"tampered payload", `{"a":2}`, sig, secret},
		{"garbage signature", payload, "nonsense", secret},
		{"missing v1 part", payload, "t=123", secret},
		{"non-numeric timestamp", payload, "t=abc,v1=00", secret},
		{"empty signature", payload, "", secret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, VerifySignature(tt.payload, tt.signature, tt.secret, SignatureTolerance))
		})
	}
}

func TestVerifySignatureTimestampDrift(t *testing.T) {
	payload := "body"
	secret := "s"

	fresh := signPayloadAt(payload, secret, time.Now().Unix())
	require.True(t, VerifySignature(payload, fresh, secret, SignatureTolerance))

	stale := signPayloadAt(payload, secret, time.Now().Add(-10*time.Minute).Unix())
	assert.False(t, VerifySignature(payload, stale, secret, SignatureTolerance),
		"signature older than the tolerance must be rejected as a replay")

	future := signPayloadAt(payload, secret, time.Now().Add(10*time.Minute).Unix())
	assert.False(t, VerifySignature(payload, future, secret, SignatureTolerance))
}

func TestSignatureBindsTimestamp(t *testing.T) {
	payload := "body"
	secret := "s"
	ts := time.Now().Unix()

	a := signPayloadAt(payload, secret, ts)
	b := signPayloadAt(payload, secret, ts+1)
	require.NotEqual(t, a, b)

	// Splicing a fresh timestamp onto an old MAC must fail.
	oldMAC := strings.SplitN(a, ",", 2)[1]
	spliced := fmt.Sprintf("t=%d,%s", ts+1, oldMAC)
	assert.False(t, VerifySignature(payload, spliced, secret, SignatureTolerance))
}
