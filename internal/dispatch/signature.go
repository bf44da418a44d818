package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance is how far a webhook signature's timestamp may drift
// from the receiver's clock before verification rejects it as a replay.
const SignatureTolerance = 300 * time.Second

// SignPayload computes the timestamp-bound webhook signature header value:
// "t=<unix-ts>,v1=<hex-hmac-sha256>" over "{timestamp}.{body}". Binding the
// timestamp into the MAC lets receivers reject replayed deliveries.
func SignPayload(payload, secret string) string {
	return signPayloadAt(payload, secret, time.Now().Unix())
}

func signPayloadAt(payload, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

// VerifySignature checks a webhook signature against the payload and secret.
// This is the receiver side of the contract; it lives here so the signing
// and verification halves cannot drift apart.
func VerifySignature(payload, signature, secret string, tolerance time.Duration) bool {
	parts := strings.Split(signature, ",")
	if len(parts) < 2 {
		return false
	}

	tsPart, ok1 := strings.CutPrefix(parts[0], "t=")
	sigPart, ok2 := strings.CutPrefix(parts[1], "v1=")
	if !ok1 || !ok2 || tsPart == "" || sigPart == "" {
		return false
	}

	timestamp, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return false
	}

	now := time.Now().Unix()
	drift := now - timestamp
	if drift < 0 {
		drift = -drift
	}
	if time.Duration(drift)*time.Second > tolerance {
		return false
	}

	expected := signPayloadAt(payload, secret, timestamp)
	expectedSig := strings.TrimPrefix(strings.Split(expected, ",")[1], "v1=")

	return hmac.Equal([]byte(sigPart), []byte(expectedSig))
}
