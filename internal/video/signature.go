package video

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// MaxWebhookAge bounds how old a webhook timestamp may be before the
// payload is rejected as a possible replay.
const MaxWebhookAge = 5 * time.Minute

// VerifyWebhookSignature checks the hex HMAC-SHA256 of "timestamp.rawBody"
// against the shared secret. Comparison is constant-time.
func VerifyWebhookSignature(secret, timestamp string, rawBody []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// WebhookTimestampFresh reports whether the unix timestamp header is within
// MaxWebhookAge of now (in either direction, to tolerate clock skew).
func WebhookTimestampFresh(timestamp string, now time.Time) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}

	age := now.Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	return age <= MaxWebhookAge
}
