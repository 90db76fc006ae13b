package sync

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/cloudflair/agentlink/pkg/errors"
)

// DefaultMaxSkew is the replay window a receiver tolerates between the
// signed timestamp and its own clock.
const DefaultMaxSkew = 5 * time.Minute

// Sign computes the hex HMAC-SHA256 signature over the canonical message
// `agent ":" timestamp ":" body`, with body being the raw wire bytes.
func Sign(secret []byte, agent, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(agent))
	mac.Write([]byte{':'})
	mac.Write([]byte(timestamp))
	mac.Write([]byte{':'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an envelope signature the way the task endpoint does: the
// signature must match the canonical message exactly, and the timestamp must
// fall within maxSkew of now (pass 0 to skip the replay-window check).
func Verify(secret []byte, agent, timestamp string, body []byte, signature string, maxSkew time.Duration) error {
	if maxSkew > 0 {
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return errors.New(errors.CodeUnauthorized, "malformed timestamp", err)
		}
		skew := time.Since(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > maxSkew {
			return errors.New(errors.CodeUnauthorized, "timestamp outside replay window", nil).
				WithContext("skew", skew.String())
		}
	}

	expected := Sign(secret, agent, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New(errors.CodeUnauthorized, "signature mismatch", nil)
	}
	return nil
}
