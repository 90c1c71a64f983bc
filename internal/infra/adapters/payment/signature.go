package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// hmacHex returns the lowercase hex HMAC-SHA256 of msg under secret.
func hmacHex(secret string, msg []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(msg)
	return hex.EncodeToString(h.Sum(nil))
}

// equalHex compares two hex digests in constant time, ignoring case.
func equalHex(expected, got string) bool {
	a, err := hex.DecodeString(strings.ToLower(expected))
	if err != nil {
		return false
	}
	b, err := hex.DecodeString(strings.ToLower(got))
	if err != nil {
		return false
	}
	return hmac.Equal(a, b)
}

// timestampedSignature is the parsed form of "t=<unix>,v1=<hex>[,v1=<hex>...]".
type timestampedSignature struct {
	ts   time.Time
	sigs []string
}

func parseTimestampedSignature(header string) (timestampedSignature, error) {
	var out timestampedSignature
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return out, fmt.Errorf("bad signature element %q", part)
		}
		switch k {
		case "t":
			sec, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return out, fmt.Errorf("bad timestamp: %w", err)
			}
			out.ts = time.Unix(sec, 0)
		case "v1":
			out.sigs = append(out.sigs, v)
		}
	}
	if out.ts.IsZero() || len(out.sigs) == 0 {
		return out, fmt.Errorf("signature header missing t or v1")
	}
	return out, nil
}

// SignTimestamped builds a CardPay style signature header for payload. Used by tests
// and local tooling that needs to simulate the provider.
func SignTimestamped(payload []byte, secret string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + hmacHex(secret, append([]byte(unix+"."), payload...))
}
