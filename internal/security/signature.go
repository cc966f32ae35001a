package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderAPIKey    = "X-API-Key"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"

	DefaultSkew = 900 * time.Second
)

var (
	ErrMissingCredentials = errors.New("missing authentication headers")
	ErrInvalidTimestamp   = errors.New("invalid or expired timestamp")
	ErrInvalidSignature   = errors.New("invalid signature")
)

// Verifier checks request signatures of the form
// hex(sha256("apiKey:timestamp:secret")).
type Verifier struct {
	secret string
	skew   time.Duration
	now    func() time.Time
}

func NewVerifier(secret string, skew time.Duration) *Verifier {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return &Verifier{secret: secret, skew: skew, now: time.Now}
}

// Enabled is false when no secret is configured; Verify then accepts
// every request.
func (v *Verifier) Enabled() bool {
	return v != nil && v.secret != ""
}

func (v *Verifier) VerifyRequest(r *http.Request) error {
	return v.Verify(
		r.Header.Get(HeaderAPIKey),
		r.Header.Get(HeaderTimestamp),
		r.Header.Get(HeaderSignature),
	)
}

func (v *Verifier) Verify(apiKey, timestamp, signature string) error {
	if !v.Enabled() {
		return nil
	}

	apiKey = strings.TrimSpace(apiKey)
	timestamp = strings.TrimSpace(timestamp)
	signature = strings.ToLower(strings.TrimSpace(signature))
	if apiKey == "" || timestamp == "" || signature == "" {
		return ErrMissingCredentials
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	delta := v.now().Sub(time.Unix(ts, 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > v.skew {
		return ErrInvalidTimestamp
	}

	expected := Sign(apiKey, timestamp, v.secret)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex signature a client sends in X-Signature.
func Sign(apiKey, timestamp, secret string) string {
	sum := sha256.Sum256([]byte(apiKey + ":" + timestamp + ":" + secret))
	return hex.EncodeToString(sum[:])
}
