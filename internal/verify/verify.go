// Package verify authenticates inbound Plane webhook payloads before any
// parsing beyond a syntax check happens. Verification failure is never
// transient; callers must answer with a client error so Plane does not keep
// resending the same defective payload.
package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
)

const (
	SignatureHeader = "X-Plane-Signature"
	TokenHeader     = "X-Plane-Token"
	DeliveryHeader  = "X-Plane-Delivery"
	EventHeader     = "X-Plane-Event"
)

var (
	// ErrUnauthenticated covers a missing or non-matching credential.
	ErrUnauthenticated = errors.New("unauthenticated webhook request")
	// ErrMalformed covers a body that is not a JSON object.
	ErrMalformed = errors.New("malformed webhook payload")
)

// VerifiedPayload is what survives verification: the raw body plus the
// identifying headers the normalizer needs.
type VerifiedPayload struct {
	DeliveryID string
	EventKind  string
	Body       []byte
}

// Verifier checks a shared-secret HMAC signature, with an optional static
// token fallback for Plane instances configured without payload signing.
type Verifier struct {
	secret      []byte
	staticToken []byte
}

func NewVerifier(secret, staticToken string) *Verifier {
	return &Verifier{
		secret:      []byte(secret),
		staticToken: []byte(staticToken),
	}
}

// Verify authenticates the request and checks the body parses as a JSON
// object. Checks run in order: credential present, credential matches,
// body well-formed.
func (v *Verifier) Verify(header http.Header, body []byte) (VerifiedPayload, error) {
	if err := v.authenticate(header, body); err != nil {
		return VerifiedPayload{}, err
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return VerifiedPayload{}, ErrMalformed
	}

	return VerifiedPayload{
		DeliveryID: header.Get(DeliveryHeader),
		EventKind:  header.Get(EventHeader),
		Body:       body,
	}, nil
}

func (v *Verifier) authenticate(header http.Header, body []byte) error {
	if len(v.secret) > 0 {
		sig := header.Get(SignatureHeader)
		if sig == "" {
			return ErrUnauthenticated
		}
		want, err := hex.DecodeString(sig)
		if err != nil {
			return ErrUnauthenticated
		}
		mac := hmac.New(sha256.New, v.secret)
		mac.Write(body)
		if !hmac.Equal(want, mac.Sum(nil)) {
			return ErrUnauthenticated
		}
		return nil
	}

	if len(v.staticToken) > 0 {
		token := header.Get(TokenHeader)
		if token == "" {
			return ErrUnauthenticated
		}
		if subtle.ConstantTimeCompare([]byte(token), v.staticToken) != 1 {
			return ErrUnauthenticated
		}
		return nil
	}

	return ErrUnauthenticated
}

// Sign computes the hex HMAC-SHA256 signature for a body. Used by tests and
// by operators checking their Plane webhook configuration.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
