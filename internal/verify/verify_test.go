package verify

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify_ValidSignature(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"event":"issue","action":"created"}`)

	v := NewVerifier(secret, "")

	h := http.Header{}
	h.Set(SignatureHeader, Sign(secret, body))
	h.Set(DeliveryHeader, "d-123")
	h.Set(EventHeader, "issue")

	payload, err := v.Verify(h, body)
	assert.NoError(t, err)
	assert.Equal(t, "d-123", payload.DeliveryID)
	assert.Equal(t, "issue", payload.EventKind)
	assert.Equal(t, body, payload.Body)
}

func TestVerify_TamperedBody(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"event":"issue"}`)

	v := NewVerifier(secret, "")

	h := http.Header{}
	h.Set(SignatureHeader, Sign(secret, body))

	_, err := v.Verify(h, []byte(`{"event":"project"}`))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerify_MissingSignature(t *testing.T) {
	v := NewVerifier("test-secret", "")

	_, err := v.Verify(http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerify_BadSignatureEncoding(t *testing.T) {
	v := NewVerifier("test-secret", "")

	h := http.Header{}
	h.Set(SignatureHeader, "not-hex")

	_, err := v.Verify(h, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerify_MalformedBody(t *testing.T) {
	secret := "test-secret"
	body := []byte(`not json at all`)

	v := NewVerifier(secret, "")

	h := http.Header{}
	h.Set(SignatureHeader, Sign(secret, body))

	_, err := v.Verify(h, body)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerify_StaticTokenFallback(t *testing.T) {
	v := NewVerifier("", "tok-abc")

	h := http.Header{}
	h.Set(TokenHeader, "tok-abc")
	_, err := v.Verify(h, []byte(`{}`))
	assert.NoError(t, err)

	h.Set(TokenHeader, "tok-wrong")
	_, err = v.Verify(h, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerify_NoCredentialConfigured(t *testing.T) {
	v := NewVerifier("", "")

	_, err := v.Verify(http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
