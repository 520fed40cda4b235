package federation_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rustresort/rustresort/internal/federation"
)

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return priv, string(pubPEM)
}

// TestSignThenVerify_RoundTrips checks Testable Property 3: a request signed
// by SignRequest verifies successfully against the matching public key, and
// the verified key-id matches what was signed with.
func TestSignThenVerify_RoundTrips(t *testing.T) {
	priv, pubPEM := generateTestKeyPair(t)
	const keyID = "https://example.com/users/alice#main-key"
	body := []byte(`{"type":"Follow","actor":"https://example.com/users/alice"}`)

	signed, err := federation.SignRequest(context.Background(), "POST", "https://peer.example/inbox", body, priv, keyID)
	require.NoError(t, err)

	req := httptest.NewRequest(signed.Method, signed.URL.String(), nil)
	req.Header = signed.Header.Clone()
	req.Host = signed.Host

	gotKeyID, err := federation.VerifyRequest(req, body, func(_ context.Context, kid string) (string, error) {
		require.Equal(t, keyID, kid)
		return pubPEM, nil
	})
	require.NoError(t, err)
	require.Equal(t, keyID, gotKeyID)
}

func TestVerifyRequest_RejectsTamperedBody(t *testing.T) {
	priv, pubPEM := generateTestKeyPair(t)
	const keyID = "https://example.com/users/alice#main-key"
	body := []byte(`{"type":"Follow"}`)

	signed, err := federation.SignRequest(context.Background(), "POST", "https://peer.example/inbox", body, priv, keyID)
	require.NoError(t, err)

	req := httptest.NewRequest(signed.Method, signed.URL.String(), nil)
	req.Header = signed.Header.Clone()
	req.Host = signed.Host

	tampered := []byte(`{"type":"Delete"}`)
	_, err = federation.VerifyRequest(req, tampered, func(context.Context, string) (string, error) {
		return pubPEM, nil
	})
	require.Error(t, err)
}

func TestVerifyRequest_RejectsWrongKey(t *testing.T) {
	priv, _ := generateTestKeyPair(t)
	_, otherPubPEM := generateTestKeyPair(t)
	const keyID = "https://example.com/users/alice#main-key"
	body := []byte(`{"type":"Follow"}`)

	signed, err := federation.SignRequest(context.Background(), "POST", "https://peer.example/inbox", body, priv, keyID)
	require.NoError(t, err)

	req := httptest.NewRequest(signed.Method, signed.URL.String(), nil)
	req.Header = signed.Header.Clone()
	req.Host = signed.Host

	_, err = federation.VerifyRequest(req, body, func(context.Context, string) (string, error) {
		return otherPubPEM, nil
	})
	require.Error(t, err)
}

// TestVerifyRequest_UnsignedNoDateIsUnauthorized checks Testable Property 1:
// a request with no valid signature must be rejected as Unauthorized, even
// when it is missing headers (like Date) that would otherwise be flagged as
// Validation errors further down the checks. The Signature-presence check
// must run first.
func TestVerifyRequest_UnsignedNoDateIsUnauthorized(t *testing.T) {
	req := httptest.NewRequest("POST", "https://local.example/users/bob/inbox", nil)

	_, err := federation.VerifyRequest(req, []byte(`{"type":"Create"}`), func(context.Context, string) (string, error) {
		t.Fatal("resolver should not be consulted for an unsigned request")
		return "", nil
	})
	require.Error(t, err)
	require.Equal(t, federation.KindUnauthorized, federation.AsKind(err))
}

func TestVerifyDigest(t *testing.T) {
	priv, _ := generateTestKeyPair(t)
	body := []byte("hello world")
	req, err := federation.SignRequest(context.Background(), "POST", "https://peer.example/inbox", body, priv, "k#main-key")
	require.NoError(t, err)

	digest := req.Header.Get("Digest")
	require.NotEmpty(t, digest)
	require.NoError(t, federation.VerifyDigest(body, digest))
	require.Error(t, federation.VerifyDigest([]byte("tampered"), digest))
}
