package federation

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
)

// maxDateSkew is the maximum allowed difference between a request's Date
// header and wall-clock time. Mastodon enforces the same ±5 minute window;
// requests outside it are rejected before any cryptographic work runs, per
// spec §4.1 and the S7 stale-date scenario.
const maxDateSkew = 5 * time.Minute

// signedHeaders is the header set every outbound request signs.
var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}
var signedHeadersNoBody = []string{httpsig.RequestTarget, "host", "date"}

// SignRequest builds and signs an HTTP request for delivery to a remote
// inbox (or a keyless GET to resolve an actor/key). It returns the
// fully-populated *http.Request ready to send; the caller owns transport
// (timeout, retry) per spec §4.5.
func SignRequest(ctx context.Context, method, absoluteURL string, body []byte, privateKey *rsa.PrivateKey, keyID string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, absoluteURL, bytes.NewReader(body))
	if err != nil {
		return nil, Internal("build outbound request", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/activity+json")
	}
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	headers := signedHeaders
	if len(body) == 0 {
		headers = signedHeadersNoBody
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		headers,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return nil, Internal("create signer", err)
	}
	if err := signer.SignRequest(privateKey, keyID, req, body); err != nil {
		return nil, Internal("sign request", err)
	}
	return req, nil
}

// KeyResolver resolves a key-id (actor-uri#main-key) to the PEM-encoded
// public key, fetching over the network and consulting the key cache as
// needed. This is the narrow collaborator interface spec §9 calls for.
type KeyResolver func(ctx context.Context, keyID string) (string, error)

// VerifyRequest authenticates an inbound request per spec §4.1: enforces
// clock skew, verifies the digest if the peer signed one, resolves the
// signing key via resolve, and checks the RSA-SHA256 signature over
// whichever headers the peer actually signed. Returns the verified actor's
// key-id on success.
func VerifyRequest(req *http.Request, body []byte, resolve KeyResolver) (string, error) {
	// An absent Signature header is Unauthorized, and spec §4.7 requires the
	// inbox to reject it "immediately" — before any other validation runs,
	// so an unsigned request can never surface as a 400 via the Date/digest
	// checks below (Testable Property 1). A present but malformed header is
	// also Unauthorized, but is only detected after those checks pass.
	if req.Header.Get("Signature") == "" {
		return "", Unauthorized("missing Signature header", nil)
	}

	dateStr := req.Header.Get("Date")
	if dateStr == "" {
		return "", Validation("missing Date header", nil)
	}
	reqTime, err := http.ParseTime(dateStr)
	if err != nil {
		return "", Validation("invalid Date header", err)
	}
	if skew := time.Since(reqTime); skew > maxDateSkew || skew < -maxDateSkew {
		return "", Validation(fmt.Sprintf("Date header too skewed (%v, allowed ±%v)", skew.Round(time.Second), maxDateSkew), nil)
	}

	if digest := req.Header.Get("Digest"); digest != "" {
		if err := VerifyDigest(body, digest); err != nil {
			return "", Validation("digest mismatch", err)
		}
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", Unauthorized("malformed Signature header", err)
	}

	keyID := verifier.KeyId()

	pubKeyPEM, err := resolve(req.Context(), keyID)
	if err != nil {
		if errors.Is(err, ErrActorGone) {
			return keyID, err
		}
		return "", Federation("resolve signing key", err)
	}

	pubKey, err := ParsePublicKeyPEM(pubKeyPEM)
	if err != nil {
		return "", Validation("parse signing key", err)
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", Unauthorized("signature verification failed", err)
	}
	return keyID, nil
}

// VerifyDigest checks that the Digest request header matches the SHA-256
// hash of body. A missing header is not an error (digest is optional for
// GETs); unknown algorithms are skipped rather than rejected, for
// forward-compatibility with peers that adopt a new digest scheme.
func VerifyDigest(body []byte, digestHeader string) error {
	const prefix = "SHA-256="
	if !strings.HasPrefix(digestHeader, prefix) {
		return nil
	}
	sum := sha256.Sum256(body)
	got := base64.StdEncoding.EncodeToString(sum[:])
	want := digestHeader[len(prefix):]
	if got != want {
		return fmt.Errorf("body SHA-256=%s, header claims SHA-256=%s", got, want)
	}
	return nil
}
