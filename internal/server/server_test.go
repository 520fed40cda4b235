package server_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rustresort/rustresort/internal/config"
	"github.com/rustresort/rustresort/internal/federation"
	"github.com/rustresort/rustresort/internal/server"
	"github.com/rustresort/rustresort/internal/store"
)

type fakeStore struct {
	followers []string
	following []string
	statuses  map[string]*store.Status
}

func (f *fakeStore) FollowerAddresses() ([]string, error) { return f.followers, nil }
func (f *fakeStore) FollowedAddresses() ([]string, error) { return f.following, nil }
func (f *fakeStore) ListLocalOutbox(limit int, beforeID string) ([]*store.Status, error) {
	return nil, nil
}
func (f *fakeStore) CountLocalOutbox() (int, error) { return 0, nil }
func (f *fakeStore) GetStatusByURI(uri string) (*store.Status, error) {
	return f.statuses[uri], nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore) {
	t.Helper()
	cfg := &config.Config{
		LocalDomain:      "https://example.com",
		ActorHandle:      "alice",
		ActorDisplayName: "Alice",
		Port:             "0",
	}
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPair := &federation.KeyPair{Private: priv, Public: &priv.PublicKey, PublicPEM: "PEM-PLACEHOLDER"}

	fs := &fakeStore{statuses: make(map[string]*store.Status)}
	processor := federation.NewProcessor(cfg.ActorURI(), "example.com", cfg.ActorURI()+"#main-key", priv)
	limiter := federation.NewRateLimiter(time.Minute, 60)
	resolver := federation.KeyResolver(func(ctx context.Context, keyID string) (string, error) {
		return "", federation.NotFound("no such key in this test")
	})

	srv := server.New(cfg, fs, keyPair, processor, resolver, limiter)
	return httptest.NewServer(srv), fs
}

func TestHealthcheck(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleActor_ReturnsActorDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/users/alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var actor map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&actor))
	require.Equal(t, "Person", actor["type"])
	require.Equal(t, "alice", actor["preferredUsername"])
}

func TestHandleActor_UnknownHandleIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/users/nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleFollowers_ListsStoredAddresses(t *testing.T) {
	srv, fs := newTestServer(t)
	defer srv.Close()
	fs.followers = []string{"bob@peer.example", "carol@other.example"}

	resp, err := http.Get(srv.URL + "/users/alice/followers")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var collection map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&collection))
	require.EqualValues(t, 2, collection["totalItems"])
}

func TestHandleWebFinger_ResolvesLocalActor(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/.well-known/webfinger?resource=acct:alice@example.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleWebFinger_UnknownAccountIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/.well-known/webfinger?resource=acct:nobody@example.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleInbox_RejectsMissingSignature(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/inbox", nil)
	require.NoError(t, err)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleInbox_RejectsMissingSignatureEvenWithoutDate(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	// No Signature and no Date header at all: Testable Property 1 requires
	// this to come back 401, not the 400 a Date-first check would produce.
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/inbox", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleInbox_RejectsStaleDate(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/inbox", nil)
	require.NoError(t, err)
	req.Header.Set("Date", time.Now().Add(-1*time.Hour).UTC().Format(http.TimeFormat))
	// A Signature header is present so the request gets past the
	// missing-signature check and is rejected by the clock-skew check.
	req.Header.Set("Signature", `keyId="https://peer.example/users/bob#main-key",algorithm="rsa-sha256",headers="(request-target) host date",signature="c2lnbmF0dXJl"`)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleNodeInfo_LinksToSchema(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/.well-known/nodeinfo")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleNodeInfoSchema_RejectsUnsupportedVersion(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nodeinfo/9.9")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
