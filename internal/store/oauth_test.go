package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOAuthAppLifecycle(t *testing.T) {
	db := openTestStore(t)

	app, err := db.CreateOAuthApp("TestClient", "https://client.example/callback", "read write")
	require.NoError(t, err)
	require.NotEmpty(t, app.ClientID)
	require.NotEmpty(t, app.ClientSecret)

	got, err := db.GetOAuthAppByClientID(app.ClientID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, app.ID, got.ID)
	require.Equal(t, "TestClient", got.ClientName)
}

func TestGetOAuthAppByClientID_UnknownReturnsNilNoError(t *testing.T) {
	db := openTestStore(t)

	got, err := db.GetOAuthAppByClientID("no-such-client")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAuthorizationCodeIsSingleUse(t *testing.T) {
	db := openTestStore(t)

	app, err := db.CreateOAuthApp("TestClient", "https://client.example/callback", "read")
	require.NoError(t, err)

	code, err := db.CreateAuthorizationCode(app.ID, "read", 10*time.Minute)
	require.NoError(t, err)

	consumed, err := db.ConsumeAuthorizationCode(code.Code)
	require.NoError(t, err)
	require.NotNil(t, consumed)
	require.Equal(t, app.ID, consumed.AppID)

	again, err := db.ConsumeAuthorizationCode(code.Code)
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestOAuthTokenLookupByRawValue(t *testing.T) {
	db := openTestStore(t)

	app, err := db.CreateOAuthApp("TestClient", "https://client.example/callback", "read")
	require.NoError(t, err)

	token, err := db.CreateOAuthToken(app.ID, "authorization_code", "read", time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, token.AccessToken)

	got, err := db.LookupOAuthToken(token.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, token.ID, got.ID)
	require.NotEqual(t, token.AccessToken, got.TokenHash, "the raw token must never be stored verbatim")

	_, err = db.LookupOAuthToken("not-a-real-token")
	require.NoError(t, err)
}

func TestLookupOAuthToken_UnknownReturnsNilNoError(t *testing.T) {
	db := openTestStore(t)

	got, err := db.LookupOAuthToken("totally-bogus")
	require.NoError(t, err)
	require.Nil(t, got)
}
