/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package introspection_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	jwtgo "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/introkit/go-introkit/idptest"
	"github.com/introkit/go-introkit/introspection"
)

func TestClient_Introspect(t *testing.T) {
	const clientID = "introspection-client"
	const clientSecret = "introspection-client-secret"

	idpSrv := idptest.NewHTTPServer(idptest.WithHTTPClientAuth(clientID, clientSecret))
	require.NoError(t, idpSrv.StartAndWaitForReady(time.Second))
	defer func() { _ = idpSrv.Shutdown(context.Background()) }()

	doc := introspection.DiscoveryDocument{
		IntrospectionEndpoint: idpSrv.URL() + idptest.TokenIntrospectionEndpointPath,
	}

	idpSrv.IntrospectionHandler.SetTokenResult("active-token", map[string]interface{}{
		"active": true, "sub": "user-1", "aud": "account-server", "expires_in": 120,
	})
	idpSrv.IntrospectionHandler.SetTokenResult("inactive-token", map[string]interface{}{"active": false})

	client, err := introspection.NewClient(clientID, clientSecret)
	require.NoError(t, err)

	t.Run("active token with claims and lifetime", func(t *testing.T) {
		result, introspectErr := client.Introspect(context.Background(), "active-token", doc)
		require.NoError(t, introspectErr)
		require.True(t, result.Active)
		require.Equal(t, "user-1", result.Claims["sub"])
		require.Equal(t, "account-server", result.Claims["aud"])
		require.NotContains(t, result.Claims, "active")
		require.NotContains(t, result.Claims, "expires_in")
		require.WithinDuration(t, time.Now().Add(120*time.Second), result.ExpiresAt, 5*time.Second)
	})

	t.Run("inactive token", func(t *testing.T) {
		result, introspectErr := client.Introspect(context.Background(), "inactive-token", doc)
		require.NoError(t, introspectErr)
		require.False(t, result.Active)
		require.True(t, result.ExpiresAt.IsZero())
	})

	t.Run("unknown token is inactive", func(t *testing.T) {
		result, introspectErr := client.Introspect(context.Background(), "unknown-token", doc)
		require.NoError(t, introspectErr)
		require.False(t, result.Active)
	})

	t.Run("wrong client credentials", func(t *testing.T) {
		badClient, newErr := introspection.NewClient(clientID, "wrong-secret")
		require.NoError(t, newErr)

		_, introspectErr := badClient.Introspect(context.Background(), "active-token", doc)
		require.ErrorIs(t, introspectErr, introspection.ErrUnauthorizedClient)
	})
}

func TestClient_IntrospectExpClaim(t *testing.T) {
	idpSrv := idptest.NewHTTPServer()
	require.NoError(t, idpSrv.StartAndWaitForReady(time.Second))
	defer func() { _ = idpSrv.Shutdown(context.Background()) }()

	doc := introspection.DiscoveryDocument{
		IntrospectionEndpoint: idpSrv.URL() + idptest.TokenIntrospectionEndpointPath,
	}

	expTime := time.Now().Add(time.Hour).Truncate(time.Second)
	idpSrv.IntrospectionHandler.SetTokenResult("jwt-like-token", map[string]interface{}{
		"active": true, "exp": expTime.Unix(),
	})

	client, err := introspection.NewClient("client-id", "client-secret")
	require.NoError(t, err)

	result, err := client.Introspect(context.Background(), "jwt-like-token", doc)
	require.NoError(t, err)
	require.True(t, result.Active)
	require.Equal(t, expTime.Unix(), result.ExpiresAt.Unix())
	require.NotContains(t, result.Claims, "exp")
}

func TestClient_IntrospectUnexpectedResponse(t *testing.T) {
	idpSrv := idptest.NewHTTPServer(idptest.WithHTTPTokenIntrospector(
		idptest.HTTPTokenIntrospectorFunc(func(r *http.Request, token string) (map[string]interface{}, error) {
			return nil, errors.New("injected failure")
		})))
	require.NoError(t, idpSrv.StartAndWaitForReady(time.Second))
	defer func() { _ = idpSrv.Shutdown(context.Background()) }()

	doc := introspection.DiscoveryDocument{
		IntrospectionEndpoint: idpSrv.URL() + idptest.TokenIntrospectionEndpointPath,
	}

	client, err := introspection.NewClient("client-id", "client-secret")
	require.NoError(t, err)

	_, err = client.Introspect(context.Background(), "some-token", doc)
	var idpErr *introspection.UnexpectedIDPResponseError
	require.ErrorAs(t, err, &idpErr)
	require.Equal(t, http.StatusInternalServerError, idpErr.HTTPCode)
	require.Equal(t, doc.IntrospectionEndpoint, idpErr.URL)
}

func TestClient_IntrospectWithPrivateKeyJWT(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	const clientID = "assertion-client"

	var lastAssertion, lastAssertionType, lastClientID string
	idpSrv := idptest.NewHTTPServer(idptest.WithHTTPTokenIntrospector(
		idptest.HTTPTokenIntrospectorFunc(func(r *http.Request, token string) (map[string]interface{}, error) {
			lastAssertion = r.FormValue("client_assertion")
			lastAssertionType = r.FormValue("client_assertion_type")
			lastClientID = r.FormValue("client_id")
			return map[string]interface{}{"active": true, "sub": "user-2"}, nil
		})))
	require.NoError(t, idpSrv.StartAndWaitForReady(time.Second))
	defer func() { _ = idpSrv.Shutdown(context.Background()) }()

	doc := introspection.DiscoveryDocument{
		IntrospectionEndpoint:    idpSrv.URL() + idptest.TokenIntrospectionEndpointPath,
		TokenEndpointAuthMethods: []string{"client_secret_basic", "private_key_jwt"},
	}

	client, err := introspection.NewClientWithOpts(clientID, "", introspection.ClientOpts{
		AuthMethod: introspection.ClientAuthMethodPrivateKeyJWT,
		PrivateKey: privateKey,
	})
	require.NoError(t, err)

	result, err := client.Introspect(context.Background(), "opaque-token", doc)
	require.NoError(t, err)
	require.True(t, result.Active)

	require.Equal(t, clientID, lastClientID)
	require.Equal(t, "urn:ietf:params:oauth:client-assertion-type:jwt-bearer", lastAssertionType)

	var claims jwtgo.RegisteredClaims
	_, err = jwtgo.ParseWithClaims(lastAssertion, &claims, func(token *jwtgo.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtgo.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return &privateKey.PublicKey, nil
	})
	require.NoError(t, err)
	require.Equal(t, clientID, claims.Issuer)
	require.Equal(t, clientID, claims.Subject)
	require.Equal(t, jwtgo.ClaimStrings{doc.IntrospectionEndpoint}, claims.Audience)
	require.NotEmpty(t, claims.ID)
	require.NotNil(t, claims.ExpiresAt)
}

func TestNewClientValidation(t *testing.T) {
	_, err := introspection.NewClient("", "secret")
	require.ErrorContains(t, err, "client ID is mandatory")

	_, err = introspection.NewClientWithOpts("client-id", "", introspection.ClientOpts{
		AuthMethod: introspection.ClientAuthMethodPrivateKeyJWT,
	})
	require.ErrorContains(t, err, "private key is mandatory")

	_, err = introspection.NewClientWithOpts("client-id", "secret", introspection.ClientOpts{
		AuthMethod: "tls_client_auth",
	})
	require.ErrorContains(t, err, "unknown client authentication method")
}
