package dsrs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

const testSecret = "test-internal-secret"

func newDSRSServer(t *testing.T) *httptest.Server {
	t.Helper()
	component, err := New(Config{Enabled: true, InternalSecret: testSecret})
	require.NoError(t, err)
	internalMux := http.NewServeMux()
	component.RegisterHttpHandlers(http.NewServeMux(), internalMux)
	server := httptest.NewServer(internalMux)
	t.Cleanup(server.Close)
	return server
}

func mintToken(t *testing.T, secret string, patient string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.New()
	now := time.Now()
	require.NoError(t, token.Set(jwt.SubjectKey, "client-sp"))
	require.NoError(t, token.Set(jwt.IssuedAtKey, now.Add(expiresIn-30*time.Second)))
	require.NoError(t, token.Set(jwt.ExpirationKey, now.Add(expiresIn)))
	require.NoError(t, token.Set("scope", "patient/Observation.rs"))
	if patient != "" {
		require.NoError(t, token.Set("patient", patient))
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(secret)))
	require.NoError(t, err)
	return string(signed)
}

func get(t *testing.T, server *httptest.Server, path string, bearer string) *http.Response {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	return response
}

func TestDataRequest(t *testing.T) {
	const patient = "Patient/a665a45920422f9d417e4867efdc4fb8a04a1f3fff1fa07e998e86f7f7a27ae3"

	t.Run("valid internal token returns patient-keyed bundle", func(t *testing.T) {
		server := newDSRSServer(t)
		response := get(t, server, "/fhir/Observation", mintToken(t, testSecret, patient, 30*time.Second))
		defer response.Body.Close()
		require.Equal(t, http.StatusOK, response.StatusCode)

		var bundle fhir.Bundle
		require.NoError(t, json.NewDecoder(response.Body).Decode(&bundle))
		require.NotEmpty(t, bundle.Entry)
		for _, entry := range bundle.Entry {
			var observation fhir.Observation
			require.NoError(t, json.Unmarshal(entry.Resource, &observation))
			require.NotNil(t, observation.Subject)
			assert.Equal(t, patient, *observation.Subject.Reference)
		}
	})

	t.Run("missing bearer", func(t *testing.T) {
		server := newDSRSServer(t)
		response := get(t, server, "/fhir", "")
		defer response.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	})

	t.Run("token signed with a different key", func(t *testing.T) {
		server := newDSRSServer(t)
		response := get(t, server, "/fhir", mintToken(t, "other-secret", patient, 30*time.Second))
		defer response.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	})

	t.Run("expired token", func(t *testing.T) {
		server := newDSRSServer(t)
		response := get(t, server, "/fhir", mintToken(t, testSecret, patient, -time.Minute))
		defer response.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	})

	t.Run("token without patient", func(t *testing.T) {
		server := newDSRSServer(t)
		response := get(t, server, "/fhir", mintToken(t, testSecret, "", 30*time.Second))
		defer response.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	})

	t.Run("opaque external token is rejected", func(t *testing.T) {
		server := newDSRSServer(t)
		response := get(t, server, "/fhir", "some-opaque-uuid-token")
		defer response.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	})
}
