package pep

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/tlsutil"
	"golang.org/x/oauth2"
)

var _ oauth2.TokenSource = (*pcmTokenSource)(nil)

// pcmTokenSource obtains the enforcement point's own access token from the PCM
// authorization server, using the client credentials grant with a private-key JWT
// assertion signed by the mTLS client certificate.
type pcmTokenSource struct {
	clientID      string
	tokenEndpoint string
	resource      string
	scope         []string
	tlsConfig     *tls.Config
	// httpClient is optional and only used for testing
	httpClient *http.Client
}

func (t *pcmTokenSource) Token() (*oauth2.Token, error) {
	clientCert := t.tlsConfig.Certificates[0]
	leaf, err := leafCertificate(clientCert)
	if err != nil {
		return nil, err
	}
	assertionToken := jwt.New()
	certThumbprint := tlsutil.Thumbprint(leaf)
	claims := map[string]any{
		jwt.IssuerKey:     t.clientID,
		jwt.SubjectKey:    t.clientID,
		jwt.AudienceKey:   []string{t.tokenEndpoint},
		jwt.IssuedAtKey:   time.Now(),
		jwt.ExpirationKey: time.Now().Add(time.Minute),
		jwt.JwtIDKey:      uuid.NewString(),
		"cnf": map[string]any{
			"x5t#S256": certThumbprint,
		},
	}
	for key, value := range claims {
		if err := assertionToken.Set(key, value); err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}
	headers := jws.NewHeaders()
	if err := headers.Set(jws.KeyIDKey, certThumbprint); err != nil {
		return nil, fmt.Errorf("set kid header: %w", err)
	}
	assertion, err := jwt.Sign(assertionToken, jwt.WithKey(jwa.RS256, clientCert.PrivateKey, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return nil, fmt.Errorf("sign JWT: %w", err)
	}
	tokenHTTPClient := t.httpClient
	if tokenHTTPClient == nil {
		tokenHTTPClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: t.tlsConfig,
			},
		}
	}
	httpResponse, err := tokenHTTPClient.PostForm(t.tokenEndpoint, url.Values{
		"grant_type":            {"client_credentials"},
		"scope":                 {strings.Join(t.scope, " ")},
		"resource":              {t.resource},
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"client_assertion":      {string(assertion)},
	})
	if err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	defer httpResponse.Body.Close()
	if httpResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", httpResponse.StatusCode)
	}
	// Use LimitReader to prevent malicious servers from sending huge responses that exhaust memory
	responseData, err := io.ReadAll(io.LimitReader(httpResponse.Body, 1<<20+1))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if len(responseData) > 1<<20 {
		return nil, fmt.Errorf("token response too large")
	}
	var token oauth2.Token
	if err := json.Unmarshal(responseData, &token); err != nil {
		return nil, fmt.Errorf("unmarshal token response: %w", err)
	}
	if token.Expiry.IsZero() && token.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return &token, nil
}

func leafCertificate(cert tls.Certificate) (*x509.Certificate, error) {
	if cert.Leaf != nil {
		return cert.Leaf, nil
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("client certificate has no certificate data")
	}
	return x509.ParseCertificate(cert.Certificate[0])
}

// cachedToken caches the enforcement point's own access token. The PCM tokens are
// short-lived, so a refresh happens on nearly every cache miss; the cache mainly
// coalesces bursts of gateway sub-requests. Invalidate drops the cached token when
// the PCM rejects it.
type cachedToken struct {
	mux    sync.Mutex
	source oauth2.TokenSource
	token  *oauth2.Token
}

func (c *cachedToken) Get() (string, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.token != nil && c.token.Expiry.After(time.Now().Add(2*time.Second)) {
		return c.token.AccessToken, nil
	}
	token, err := c.source.Token()
	if err != nil {
		return "", err
	}
	c.token = token
	return token.AccessToken, nil
}

func (c *cachedToken) Invalidate() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.token = nil
}
