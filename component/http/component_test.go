package http

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/netutil"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/test"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/tlsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentLifecycle(t *testing.T) {
	publicPort, err := netutil.FreeTCPPort()
	require.NoError(t, err)
	internalPort, err := netutil.FreeTCPPort()
	require.NoError(t, err)

	publicMux := http.NewServeMux()
	publicMux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	internalMux := http.NewServeMux()
	internalMux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	component, err := New(Config{
		PublicAddress:   fmt.Sprintf("localhost:%d", publicPort),
		InternalAddress: fmt.Sprintf("localhost:%d", internalPort),
	}, publicMux, internalMux)
	require.NoError(t, err)
	require.NoError(t, component.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, component.Stop(ctx))
	}()

	for _, port := range []int{publicPort, internalPort} {
		url := fmt.Sprintf("http://localhost:%d/ping", port)
		var response *http.Response
		var lastErr error
		for i := 0; i < 20; i++ {
			response, lastErr = http.Get(url)
			if lastErr == nil {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		require.NoError(t, lastErr)
		assert.Equal(t, http.StatusOK, response.StatusCode)
		response.Body.Close()
	}
}

func TestMutualTLSRequiresClientCA(t *testing.T) {
	dir := t.TempDir()
	cert := test.GenerateCertificate(t, "server")
	certFile := test.WriteFile(t, dir, "cert.pem", cert.CertPEM)
	keyFile := test.WriteFile(t, dir, "key.pem", cert.KeyPEM)

	t.Run("missing client CA is rejected", func(t *testing.T) {
		_, err := New(Config{
			PublicAddress:   ":0",
			InternalAddress: ":0",
			TLS:             tlsutil.ServerConfig{CertFile: certFile, KeyFile: keyFile},
		}, http.NewServeMux(), http.NewServeMux())
		assert.ErrorContains(t, err, "client CA")
	})

	t.Run("complete mTLS config is accepted", func(t *testing.T) {
		caFile := test.WriteFile(t, dir, "ca.pem", cert.CertPEM)
		component, err := New(Config{
			PublicAddress:   ":0",
			InternalAddress: ":0",
			TLS:             tlsutil.ServerConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFile: caFile},
		}, http.NewServeMux(), http.NewServeMux())
		require.NoError(t, err)
		require.NotNil(t, component.tlsConfig)
	})
}
