package script

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetHTTPBridge_Fetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	bridge := &NetHTTPBridge{}
	status, body, err := bridge.Fetch(context.Background(), "post", server.URL, map[string]string{"X-Token": "secret"}, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "ok", body)
}

func TestNetHTTPBridge_Fetch_HostNotAllowed(t *testing.T) {
	bridge := &NetHTTPBridge{AllowedHosts: []string{"example.com"}}
	_, _, err := bridge.Fetch(context.Background(), "GET", "http://evil.test/", nil, "")
	require.Error(t, err)
}

func TestNetHTTPBridge_Fetch_HostAllowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)

	bridge := &NetHTTPBridge{AllowedHosts: []string{parsed.Hostname()}}
	status, _, err := bridge.Fetch(context.Background(), "GET", server.URL, nil, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestNetHTTPBridge_Fetch_HostAllowed_RejectsSpoofedSubstring(t *testing.T) {
	bridge := &NetHTTPBridge{AllowedHosts: []string{"trusted.com"}}

	_, _, err := bridge.Fetch(context.Background(), "GET", "http://evil.com/trusted.com", nil, "")
	require.Error(t, err, "substring match on the raw URL must not admit a spoofed path")

	_, _, err = bridge.Fetch(context.Background(), "GET", "http://trusted.com.evil.com/", nil, "")
	require.Error(t, err, "substring match on the raw URL must not admit a spoofed subdomain")
}
