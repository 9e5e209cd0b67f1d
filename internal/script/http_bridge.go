package script

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// NetHTTPBridge is the production HTTPBridge: a plain net/http.Client,
// optionally restricted to an allowlist of hosts so a task-tier script
// can't be used to reach arbitrary internal services. Grounded on
// internal/action/http_executor.go's client-construction shape.
type NetHTTPBridge struct {
	Client *http.Client

	// AllowedHosts, if non-empty, restricts Fetch to exactly these
	// hostnames (no port, no wildcard matching). Empty means unrestricted,
	// appropriate for TierExecutor's js executor but not for arbitrary
	// task-tier scripts.
	AllowedHosts []string
}

const defaultBridgeTimeout = 10 * time.Second

func (b *NetHTTPBridge) Fetch(ctx context.Context, method, url string, headers map[string]string, body string) (int, string, error) {
	if len(b.AllowedHosts) > 0 && !b.hostAllowed(url) {
		return 0, "", fmt.Errorf("http.fetch: host not in allowlist: %s", url)
	}

	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: defaultBridgeTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, strings.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("http.fetch: building request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("http.fetch: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("http.fetch: reading response: %w", err)
	}

	return resp.StatusCode, string(respBody), nil
}

// hostAllowed compares the request's parsed hostname against the
// allowlist exactly, not a substring match: "trusted.com" must not admit
// "evil.com/trusted.com" or "trusted.com.evil.com".
func (b *NetHTTPBridge) hostAllowed(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	for _, allowed := range b.AllowedHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}
