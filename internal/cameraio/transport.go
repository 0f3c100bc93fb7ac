package cameraio

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/icholy/digest"
)

// httpClientWithDigest wraps an *http.Client whose RoundTripper transparently
// answers a vendor digest challenge when credentials are configured. TLS
// verification is disabled: CCAPI devices ship self-signed certificates and
// the device is assumed to live on an isolated field network (spec.md §6,
// §1 Non-goals around strong authentication).
type httpClientWithDigest struct {
	client *http.Client
}

func newHTTPClient(username, password string, timeout time.Duration) *httpClientWithDigest {
	base := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // vendor device uses a self-signed cert
	}

	var rt http.RoundTripper = base
	if username != "" || password != "" {
		rt = &digest.Transport{
			Username:  username,
			Password:  password,
			Transport: base,
		}
	}

	return &httpClientWithDigest{
		client: &http.Client{
			Transport: rt,
		},
	}
}

// do issues req. The client sets no timeout of its own; each call is bounded
// only by the request's context deadline (set by the caller), so a per-call
// timeout longer than the coordinator default is honored.
func (c *httpClientWithDigest) do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}
