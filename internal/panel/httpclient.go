package panel

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewInsecureHTTPClient builds an *http.Client tuned for talking to panels
// and nodes that may present self-signed TLS certificates, with
// certificate verification disabled as spec.md §4.1/§4.2 require ("TLS
// verification is disabled"). timeout bounds a single request end-to-end.
func NewInsecureHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 – panels commonly run self-signed certs behind a reverse proxy
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
