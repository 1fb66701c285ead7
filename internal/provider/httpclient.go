// Package provider holds clients for the external services the bot relays to.
package provider

import (
	"net"
	"net/http"
	"time"
)

// SharedHTTPClient returns a pooled HTTP client. Every outbound call of one
// process goes through clients built here so connection reuse and dial
// limits are uniform.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// StreamingHTTPClient is like SharedHTTPClient but without a whole-request
// timeout, for large downloads bounded by their context instead.
func StreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	c := SharedHTTPClient(headerTimeout)
	c.Timeout = 0
	return c
}
