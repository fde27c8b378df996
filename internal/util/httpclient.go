// Package util provides helper functions shared across the application,
// currently limited to outbound HTTP client construction with proxy and
// TLS settings applied.
package util

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// NewHTTPClient builds an HTTP client honoring the configured proxy URL and
// the allow-insecure flag. It supports SOCKS5, HTTP, and HTTPS proxies.
// An empty proxyURL yields a direct client.
func NewHTTPClient(proxyURL string, allowInsecure bool) *http.Client {
	httpClient := &http.Client{}
	transport := &http.Transport{}

	if proxyURL != "" {
		parsed, errParse := url.Parse(proxyURL)
		if errParse != nil {
			log.Errorf("invalid proxy url %q: %v", proxyURL, errParse)
		} else if parsed.Scheme == "socks5" {
			username := parsed.User.Username()
			password, _ := parsed.User.Password()
			proxyAuth := &proxy.Auth{User: username, Password: password}
			dialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, proxyAuth, proxy.Direct)
			if errSOCKS5 != nil {
				log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			} else {
				transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}
		} else if parsed.Scheme == "http" || parsed.Scheme == "https" {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}

	if allowInsecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	httpClient.Transport = transport
	return httpClient
}
