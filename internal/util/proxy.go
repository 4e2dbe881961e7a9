package util

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/llmgate/LLMGateAPI/internal/config"
)

// NewBackendTransport builds the HTTP transport for backend calls: a
// bounded connect timeout, no overall client timeout (token reads may
// be hours apart), and optional proxy routing from the configuration.
// Supports SOCKS5, HTTP, and HTTPS proxies.
func NewBackendTransport(cfg *config.Config) *http.Transport {
	dialer := &net.Dialer{Timeout: time.Duration(cfg.ConnectTimeoutSeconds) * time.Second}
	transport := &http.Transport{DialContext: dialer.DialContext}

	if cfg.ProxyURL == "" {
		return transport
	}

	proxyURL, errParse := url.Parse(cfg.ProxyURL)
	if errParse != nil {
		log.Errorf("invalid proxy url %q: %v", cfg.ProxyURL, errParse)
		return transport
	}

	switch proxyURL.Scheme {
	case "socks5":
		username := proxyURL.User.Username()
		password, _ := proxyURL.User.Password()
		var proxyAuth *proxy.Auth
		if username != "" {
			proxyAuth = &proxy.Auth{User: username, Password: password}
		}
		socksDialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			return transport
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return socksDialer.Dial(network, addr)
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	default:
		log.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}

	return transport
}
