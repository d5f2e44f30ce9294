package util

import (
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpproxy"
)

// NewProxyFunc creates a proxy function based on configuration.
// Settings left empty are taken from HTTP_PROXY, HTTPS_PROXY and NO_PROXY. An HTTP proxy
// without an HTTPS proxy is used for both schemes. noProxy entries use NO_PROXY syntax
// ("forum.example", ".cdn.example", "10.0.0.0/8", "*"); loopback hosts are never proxied.
func NewProxyFunc(httpProxy, httpsProxy string, noProxy []string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" && len(noProxy) == 0 {
		return http.ProxyFromEnvironment
	}

	cfg := httpproxy.FromEnvironment()
	if httpProxy != "" {
		cfg.HTTPProxy = httpProxy
		cfg.HTTPSProxy = httpProxy
	}
	if httpsProxy != "" {
		cfg.HTTPSProxy = httpsProxy
	}
	if len(noProxy) > 0 {
		cfg.NoProxy = strings.Join(noProxy, ",")
	}

	proxyForURL := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return proxyForURL(req.URL)
	}
}
