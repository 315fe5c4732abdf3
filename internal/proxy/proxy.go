// Package proxy builds HTTP transports that spread requests across a pool
// of forward proxies.
package proxy

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
)

// Transport returns a RoundTripper routing each request through a random
// member of the pool. An empty pool yields the default transport; a single
// entry pins every request to it.
func Transport(pool []string) (http.RoundTripper, error) {
	if len(pool) == 0 {
		return http.DefaultTransport, nil
	}

	parsed := make([]*url.URL, 0, len(pool))
	for _, raw := range pool {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url %q: %w", raw, err)
		}
		parsed = append(parsed, u)
	}

	if len(parsed) == 1 {
		return &http.Transport{Proxy: http.ProxyURL(parsed[0])}, nil
	}
	return &http.Transport{
		Proxy: func(*http.Request) (*url.URL, error) {
			return parsed[rand.Intn(len(parsed))], nil
		},
	}, nil
}
