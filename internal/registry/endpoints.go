package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	ZeroXQuoteURL         = "https://base.api.0x.org/swap/v1/quote"
	OpenOceanBaseURL      = "https://open-api.openocean.finance/v4"
	OneInchBaseURL        = "https://api.1inch.dev"
	CoinGeckoBaseURL      = "https://api.coingecko.com/api/v3"
	CoinGeckoBasePlatform = "base"
)

// IsAllowedEndpoint reports whether a configured provider or RPC endpoint is
// safe to send wallet addresses and signed payloads to: https anywhere, plain
// http only on loopback.
func IsAllowedEndpoint(endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || parsed.Host == "" {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if isLoopbackHost(parsed.Hostname()) {
		return scheme == "http" || scheme == "https"
	}
	return scheme == "https"
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
