package fetcher

import (
	"fmt"
	"net/url"

	"stockleague/internal/quote"
)

// Route is one concrete network path to the price provider: the direct call,
// or an indirection through a CORS/relay proxy that wraps the target URL.
type Route struct {
	Name string
	// Wrap turns the provider URL into the URL actually requested.
	Wrap func(target string) string
}

// Direct returns the route that calls the provider without indirection.
func Direct() Route {
	return Route{Name: "direct", Wrap: func(target string) string { return target }}
}

// Proxy returns a route that requests the target through a wrapping proxy.
// The prefix receives the URL-escaped target appended, e.g.
// "https://api.allorigins.win/raw?url=" + escape(target).
func Proxy(name, prefix string) Route {
	return Route{Name: name, Wrap: func(target string) string {
		return prefix + url.QueryEscape(target)
	}}
}

// ProxyFromPrefix builds a proxy route named after the proxy host, for
// routes configured as bare prefixes.
func ProxyFromPrefix(prefix string) Route {
	name := prefix
	if u, err := url.Parse(prefix); err == nil && u.Host != "" {
		name = u.Host
	}
	return Proxy(name, prefix)
}

// DefaultRoutes is the direct call followed by two public relay proxies.
// Order matters: rotation starts here and advances past broken routes.
func DefaultRoutes() []Route {
	return []Route{
		Direct(),
		Proxy("allorigins", "https://api.allorigins.win/raw?url="),
		Proxy("corsproxy", "https://corsproxy.io/?url="),
	}
}

// providerURL builds the provider chart URL for a normalized symbol.
func providerURL(baseURL, symbol string, exchange quote.Exchange) string {
	return fmt.Sprintf("%s/%s%s", baseURL, url.PathEscape(symbol), exchange.Suffix())
}
