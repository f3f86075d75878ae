package shared

import "net/http"

// RootURL returns the configured public root, or the scheme and host of r
// when none is configured.
func RootURL(r *http.Request, configured string) string {
	if configured != "" {
		return configured
	}
	return requestScheme(r) + "://" + r.Host
}

// BaseURL returns the absolute URL of the request path without its query.
func BaseURL(r *http.Request) string {
	return requestScheme(r) + "://" + r.Host + r.URL.Path
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
