// Package utils provides common utility functions.
package utils

import (
	"net/http"
	"net/url"
)

// HTTPHelper provides HTTP utility functions.
type HTTPHelper struct {
	userAgent string
}

// NewHTTPHelper creates a new HTTP helper.
func NewHTTPHelper() *HTTPHelper {
	return &HTTPHelper{userAgent: "fedspend/1.0"}
}

// NewHTTPHelperWithAgent creates a helper that sends the given User-Agent.
func NewHTTPHelperWithAgent(userAgent string) *HTTPHelper {
	if userAgent == "" {
		return NewHTTPHelper()
	}

	return &HTTPHelper{userAgent: userAgent}
}

// IsValidURL reports whether s is an absolute http(s) URL with a host.
func (h *HTTPHelper) IsValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// BuildHeaders creates JSON request headers with defaults.
func (h *HTTPHelper) BuildHeaders(customHeaders map[string]string) http.Header {
	headers := http.Header{}

	// Add default headers
	headers.Set("User-Agent", h.userAgent)
	headers.Set("Accept", "application/json")
	headers.Set("Content-Type", "application/json")

	// Add custom headers
	for key, value := range customHeaders {
		headers.Set(key, value)
	}

	return headers
}
