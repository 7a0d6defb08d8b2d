// Package csrf attaches the CSRF token cookie to state-changing requests.
package csrf

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/idilsaglam/todosync/internal/session"
)

const (
	DefaultCookieName = "csrftoken"
	DefaultHeaderName = "X-CSRFToken"
)

// SafeMethod reports whether method needs no CSRF protection.
func SafeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// SameOrigin compares scheme, host and effective port.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// Token returns the value of the first cookie named name that would be sent
// to u. No cookie means no token.
func Token(cookies session.CookieReader, u *url.URL, name string) (string, bool) {
	if cookies == nil {
		return "", false
	}
	for _, c := range cookies.Cookies(u) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Transport sets the CSRF header on unsafe, same-origin requests when the
// token cookie exists. Everything else passes through untouched.
// The token is read per request, so a rotated cookie is picked up.
type Transport struct {
	Base       http.RoundTripper
	Origin     *url.URL
	Cookies    session.CookieReader
	CookieName string
	HeaderName string
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if SafeMethod(req.Method) || !SameOrigin(req.URL, t.Origin) {
		return base.RoundTrip(req)
	}
	token, ok := Token(t.Cookies, req.URL, t.cookieName())
	if !ok {
		return base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set(t.headerName(), token)
	return base.RoundTrip(r)
}

func (t *Transport) cookieName() string {
	if t.CookieName == "" {
		return DefaultCookieName
	}
	return t.CookieName
}

func (t *Transport) headerName() string {
	if t.HeaderName == "" {
		return DefaultHeaderName
	}
	return t.HeaderName
}
