// Package session holds the cookies the todo service issued to the user:
// the login session and the CSRF token.
package session

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/idilsaglam/todosync/internal/store/jsonstore"
)

// EnvCookies overrides the cookie file. Same syntax as document.cookie.
const EnvCookies = "TODOSYNC_COOKIES"

// Source tells where the cookies came from.
type Source string

const (
	SourceNone Source = "none"
	SourceEnv  Source = "env"
	SourceFile Source = "file"
)

// CookieReader exposes the cookies that would be sent to u.
// *cookiejar.Jar and *Session satisfy it.
type CookieReader interface {
	Cookies(u *url.URL) []*http.Cookie
}

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type fileData struct {
	BaseURL   string         `json:"base_url"`
	Cookies   []storedCookie `json:"cookies"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Session is a cookie jar scoped to one service base URL.
type Session struct {
	Jar    *cookiejar.Jar
	Source Source

	path string
	base *url.URL
}

// Open builds the jar for base. TODOSYNC_COOKIES wins over the file at path.
// A file saved for a different base URL is ignored.
func Open(path string, base *url.URL) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	s := &Session{Jar: jar, Source: SourceNone, path: path, base: base}

	if env := strings.TrimSpace(os.Getenv(EnvCookies)); env != "" {
		s.seed(ParseCookieString(env))
		s.Source = SourceEnv
		return s, nil
	}

	var f fileData
	found, err := jsonstore.Load(path, &f)
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	if found && sameBase(f.BaseURL, base) {
		cookies := make([]*http.Cookie, 0, len(f.Cookies))
		for _, c := range f.Cookies {
			cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value})
		}
		s.seed(cookies)
		s.Source = SourceFile
	}
	return s, nil
}

// Cookies returns the cookies the jar would send to u.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	return s.Jar.Cookies(u)
}

// Lookup returns the value of the named cookie for the base URL.
func (s *Session) Lookup(name string) (string, bool) {
	for _, c := range s.Jar.Cookies(s.base) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Persist writes the jar's current cookies back to the file, picking up any
// the server rotated. Env-provided sessions are never written.
func (s *Session) Persist() error {
	if s.Source == SourceEnv {
		return nil
	}
	cookies := s.Jar.Cookies(s.base)
	if len(cookies) == 0 && s.Source == SourceNone {
		return nil
	}
	return writeFile(s.path, s.base, cookies)
}

func (s *Session) seed(cookies []*http.Cookie) {
	for _, c := range cookies {
		c.Path = "/"
	}
	s.Jar.SetCookies(s.base, cookies)
}

// Set merges cookies into the file for base, replacing same-named entries.
func Set(path string, base *url.URL, cookies []*http.Cookie) error {
	var f fileData
	if _, err := jsonstore.Load(path, &f); err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}
	merged := map[string]string{}
	var order []string
	if sameBase(f.BaseURL, base) {
		for _, c := range f.Cookies {
			if _, ok := merged[c.Name]; !ok {
				order = append(order, c.Name)
			}
			merged[c.Name] = c.Value
		}
	}
	for _, c := range cookies {
		if _, ok := merged[c.Name]; !ok {
			order = append(order, c.Name)
		}
		merged[c.Name] = c.Value
	}
	out := make([]*http.Cookie, 0, len(order))
	for _, name := range order {
		out = append(out, &http.Cookie{Name: name, Value: merged[name]})
	}
	return writeFile(path, base, out)
}

// Clear removes the cookie file.
func Clear(path string) error {
	return jsonstore.Remove(path)
}

func writeFile(path string, base *url.URL, cookies []*http.Cookie) error {
	f := fileData{BaseURL: origin(base), UpdatedAt: time.Now().UTC()}
	for _, c := range cookies {
		f.Cookies = append(f.Cookies, storedCookie{Name: c.Name, Value: c.Value})
	}
	if err := jsonstore.Save(path, f); err != nil {
		return fmt.Errorf("write cookies: %w", err)
	}
	return nil
}

// ParseCookieString parses "a=1; b=2" the way document.cookie reads:
// entries trimmed, values URL-decoded, malformed entries skipped.
func ParseCookieString(s string) []*http.Cookie {
	var out []*http.Cookie
	for _, part := range strings.Split(s, ";") {
		c, err := ParsePair(part)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ParsePair parses a single name=value entry.
func ParsePair(s string) (*http.Cookie, error) {
	s = strings.TrimSpace(s)
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return nil, fmt.Errorf("malformed cookie %q: want name=value", s)
	}
	if dec, err := url.PathUnescape(value); err == nil {
		value = dec
	}
	return &http.Cookie{Name: name, Value: value}, nil
}

func origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func sameBase(stored string, base *url.URL) bool {
	if stored == "" {
		return true
	}
	u, err := url.Parse(stored)
	if err != nil {
		return false
	}
	return origin(u) == origin(base)
}
