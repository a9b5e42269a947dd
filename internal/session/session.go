// Package session holds the portal cookie jar and its persistence.
package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/net/publicsuffix"
)

// Cookie is the persisted form of one cookie.
type Cookie struct {
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
	HostOnly bool      `json:"host_only,omitempty"`
}

func (c Cookie) key() string {
	return c.Domain + "|" + c.Path + "|" + c.Name
}

// Expired reports whether the cookie had an expiry that has passed.
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// Session is the cookie jar shared by the login flow and the usage fetcher.
// It behaves like a regular http.CookieJar and additionally remembers every
// cookie it accepted so the jar can be persisted and inspected.
type Session struct {
	mu      sync.Mutex
	jar     *cookiejar.Jar
	cookies map[string]Cookie
	now     func() time.Time
}

// New returns an empty session.
func New() *Session {
	s := &Session{now: time.Now}
	s.reset()
	return s
}

func (s *Session) reset() {
	// cookiejar.New only fails on a nil options error path that cannot happen here
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	s.jar = jar
	s.cookies = make(map[string]Cookie)
}

// SetCookies implements http.CookieJar.
func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jar.SetCookies(u, cookies)

	now := s.now()
	for _, hc := range cookies {
		c := fromHTTP(u, hc, now)
		if hc.MaxAge < 0 || c.Expired(now) {
			delete(s.cookies, c.key())
			continue
		}
		// The jar drops cookies whose Domain does not match the host or is a public suffix
		if !s.sends(c) {
			continue
		}
		s.cookies[c.key()] = c
	}
}

// sends reports whether the jar would send c back to its own domain and path.
// Callers hold s.mu.
func (s *Session) sends(c Cookie) bool {
	u := &url.URL{Scheme: "https", Host: normalizeDomain(c.Domain), Path: c.Path}
	return lo.ContainsBy(s.jar.Cookies(u), func(hc *http.Cookie) bool {
		return hc.Name == c.Name && hc.Value == c.Value
	})
}

// Cookies implements http.CookieJar.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jar.Cookies(u)
}

// Clear drops every cookie. Clients holding the session see the reset
// immediately.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// Empty reports whether the session holds no live cookies.
func (s *Session) Empty() bool {
	return len(s.Snapshot()) == 0
}

// Snapshot returns the live cookies ordered by domain, path and name.
func (s *Session) Snapshot() []Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := lo.Filter(lo.Values(s.cookies), func(c Cookie, _ int) bool {
		return !c.Expired(now)
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].key() < out[j].key()
	})
	return out
}

// Restore replaces the session contents with cookies. Expired entries are skipped.
func (s *Session) Restore(cookies []Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	now := s.now()
	for _, c := range cookies {
		if c.Name == "" || c.Domain == "" || c.Expired(now) {
			continue
		}
		u, hc := toHTTP(c)
		s.jar.SetCookies(u, []*http.Cookie{hc})
		if !s.sends(c) {
			continue
		}
		s.cookies[c.key()] = c
	}
}

// Has reports whether a live cookie called name exists. An empty domain
// matches any domain; otherwise leading dots are ignored when comparing.
func (s *Session) Has(name, domain string) bool {
	domain = normalizeDomain(domain)
	return lo.ContainsBy(s.Snapshot(), func(c Cookie) bool {
		return c.Name == name && (domain == "" || normalizeDomain(c.Domain) == domain)
	})
}

func fromHTTP(u *url.URL, hc *http.Cookie, now time.Time) Cookie {
	c := Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Path:     hc.Path,
		Secure:   hc.Secure,
		HTTPOnly: hc.HttpOnly,
	}

	if hc.Domain != "" {
		c.Domain = "." + normalizeDomain(hc.Domain)
	} else {
		c.Domain = strings.ToLower(u.Hostname())
		c.HostOnly = true
	}

	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		c.Path = defaultPath(u.Path)
	}

	switch {
	case hc.MaxAge > 0:
		c.Expires = now.Add(time.Duration(hc.MaxAge) * time.Second).UTC()
	case !hc.Expires.IsZero():
		c.Expires = hc.Expires.UTC()
	}
	return c
}

func toHTTP(c Cookie) (*url.URL, *http.Cookie) {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	u := &url.URL{Scheme: scheme, Host: normalizeDomain(c.Domain), Path: c.Path}

	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if !c.HostOnly {
		hc.Domain = normalizeDomain(c.Domain)
	}
	return u, hc
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimPrefix(domain, "."))
}

// defaultPath follows RFC 6265 section 5.1.4.
func defaultPath(path string) string {
	if path == "" || path[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(path, "/")
	if i == 0 {
		return "/"
	}
	return path[:i]
}
