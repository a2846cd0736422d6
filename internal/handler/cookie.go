package handler

import (
	"net"
	"net/http"
	"strings"
	"time"

	"admin-auth-service/internal/config"
)

// CookieAdapter moves the session id between the service and the client.
type CookieAdapter struct {
	name        string
	genericName string
	secure      bool
	maxAge      time.Duration
	domainFor   func(host string) string
}

func NewCookieAdapter(cfg *config.Config) *CookieAdapter {
	a := &CookieAdapter{
		name:        cfg.Auth.SessionCookieName,
		genericName: cfg.Auth.GenericCookieName,
		secure:      cfg.IsProduction(),
		maxAge:      cfg.Auth.SessionTTL,
	}
	domain := cfg.Auth.CookieDomain
	a.domainFor = func(string) string { return domain }
	return a
}

// WithDomainFunc overrides how the cookie domain is derived from the
// request host. An empty result scopes the cookie to the exact host.
func (a *CookieAdapter) WithDomainFunc(fn func(host string) string) *CookieAdapter {
	a.domainFor = fn
	return a
}

// Issue sets the session cookie.
func (a *CookieAdapter) Issue(w http.ResponseWriter, r *http.Request, sessionID string) {
	http.SetCookie(w, a.cookie(r, a.name, sessionID, int(a.maxAge/time.Second)))
}

// Read returns the session id carried by the request, or "".
func (a *CookieAdapter) Read(r *http.Request) string {
	c, err := r.Cookie(a.name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Clear expires the admin cookie and the generic session cookie.
func (a *CookieAdapter) Clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, a.cookie(r, a.name, "", -1))
	if a.genericName != "" && a.genericName != a.name {
		http.SetCookie(w, a.cookie(r, a.genericName, "", -1))
	}
}

func (a *CookieAdapter) cookie(r *http.Request, name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.domainFor(requestHost(r)),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
