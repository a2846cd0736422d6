package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"admin-auth-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cookieConfig(env string) *config.Config {
	return &config.Config{
		Environment: env,
		Auth: config.AuthConfig{
			SessionCookieName: "admin_session",
			GenericCookieName: "session",
			SessionTTL:        24 * time.Hour,
		},
	}
}

func TestCookieAdapter_Issue(t *testing.T) {
	a := NewCookieAdapter(cookieConfig("production"))
	r := httptest.NewRequest(http.MethodPost, "https://admin.example.com/api", nil)
	w := httptest.NewRecorder()

	a.Issue(w, r, "sid-123")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "admin_session", c.Name)
	assert.Equal(t, "sid-123", c.Value)
	assert.Equal(t, 86400, c.MaxAge)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Empty(t, c.Domain)
}

func TestCookieAdapter_NotSecureOutsideProduction(t *testing.T) {
	a := NewCookieAdapter(cookieConfig("development"))
	w := httptest.NewRecorder()
	a.Issue(w, httptest.NewRequest(http.MethodPost, "/", nil), "sid")
	assert.False(t, w.Result().Cookies()[0].Secure)
}

func TestCookieAdapter_DomainFunc(t *testing.T) {
	a := NewCookieAdapter(cookieConfig("production")).WithDomainFunc(func(host string) string {
		if strings.HasSuffix(host, ".example.com") {
			return "example.com"
		}
		return ""
	})
	r := httptest.NewRequest(http.MethodPost, "https://admin.example.com:8443/", nil)
	w := httptest.NewRecorder()
	a.Issue(w, r, "sid")
	assert.Equal(t, "example.com", w.Result().Cookies()[0].Domain)
}

func TestCookieAdapter_ReadAndClear(t *testing.T) {
	a := NewCookieAdapter(cookieConfig("production"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, a.Read(r))
	r.AddCookie(&http.Cookie{Name: "admin_session", Value: "sid-9"})
	assert.Equal(t, "sid-9", a.Read(r))

	w := httptest.NewRecorder()
	a.Clear(w, r)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)
	names := []string{cookies[0].Name, cookies[1].Name}
	assert.ElementsMatch(t, []string{"admin_session", "session"}, names)
	for _, c := range cookies {
		assert.Empty(t, c.Value)
		assert.Less(t, c.MaxAge, 0)
	}
}
