package session

import (
	"net/http"
	"strings"
	"time"
)

const (
	// CookieName carries the browser client id. __Host- requires Secure,
	// Path=/ and no Domain.
	CookieName = "__Host-tapit-client"

	// ClientCookieTTL outlives any single login; the cookie identifies the
	// browser, not the signed-in user.
	ClientCookieTTL = 365 * 24 * time.Hour
)

// CookieOptions defines how client cookies are issued.
type CookieOptions struct {
	Path     string
	HttpOnly bool
	Secure   bool
	SameSite http.SameSite
	Domain   string // should usually be empty for __Host- cookies
}

// normalize applies safe defaults without breaking callers
func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/" // required for __Host-
	}
	if !o.HttpOnly {
		o.HttpOnly = true
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

// SetCookie issues the client cookie, replacing one already set on w.
func SetCookie(
	w http.ResponseWriter,
	clientID string,
	expiresAt time.Time,
	opts CookieOptions,
) {
	opts = opts.normalize()
	dropCookie(w.Header())

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    clientID,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  expiresAt,
		HttpOnly: opts.HttpOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// ClearCookie removes the client cookie.
func ClearCookie(
	w http.ResponseWriter,
	opts CookieOptions,
) {
	opts = opts.normalize()
	dropCookie(w.Header())

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   -1,
		HttpOnly: opts.HttpOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// dropCookie removes client cookies already queued on h.
func dropCookie(h http.Header) {
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, CookieName+"=") {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
}

// ClientID reads the client cookie, returning "" when absent.
func ClientID(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
