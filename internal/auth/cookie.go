package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrCookieSignature indicates a cookie whose HMAC does not verify.
var ErrCookieSignature = errors.New("cookie signature mismatch")

// signedPrefix marks signed values, matching the cookie-parser wire format
// ("s:" + value + "." + base64(hmac-sha256) without padding).
const signedPrefix = "s:"

// CookieSigner signs cookie values with a secret independent of the token secret.
type CookieSigner struct {
	secret []byte
}

func NewCookieSigner(secret string) *CookieSigner {
	return &CookieSigner{secret: []byte(secret)}
}

func (s *CookieSigner) mac(value string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(value))
	return strings.TrimRight(base64.StdEncoding.EncodeToString(h.Sum(nil)), "=")
}

func (s *CookieSigner) Sign(value string) string {
	return signedPrefix + value + "." + s.mac(value)
}

// Unsign returns the original value. Percent-encoded input is accepted.
func (s *CookieSigner) Unsign(signed string) (string, error) {
	if decoded, err := url.PathUnescape(signed); err == nil {
		signed = decoded
	}
	if !strings.HasPrefix(signed, signedPrefix) {
		return "", ErrCookieSignature
	}
	body := strings.TrimPrefix(signed, signedPrefix)
	dot := strings.LastIndex(body, ".")
	if dot < 0 {
		return "", ErrCookieSignature
	}
	value, sig := body[:dot], body[dot+1:]
	if !hmac.Equal([]byte(sig), []byte(s.mac(value))) {
		return "", ErrCookieSignature
	}
	return value, nil
}

// CookieOptions holds the scoping attributes of the session cookie. The same
// value is used for issuing and clearing so both always agree.
type CookieOptions struct {
	Name     string
	Path     string
	Domain   string
	TTL      time.Duration
	Secure   bool
	SameSite http.SameSite
}

// Issue builds the session cookie carrying value, expiring TTL after now.
func (o CookieOptions) Issue(value string, now time.Time) *http.Cookie {
	c := o.scoped()
	c.Value = value
	c.Expires = now.Add(o.TTL).UTC()
	return c
}

// Clear builds a cookie that removes a previously issued one.
func (o CookieOptions) Clear() *http.Cookie {
	c := o.scoped()
	c.Expires = time.Unix(0, 0).UTC()
	c.MaxAge = -1
	return c
}

func (o CookieOptions) scoped() *http.Cookie {
	return &http.Cookie{
		Name:     o.Name,
		Path:     o.Path,
		Domain:   o.Domain,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: o.SameSite,
	}
}
