package session

import (
	"github.com/go-rod/rod/lib/proto"
)

// StorageState is the serialized authentication state of a platform
// session: cookies plus per-origin localStorage. The JSON shape matches
// what browser capture tooling emits, so captured blobs load unmodified.
type StorageState struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

// Cookie is one captured cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // unix seconds; <= 0 means session cookie
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"` // Strict | Lax | None
}

// Origin holds the localStorage entries captured for one origin.
type Origin struct {
	Origin       string             `json:"origin"`
	LocalStorage []LocalStorageItem `json:"localStorage"`
}

// LocalStorageItem is one localStorage key/value pair.
type LocalStorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (c Cookie) toParam() *proto.NetworkCookieParam {
	p := &proto.NetworkCookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
	}
	if c.Expires > 0 {
		p.Expires = proto.TimeSinceEpoch(c.Expires)
	}
	switch c.SameSite {
	case "Strict":
		p.SameSite = proto.NetworkCookieSameSiteStrict
	case "Lax":
		p.SameSite = proto.NetworkCookieSameSiteLax
	case "None":
		p.SameSite = proto.NetworkCookieSameSiteNone
	}
	return p
}

func cookieFromProto(c *proto.NetworkCookie) Cookie {
	out := Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
	}
	if !c.Session {
		out.Expires = float64(c.Expires)
	}
	switch c.SameSite {
	case proto.NetworkCookieSameSiteStrict:
		out.SameSite = "Strict"
	case proto.NetworkCookieSameSiteLax:
		out.SameSite = "Lax"
	case proto.NetworkCookieSameSiteNone:
		out.SameSite = "None"
	}
	return out
}
