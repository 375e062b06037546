package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/pitchy/client/durable"
)

// CookieKey is the durable key holding the session cookies.
const CookieKey = "vi_cookies"

// StoredJar is an http.CookieJar persisted in the durable store, so a login
// performed by one process is usable by every process sharing the data
// directory. Matching rules are delegated to net/http/cookiejar, rebuilt from
// storage on each lookup.
type StoredJar struct {
	kv durable.Store
	mu sync.Mutex
}

var _ http.CookieJar = (*StoredJar)(nil)

func NewStoredJar(kv durable.Store) *StoredJar {
	return &StoredJar{kv: kv}
}

type storedCookie struct {
	URL      string    `json:"url"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

func (sc storedCookie) expired(now time.Time) bool {
	return !sc.Expires.IsZero() && !sc.Expires.After(now)
}

func (sc storedCookie) sameCookie(other storedCookie) bool {
	return sc.URL == other.URL && sc.Name == other.Name && sc.Path == other.Path && sc.Domain == other.Domain
}

func (j *StoredJar) load() []storedCookie {
	raw, ok, err := j.kv.Get(CookieKey)
	if err != nil {
		slog.Warn("failed to read stored cookies", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var cookies []storedCookie
	if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
		slog.Warn("discarding corrupt stored cookies", "error", err)
		return nil
	}
	return cookies
}

func (j *StoredJar) save(cookies []storedCookie) {
	if len(cookies) == 0 {
		if err := j.kv.Remove(CookieKey); err != nil {
			slog.Warn("failed to remove stored cookies", "error", err)
		}
		return
	}
	data, err := json.Marshal(cookies)
	if err != nil {
		slog.Warn("failed to encode cookies", "error", err)
		return
	}
	if err := j.kv.Set(CookieKey, string(data)); err != nil {
		slog.Warn("failed to persist cookies", "error", err)
	}
}

func originOf(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func (j *StoredJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	stored := j.load()

	for _, c := range cookies {
		sc := storedCookie{
			URL:      originOf(u),
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		switch {
		case c.MaxAge < 0:
			sc.Expires = now
		case c.MaxAge > 0:
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}

		replaced := false
		for i := range stored {
			if stored[i].sameCookie(sc) {
				stored[i] = sc
				replaced = true
				break
			}
		}
		if !replaced {
			stored = append(stored, sc)
		}
	}

	live := stored[:0]
	for _, sc := range stored {
		if !sc.expired(now) {
			live = append(live, sc)
		}
	}
	j.save(live)
}

func (j *StoredJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	stored := j.load()
	j.mu.Unlock()

	jar, _ := cookiejar.New(nil)
	now := time.Now()
	for _, sc := range stored {
		if sc.expired(now) {
			continue
		}
		origin, err := url.Parse(sc.URL)
		if err != nil {
			continue
		}
		jar.SetCookies(origin, []*http.Cookie{{
			Name:     sc.Name,
			Value:    sc.Value,
			Path:     sc.Path,
			Domain:   sc.Domain,
			Expires:  sc.Expires,
			Secure:   sc.Secure,
			HttpOnly: sc.HttpOnly,
		}})
	}
	return jar.Cookies(u)
}

// Clear drops every stored cookie.
func (j *StoredJar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.kv.Remove(CookieKey)
}
