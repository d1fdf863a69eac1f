// Package cookiejar persists HTTP cookies in a bbolt database so several handles, and
// later runs, share one cookie store.
package cookiejar

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/net/publicsuffix"
)

const (
	cookiesBucket  = "cookies"
	metadataBucket = "metadata"
	schemaVersion  = 1
)

// ErrClosed is returned by operations on a jar whose last reference was released.
var ErrClosed = errors.New("cookie jar is closed")

type entry struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
	HostOnly bool      `json:"host_only"`
}

func (e *entry) key() []byte {
	return []byte(e.Domain + "\x00" + e.Path + "\x00" + e.Name)
}

func (e *entry) expired(now time.Time) bool {
	return !e.Expires.IsZero() && !e.Expires.After(now)
}

// Jar is an http.CookieJar backed by bbolt.
type Jar struct {
	path string
	db   *bbolt.DB
	now  func() time.Time

	mu   sync.Mutex
	refs int
}

var registry = struct {
	mu   sync.Mutex
	jars map[string]*Jar
}{jars: make(map[string]*Jar)}

// Open returns the jar stored at path, opening the database on first use. Every Open
// must be paired with a Close.
func Open(path string) (*Jar, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if j, ok := registry.jars[path]; ok {
		j.mu.Lock()
		j.refs++
		j.mu.Unlock()

		return j, nil
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie jar: %w", err)
	}

	j := &Jar{path: path, db: db, now: time.Now, refs: 1}
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	registry.jars[path] = j

	return j, nil
}

func (j *Jar) initialize() error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(cookiesBucket)); err != nil {
			return fmt.Errorf("failed to create cookies bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		if err := meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion))); err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		return nil
	})
}

// Path returns the database file backing the jar.
func (j *Jar) Path() string {
	return j.path
}

// Close releases one reference. The database is closed with the last one.
func (j *Jar) Close() error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.refs == 0 {
		return nil
	}

	j.refs--
	if j.refs > 0 {
		return nil
	}

	delete(registry.jars, j.path)

	return j.db.Close()
}

// SetCookies implements http.CookieJar. Write failures are dropped since the interface
// has no error return.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	_ = j.Store(u, cookies)
}

// Store saves cookies received from u.
func (j *Jar) Store(u *url.URL, cookies []*http.Cookie) error {
	host := canonicalHost(u.Host)
	if host == "" {
		return nil
	}

	now := j.now()

	return j.update(func(b *bbolt.Bucket) error {
		for _, c := range cookies {
			e, ok := newEntry(c, u, host, now)
			if !ok {
				continue
			}

			if e.expired(now) {
				if err := b.Delete(e.key()); err != nil {
					return fmt.Errorf("failed to delete cookie %s: %w", e.Name, err)
				}

				continue
			}

			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal cookie %s: %w", e.Name, err)
			}

			if err := b.Put(e.key(), data); err != nil {
				return fmt.Errorf("failed to save cookie %s: %w", e.Name, err)
			}
		}

		return nil
	})
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	cookies, _ := j.Lookup(u)
	return cookies
}

// Lookup returns the cookies to send to u, longest path first.
func (j *Jar) Lookup(u *url.URL) ([]*http.Cookie, error) {
	host := canonicalHost(u.Host)
	if host == "" {
		return nil, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	secure := u.Scheme == "https"
	now := j.now()

	var matched []*entry

	err := j.view(func(b *bbolt.Bucket) error {
		return b.ForEach(func(_, v []byte) error {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal cookie: %w", err)
			}

			if e.expired(now) || (e.Secure && !secure) {
				return nil
			}

			if !e.domainMatch(host) || !pathMatch(e.Path, path) {
				return nil
			}

			matched = append(matched, &e)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matched, func(a, b int) bool {
		return len(matched[a].Path) > len(matched[b].Path)
	})

	out := make([]*http.Cookie, 0, len(matched))
	for _, e := range matched {
		out = append(out, &http.Cookie{Name: e.Name, Value: e.Value})
	}

	return out, nil
}

// Purge removes expired cookies and returns how many were dropped.
func (j *Jar) Purge() (int, error) {
	now := j.now()
	removed := 0

	err := j.update(func(b *bbolt.Bucket) error {
		var stale [][]byte

		if err := b.ForEach(func(k, v []byte) error {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil || e.expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}

			return nil
		}); err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		removed = len(stale)

		return nil
	})

	return removed, err
}

func (j *Jar) update(fn func(*bbolt.Bucket) error) error {
	if err := j.checkOpen(); err != nil {
		return err
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(cookiesBucket))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", cookiesBucket)
		}

		return fn(b)
	})
}

func (j *Jar) view(fn func(*bbolt.Bucket) error) error {
	if err := j.checkOpen(); err != nil {
		return err
	}

	return j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(cookiesBucket))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", cookiesBucket)
		}

		return fn(b)
	})
}

func (j *Jar) checkOpen() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.refs == 0 {
		return ErrClosed
	}

	return nil
}

func newEntry(c *http.Cookie, u *url.URL, host string, now time.Time) (*entry, bool) {
	if c == nil || c.Name == "" {
		return nil, false
	}

	e := &entry{
		Name:     c.Name,
		Value:    c.Value,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
	}

	domain := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
	if domain == "" {
		e.Domain = host
		e.HostOnly = true
	} else {
		d, ok := cookieDomain(host, domain)
		if !ok {
			return nil, false
		}

		e.Domain = d
		e.HostOnly = d == host
	}

	e.Path = c.Path
	if e.Path == "" || e.Path[0] != '/' {
		e.Path = defaultPath(u.EscapedPath())
	}

	switch {
	case c.MaxAge < 0:
		e.Expires = now.Add(-time.Second)
	case c.MaxAge > 0:
		e.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
	case !c.Expires.IsZero():
		e.Expires = c.Expires
	}

	return e, true
}

// cookieDomain validates a Domain attribute sent by host. IP hosts and public
// suffixes only get host-only cookies, and only when the attribute names the host.
func cookieDomain(host, domain string) (string, bool) {
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return host, domain == host
	}

	if ps, _ := publicsuffix.PublicSuffix(domain); ps == domain {
		return host, domain == host
	}

	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return "", false
	}

	return domain, true
}

func (e *entry) domainMatch(host string) bool {
	if e.Domain == host {
		return true
	}

	return !e.HostOnly && strings.HasSuffix(host, "."+e.Domain)
}

func pathMatch(cookiePath, reqPath string) bool {
	if cookiePath == reqPath {
		return true
	}

	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}

	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}

	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}

	return p[:i]
}

func canonicalHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	return strings.ToLower(strings.TrimSuffix(host, "."))
}
