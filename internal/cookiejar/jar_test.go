package cookiejar

import (
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Jar {
	t.Helper()

	j, err := Open(filepath.Join(t.TempDir(), "cookies.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = j.Close() })

	return j
}

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()

	u, err := url.Parse(s)
	require.NoError(t, err)

	return u
}

func names(cookies []*http.Cookie) []string {
	out := make([]string, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, c.Name+"="+c.Value)
	}

	return out
}

func TestJar_HostOnlyAndDomainCookies(t *testing.T) {
	j := openTemp(t)

	j.SetCookies(mustURL(t, "http://www.example.com/"), []*http.Cookie{
		{Name: "host", Value: "1"},
		{Name: "dom", Value: "2", Domain: ".example.com"},
	})

	assert.ElementsMatch(t, []string{"host=1", "dom=2"}, names(j.Cookies(mustURL(t, "http://www.example.com/"))))
	assert.Equal(t, []string{"dom=2"}, names(j.Cookies(mustURL(t, "http://api.example.com/"))))
	assert.Empty(t, j.Cookies(mustURL(t, "http://example.org/")))
}

func TestJar_RejectsForeignDomain(t *testing.T) {
	j := openTemp(t)

	j.SetCookies(mustURL(t, "http://example.com/"), []*http.Cookie{{Name: "evil", Value: "1", Domain: "other.com"}})

	assert.Empty(t, j.Cookies(mustURL(t, "http://other.com/")))
}

func TestJar_RejectsPublicSuffixAndIPDomains(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		domain  string
		victims []string
	}{
		{name: "second level suffix", from: "http://evil.co.uk/", domain: "co.uk", victims: []string{"http://bank.co.uk/", "http://co.uk/"}},
		{name: "top level domain", from: "http://evil.com/", domain: ".com", victims: []string{"http://bank.com/"}},
		{name: "ip host with foreign domain", from: "http://10.0.0.1/", domain: "0.0.1", victims: []string{"http://10.0.0.1/", "http://1.0.0.1/"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := openTemp(t)

			require.NoError(t, j.Store(mustURL(t, tt.from), []*http.Cookie{{Name: "sid", Value: "attacker", Domain: tt.domain}}))

			for _, victim := range tt.victims {
				assert.Empty(t, j.Cookies(mustURL(t, victim)), victim)
			}
		})
	}
}

func TestJar_DomainEqualToIPHostIsHostOnly(t *testing.T) {
	j := openTemp(t)

	require.NoError(t, j.Store(mustURL(t, "http://10.0.0.1/"), []*http.Cookie{{Name: "sid", Value: "1", Domain: "10.0.0.1"}}))

	assert.Equal(t, []string{"sid=1"}, names(j.Cookies(mustURL(t, "http://10.0.0.1/"))))
}

func TestJar_PathAndSecure(t *testing.T) {
	j := openTemp(t)

	j.SetCookies(mustURL(t, "https://example.com/app/login"), []*http.Cookie{
		{Name: "root", Value: "r", Path: "/"},
		{Name: "app", Value: "a", Path: "/app"},
		{Name: "sec", Value: "s", Path: "/", Secure: true},
	})

	// Longest path first.
	assert.Equal(t, []string{"app=a", "root=r", "sec=s"}, names(j.Cookies(mustURL(t, "https://example.com/app/x"))))
	assert.ElementsMatch(t, []string{"root=r"}, names(j.Cookies(mustURL(t, "http://example.com/application"))))
}

func TestJar_DefaultPath(t *testing.T) {
	j := openTemp(t)

	j.SetCookies(mustURL(t, "http://example.com/a/b/c"), []*http.Cookie{{Name: "x", Value: "1"}})

	assert.Len(t, j.Cookies(mustURL(t, "http://example.com/a/b/other")), 1)
	assert.Empty(t, j.Cookies(mustURL(t, "http://example.com/a")))
}

func TestJar_Expiry(t *testing.T) {
	j := openTemp(t)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	u := mustURL(t, "http://example.com/")
	j.SetCookies(u, []*http.Cookie{
		{Name: "short", Value: "1", MaxAge: 60},
		{Name: "long", Value: "2", Expires: now.Add(time.Hour)},
	})
	assert.Len(t, j.Cookies(u), 2)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, []string{"long=2"}, names(j.Cookies(u)))

	removed, err := j.Purge()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// MaxAge < 0 deletes.
	j.SetCookies(u, []*http.Cookie{{Name: "long", MaxAge: -1}})
	assert.Empty(t, j.Cookies(u))
}

func TestJar_SharedAndPersistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.db")
	u := mustURL(t, "http://example.com/")

	a, err := Open(path)
	require.NoError(t, err)

	b, err := Open(path)
	require.NoError(t, err)
	assert.Same(t, a, b)

	a.SetCookies(u, []*http.Cookie{{Name: "s", Value: "v"}})
	require.NoError(t, a.Close())

	// Still referenced by b.
	assert.Len(t, b.Cookies(u), 1)
	require.NoError(t, b.Close())

	_, err = b.Lookup(u)
	assert.ErrorIs(t, err, ErrClosed)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []string{"s=v"}, names(c.Cookies(u)))
}
