// Package cookiestore persists a named cookie jar in the Netscape
// cookie-file format: one tab-separated line per cookie with domain,
// tailmatch flag, path, secure flag, expiry, name and value columns.
package cookiestore

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const httpOnlyPrefix = "#HttpOnly_"

type Cookie struct {
	Domain    string
	Tailmatch bool
	Path      string
	Secure    bool
	// unix seconds, 0 for session cookies
	Expires  int64
	Name     string
	Value    string
	HttpOnly bool
}

// HTTP converts the stored entry into an http.Cookie suitable for
// seeding a cookie jar.
func (c Cookie) HTTP() *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   strings.TrimPrefix(c.Domain, "."),
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
	if out.Path == "" {
		out.Path = "/"
	}
	if c.Expires > 0 {
		out.Expires = time.Unix(c.Expires, 0)
	}
	return out
}

type Store struct {
	path string
}

func New(path string) Store {
	return Store{path: path}
}

func (s Store) Path() string {
	return s.path
}

func (s Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Load reads the jar from disk. A missing file is reported as
// os.ErrNotExist.
func (s Store) Load() ([]Cookie, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return Parse(string(raw)), nil
}

// Parse decodes Netscape cookie-file text. Comment lines are skipped
// except for the #HttpOnly_ domain prefix convention; malformed lines
// are ignored rather than failing the whole jar.
func Parse(raw string) []Cookie {
	var cookies []Cookie
	for _, rawLine := range strings.Split(raw, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			line = strings.TrimPrefix(line, httpOnlyPrefix)
			httpOnly = true
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) != 7 {
			continue
		}

		expires, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil {
			expires = 0
		}

		cookies = append(cookies, Cookie{
			Domain:    parts[0],
			Tailmatch: strings.EqualFold(parts[1], "TRUE"),
			Path:      parts[2],
			Secure:    strings.EqualFold(parts[3], "TRUE"),
			Expires:   expires,
			Name:      parts[5],
			Value:     parts[6],
			HttpOnly:  httpOnly,
		})
	}
	return cookies
}

func formatFlag(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// Serialize encodes the jar as Netscape cookie-file text.
func Serialize(cookies []Cookie) string {
	lines := []string{
		"# Netscape HTTP Cookie File",
	}
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			continue
		}
		line := strings.Join([]string{
			domain,
			formatFlag(c.Tailmatch),
			c.Path,
			formatFlag(c.Secure),
			strconv.FormatInt(c.Expires, 10),
			c.Name,
			c.Value,
		}, "\t")
		if c.HttpOnly {
			line = httpOnlyPrefix + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n") + "\n"
}

// Save rewrites the jar atomically (write-to-temp-then-rename).
func (s Store) Save(cookies []Cookie) error {
	dir := filepath.Dir(s.path)
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.WriteString(Serialize(cookies))
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.path)
}

// Apply seeds a cookie jar with the stored cookies for one site.
func Apply(jar http.CookieJar, site *url.URL, cookies []Cookie) {
	httpCookies := make([]*http.Cookie, len(cookies))
	for i, c := range cookies {
		httpCookies[i] = c.HTTP()
	}
	jar.SetCookies(site, httpCookies)
}

// Snapshot reads the jar's cookies for one site back into storable
// entries. http.CookieJar only exposes name/value pairs, so domain and
// path attributes are reconstructed from the site URL.
func Snapshot(jar http.CookieJar, site *url.URL) []Cookie {
	var out []Cookie
	for _, c := range jar.Cookies(site) {
		domain := c.Domain
		if domain == "" {
			domain = site.Hostname()
		}
		if !strings.HasPrefix(domain, ".") {
			domain = "." + domain
		}
		var expires int64
		if !c.Expires.IsZero() {
			expires = c.Expires.Unix()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		out = append(out, Cookie{
			Domain:    domain,
			Tailmatch: true,
			Path:      path,
			Secure:    c.Secure,
			Expires:   expires,
			Name:      c.Name,
			Value:     c.Value,
			HttpOnly:  c.HttpOnly,
		})
	}
	return out
}

func (s Store) String() string {
	return fmt.Sprintf("cookiestore(%s)", s.path)
}
