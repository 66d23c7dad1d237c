package myrace

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"raceops-backend/lib/cookiestore"

	"github.com/stretchr/testify/require"
)

// sidCookie builds a stored session cookie for the fake site.
func sidCookie(rawURL, value string) cookiestore.Cookie {
	u, _ := url.Parse(rawURL)
	return cookiestore.Cookie{
		Domain: u.Hostname(),
		Path:   "/",
		Name:   "sid",
		Value:  value,
	}
}

// scriptedPrompter plays back canned prompt answers.
type scriptedPrompter struct {
	t       *testing.T
	secrets []string
	codes   []string
}

func (p *scriptedPrompter) Prompt(string) (string, error) {
	if len(p.codes) == 0 {
		p.t.Fatal("prompted for a code with none scripted")
	}
	code := p.codes[0]
	p.codes = p.codes[1:]
	return code, nil
}

func (p *scriptedPrompter) PromptSecret(string) (string, error) {
	if len(p.secrets) == 0 {
		p.t.Fatal("prompted for a secret with none scripted")
	}
	secret := p.secrets[0]
	p.secrets = p.secrets[1:]
	return secret, nil
}

// fakeLoginSite mimics the site's multi-step login: the email form
// leads to either a password form or an emailed-link notice, a correct
// password leads to the one-time code form, and a correct code grants
// a session cookie.
type fakeLoginSite struct {
	password      string
	otp           string
	emailLinkOnly bool
}

func (s *fakeLoginSite) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	emailPage := `<html><body><form action="/signup" method="post">
		<input type="email" name="email" required></form></body></html>`
	passwordPage := `<html><body><form action="/login/password" method="post">
		<input type="hidden" name="email" value="">
		<input type="password" name="password" required></form></body></html>`
	verifyPage := `<html><body><form action="/verify/session123" method="post">
		<input type="text" name="confirmation_code" required></form></body></html>`

	mux.HandleFunc("GET /login/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, emailPage)
	})
	mux.HandleFunc("POST /signup", func(w http.ResponseWriter, r *http.Request) {
		if s.emailLinkOnly {
			fmt.Fprint(w, `<html><body><p>Мы отправили вам письмо со ссылкой для входа</p></body></html>`)
			return
		}
		fmt.Fprint(w, passwordPage)
	})
	mux.HandleFunc("POST /login/password", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("password") != s.password {
			fmt.Fprint(w, passwordPage)
			return
		}
		fmt.Fprint(w, verifyPage)
	})
	mux.HandleFunc("POST /verify/session123", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("confirmation_code") != s.otp {
			fmt.Fprint(w, verifyPage)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/profile", http.StatusFound)
	})
	mux.HandleFunc("GET /profile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Профиль</h1></body></html>`)
	})
	mux.HandleFunc("GET /race/list", func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("sid"); err != nil || cookie.Value != "ok" {
			http.Redirect(w, r, "/login/", http.StatusFound)
			return
		}
		fmt.Fprint(w, `<html><body><a href="/races/42">Race</a></body></html>`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newLoginTestClient(t *testing.T, baseURL, cookieFile string, prompt Prompter) *Client {
	t.Helper()
	client, err := NewClient(ClientOptions{
		BaseUrl:           baseURL,
		CookieFile:        cookieFile,
		RequestsPerSecond: 1000,
		Retry:             RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond},
		Prompter:          prompt,
	})
	require.NoError(t, err)
	return client
}

func TestAuthenticatePasswordAndOtp(t *testing.T) {
	site := &fakeLoginSite{password: "hunter2", otp: "123456"}
	server := site.server(t)
	cookieFile := filepath.Join(t.TempDir(), "cookies.txt")
	client := newLoginTestClient(t, server.URL, cookieFile, nil)

	session, err := client.Authenticate(context.Background(), Credentials{
		Email:    "runner@example.com",
		Password: "hunter2",
		Otp:      "123456",
	}, AuthOptions{Save: true})
	require.NoError(t, err)
	require.False(t, session.Reused)
	require.Equal(t, "runner@example.com", session.Email)

	// the session cookie made it into the persisted jar
	require.True(t, client.CookieStore().Exists())
	cookies, err := client.CookieStore().Load()
	require.NoError(t, err)
	found := false
	for _, c := range cookies {
		if c.Name == "sid" && c.Value == "ok" {
			found = true
		}
	}
	require.True(t, found, "saved cookies miss the session: %+v", cookies)
}

func TestAuthenticatePromptsForMissingSecrets(t *testing.T) {
	site := &fakeLoginSite{password: "hunter2", otp: "123456"}
	server := site.server(t)
	prompt := &scriptedPrompter{t: t, secrets: []string{"hunter2"}, codes: []string{"123456"}}
	client := newLoginTestClient(t, server.URL, filepath.Join(t.TempDir(), "cookies.txt"), prompt)

	_, err := client.Authenticate(context.Background(), Credentials{Email: "runner@example.com"}, AuthOptions{})
	require.NoError(t, err)
	require.Empty(t, prompt.secrets)
	require.Empty(t, prompt.codes)
}

func TestAuthenticateInvalidOtp(t *testing.T) {
	site := &fakeLoginSite{password: "hunter2", otp: "123456"}
	server := site.server(t)
	prompt := &scriptedPrompter{t: t, codes: []string{"000001", "000002"}}
	client := newLoginTestClient(t, server.URL, filepath.Join(t.TempDir(), "cookies.txt"), prompt)

	_, err := client.Authenticate(context.Background(), Credentials{
		Email:    "runner@example.com",
		Password: "hunter2",
		Otp:      "000000",
	}, AuthOptions{OtpAttempts: 3})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, AuthInvalidOtp, authErr.Kind)
	require.Empty(t, prompt.codes, "every attempt should consume a code")
}

func TestAuthenticateRejectedPassword(t *testing.T) {
	site := &fakeLoginSite{password: "hunter2", otp: "123456"}
	server := site.server(t)
	client := newLoginTestClient(t, server.URL, filepath.Join(t.TempDir(), "cookies.txt"), nil)

	_, err := client.Authenticate(context.Background(), Credentials{
		Email:    "runner@example.com",
		Password: "wrong",
	}, AuthOptions{})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, AuthInvalidCredentials, authErr.Kind)
}

func TestAuthenticateEmailLinkSent(t *testing.T) {
	site := &fakeLoginSite{emailLinkOnly: true}
	server := site.server(t)
	client := newLoginTestClient(t, server.URL, filepath.Join(t.TempDir(), "cookies.txt"), nil)

	_, err := client.Authenticate(context.Background(), Credentials{Email: "runner@example.com"}, AuthOptions{})
	require.ErrorIs(t, err, ErrEmailLinkSent)
}

func TestAuthenticateReusesSavedSession(t *testing.T) {
	site := &fakeLoginSite{password: "hunter2", otp: "123456"}
	server := site.server(t)
	cookieFile := filepath.Join(t.TempDir(), "cookies.txt")

	first := newLoginTestClient(t, server.URL, cookieFile, nil)
	_, err := first.Authenticate(context.Background(), Credentials{
		Email:    "runner@example.com",
		Password: "hunter2",
		Otp:      "123456",
	}, AuthOptions{Save: true})
	require.NoError(t, err)

	// a fresh client with the same cookie file skips the login flow
	second := newLoginTestClient(t, server.URL, cookieFile, nil)
	session, err := second.Authenticate(context.Background(), Credentials{Email: "runner@example.com"}, AuthOptions{Reuse: true})
	require.NoError(t, err)
	require.True(t, session.Reused)
}

func TestAuthenticateFallsBackWhenCookiesStale(t *testing.T) {
	site := &fakeLoginSite{password: "hunter2", otp: "123456"}
	server := site.server(t)
	cookieFile := filepath.Join(t.TempDir(), "cookies.txt")

	// persist cookies the probe will reject
	store := newLoginTestClient(t, server.URL, cookieFile, nil).CookieStore()
	require.NoError(t, store.Save([]cookiestore.Cookie{sidCookie(server.URL, "expired")}))

	client := newLoginTestClient(t, server.URL, cookieFile, nil)
	session, err := client.Authenticate(context.Background(), Credentials{
		Email:    "runner@example.com",
		Password: "hunter2",
		Otp:      "123456",
	}, AuthOptions{Reuse: true, Save: true})
	require.NoError(t, err)
	require.False(t, session.Reused)
}
