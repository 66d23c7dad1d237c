package myrace

import (
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"raceops-backend/lib/cookiestore"
	"raceops-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("scrapers/myrace")

const DefaultBaseUrl = "https://myrace.info"

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	jar      *cookiejar.Jar
	cookies  cookiestore.Store
	retry    RetryPolicy
	prompt   Prompter
	classify FieldClassifier
}

type ClientOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl string
	// the Netscape cookie file backing this client's session
	CookieFile string
	// defaults to 30s
	Timeout time.Duration
	// requests per second against the site, defaults to 2
	RequestsPerSecond float64
	Retry             RetryPolicy
	// supplies passwords/otp codes when they weren't given up front;
	// nil disables interactive prompting
	Prompter Prompter
	// defaults to DefaultFieldClassifier
	Classifier FieldClassifier
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Classifier == nil {
		opts.Classifier = DefaultFieldClassifier
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetHeader("accept-language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(opts.Timeout)

	limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "scrapers/myrace/http")

	c := &Client{
		BaseUrl:  baseUrl,
		Http:     client,
		jar:      jar,
		cookies:  cookiestore.New(opts.CookieFile),
		retry:    opts.Retry.withDefaults(),
		prompt:   opts.Prompter,
		classify: opts.Classifier,
	}
	return c, nil
}

// CookieStore exposes the Netscape jar this client persists to.
func (c *Client) CookieStore() cookiestore.Store {
	return c.cookies
}

// LoadCookies seeds the in-memory jar from the cookie file.
func (c *Client) LoadCookies() error {
	cookies, err := c.cookies.Load()
	if err != nil {
		return err
	}
	cookiestore.Apply(c.jar, c.BaseUrl, cookies)
	return nil
}

// SaveCookies writes the in-memory jar back to the cookie file.
func (c *Client) SaveCookies() error {
	return c.cookies.Save(cookiestore.Snapshot(c.jar, c.BaseUrl))
}

// resetCookies drops the in-memory session before a fresh login.
func (c *Client) resetCookies() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	c.jar = jar
	c.Http.SetCookieJar(jar)
	return nil
}

// finalUrl reports the URL the response actually landed on after
// redirects.
func finalUrl(res *resty.Response) *url.URL {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL
	}
	u, _ := url.Parse(res.Request.URL)
	return u
}

// looksLikeLogin reports whether the server bounced us to the login
// page, the usual sign of a stale session.
func looksLikeLogin(res *resty.Response) bool {
	u := finalUrl(res)
	if u == nil {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.Contains(path, "/login") || strings.Contains(path, "/account/login")
}
