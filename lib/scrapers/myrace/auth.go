package myrace

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

const (
	loginPath    = "/login/"
	signupAction = "/signup"
	verifyPrefix = "/verify/"
	probePath    = "/race/list"
)

type AuthOptions struct {
	// try the persisted cookie session before logging in
	Reuse bool
	// persist cookies after a successful login
	Save bool
	// accepted one-time code entries before giving up, defaults to 3
	OtpAttempts int
}

// Session is a live authenticated session. Reused reports that the
// persisted cookies were still valid and no login ran.
type Session struct {
	Email  string
	Reused bool
}

// The login flow is an explicit state machine. Every transition is
// driven by what the server actually rendered, never by assuming the
// next page.
type loginState int

const (
	stateStart loginState = iota
	stateEmailSubmitted
	stateAwaitingPassword
	stateAwaitingOtp
	stateAuthenticated
)

type loginFlow struct {
	client *Client
	creds  Credentials
	opts   AuthOptions

	state loginState
	res   *resty.Response
	doc   *goquery.Document
}

// Authenticate establishes a session: reuse the persisted cookies if
// allowed and still valid, otherwise walk the site's multi-step login
// (email, then password or an emailed link, then a one-time code).
func (c *Client) Authenticate(ctx context.Context, creds Credentials, opts AuthOptions) (Session, error) {
	ctx, span := tracer.Start(ctx, "Authenticate")
	defer span.End()

	if opts.OtpAttempts <= 0 {
		opts.OtpAttempts = 3
	}

	if opts.Reuse && c.cookies.Exists() {
		ok, err := c.tryReuseSession(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session probe failed")
			return Session{}, err
		}
		if ok {
			return Session{Email: creds.Email, Reused: true}, nil
		}
		// stale cookies poison the login flow
		if err := c.resetCookies(); err != nil {
			return Session{}, err
		}
	}

	flow := &loginFlow{client: c, creds: creds, opts: opts, state: stateStart}
	for flow.state != stateAuthenticated {
		if err := ctx.Err(); err != nil {
			return Session{}, &AuthError{Kind: AuthTimeout, Err: err}
		}

		var err error
		switch flow.state {
		case stateStart:
			err = flow.submitEmail(ctx)
		case stateEmailSubmitted:
			err = flow.classifyLanding()
		case stateAwaitingPassword:
			err = flow.submitPassword(ctx)
		case stateAwaitingOtp:
			err = flow.submitOtp(ctx)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login failed")
			return Session{}, err
		}
	}

	if opts.Save {
		if err := c.SaveCookies(); err != nil {
			return Session{}, fmt.Errorf("login succeeded but saving cookies failed: %w", err)
		}
	}
	return Session{Email: creds.Email}, nil
}

// tryReuseSession probes an authenticated page; landing on it without
// a bounce to the login page means the cookies still work.
func (c *Client) tryReuseSession(ctx context.Context) (bool, error) {
	if err := c.LoadCookies(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	res, err := c.getWithRetry(ctx, probePath)
	if err != nil {
		return false, authTransportError(err)
	}
	return !looksLikeLogin(res), nil
}

func authTransportError(err error) error {
	kind := AuthUnreachable
	if isTimeout(err) {
		kind = AuthTimeout
	}
	return &AuthError{Kind: kind, Err: err}
}

func (f *loginFlow) land(res *resty.Response) error {
	doc, err := parseDocument(res)
	if err != nil {
		return &AuthError{Kind: AuthAmbiguous, Detail: "unparseable page", Err: err}
	}
	f.res = res
	f.doc = doc
	return nil
}

func (f *loginFlow) forms() []FormSnapshot {
	return ParseForms(f.doc, finalUrl(f.res))
}

// findForm picks the first form whose action path starts with the
// given prefix.
func (f *loginFlow) findForm(prefix string) (FormSnapshot, bool) {
	for _, snap := range f.forms() {
		u, err := url.Parse(snap.Action)
		if err != nil {
			continue
		}
		if strings.HasPrefix(u.Path, prefix) {
			return snap, true
		}
	}
	return FormSnapshot{}, false
}

// submitEmail opens the login page and sends the email through the
// signup form, which the site uses for both new and known accounts.
func (f *loginFlow) submitEmail(ctx context.Context) error {
	res, err := f.client.getWithRetry(ctx, loginPath)
	if err != nil {
		return authTransportError(err)
	}
	if err := f.land(res); err != nil {
		return err
	}

	snap, ok := f.findForm(signupAction)
	if !ok {
		return &AuthError{
			Kind:   AuthAmbiguous,
			Detail: fmt.Sprintf("no email form on %s", finalUrl(f.res)),
		}
	}

	emailField := ""
	for _, field := range snap.Fields {
		if field.Kind == "email" || strings.Contains(strings.ToLower(field.Name), "email") {
			emailField = field.Name
			break
		}
	}
	if emailField == "" {
		for _, field := range snap.Fields {
			if field.textual() && field.Value == "" {
				emailField = field.Name
				break
			}
		}
	}
	if emailField == "" {
		return &AuthError{Kind: AuthAmbiguous, Detail: "email form has no usable field"}
	}

	payload, _ := BuildPayload(snap, map[string][]string{emailField: {f.creds.Email}})
	res, err = f.client.postFormWithRetry(ctx, snap.Action, payload)
	if err != nil {
		return authTransportError(err)
	}
	if err := f.land(res); err != nil {
		return err
	}
	f.state = stateEmailSubmitted
	return nil
}

// classifyLanding decides which branch the site chose after the email
// step: a password form, a one-time code form, or an emailed link.
func (f *loginFlow) classifyLanding() error {
	if _, ok := f.findForm(verifyPrefix); ok {
		f.state = stateAwaitingOtp
		return nil
	}
	if snap, ok := f.findForm(loginPath); ok && snap.HasPassword() {
		f.state = stateAwaitingPassword
		return nil
	}
	for _, snap := range f.forms() {
		if snap.HasPassword() {
			f.state = stateAwaitingPassword
			return nil
		}
	}
	if mentionsEmailLink(f.doc) {
		return ErrEmailLinkSent
	}
	if !looksLikeLogin(f.res) {
		// some accounts are let straight through
		f.state = stateAuthenticated
		return nil
	}
	return &AuthError{
		Kind:   AuthAmbiguous,
		Detail: fmt.Sprintf("cannot classify page %s after email step", finalUrl(f.res)),
	}
}

// mentionsEmailLink scans the rendered text for the site's "we sent
// you a link" phrasing, in either language it serves.
func mentionsEmailLink(doc *goquery.Document) bool {
	text := strings.ToLower(doc.Text())
	if strings.Contains(text, "ссылк") || strings.Contains(text, "письм") {
		return true
	}
	return strings.Contains(text, "link") && strings.Contains(text, "sent")
}

func (f *loginFlow) submitPassword(ctx context.Context) error {
	var snap FormSnapshot
	found := false
	for _, candidate := range f.forms() {
		if candidate.HasPassword() {
			snap = candidate
			found = true
			break
		}
	}
	if !found {
		return &AuthError{Kind: AuthAmbiguous, Detail: "password form disappeared"}
	}

	password := f.creds.Password
	if password == "" {
		if f.client.prompt == nil {
			return &AuthError{Kind: AuthInvalidCredentials, Detail: "a password is required and no prompter is available"}
		}
		var err error
		password, err = f.client.prompt.PromptSecret("Password for " + f.creds.Email)
		if err != nil {
			return err
		}
	}

	overrides := map[string][]string{}
	for _, field := range snap.Fields {
		switch {
		case field.Kind == FieldPassword:
			overrides[field.Name] = []string{password}
		case field.Kind == "email" || strings.Contains(strings.ToLower(field.Name), "email"):
			overrides[field.Name] = []string{f.creds.Email}
		}
	}

	payload, _ := BuildPayload(snap, overrides)
	res, err := f.client.postFormWithRetry(ctx, snap.Action, payload)
	if err != nil {
		return authTransportError(err)
	}
	if err := f.land(res); err != nil {
		return err
	}

	if _, ok := f.findForm(verifyPrefix); ok {
		f.state = stateAwaitingOtp
		return nil
	}
	for _, candidate := range f.forms() {
		if candidate.HasPassword() {
			return &AuthError{Kind: AuthInvalidCredentials, Detail: "password rejected"}
		}
	}
	if looksLikeLogin(f.res) {
		return &AuthError{Kind: AuthInvalidCredentials, Detail: "still on the login page after password submit"}
	}
	f.state = stateAuthenticated
	return nil
}

// submitOtp runs the one-time code form, re-prompting on rejection up
// to the configured attempt budget.
func (f *loginFlow) submitOtp(ctx context.Context) error {
	provided := f.creds.Otp

	for attempt := 0; attempt < f.opts.OtpAttempts; attempt++ {
		snap, ok := f.findForm(verifyPrefix)
		if !ok {
			return &AuthError{Kind: AuthAmbiguous, Detail: "confirmation form disappeared"}
		}
		codeField := guessCodeField(snap)
		if codeField == "" {
			return &AuthError{Kind: AuthAmbiguous, Detail: "cannot find the confirmation code field"}
		}

		code := provided
		provided = ""
		if code == "" {
			if f.client.prompt == nil {
				return &AuthError{Kind: AuthInvalidOtp, Detail: "a confirmation code is required and no prompter is available"}
			}
			var err error
			code, err = f.client.prompt.Prompt("One-time confirmation code")
			if err != nil {
				return err
			}
		}
		if code == "" {
			return &AuthError{Kind: AuthInvalidOtp, Detail: "empty confirmation code"}
		}

		payload, _ := BuildPayload(snap, map[string][]string{codeField: {code}})
		res, err := f.client.postFormWithRetry(ctx, snap.Action, payload)
		if err != nil {
			return authTransportError(err)
		}
		if err := f.land(res); err != nil {
			return err
		}

		if _, rejected := f.findForm(verifyPrefix); !rejected && !looksLikeLogin(f.res) {
			f.state = stateAuthenticated
			return nil
		}
	}

	return &AuthError{
		Kind:   AuthInvalidOtp,
		Detail: fmt.Sprintf("code rejected %d times", f.opts.OtpAttempts),
	}
}
