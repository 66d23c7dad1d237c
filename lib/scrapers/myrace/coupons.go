package myrace

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"raceops-backend/lib/htmlutil"
	"raceops-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

// CouponType is one coupon flavor the site offers for a race, as
// discovered from the types page.
type CouponType struct {
	DisplayName string
	Slug        string
	Href        string
}

// typeSlugs maps localized type names to the slug the slots form URL
// takes as a query parameter.
var typeSlugs = map[string]string{
	"на определенную дистанцию":                     "distance",
	"at a certain distance":                         "distance",
	"на определенную дистанцию с выделением номера": "distance_with_bib",
	"at a certain distance with bib selection":      "distance_with_bib",
}

func (c *Client) couponTypesPath(raceID int) string {
	return fmt.Sprintf("/coupon/races/%d/types", raceID)
}

func (c *Client) slotsFormPath(raceID int) string {
	return fmt.Sprintf("/promo/races/%d/slots/new", raceID)
}

func (c *Client) couponListPath(raceID int) string {
	return fmt.Sprintf("/race/coupons/list/%d", raceID)
}

func parseDocument(res *resty.Response) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
}

// errSessionExpired is what every authenticated operation returns when
// the server bounces it to the login page.
func errSessionExpired() error {
	return &AuthError{
		Kind:   AuthInvalidCredentials,
		Detail: "session expired, redirected to login page",
	}
}

// ListCouponTypes fetches the coupon types offered for a race.
func (c *Client) ListCouponTypes(ctx context.Context, raceID int) ([]CouponType, error) {
	ctx, span := tracer.Start(ctx, "ListCouponTypes")
	defer span.End()

	res, err := c.getWithRetry(ctx, c.couponTypesPath(raceID))
	if err != nil {
		err = &ResolutionError{Kind: ResolutionUnreachable, What: "coupon types", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetching coupon types failed")
		return nil, err
	}
	if looksLikeLogin(res) {
		err := errSessionExpired()
		span.RecordError(err)
		span.SetStatus(codes.Error, "session expired")
		return nil, err
	}

	doc, err := parseDocument(res)
	if err != nil {
		return nil, err
	}

	var types []CouponType
	for _, anchor := range htmlutil.GetAnchors(ctx, doc.Find("a[href]")) {
		if !strings.Contains(anchor.Href, "/promo/races/") && !strings.Contains(anchor.Href, "type=") {
			continue
		}
		if anchor.Name == "" {
			continue
		}
		slug := ""
		if u, err := url.Parse(anchor.Href); err == nil {
			slug = u.Query().Get("type")
		}
		if slug == "" {
			slug = slugForType(anchor.Name)
		}
		types = append(types, CouponType{DisplayName: anchor.Name, Slug: slug, Href: anchor.Href})
	}
	return types, nil
}

// slugForType matches a type name against the known aliases, first
// exactly and then by containment either way.
func slugForType(selector string) string {
	for _, candidate := range textutil.SplitAlternates(selector) {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if slug, ok := typeSlugs[candidate]; ok {
			return slug
		}
		for alias, slug := range typeSlugs {
			if strings.Contains(candidate, alias) || strings.Contains(alias, candidate) {
				return slug
			}
		}
	}
	return ""
}

// ResolveCouponType picks the listed type matching the selector. Each
// '|'-separated alternate is tried in turn; an exact (normalized) name
// match always beats a substring match, and several candidates at the
// same strength make the selector ambiguous.
func ResolveCouponType(types []CouponType, selector string) (CouponType, error) {
	alternates := textutil.SplitAlternates(selector)
	if len(alternates) == 0 {
		return CouponType{}, &ResolutionError{
			Kind:   ResolutionNotFound,
			What:   "coupon type",
			Detail: "empty type selector",
		}
	}

	for _, alt := range alternates {
		want := textutil.NormalizeName(alt)

		var exact, partial []CouponType
		for _, t := range types {
			got := textutil.NormalizeName(t.DisplayName)
			switch {
			case got == want:
				exact = append(exact, t)
			case strings.Contains(got, want) || strings.Contains(want, got):
				partial = append(partial, t)
			}
		}

		matches := exact
		if len(matches) == 0 {
			matches = partial
		}
		switch len(matches) {
		case 0:
			continue
		case 1:
			return matches[0], nil
		default:
			var names []string
			for _, t := range matches {
				names = append(names, t.DisplayName)
			}
			return CouponType{}, &ResolutionError{
				Kind:   ResolutionAmbiguous,
				What:   "coupon type",
				Detail: fmt.Sprintf("%q matches %s", alt, strings.Join(names, ", ")),
			}
		}
	}

	return CouponType{}, &ResolutionError{
		Kind:   ResolutionNotFound,
		What:   "coupon type",
		Detail: fmt.Sprintf("no listed type matches %q", selector),
	}
}

// ResolveCouponForm loads the coupon creation form for a race. When
// the server redirects away from the form (it sometimes bounces fresh
// sessions through the race list), the coupon list page is visited
// once to warm the session and the form is requested again.
func (c *Client) ResolveCouponForm(ctx context.Context, raceID int, couponType string) (FormSnapshot, error) {
	ctx, span := tracer.Start(ctx, "ResolveCouponForm")
	defer span.End()

	target := c.slotsFormPath(raceID)
	if slug := slugForType(couponType); slug != "" {
		target += "?type=" + url.QueryEscape(slug)
	}

	res, err := c.getWithRetry(ctx, target)
	if err != nil {
		err = &ResolutionError{Kind: ResolutionUnreachable, What: "coupon form", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetching coupon form failed")
		return FormSnapshot{}, err
	}
	if looksLikeLogin(res) {
		return FormSnapshot{}, errSessionExpired()
	}

	if final := finalUrl(res); final != nil &&
		(strings.Contains(final.Path, "/events/") || strings.Contains(final.Path, "/race/list")) {
		if _, err := c.getWithRetry(ctx, c.couponListPath(raceID)); err != nil {
			return FormSnapshot{}, &ResolutionError{Kind: ResolutionUnreachable, What: "coupon form", Err: err}
		}
		res, err = c.getWithRetry(ctx, target)
		if err != nil {
			return FormSnapshot{}, &ResolutionError{Kind: ResolutionUnreachable, What: "coupon form", Err: err}
		}
		if looksLikeLogin(res) {
			return FormSnapshot{}, errSessionExpired()
		}
	}

	doc, err := parseDocument(res)
	if err != nil {
		return FormSnapshot{}, err
	}

	snap, found := findCouponForm(doc, finalUrl(res))
	if !found {
		err := &ResolutionError{
			Kind:   ResolutionNotFound,
			What:   "coupon form",
			Detail: fmt.Sprintf("no creation form on %s", finalUrl(res)),
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "coupon form not found")
		return FormSnapshot{}, err
	}
	return snap, nil
}

// findCouponForm picks the creation form out of the page: its action
// mentions promo/coupons, or it carries a "code" field.
func findCouponForm(doc *goquery.Document, base *url.URL) (FormSnapshot, bool) {
	for _, snap := range ParseForms(doc, base) {
		action := strings.ToLower(snap.Action)
		if strings.Contains(action, "/promo") || strings.Contains(action, "/coupons") {
			return snap, true
		}
		if _, ok := snap.Field("code"); ok {
			return snap, true
		}
	}
	return FormSnapshot{}, false
}

// CouponRequest describes one coupon to create. Overrides always win
// over derived values.
type CouponRequest struct {
	Code string
	// '|'-separated type name alternates, used to pick the form URL
	Type       string
	Discount   int
	Deduction  int
	UsageLimit int
	// "all" on a multi-valued slot field selects every option
	SlotValue string
	Overrides map[string][]string
	DryRun    bool
}

// CreationResult reports what a creation attempt did. Values holds
// the payload that was (or would have been) submitted; Missing names
// required fields that stayed empty.
type CreationResult struct {
	Code       string
	ActualCode string
	Submitted  bool
	Values     url.Values
	Missing    []string
}

// DeriveValues maps a coupon request onto the discovered form fields
// using the classifier's name heuristics.
func DeriveValues(snap FormSnapshot, req CouponRequest, classify FieldClassifier) map[string][]string {
	if classify == nil {
		classify = DefaultFieldClassifier
	}
	values := map[string][]string{}
	for _, f := range snap.Fields {
		switch classify(f) {
		case RoleCode:
			values[f.Name] = []string{req.Code}
		case RoleDiscount:
			values[f.Name] = []string{strconv.Itoa(req.Discount)}
		case RoleDeduction:
			values[f.Name] = []string{strconv.Itoa(req.Deduction)}
		case RoleUsageLimit:
			values[f.Name] = []string{strconv.Itoa(req.UsageLimit)}
		case RoleSlot:
			if req.SlotValue == "" {
				continue
			}
			if strings.EqualFold(req.SlotValue, "all") && f.Multiple && len(f.Options) > 0 {
				values[f.Name] = append([]string(nil), f.Options...)
				continue
			}
			values[f.Name] = []string{req.SlotValue}
		}
	}
	return values
}

// CreateCoupon resolves the creation form and submits one coupon. The
// submission itself is a single POST: a failed submit may or may not
// have been applied server-side, so it is never replayed.
func (c *Client) CreateCoupon(ctx context.Context, raceID int, req CouponRequest) (CreationResult, error) {
	ctx, span := tracer.Start(ctx, "CreateCoupon")
	defer span.End()

	snap, err := c.ResolveCouponForm(ctx, raceID, req.Type)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolving coupon form failed")
		return CreationResult{Code: req.Code}, err
	}

	derived := DeriveValues(snap, req, c.classify)
	for name, vals := range req.Overrides {
		derived[name] = vals
	}

	payload, missing := BuildPayload(snap, derived)
	result := CreationResult{
		Code:    req.Code,
		Values:  payload,
		Missing: missing,
	}

	if req.DryRun {
		return result, nil
	}

	action := snap.Action
	if action == "" {
		action = c.slotsFormPath(raceID)
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormDataFromValues(payload).
		Post(action)
	if err != nil {
		kind := CreationUnreachable
		if isTimeout(err) {
			kind = CreationTimeout
		}
		err = &CreationError{Kind: kind, Code: req.Code, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "coupon submit failed")
		return result, err
	}
	result.Submitted = true

	final := finalUrl(res)
	landed := ""
	if final != nil {
		landed = final.Path
	}
	if !strings.Contains(landed, "/promo/view") && !strings.Contains(landed, "/race/coupons/list") {
		err := &CreationError{
			Kind:   CreationFormRejected,
			Code:   req.Code,
			Detail: rejectionDetail(res),
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "coupon form rejected")
		return result, err
	}

	if doc, err := parseDocument(res); err == nil {
		result.ActualCode = extractActualCode(doc)
	}
	return result, nil
}

// rejectionDetail pulls the server's validation message out of the
// page, if it rendered one.
func rejectionDetail(res *resty.Response) string {
	doc, err := parseDocument(res)
	if err != nil {
		return fmt.Sprintf("landed on %s", finalUrl(res))
	}
	for _, selector := range []string{".error-summary", ".alert-danger", ".alert-error", ".help-block-error"} {
		if text := htmlutil.CleanText(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return fmt.Sprintf("landed on %s", finalUrl(res))
}

var actualCodeRegex = regexp.MustCompile(`^[A-Z0-9-]{4,16}$`)

// extractActualCode recovers the code the server actually stored. The
// site uppercases and sometimes rewrites what was submitted, so the
// result page is the only source of truth.
func extractActualCode(doc *goquery.Document) string {
	for _, selector := range []string{"input#code", `input[name="code"]`} {
		if value, ok := doc.Find(selector).First().Attr("value"); ok {
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
	}
	if anchor := doc.Find(`table.items td.text-strong a[href*="/promo/view/"]`).First(); anchor.Length() > 0 {
		if text := htmlutil.CleanText(anchor.Text()); text != "" {
			return text
		}
	}

	// fall back to scanning the page text for something shaped like a
	// coupon code
	code := ""
	for _, text := range strings.Fields(doc.Text()) {
		text = strings.TrimSpace(text)
		if !actualCodeRegex.MatchString(text) {
			continue
		}
		if strings.EqualFold(text, "MYRACE") {
			continue
		}
		code = text
		break
	}
	return code
}
