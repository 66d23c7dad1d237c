package myrace

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"raceops-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/codes"
)

// RaceMetrics is one observation of a race's registration summary.
// Race ids stay strings throughout: the site renders them as opaque
// path segments and the persisted state is keyed by them.
type RaceMetrics struct {
	RaceID       string
	Title        string
	Participants int
	Revenue      decimal.Decimal
}

// RaceRef identifies a race known to the account. The JSON field
// names are the registry file's interchange format and are shared
// with other tooling.
type RaceRef struct {
	ID    string `json:"race_id"`
	Title string `json:"name"`
	// the URL the race was registered from, empty for discovered races
	SourceURL string `json:"source_url,omitempty"`
}

func racePagePath(raceID string) string {
	return "/entities/races/" + raceID
}

// ParseMoney turns the site's localized money rendering into a
// decimal: non-breaking spaces as group separators, comma as the
// decimal mark, an optional currency suffix. The result is rounded
// half-up to two places.
func ParseMoney(raw string) (decimal.Decimal, error) {
	normalized := strings.ReplaceAll(raw, " ", " ")
	normalized = strings.ReplaceAll(normalized, ",", ".")

	var b strings.Builder
	for _, ch := range normalized {
		if ch >= '0' && ch <= '9' || ch == '.' || ch == '-' {
			b.WriteRune(ch)
		}
	}
	// a currency suffix like "руб." leaves a stray trailing dot
	candidate := strings.Trim(b.String(), ".")
	if candidate == "" {
		return decimal.Decimal{}, fmt.Errorf("no numeric value in %q", raw)
	}
	amount, err := decimal.NewFromString(candidate)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("malformed money value %q: %w", raw, err)
	}
	return amount.Round(2), nil
}

// FormatMoney renders a decimal the way notifications show it: two
// decimal places, spaces between thousand groups, and whole amounts
// without the trailing ".00".
func FormatMoney(value decimal.Decimal) string {
	text := value.Round(2).StringFixed(2)

	sign := ""
	if strings.HasPrefix(text, "-") {
		sign = "-"
		text = text[1:]
	}
	whole, frac, _ := strings.Cut(text, ".")

	var groups []string
	for len(whole) > 3 {
		groups = append([]string{whole[len(whole)-3:]}, groups...)
		whole = whole[:len(whole)-3]
	}
	groups = append([]string{whole}, groups...)

	out := sign + strings.Join(groups, " ")
	if frac != "00" {
		out += "." + frac
	}
	return out
}

func parseParticipants(raw string) (int, error) {
	var b strings.Builder
	for _, ch := range raw {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	if b.Len() == 0 {
		return 0, fmt.Errorf("no participant count in %q", raw)
	}
	return strconv.Atoi(b.String())
}

// statPairs walks the summary page's label/value rows.
func statPairs(doc *goquery.Document) [][2]string {
	var pairs [][2]string
	doc.Find("div.list-item").Each(func(_ int, item *goquery.Selection) {
		cells := item.ChildrenFiltered("div")
		if cells.Length() < 2 {
			return
		}
		label := htmlutil.CleanText(cells.Eq(0).Text())
		value := htmlutil.CleanText(cells.Eq(1).Text())
		if label == "" || value == "" {
			return
		}
		pairs = append(pairs, [2]string{label, value})
	})
	return pairs
}

func findStat(pairs [][2]string, keyword string) (string, bool) {
	for _, pair := range pairs {
		if strings.Contains(strings.ToLower(pair[0]), keyword) {
			return pair[1], true
		}
	}
	return "", false
}

// FetchRaceMetrics scrapes one race's participant count and revenue
// from its summary page.
func (c *Client) FetchRaceMetrics(ctx context.Context, raceID string) (RaceMetrics, error) {
	ctx, span := tracer.Start(ctx, "FetchRaceMetrics")
	defer span.End()

	target := racePagePath(raceID)
	res, err := c.getWithRetry(ctx, target)
	if err != nil {
		err = &PollError{Kind: PollUnreachable, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetching race page failed")
		return RaceMetrics{}, err
	}
	if looksLikeLogin(res) {
		err := &PollError{Kind: PollUnreachable, Detail: "redirected to login, cookies are stale"}
		span.RecordError(err)
		span.SetStatus(codes.Error, "session expired")
		return RaceMetrics{}, err
	}
	if final := finalUrl(res); final != nil && strings.TrimSuffix(final.Path, "/") != target {
		err := &PollError{
			Kind:   PollUnreachable,
			Detail: fmt.Sprintf("expected %s, landed on %s", target, final.Path),
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected redirect")
		return RaceMetrics{}, err
	}

	doc, err := parseDocument(res)
	if err != nil {
		return RaceMetrics{}, &PollError{Kind: PollExtractionFailed, Err: err}
	}

	pairs := statPairs(doc)
	// the summary page is localized, the labels are not configurable
	participantsRaw, okParticipants := findStat(pairs, "участ")
	revenueRaw, okRevenue := findStat(pairs, "доход")
	if !okParticipants || !okRevenue {
		return RaceMetrics{}, &PollError{
			Kind:   PollExtractionFailed,
			Detail: "participant or revenue blocks are missing from the page",
		}
	}

	participants, err := parseParticipants(participantsRaw)
	if err != nil {
		return RaceMetrics{}, &PollError{Kind: PollExtractionFailed, Err: err}
	}
	revenue, err := ParseMoney(revenueRaw)
	if err != nil {
		return RaceMetrics{}, &PollError{Kind: PollExtractionFailed, Err: err}
	}

	title := htmlutil.CleanText(doc.Find(".card h2").First().Text())
	if title == "" {
		title = htmlutil.CleanText(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = "Race " + raceID
	}

	return RaceMetrics{
		RaceID:       raceID,
		Title:        title,
		Participants: participants,
		Revenue:      revenue,
	}, nil
}

var raceHrefRegex = regexp.MustCompile(`/races/(\d+)`)

// FetchRaceList discovers the account's races from the race list
// page. Entries whose link text is a placeholder get their title from
// the race's own page.
func (c *Client) FetchRaceList(ctx context.Context) ([]RaceRef, error) {
	ctx, span := tracer.Start(ctx, "FetchRaceList")
	defer span.End()

	res, err := c.getWithRetry(ctx, probePath)
	if err != nil {
		err = &PollError{Kind: PollUnreachable, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetching race list failed")
		return nil, err
	}
	if looksLikeLogin(res) {
		return nil, errSessionExpired()
	}

	doc, err := parseDocument(res)
	if err != nil {
		return nil, &PollError{Kind: PollExtractionFailed, Err: err}
	}

	var races []RaceRef
	seen := map[string]bool{}
	for _, anchor := range htmlutil.GetAnchors(ctx, doc.Find("a[href]")) {
		match := raceHrefRegex.FindStringSubmatch(anchor.Href)
		if match == nil {
			continue
		}
		raceID := match[1]
		if seen[raceID] {
			continue
		}
		title := anchor.Name
		if placeholderTitle(title) {
			if fetched, err := c.FetchRaceTitle(ctx, raceID); err == nil && fetched != "" {
				title = fetched
			}
		}
		if title == "" {
			continue
		}
		seen[raceID] = true
		races = append(races, RaceRef{ID: raceID, Title: title})
	}
	return races, nil
}

// placeholderTitle reports link text that carries no real name, like
// a bare date or number.
func placeholderTitle(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return true
	}
	for _, ch := range title {
		if ch >= '0' && ch <= '9' {
			continue
		}
		switch ch {
		case '-', '.', '/', ' ':
			continue
		}
		return false
	}
	return true
}

// FetchRaceTitle reads a race's display name off its event page.
func (c *Client) FetchRaceTitle(ctx context.Context, raceID string) (string, error) {
	res, err := c.getWithRetry(ctx, "/events/"+raceID)
	if err != nil {
		return "", &PollError{Kind: PollUnreachable, Err: err}
	}
	doc, err := parseDocument(res)
	if err != nil {
		return "", &PollError{Kind: PollExtractionFailed, Err: err}
	}
	if title := htmlutil.CleanText(doc.Find("h1").First().Text()); title != "" {
		return title, nil
	}
	return htmlutil.CleanText(doc.Find("title").First().Text()), nil
}

var raceIDRegex = regexp.MustCompile(`(\d+)`)

// ParseRaceURL pulls the race id out of any myrace URL the operator
// pastes in, event pages and admin pages alike.
func ParseRaceURL(raw string) (string, error) {
	match := raceIDRegex.FindStringSubmatch(raw)
	if match == nil {
		return "", fmt.Errorf("no race id in %q", raw)
	}
	return match[1], nil
}
