package myrace

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"raceops-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

// PromoUsage describes one promo code that already exists for a race,
// scraped from its view page.
type PromoUsage struct {
	Code string
	// remaining uses, -1 when the view page doesn't render a limit
	UsageLeft int
	// discount percent from the listing row, -1 when not rendered
	Discount int
	ViewURL  string
}

// usageLabels are the captions the view page puts next to the
// remaining-use counter, in both renderings the site is known to use.
var usageLabels = []string{
	"максимальное количество использования",
	"максимальное количество использований",
	"maximum number of use",
	"maximum number of uses",
}

var (
	promoViewRegex = regexp.MustCompile(`/promo/view/(\d+)`)
	firstIntRegex  = regexp.MustCompile(`-?\d+`)
)

// how many listing pages a single inspection may walk
const maxPromoPages = 30

func firstInt(text string) (int, bool) {
	match := firstIntRegex.FindString(strings.ReplaceAll(text, " ", " "))
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return n, true
}

type promoLink struct {
	text     string
	discount int
}

// ListPromos enumerates the promo codes already created for a race and
// reads each one's remaining usage off its view page. The listing is
// walked through its pagination links; view pages that fail to load
// still yield an entry so the report stays complete.
func (c *Client) ListPromos(ctx context.Context, raceID int) ([]PromoUsage, error) {
	ctx, span := tracer.Start(ctx, "ListPromos")
	defer span.End()

	order, links, err := c.collectPromoLinks(ctx, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collecting promo links failed")
		return nil, err
	}
	if len(order) == 0 {
		err := &ResolutionError{
			Kind:   ResolutionNotFound,
			What:   "promo list",
			Detail: fmt.Sprintf("no promo codes listed for race %d", raceID),
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "no promo codes listed")
		return nil, err
	}

	promos := make([]PromoUsage, 0, len(order))
	for _, viewURL := range order {
		link := links[viewURL]
		promo := PromoUsage{
			Code:      link.text,
			UsageLeft: -1,
			Discount:  link.discount,
			ViewURL:   viewURL,
		}

		res, err := c.getWithRetry(ctx, viewURL)
		if err != nil {
			// an unreadable view page still counts, just without detail
			if promo.Code == "" {
				promo.Code = codeFromViewURL(viewURL)
			}
			promos = append(promos, promo)
			continue
		}
		if looksLikeLogin(res) {
			return nil, errSessionExpired()
		}

		doc, err := parseDocument(res)
		if err != nil {
			if promo.Code == "" {
				promo.Code = codeFromViewURL(viewURL)
			}
			promos = append(promos, promo)
			continue
		}
		if code := extractActualCode(doc); code != "" {
			promo.Code = code
		}
		if promo.Code == "" {
			promo.Code = codeFromViewURL(viewURL)
		}
		if usage, ok := extractUsage(doc); ok {
			promo.UsageLeft = usage
		}
		promos = append(promos, promo)
	}
	return promos, nil
}

// collectPromoLinks walks the coupon listing and its pagination,
// gathering view-page URLs in first-seen order. Anchors carry the
// candidate code text and the discount column; links the site renders
// through scripts are caught by scanning the raw page for view paths.
func (c *Client) collectPromoLinks(ctx context.Context, raceID int) ([]string, map[string]promoLink, error) {
	first := c.couponListPath(raceID)
	queue := []string{first}
	visited := map[string]bool{}
	var order []string
	links := map[string]promoLink{}

	record := func(viewURL, text string, discount int) {
		if _, seen := links[viewURL]; !seen {
			order = append(order, viewURL)
			links[viewURL] = promoLink{text: text, discount: discount}
			return
		}
		prev := links[viewURL]
		if prev.text == "" {
			prev.text = text
		}
		if prev.discount < 0 {
			prev.discount = discount
		}
		links[viewURL] = prev
	}

	for len(queue) > 0 && len(visited) < maxPromoPages {
		page := queue[0]
		queue = queue[1:]
		if visited[page] {
			continue
		}
		visited[page] = true

		res, err := c.getWithRetry(ctx, page)
		if err != nil {
			if page == first {
				return nil, nil, &ResolutionError{Kind: ResolutionUnreachable, What: "promo list", Err: err}
			}
			continue
		}
		if looksLikeLogin(res) {
			return nil, nil, errSessionExpired()
		}
		doc, err := parseDocument(res)
		if err != nil {
			continue
		}
		base := finalUrl(res)

		doc.Find(`a[href*="/promo/view/"]`).Each(func(_ int, anchor *goquery.Selection) {
			href, _ := anchor.Attr("href")
			viewURL := resolveHref(base, href)
			if viewURL == "" {
				return
			}
			discount := -1
			if cells := anchor.Closest("tr").Find("td"); cells.Length() >= 3 {
				if n, ok := firstInt(cells.Eq(2).Text()); ok {
					discount = n
				}
			}
			record(viewURL, htmlutil.CleanText(anchor.Text()), discount)
		})

		// view links only present in inline scripts or data attributes
		for _, match := range promoViewRegex.FindAllString(strings.ReplaceAll(string(res.Body()), `\/`, "/"), -1) {
			if viewURL := resolveHref(base, match); viewURL != "" {
				record(viewURL, "", -1)
			}
		}

		for _, anchor := range htmlutil.GetAnchors(ctx, doc.Find("a[href]")) {
			if !strings.Contains(anchor.Href, "page=") || !strings.Contains(anchor.Href, "/promo/races/") {
				continue
			}
			if next := resolveHref(base, anchor.Href); next != "" && !visited[next] {
				queue = append(queue, next)
			}
		}
	}
	return order, links, nil
}

func resolveHref(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := base.Parse(href)
	if err != nil {
		return ""
	}
	if ref.Hostname() != base.Hostname() {
		return ""
	}
	return ref.String()
}

// codeFromViewURL falls back to a synthetic name when neither the
// listing nor the view page revealed the code itself.
func codeFromViewURL(viewURL string) string {
	if m := promoViewRegex.FindStringSubmatch(viewURL); m != nil {
		return "promo-" + m[1]
	}
	return viewURL
}

// extractUsage finds the remaining-use counter next to one of the
// known captions, in either the table or the definition-list layout.
func extractUsage(doc *goquery.Document) (int, bool) {
	value := 0
	found := false

	match := func(text string) bool {
		text = strings.ToLower(text)
		for _, label := range usageLabels {
			if strings.Contains(text, label) {
				return true
			}
		}
		return false
	}

	doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if !match(row.Text()) {
			return true
		}
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return true
		}
		if n, ok := firstInt(cells.Last().Text()); ok {
			value, found = n, true
			return false
		}
		return true
	})
	if found {
		return value, true
	}

	doc.Find("dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		if !match(dt.Text()) {
			return true
		}
		if n, ok := firstInt(dt.NextFiltered("dd").Text()); ok {
			value, found = n, true
			return false
		}
		return true
	})
	return value, found
}
