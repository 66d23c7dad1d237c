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

	"raceops-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

// newTestClient builds a client pointed at a fake site, with the rate
// limiter and retry backoff effectively disabled so tests stay fast.
func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientOptions{
		BaseUrl:           baseURL,
		CookieFile:        filepath.Join(t.TempDir(), "cookies.txt"),
		RequestsPerSecond: 1000,
		Retry:             RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond},
	})
	require.NoError(t, err)
	return client
}

func TestResolveCouponType(t *testing.T) {
	types := []CouponType{
		{DisplayName: "Скидка 100%", Slug: "distance"},
		{DisplayName: "Скидка 100% с выделением номера", Slug: "distance_with_bib"},
		{DisplayName: "Фиксированная скидка", Slug: "fixed"},
	}

	t.Run("exact beats substring", func(t *testing.T) {
		got, err := ResolveCouponType(types, "Скидка 100%")
		require.NoError(t, err)
		require.Equal(t, "distance", got.Slug)
	})

	t.Run("substring", func(t *testing.T) {
		got, err := ResolveCouponType(types, "выделением")
		require.NoError(t, err)
		require.Equal(t, "distance_with_bib", got.Slug)
	})

	t.Run("alternates tried in order", func(t *testing.T) {
		got, err := ResolveCouponType(types, "nonexistent|Фиксированная скидка")
		require.NoError(t, err)
		require.Equal(t, "fixed", got.Slug)
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := ResolveCouponType(types, "скидка")
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
		require.Equal(t, ResolutionAmbiguous, resErr.Kind)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := ResolveCouponType(types, "бесплатно")
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
		require.Equal(t, ResolutionNotFound, resErr.Kind)
	})
}

func TestSlugForType(t *testing.T) {
	cases := []struct {
		selector string
		slug     string
	}{
		{"на определенную дистанцию", "distance"},
		{"At a certain distance", "distance"},
		{"на определенную дистанцию с выделением номера", "distance_with_bib"},
		{"unknown|at a certain distance", "distance"},
		{"something else entirely", ""},
	}
	for _, c := range cases {
		require.Equal(t, c.slug, slugForType(c.selector), "selector %q", c.selector)
	}
}

func TestDeriveValues(t *testing.T) {
	snap := FormSnapshot{Fields: []FormField{
		{Name: "authenticity_token", Kind: FieldHidden, Value: "tok"},
		{Name: "coupon[code]", Kind: FieldText},
		{Name: "coupon[discount]", Kind: "number"},
		{Name: "coupon[deduction]", Kind: "number"},
		{Name: "usage_limit", Kind: "number"},
		{Name: "slots[]", Kind: FieldCheckbox, Multiple: true, Options: []string{"10", "11", "12"}},
	}}

	values := DeriveValues(snap, CouponRequest{
		Code:       "SPRING10",
		Discount:   100,
		Deduction:  0,
		UsageLimit: 1,
		SlotValue:  "all",
	}, nil)

	require.Equal(t, map[string][]string{
		"coupon[code]":      {"SPRING10"},
		"coupon[discount]":  {"100"},
		"coupon[deduction]": {"0"},
		"usage_limit":       {"1"},
		"slots[]":           {"10", "11", "12"},
	}, values)
}

func TestDeriveValuesSingleSlot(t *testing.T) {
	snap := FormSnapshot{Fields: []FormField{
		{Name: "slot_id", Kind: FieldSelect, Options: []string{"10", "11"}},
	}}
	values := DeriveValues(snap, CouponRequest{SlotValue: "11"}, nil)
	require.Equal(t, map[string][]string{"slot_id": {"11"}}, values)

	// an empty slot value leaves the field untouched
	values = DeriveValues(snap, CouponRequest{}, nil)
	require.Empty(t, values)
}

func TestExtractActualCode(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{
			name: "code input",
			html: `<input id="code" name="code" value="SPRING10">`,
			want: "SPRING10",
		},
		{
			name: "coupon list anchor",
			html: `<table class="items"><tr><td class="text-strong">
				<a href="/promo/view/99">AUTUMN5</a></td></tr></table>`,
			want: "AUTUMN5",
		},
		{
			name: "text fallback skips the site name",
			html: `<p>MYRACE говорит: ваш купон WINTER-25 создан</p>`,
			want: "WINTER-25",
		},
		{
			name: "nothing recognizable",
			html: `<p>купон создан</p>`,
			want: "",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			doc := parseTestDocument(t, "<html><body>"+c.html+"</body></html>")
			require.Equal(t, c.want, extractActualCode(doc))
		})
	}
}

const slotsFormPage = `<html><body>
<form action="/promo/races/42/slots" method="post">
	<input type="hidden" name="authenticity_token" value="tok">
	<input type="text" name="coupon[code]" required>
	<input type="number" name="coupon[discount]">
	<input type="number" name="usage_limit">
	<input type="checkbox" name="slots[]" value="10">
	<input type="checkbox" name="slots[]" value="11">
</form>
</body></html>`

// fakeCouponSite serves the slots form and records what got posted.
func fakeCouponSite(t *testing.T, reject bool) (*httptest.Server, *url.Values) {
	t.Helper()
	var posted url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("GET /promo/races/42/slots/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, slotsFormPage)
	})
	mux.HandleFunc("POST /promo/races/42/slots", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		posted = r.PostForm
		if reject {
			fmt.Fprint(w, `<html><body><div class="error-summary">Code already exists</div>`+slotsFormPage+`</body></html>`)
			return
		}
		http.Redirect(w, r, "/promo/view/99", http.StatusFound)
	})
	mux.HandleFunc("GET /promo/view/99", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><input id="code" name="code" value="SPRING10"></body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &posted
}

func TestCreateCoupon(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:myrace")()

	server, posted := fakeCouponSite(t, false)
	client := newTestClient(t, server.URL)

	result, err := client.CreateCoupon(context.Background(), 42, CouponRequest{
		Code:       "spring10",
		Discount:   100,
		UsageLimit: 1,
		SlotValue:  "all",
	})
	require.NoError(t, err)
	require.True(t, result.Submitted)
	require.Equal(t, "spring10", result.Code)
	require.Equal(t, "SPRING10", result.ActualCode)
	require.Empty(t, result.Missing)

	require.Equal(t, "tok", posted.Get("authenticity_token"))
	require.Equal(t, "spring10", posted.Get("coupon[code]"))
	require.Equal(t, "100", posted.Get("coupon[discount]"))
	require.Equal(t, "1", posted.Get("usage_limit"))
	require.Equal(t, []string{"10", "11"}, (*posted)["slots[]"])
}

func TestCreateCouponDryRun(t *testing.T) {
	server, posted := fakeCouponSite(t, false)
	client := newTestClient(t, server.URL)

	result, err := client.CreateCoupon(context.Background(), 42, CouponRequest{
		Code:     "spring10",
		Discount: 100,
		DryRun:   true,
	})
	require.NoError(t, err)
	require.False(t, result.Submitted)
	require.Equal(t, "spring10", result.Values.Get("coupon[code]"))
	require.Nil(t, *posted, "dry run must not submit")
}

func TestCreateCouponRejected(t *testing.T) {
	server, _ := fakeCouponSite(t, true)
	client := newTestClient(t, server.URL)

	result, err := client.CreateCoupon(context.Background(), 42, CouponRequest{Code: "spring10"})
	var creationErr *CreationError
	require.ErrorAs(t, err, &creationErr)
	require.Equal(t, CreationFormRejected, creationErr.Kind)
	require.Equal(t, "spring10", creationErr.Code)
	require.Contains(t, creationErr.Detail, "Code already exists")
	// the POST went out even though the server rejected it
	require.True(t, result.Submitted)
}

func TestCreateCouponMissingRequired(t *testing.T) {
	server, _ := fakeCouponSite(t, false)
	client := newTestClient(t, server.URL)

	result, err := client.CreateCoupon(context.Background(), 42, CouponRequest{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, []string{"coupon[code]"}, result.Missing)
}

func TestListCouponTypes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /coupon/races/42/types", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/promo/races/42/slots/new?type=distance">На определенную дистанцию</a>
			<a href="/promo/races/42/slots/new?type=distance_with_bib">С выделением номера</a>
			<a href="/unrelated/page">Справка</a>
		</body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	types, err := client.ListCouponTypes(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, []CouponType{
		{DisplayName: "На определенную дистанцию", Slug: "distance", Href: "/promo/races/42/slots/new?type=distance"},
		{DisplayName: "С выделением номера", Slug: "distance_with_bib", Href: "/promo/races/42/slots/new?type=distance_with_bib"},
	}, types)
}

func TestResolveCouponFormWarmsSession(t *testing.T) {
	// the first form request bounces to the race list; after the coupon
	// list warms the session, the retry serves the form
	warmed := false
	mux := http.NewServeMux()
	mux.HandleFunc("GET /promo/races/42/slots/new", func(w http.ResponseWriter, r *http.Request) {
		if !warmed {
			http.Redirect(w, r, "/race/list", http.StatusFound)
			return
		}
		fmt.Fprint(w, slotsFormPage)
	})
	mux.HandleFunc("GET /race/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>races</body></html>`)
	})
	mux.HandleFunc("GET /race/coupons/list/42", func(w http.ResponseWriter, r *http.Request) {
		warmed = true
		fmt.Fprint(w, `<html><body>coupons</body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	snap, err := client.ResolveCouponForm(context.Background(), 42, "")
	require.NoError(t, err)
	_, ok := snap.Field("coupon[code]")
	require.True(t, ok)
}

func TestCouponOperationsDetectStaleSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login/" {
			fmt.Fprint(w, `<html><body><form action="/signup"><input type="email" name="email"></form></body></html>`)
			return
		}
		http.Redirect(w, r, "/login/", http.StatusFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.ListCouponTypes(context.Background(), 42)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, AuthInvalidCredentials, authErr.Kind)

	_, err = client.ResolveCouponForm(context.Background(), 42, "")
	require.ErrorAs(t, err, &authErr)
}
