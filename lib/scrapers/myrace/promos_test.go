package myrace

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakePromoSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	listPage := `<html><body>
		<table class="items">
			<tr><td>1</td><td><a href="/promo/view/101">SPRING10</a></td><td>50%</td></tr>
			<tr><td>2</td><td><a href="/promo/view/102"></a></td><td>30%</td></tr>
		</table>
		<script>var promoViewUrl = "\/promo\/view\/103";</script>
		<a href="/promo/races/42/slots?type=distance&amp;page=1">2</a>
		</body></html>`
	secondPage := `<html><body>
		<a href="/promo/view/104">WINTER</a>
		</body></html>`

	mux.HandleFunc("GET /race/coupons/list/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listPage)
	})
	mux.HandleFunc("GET /promo/races/42/slots", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, secondPage)
	})
	mux.HandleFunc("GET /promo/view/101", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<input id="code" name="code" value="SPRING10">
			<table><tr><th>Максимальное количество использования</th><td>5</td></tr></table>
			</body></html>`)
	})
	mux.HandleFunc("GET /promo/view/102", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<input id="code" name="code" value="AUTUMN5">
			<dl><dt>Maximum number of uses</dt><dd>0</dd></dl>
			</body></html>`)
	})
	mux.HandleFunc("GET /promo/view/103", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>страница промокода</p></body></html>`)
	})
	mux.HandleFunc("GET /promo/view/104", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<input id="code" name="code" value="WINTER">
			<table><tr><th>Максимальное количество использований</th><td>2</td></tr></table>
			</body></html>`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestListPromos(t *testing.T) {
	server := fakePromoSite(t)
	client := newTestClient(t, server.URL)

	promos, err := client.ListPromos(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, promos, 4)

	require.Equal(t, "SPRING10", promos[0].Code)
	require.Equal(t, 5, promos[0].UsageLeft)
	require.Equal(t, 50, promos[0].Discount)

	// the listing anchor was empty, the view page names the code
	require.Equal(t, "AUTUMN5", promos[1].Code)
	require.Equal(t, 0, promos[1].UsageLeft)
	require.Equal(t, 30, promos[1].Discount)

	// only reachable through the inline script, nothing else known
	require.Equal(t, "promo-103", promos[2].Code)
	require.Equal(t, -1, promos[2].UsageLeft)
	require.Equal(t, -1, promos[2].Discount)

	// found by following the pagination link
	require.Equal(t, "WINTER", promos[3].Code)
	require.Equal(t, 2, promos[3].UsageLeft)
}

func TestListPromosKeepsUnreadableViewPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /race/coupons/list/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/promo/view/7">LOST1</a></body></html>`)
	})
	mux.HandleFunc("GET /promo/view/7", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL)

	promos, err := client.ListPromos(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, promos, 1)
	require.Equal(t, "LOST1", promos[0].Code)
	require.Equal(t, -1, promos[0].UsageLeft)
}

func TestListPromosNoneFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /race/coupons/list/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>Промокодов нет</p></body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL)

	_, err := client.ListPromos(context.Background(), 42)
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, ResolutionNotFound, resErr.Kind)
}

func TestListPromosStaleSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>login</body></html>`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login/", http.StatusFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL)

	_, err := client.ListPromos(context.Background(), 42)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, AuthInvalidCredentials, authErr.Kind)
}
