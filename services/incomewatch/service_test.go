package incomewatch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"raceops-backend/lib/notify"
	"raceops-backend/lib/scrapers/myrace"
	"raceops-backend/lib/telemetry"
)

// recordingNotifier captures every change it is handed.
type recordingNotifier struct {
	mu      sync.Mutex
	changes []notify.RevenueChange
}

func (n *recordingNotifier) NotifyRevenueChange(_ context.Context, change notify.RevenueChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	return nil
}

func (n *recordingNotifier) all() []notify.RevenueChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.RevenueChange(nil), n.changes...)
}

// fakeRaceSite serves race summary pages whose revenue the test can
// move between polls. A race id in the broken set returns a page the
// scraper cannot read.
type fakeRaceSite struct {
	mu      sync.Mutex
	revenue map[string]string
	broken  map[string]bool
}

func (s *fakeRaceSite) set(raceID, revenue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revenue[raceID] = revenue
}

func (s *fakeRaceSite) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /entities/races/{id}", func(w http.ResponseWriter, r *http.Request) {
		raceID := r.PathValue("id")
		s.mu.Lock()
		revenue, ok := s.revenue[raceID]
		broken := s.broken[raceID]
		s.mu.Unlock()
		if broken {
			fmt.Fprint(w, `<html><body><p>страница обновляется</p></body></html>`)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><body>
			<div class="card"><h2>Забег %s</h2></div>
			<div class="list-item"><div>Участников</div><div>10</div></div>
			<div class="list-item"><div>Доход</div><div>%s</div></div>
		</body></html>`, raceID, revenue)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestService(t *testing.T, baseURL string, notifier notify.Notifier) Service {
	t.Helper()
	client, err := myrace.NewClient(myrace.ClientOptions{
		BaseUrl:           baseURL,
		CookieFile:        filepath.Join(t.TempDir(), "cookies.txt"),
		RequestsPerSecond: 1000,
		Retry:             myrace.RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond},
	})
	require.NoError(t, err)

	dir := t.TempDir()
	return NewService(ServiceOptions{
		Client:       client,
		RegistryPath: filepath.Join(dir, "races.json"),
		GoalsPath:    filepath.Join(dir, "goals.json"),
		StatePath:    filepath.Join(dir, "state.json"),
		Notifier:     notifier,
	})
}

func TestPollCycleBaselinesSilently(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:incomewatch")()

	site := &fakeRaceSite{revenue: map[string]string{"42": "100 000"}, broken: map[string]bool{}}
	server := site.server(t)
	notifier := &recordingNotifier{}
	service := newTestService(t, server.URL, notifier)

	_, err := service.Registry().Add(myrace.RaceRef{ID: "42", Title: "Забег 42"})
	require.NoError(t, err)

	// the first sighting only records the baseline
	require.NoError(t, service.PollCycle(context.Background()))
	require.Empty(t, notifier.all())

	// an unchanged follow-up stays quiet too
	require.NoError(t, service.PollCycle(context.Background()))
	require.Empty(t, notifier.all())
}

func TestPollCycleNotifiesOnChange(t *testing.T) {
	site := &fakeRaceSite{revenue: map[string]string{"42": "100 000"}, broken: map[string]bool{}}
	server := site.server(t)
	notifier := &recordingNotifier{}
	service := newTestService(t, server.URL, notifier)

	_, err := service.Registry().Add(myrace.RaceRef{ID: "42", Title: "Забег 42"})
	require.NoError(t, err)
	require.NoError(t, service.SetGoal("42", decimal.NewFromInt(200000)))

	require.NoError(t, service.PollCycle(context.Background()))
	site.set("42", "150 000")
	require.NoError(t, service.PollCycle(context.Background()))

	changes := notifier.all()
	require.Len(t, changes, 1)
	require.Equal(t, "42", changes[0].RaceID)
	require.Equal(t, "100000", changes[0].Previous.String())
	require.Equal(t, "150000", changes[0].Current.String())
	require.NotNil(t, changes[0].Goal)
	remaining, ok := changes[0].Remaining()
	require.True(t, ok)
	require.Equal(t, "50000", remaining.String())
}

func TestPollCycleKeepsStateOnFailedPoll(t *testing.T) {
	site := &fakeRaceSite{revenue: map[string]string{"42": "100 000"}, broken: map[string]bool{}}
	server := site.server(t)
	notifier := &recordingNotifier{}
	service := newTestService(t, server.URL, notifier)

	_, err := service.Registry().Add(myrace.RaceRef{ID: "42", Title: "Забег 42"})
	require.NoError(t, err)
	require.NoError(t, service.PollCycle(context.Background()))

	// a poll that cannot read the page must not move the baseline
	site.mu.Lock()
	site.broken["42"] = true
	site.mu.Unlock()
	require.NoError(t, service.PollCycle(context.Background()))
	require.Empty(t, notifier.all())

	// once the page is readable again, the old baseline still applies
	site.mu.Lock()
	site.broken["42"] = false
	site.mu.Unlock()
	site.set("42", "120 000")
	require.NoError(t, service.PollCycle(context.Background()))

	changes := notifier.all()
	require.Len(t, changes, 1)
	require.Equal(t, "100000", changes[0].Previous.String())
}

func TestPollCycleIsolatesRaces(t *testing.T) {
	site := &fakeRaceSite{
		revenue: map[string]string{"42": "100 000", "77": "50 000"},
		broken:  map[string]bool{"42": true},
	}
	server := site.server(t)
	notifier := &recordingNotifier{}
	service := newTestService(t, server.URL, notifier)

	_, err := service.Registry().Add(myrace.RaceRef{ID: "42", Title: "Забег 42"})
	require.NoError(t, err)
	_, err = service.Registry().Add(myrace.RaceRef{ID: "77", Title: "Забег 77"})
	require.NoError(t, err)

	// 42 is broken, 77 still gets baselined and then notified
	require.NoError(t, service.PollCycle(context.Background()))
	site.set("77", "60 000")
	require.NoError(t, service.PollCycle(context.Background()))

	changes := notifier.all()
	require.Len(t, changes, 1)
	require.Equal(t, "77", changes[0].RaceID)
}

func TestPollCycleRequiresRaces(t *testing.T) {
	site := &fakeRaceSite{revenue: map[string]string{}, broken: map[string]bool{}}
	server := site.server(t)
	service := newTestService(t, server.URL, &recordingNotifier{})

	require.Error(t, service.PollCycle(context.Background()))
}

func TestIntervalClamping(t *testing.T) {
	service := newTestService(t, "http://127.0.0.1:0", nil)
	require.Equal(t, defaultInterval, service.Interval())

	client := service.client
	clamped := NewService(ServiceOptions{Client: client, Interval: time.Second})
	require.Equal(t, minInterval, clamped.Interval())
}

func TestCurrentRace(t *testing.T) {
	service := newTestService(t, "http://127.0.0.1:0", nil)

	_, err := service.CurrentRace()
	require.Error(t, err)

	// a single registered race is the implied default
	_, err = service.Registry().Add(myrace.RaceRef{ID: "42", Title: "Забег"})
	require.NoError(t, err)
	current, err := service.CurrentRace()
	require.NoError(t, err)
	require.Equal(t, "42", current)

	// a second race forces an explicit selection
	_, err = service.Registry().Add(myrace.RaceRef{ID: "77", Title: "Другой"})
	require.NoError(t, err)
	_, err = service.CurrentRace()
	require.Error(t, err)

	require.NoError(t, service.SelectRace("77"))
	current, err = service.CurrentRace()
	require.NoError(t, err)
	require.Equal(t, "77", current)
}
