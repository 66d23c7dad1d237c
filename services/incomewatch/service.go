// Package incomewatch polls race registration summaries and notifies
// the operator when revenue moves.
package incomewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"raceops-backend/lib/notify"
	"raceops-backend/lib/scrapers/myrace"
)

var tracer = otel.Tracer("services/incomewatch")
var meter = otel.Meter("services/incomewatch")

// minInterval is the floor for the polling interval: anything lower
// hammers the site for no benefit.
const minInterval = time.Minute

const defaultInterval = 5 * time.Minute

type Service struct {
	client   *myrace.Client
	registry Registry
	goals    GoalStore
	state    StateStore
	notifier notify.Notifier
	interval time.Duration

	pollCounter   metric.Int64Counter
	notifyCounter metric.Int64Counter
}

type ServiceOptions struct {
	Client       *myrace.Client
	RegistryPath string
	GoalsPath    string
	StatePath    string
	Notifier     notify.Notifier
	// floored at one minute, defaults to five
	Interval time.Duration
}

func NewService(opts ServiceOptions) Service {
	interval := opts.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	if interval < minInterval {
		slog.Warn("polling interval too low, clamping", "requested", interval, "floor", minInterval)
		interval = minInterval
	}

	pollCounter, err := meter.Int64Counter("incomewatch.polls")
	if err != nil {
		slog.Warn("could not create poll counter", "err", err)
	}
	notifyCounter, err := meter.Int64Counter("incomewatch.notifications")
	if err != nil {
		slog.Warn("could not create notification counter", "err", err)
	}

	return Service{
		client:        opts.Client,
		registry:      NewRegistry(opts.RegistryPath),
		goals:         NewGoalStore(opts.GoalsPath),
		state:         NewStateStore(opts.StatePath),
		notifier:      opts.Notifier,
		interval:      interval,
		pollCounter:   pollCounter,
		notifyCounter: notifyCounter,
	}
}

func (s Service) Registry() Registry      { return s.registry }
func (s Service) Goals() GoalStore        { return s.goals }
func (s Service) Interval() time.Duration { return s.interval }

// ListRaces merges the stored registry with whatever the site lists
// for the account. Discovery failures degrade to the stored list.
func (s Service) ListRaces(ctx context.Context) ([]myrace.RaceRef, error) {
	races, err := s.registry.List()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(races))
	for _, race := range races {
		seen[race.ID] = true
	}

	discovered, err := s.client.FetchRaceList(ctx)
	if err != nil {
		slog.WarnContext(ctx, "race discovery failed, using the stored list", "err", err)
		return races, nil
	}
	for _, race := range discovered {
		if !seen[race.ID] {
			races = append(races, race)
			seen[race.ID] = true
		}
	}
	return races, nil
}

// AddRace registers a race from any pasted myrace URL, fetching its
// title off the event page.
func (s Service) AddRace(ctx context.Context, rawURL string) (myrace.RaceRef, bool, error) {
	raceID, err := myrace.ParseRaceURL(rawURL)
	if err != nil {
		return myrace.RaceRef{}, false, err
	}

	title, err := s.client.FetchRaceTitle(ctx, raceID)
	if err != nil || title == "" {
		if err != nil {
			slog.WarnContext(ctx, "could not fetch race title", "race_id", raceID, "err", err)
		}
		title = "Race " + raceID
	}

	ref := myrace.RaceRef{ID: raceID, Title: title, SourceURL: rawURL}
	added, err := s.registry.Add(ref)
	return ref, added, err
}

func (s Service) SelectRace(raceID string) error {
	return s.registry.Select(raceID)
}

// CurrentRace resolves the race id commands default to: the selected
// race, else the single registered race.
func (s Service) CurrentRace() (string, error) {
	current, err := s.registry.Current()
	if err != nil {
		return "", err
	}
	if current != "" {
		return current, nil
	}
	races, err := s.registry.List()
	if err != nil {
		return "", err
	}
	if len(races) == 1 {
		return races[0].ID, nil
	}
	return "", fmt.Errorf("no race selected; pick one with the select command")
}

func (s Service) SetGoal(raceID string, amount decimal.Decimal) error {
	return s.goals.Set(raceID, amount)
}

func (s Service) ClearGoal(raceID string) error {
	return s.goals.Clear(raceID)
}

// Report is a point-in-time income view of one race.
type Report struct {
	Metrics myrace.RaceMetrics
	// nil when no goal is set
	Goal      *decimal.Decimal
	Remaining *decimal.Decimal
}

// Income fetches the live metrics for a race and relates them to its
// goal.
func (s Service) Income(ctx context.Context, raceID string) (Report, error) {
	ctx, span := tracer.Start(ctx, "Income")
	defer span.End()

	metrics, err := s.client.FetchRaceMetrics(ctx, raceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetching metrics failed")
		return Report{}, err
	}

	report := Report{Metrics: metrics}
	goals, err := s.goals.Load()
	if err != nil {
		slog.WarnContext(ctx, "could not load goals", "err", err)
		return report, nil
	}
	if goal, ok := goals[raceID]; ok {
		remaining := goal.Sub(metrics.Revenue)
		report.Goal = &goal
		report.Remaining = &remaining
	}
	return report, nil
}

// pollRace updates the state for one race and emits a notification
// when its revenue moved. The state map is only touched when the poll
// succeeded, so a failed fetch can never corrupt the baseline.
func (s Service) pollRace(
	ctx context.Context,
	raceID string,
	state map[string]stateEntry,
	goals map[string]decimal.Decimal,
) (changed bool, err error) {
	ctx, span := tracer.Start(ctx, "pollRace")
	defer span.End()
	span.SetAttributes(attribute.String("race_id", raceID))

	metrics, err := s.client.FetchRaceMetrics(ctx, raceID)
	s.pollCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("race_id", raceID),
		attribute.Bool("ok", err == nil),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll failed")
		return false, err
	}

	entry := stateEntry{
		Revenue:      metrics.Revenue.String(),
		Participants: strconv.Itoa(metrics.Participants),
		UpdatedAt:    strconv.FormatInt(time.Now().Unix(), 10),
	}

	previous, known := state[raceID]
	if !known {
		// first sighting establishes the baseline without a sound
		slog.InfoContext(ctx, "baselining race",
			"race_id", raceID, "revenue", myrace.FormatMoney(metrics.Revenue))
		state[raceID] = entry
		return true, nil
	}

	previousRevenue, err := decimal.NewFromString(previous.Revenue)
	if err != nil {
		slog.WarnContext(ctx, "stored revenue is malformed, re-baselining",
			"race_id", raceID, "stored", previous.Revenue)
		state[raceID] = entry
		return true, nil
	}

	if metrics.Revenue.Equal(previousRevenue) {
		// refresh the secondary observations for history
		state[raceID] = entry
		return true, nil
	}

	change := notify.RevenueChange{
		RaceID:       raceID,
		Title:        metrics.Title,
		Participants: metrics.Participants,
		Previous:     previousRevenue,
		Current:      metrics.Revenue,
	}
	if goal, ok := goals[raceID]; ok {
		change.Goal = &goal
	}

	slog.InfoContext(ctx, "race revenue changed",
		"race_id", raceID,
		"previous", myrace.FormatMoney(previousRevenue),
		"current", myrace.FormatMoney(metrics.Revenue))

	if s.notifier != nil {
		if err := s.notifier.NotifyRevenueChange(ctx, change); err != nil {
			slog.ErrorContext(ctx, "notification failed", "race_id", raceID, "err", err)
		} else {
			s.notifyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("race_id", raceID)))
		}
	}

	state[raceID] = entry
	return true, nil
}

// PollCycle runs one pass over every tracked race. Races fail
// independently; the cycle persists whatever it learned.
func (s Service) PollCycle(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "PollCycle")
	defer span.End()

	// the cookie file may have been refreshed while we slept
	if err := s.client.LoadCookies(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading cookies: %w", err)
	}

	races, err := s.registry.List()
	if err != nil {
		return err
	}
	if len(races) == 0 {
		return fmt.Errorf("no races registered to watch")
	}

	goals, err := s.goals.Load()
	if err != nil {
		slog.WarnContext(ctx, "could not load goals", "err", err)
		goals = map[string]decimal.Decimal{}
	}

	state := s.state.Load()
	stateChanged := false
	for _, race := range races {
		changed, err := s.pollRace(ctx, race.ID, state, goals)
		if err != nil {
			slog.ErrorContext(ctx, "polling race failed", "race_id", race.ID, "err", err)
			continue
		}
		stateChanged = stateChanged || changed
	}

	if stateChanged {
		if err := s.state.Save(state); err != nil {
			slog.ErrorContext(ctx, "persisting watcher state failed", "err", err)
		}
	}
	return nil
}

// Watch polls on the configured interval until the context ends. An
// immediate cycle runs first so a fresh start reports promptly.
func (s Service) Watch(ctx context.Context) {
	slog.InfoContext(ctx, "watching race income", "interval", s.interval)

	if err := s.PollCycle(ctx); err != nil {
		slog.ErrorContext(ctx, "poll cycle failed", "err", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "stopping watcher")
			return
		case <-ticker.C:
			if err := s.PollCycle(ctx); err != nil {
				slog.ErrorContext(ctx, "poll cycle failed", "err", err)
			}
		}
	}
}
