package incomewatch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"raceops-backend/lib/jsonfile"
	"raceops-backend/lib/scrapers/myrace"
)

// Registry is the flat-file list of races the account tracks, plus a
// sidecar remembering which race commands default to. The list file
// is a plain array so other tooling can read and edit it.
type Registry struct {
	path        string
	currentPath string
}

func NewRegistry(path string) Registry {
	return Registry{
		path:        path,
		currentPath: strings.TrimSuffix(path, ".json") + ".current.json",
	}
}

func (r Registry) List() ([]myrace.RaceRef, error) {
	races, err := jsonfile.Load[[]myrace.RaceRef](r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return races, err
}

// Add appends a race unless its id is already present. It reports
// whether the registry changed.
func (r Registry) Add(ref myrace.RaceRef) (bool, error) {
	races, err := r.List()
	if err != nil {
		return false, err
	}
	for _, existing := range races {
		if existing.ID == ref.ID {
			return false, nil
		}
	}
	races = append(races, ref)
	return true, jsonfile.Save(r.path, races)
}

type currentRace struct {
	RaceID string `json:"race_id"`
}

// Current returns the selected race id, empty when nothing has been
// selected yet.
func (r Registry) Current() (string, error) {
	cur, err := jsonfile.Load[currentRace](r.currentPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cur.RaceID, nil
}

func (r Registry) Select(raceID string) error {
	return jsonfile.Save(r.currentPath, currentRace{RaceID: raceID})
}

// GoalStore persists revenue goals per race. On disk it is a plain
// object of race id to amount string, so amounts survive as written.
type GoalStore struct {
	path string
}

func NewGoalStore(path string) GoalStore {
	return GoalStore{path: path}
}

func (g GoalStore) loadRaw() (map[string]string, error) {
	raw, err := jsonfile.Load[map[string]string](g.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]string{}
	}
	return raw, nil
}

// Load parses every goal, skipping entries that no longer parse
// rather than failing the whole map.
func (g GoalStore) Load() (map[string]decimal.Decimal, error) {
	raw, err := g.loadRaw()
	if err != nil {
		return nil, err
	}
	goals := make(map[string]decimal.Decimal, len(raw))
	for raceID, value := range raw {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			slog.Warn("skipping malformed goal", "race_id", raceID, "value", value)
			continue
		}
		goals[raceID] = amount
	}
	return goals, nil
}

func (g GoalStore) Set(raceID string, amount decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return fmt.Errorf("goal must be positive, got %s", amount)
	}
	raw, err := g.loadRaw()
	if err != nil {
		return err
	}
	raw[raceID] = amount.String()
	return jsonfile.Save(g.path, raw)
}

func (g GoalStore) Clear(raceID string) error {
	raw, err := g.loadRaw()
	if err != nil {
		return err
	}
	delete(raw, raceID)
	return jsonfile.Save(g.path, raw)
}

// stateEntry mirrors the on-disk watcher state: everything is a
// string so the file stays stable under hand edits and decimal
// revenues never lose precision.
type stateEntry struct {
	Revenue      string `json:"revenue"`
	Participants string `json:"participants"`
	UpdatedAt    string `json:"updated_at"`
}

// StateStore persists the last observed revenue per race between
// watcher runs.
type StateStore struct {
	path string
}

func NewStateStore(path string) StateStore {
	return StateStore{path: path}
}

// Load reads the persisted state. A missing or corrupt file starts
// the watcher from an empty baseline instead of failing it.
func (s StateStore) Load() map[string]stateEntry {
	state, err := jsonfile.Load[map[string]stateEntry](s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("could not read watcher state, starting fresh", "path", s.path, "err", err)
		}
		return map[string]stateEntry{}
	}
	if state == nil {
		state = map[string]stateEntry{}
	}
	return state
}

func (s StateStore) Save(state map[string]stateEntry) error {
	return jsonfile.Save(s.path, state)
}
