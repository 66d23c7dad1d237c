package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"raceops-backend/lib/scrapers/myrace"
	"raceops-backend/services/incomewatch"
	"raceops-backend/services/promo"
)

// Env is the MYRACE_* environment configuration promoctl runs with.
type Env struct {
	BaseUrl     string
	CookiesPath string
	RaceID      string
	CouponType  string
	SlotValue   string
	UsageLimit  int
	GoalsPath   string
	RacesPath   string
	StatePath   string
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func readEnv() Env {
	usageLimit := 1
	if raw := envOr("MYRACE_USAGE_LIMIT", ""); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			usageLimit = parsed
		}
	}
	return Env{
		BaseUrl:     envOr("MYRACE_BASE_URL", myrace.DefaultBaseUrl),
		CookiesPath: envOr("MYRACE_COOKIES_PATH", "cookies/myrace_cookies.txt"),
		RaceID:      envOr("MYRACE_RACE_ID", ""),
		CouponType:  envOr("MYRACE_COUPON_TYPE", "Скидка 100%"),
		SlotValue:   envOr("MYRACE_SLOT_VALUE", "all"),
		UsageLimit:  usageLimit,
		GoalsPath:   envOr("MYRACE_GOALS_PATH", "data/income_goals.json"),
		RacesPath:   envOr("MYRACE_RACES_PATH", "races.json"),
		StatePath:   envOr("MYRACE_WATCH_STATE_PATH", "data/race_income_state.json"),
	}
}

var (
	env      Env
	client   *myrace.Client
	promoSvc promo.Service
	watchSvc incomewatch.Service
)

var rootCmd = &cobra.Command{
	Use:   "promoctl",
	Short: "promoctl manages myrace.info sessions, promo codes, races and income goals.",
}

func Execute() {
	env = readEnv()

	var err error
	client, err = myrace.NewClient(myrace.ClientOptions{
		BaseUrl:    env.BaseUrl,
		CookieFile: env.CookiesPath,
		Prompter:   myrace.TerminalPrompter{},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	promoSvc = promo.NewService(promo.ServiceOptions{Client: client})
	watchSvc = incomewatch.NewService(incomewatch.ServiceOptions{
		Client:       client,
		RegistryPath: env.RacesPath,
		GoalsPath:    env.GoalsPath,
		StatePath:    env.StatePath,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

// resolveRaceID picks the race commands act on: the explicit flag,
// then the environment, then the registry's selected race.
func resolveRaceID(flag string) string {
	if flag != "" {
		return flag
	}
	if env.RaceID != "" {
		return env.RaceID
	}
	current, err := watchSvc.CurrentRace()
	if err != nil {
		fatal(err)
	}
	return current
}

func resolveRaceIDInt(flag string) int {
	raceID := resolveRaceID(flag)
	parsed, err := strconv.Atoi(raceID)
	if err != nil {
		fatal(fmt.Errorf("race id %q is not numeric", raceID))
	}
	return parsed
}
