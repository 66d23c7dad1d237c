package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"raceops-backend/lib/configutil"
	"raceops-backend/lib/notify"
	"raceops-backend/lib/scrapers/myrace"
	"raceops-backend/lib/serviceutil"
	"raceops-backend/lib/telemetry"
	"raceops-backend/services/incomewatch"
)

type TelegramConfig struct {
	BotToken string  `json:"bot_token"`
	AdminIds []int64 `json:"admin_ids"`
}

type Config struct {
	BaseUrl         string         `json:"base_url"`
	CookiesPath     string         `json:"cookies_path"`
	RacesPath       string         `json:"races_path"`
	GoalsPath       string         `json:"goals_path"`
	StatePath       string         `json:"state_path"`
	IntervalSeconds int            `json:"interval_seconds"`
	Console         bool           `json:"console"`
	Telegram        TelegramConfig `json:"telegram"`
}

// applyEnv lets the environment override the config file, which keeps
// containerized deployments to a single env block.
func (c *Config) applyEnv() {
	if v := os.Getenv("MYRACE_COOKIES_PATH"); v != "" {
		c.CookiesPath = v
	}
	if v := os.Getenv("MYRACE_RACES_PATH"); v != "" {
		c.RacesPath = v
	}
	if v := os.Getenv("MYRACE_GOALS_PATH"); v != "" {
		c.GoalsPath = v
	}
	if v := os.Getenv("MYRACE_WATCH_STATE_PATH"); v != "" {
		c.StatePath = v
	}
	if v := os.Getenv("MYRACE_WATCH_INTERVAL"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			c.IntervalSeconds = parsed
		} else {
			slog.Warn("ignoring malformed MYRACE_WATCH_INTERVAL", "value", v)
		}
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_ADMIN_IDS"); v != "" {
		var ids []int64
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				slog.Warn("skipping malformed TELEGRAM_ADMIN_IDS entry", "value", part)
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			c.Telegram.AdminIds = ids
		}
	}
}

func (c *Config) defaults() {
	if c.CookiesPath == "" {
		c.CookiesPath = "cookies/myrace_cookies.txt"
	}
	if c.RacesPath == "" {
		c.RacesPath = "races.json"
	}
	if c.GoalsPath == "" {
		c.GoalsPath = "data/income_goals.json"
	}
	if c.StatePath == "" {
		c.StatePath = "data/race_income_state.json"
	}
}

func main() {
	godotenv.Load()
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to read config", err)
	}
	config.applyEnv()
	config.defaults()

	t, err := telemetry.SetupFromEnv(ctx, "incomewatchd")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(context.Background())

	client, err := myrace.NewClient(myrace.ClientOptions{
		BaseUrl:    config.BaseUrl,
		CookieFile: configutil.ResolvePath(config.CookiesPath),
	})
	if err != nil {
		serviceutil.Fatal("failed to create site client", err)
	}

	var notifiers notify.Multi
	if config.Telegram.BotToken != "" && len(config.Telegram.AdminIds) > 0 {
		notifiers = append(notifiers, notify.NewTelegram(config.Telegram.BotToken, config.Telegram.AdminIds))
	}
	if config.Console || len(notifiers) == 0 {
		notifiers = append(notifiers, notify.NewConsole())
	}

	service := incomewatch.NewService(incomewatch.ServiceOptions{
		Client:       client,
		RegistryPath: configutil.ResolvePath(config.RacesPath),
		GoalsPath:    configutil.ResolvePath(config.GoalsPath),
		StatePath:    configutil.ResolvePath(config.StatePath),
		Notifier:     notifiers,
		Interval:     time.Duration(config.IntervalSeconds) * time.Second,
	})

	service.Watch(ctx)
}
