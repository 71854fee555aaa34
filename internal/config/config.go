package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"profilescrape-engine/internal/dom"
)

type Config struct {
	App struct {
		Port    int    `yaml:"port" json:"port"`
		DataDir string `yaml:"data_dir" json:"data_dir"`
	} `yaml:"app" json:"app"`

	Browser struct {
		// ControlURL attaches to a running Chrome; empty launches one.
		ControlURL               string  `yaml:"control_url" json:"control_url"`
		Bin                      string  `yaml:"bin" json:"bin"`
		Headless                 bool    `yaml:"headless" json:"headless"`
		NavigationTimeoutSeconds int     `yaml:"navigation_timeout_seconds" json:"navigation_timeout_seconds"`
		RequestsPerSecond        float64 `yaml:"requests_per_second" json:"requests_per_second"`
		Burst                    int     `yaml:"burst" json:"burst"`
	} `yaml:"browser" json:"browser"`

	Scrape struct {
		ElementTimeoutMS int `yaml:"element_timeout_ms" json:"element_timeout_ms"`
		SectionTimeoutMS int `yaml:"section_timeout_ms" json:"section_timeout_ms"`
		ScrollDistancePX int `yaml:"scroll_distance_px" json:"scroll_distance_px"`
		ScrollStepMS     int `yaml:"scroll_step_ms" json:"scroll_step_ms"`
		ExpandSettleMS   int `yaml:"expand_settle_ms" json:"expand_settle_ms"`
		LoadMoreSettleMS int `yaml:"load_more_settle_ms" json:"load_more_settle_ms"`
		ProbeDelayMS     int `yaml:"probe_delay_ms" json:"probe_delay_ms"`
	} `yaml:"scrape" json:"scrape"`

	Narrative struct {
		Model          string `yaml:"model" json:"model"`
		APIKeyEnv      string `yaml:"api_key_env" json:"api_key_env"`
		KeyringAccount string `yaml:"keyring_account" json:"keyring_account"`
		TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
		BaseURL        string `yaml:"base_url" json:"base_url"`
	} `yaml:"narrative" json:"narrative"`

	Sessions struct {
		IdleTimeoutSeconds  int `yaml:"idle_timeout_seconds" json:"idle_timeout_seconds"`
		ReapIntervalSeconds int `yaml:"reap_interval_seconds" json:"reap_interval_seconds"`
	} `yaml:"sessions" json:"sessions"`

	Logging struct {
		Level string `yaml:"level" json:"level"`
		File  string `yaml:"file" json:"file"`
	} `yaml:"logging" json:"logging"`
}

// Load reads path and fills every unset field from Defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Defaults() Config {
	var c Config
	c.App.Port = 38471
	c.App.DataDir = "."

	c.Browser.NavigationTimeoutSeconds = 30
	c.Browser.RequestsPerSecond = 0.5
	c.Browser.Burst = 2

	t := dom.DefaultTimings()
	c.Scrape.ElementTimeoutMS = int(t.ElementTimeout / time.Millisecond)
	c.Scrape.SectionTimeoutMS = int(t.SectionTimeout / time.Millisecond)
	c.Scrape.ScrollDistancePX = t.ScrollDistance
	c.Scrape.ScrollStepMS = int(t.ScrollStep / time.Millisecond)
	c.Scrape.ExpandSettleMS = int(t.ExpandSettle / time.Millisecond)
	c.Scrape.LoadMoreSettleMS = int(t.LoadMoreSettle / time.Millisecond)
	c.Scrape.ProbeDelayMS = int(t.ProbeDelay / time.Millisecond)

	c.Narrative.Model = "gemini-2.5-flash"
	c.Narrative.APIKeyEnv = "GEMINI_API_KEY"
	c.Narrative.KeyringAccount = "gemini-api-key"
	c.Narrative.TimeoutSeconds = 60

	c.Sessions.IdleTimeoutSeconds = 600
	c.Sessions.ReapIntervalSeconds = 60

	c.Logging.Level = "info"
	return c
}

func (c Config) Timings() dom.Timings {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return dom.Timings{
		ElementTimeout: ms(c.Scrape.ElementTimeoutMS),
		SectionTimeout: ms(c.Scrape.SectionTimeoutMS),
		ScrollDistance: c.Scrape.ScrollDistancePX,
		ScrollStep:     ms(c.Scrape.ScrollStepMS),
		ExpandSettle:   ms(c.Scrape.ExpandSettleMS),
		LoadMoreSettle: ms(c.Scrape.LoadMoreSettleMS),
		ProbeDelay:     ms(c.Scrape.ProbeDelayMS),
	}
}

func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Browser.NavigationTimeoutSeconds) * time.Second
}

func (c Config) NarrativeTimeout() time.Duration {
	return time.Duration(c.Narrative.TimeoutSeconds) * time.Second
}

func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.Sessions.IdleTimeoutSeconds) * time.Second
}

func (c Config) ReapInterval() time.Duration {
	return time.Duration(c.Sessions.ReapIntervalSeconds) * time.Second
}

// RestartRequired lists the sections that differ between prev and next and
// are only read at startup.
func RestartRequired(prev, next Config) []string {
	var out []string
	if prev.App != next.App {
		out = append(out, "app")
	}
	if prev.Browser != next.Browser {
		out = append(out, "browser")
	}
	if prev.Scrape != next.Scrape {
		out = append(out, "scrape")
	}
	if prev.Logging != next.Logging {
		out = append(out, "logging")
	}
	return out
}
