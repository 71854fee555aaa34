package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

func (v Validation) Err() error {
	if v.OK() {
		return nil
	}
	return fmt.Errorf("config validation failed:\n- %s", strings.Join(v.Errors, "\n- "))
}

// NormalizeAndValidate returns a trimmed copy of cfg and what is wrong with it.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	out := cfg
	var res Validation

	out.Browser.ControlURL = strings.TrimSpace(out.Browser.ControlURL)
	out.Browser.Bin = strings.TrimSpace(out.Browser.Bin)
	out.Narrative.Model = strings.TrimSpace(out.Narrative.Model)
	out.Narrative.APIKeyEnv = strings.TrimSpace(out.Narrative.APIKeyEnv)
	out.Narrative.BaseURL = strings.TrimRight(strings.TrimSpace(out.Narrative.BaseURL), "/")
	out.Logging.Level = strings.ToLower(strings.TrimSpace(out.Logging.Level))

	if out.App.Port <= 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}

	if out.Browser.ControlURL != "" {
		if u, err := url.Parse(out.Browser.ControlURL); err != nil || u.Host == "" {
			res.addErr("browser.control_url is not a valid url: %q", out.Browser.ControlURL)
		}
	}
	if out.Browser.NavigationTimeoutSeconds <= 0 {
		res.addErr("browser.navigation_timeout_seconds must be > 0")
	}
	if out.Browser.RequestsPerSecond < 0 {
		res.addErr("browser.requests_per_second must be >= 0")
	} else if out.Browser.RequestsPerSecond == 0 {
		res.addWarn("browser.requests_per_second is 0; navigation is not rate limited.")
	} else if out.Browser.RequestsPerSecond > 2 {
		res.addWarn("browser.requests_per_second is high (%.2f) and may trigger rate limits.", out.Browser.RequestsPerSecond)
	}
	if out.Browser.Burst < 0 {
		res.addErr("browser.burst must be >= 0")
	}

	positive := map[string]int{
		"scrape.element_timeout_ms":      out.Scrape.ElementTimeoutMS,
		"scrape.section_timeout_ms":      out.Scrape.SectionTimeoutMS,
		"scrape.scroll_distance_px":      out.Scrape.ScrollDistancePX,
		"scrape.scroll_step_ms":          out.Scrape.ScrollStepMS,
		"scrape.probe_delay_ms":          out.Scrape.ProbeDelayMS,
		"narrative.timeout_seconds":      out.Narrative.TimeoutSeconds,
		"sessions.reap_interval_seconds": out.Sessions.ReapIntervalSeconds,
	}
	for _, k := range sortedKeys(positive) {
		if positive[k] <= 0 {
			res.addErr("%s must be > 0", k)
		}
	}
	if out.Scrape.ExpandSettleMS < 0 || out.Scrape.LoadMoreSettleMS < 0 {
		res.addErr("scrape settle delays must be >= 0")
	}
	if out.Scrape.SectionTimeoutMS > out.Scrape.ElementTimeoutMS {
		res.addWarn("scrape.section_timeout_ms (%d) is longer than element_timeout_ms (%d).",
			out.Scrape.SectionTimeoutMS, out.Scrape.ElementTimeoutMS)
	}

	if out.Narrative.Model == "" {
		res.addErr("narrative.model is required")
	}
	if out.Narrative.APIKeyEnv == "" && strings.TrimSpace(out.Narrative.KeyringAccount) == "" {
		res.addWarn("narrative has neither api_key_env nor keyring_account; descriptions will report a missing key.")
	}

	if out.Sessions.IdleTimeoutSeconds <= 0 {
		res.addErr("sessions.idle_timeout_seconds must be > 0")
	} else if out.Sessions.IdleTimeoutSeconds < 120 {
		res.addWarn("sessions.idle_timeout_seconds is low (%d); slow detail pages may be reaped mid-session.",
			out.Sessions.IdleTimeoutSeconds)
	}

	if out.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(out.Logging.Level); err != nil {
			res.addErr("logging.level %q is not a known level", out.Logging.Level)
		}
	}

	return out, res
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
