// Package config loads stockwatch configuration from YAML or JSON5 files.
//
// The flat pages.json/info.json layout (links and domains in one file, the
// SMTP account in the other) is accepted as is: pass both files to Load and
// they are merged in order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/stockwatch/policy"
)

// ErrNoLinks is returned by Validate when nothing is configured to check.
var ErrNoLinks = errors.New("config: no links configured")

// ErrInvalidURL is returned by Validate for a link or webhook that is not an
// absolute http(s) URL.
var ErrInvalidURL = errors.New("config: invalid URL")

// Config is the top-level stockwatch configuration.
type Config struct {
	Links   []string                 `yaml:"links" json:"links"`
	Domains map[string]policy.Record `yaml:"domains" json:"domains"`

	// SMTP account, flat as in info.json.
	SenderAddress  string   `yaml:"sender_address" json:"sender_address"`
	SenderPassword string   `yaml:"sender_password" json:"sender_password"`
	Recipients     []string `yaml:"recipients" json:"recipients"`
	SMTPHost       string   `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort       int      `yaml:"smtp_port" json:"smtp_port"`
	Subject        string   `yaml:"subject" json:"subject"`

	Webhooks []string `yaml:"webhooks" json:"webhooks"`
	Stdout   bool     `yaml:"stdout" json:"stdout"`

	Browser   BrowserConfig   `yaml:"browser" json:"browser"`
	Stabilize StabilizeConfig `yaml:"stabilize" json:"stabilize"`
	Sweep     SweepConfig     `yaml:"sweep" json:"sweep"`

	// DB is the check history database path. Empty disables history.
	DB string `yaml:"db" json:"db"`

	// HTTP is the listen address of the status API. Empty disables it.
	HTTP string `yaml:"http" json:"http"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string   `yaml:"remote" json:"remote"`
	Headful          bool     `yaml:"headful" json:"headful"`
	XvfbDisplay      string   `yaml:"xvfb_display" json:"xvfb_display"`
	NoXvfb           bool     `yaml:"no_xvfb" json:"no_xvfb"`
	Stealth          bool     `yaml:"stealth" json:"stealth"`
	ResourceBlocking []string `yaml:"resource_blocking" json:"resource_blocking"`
	NavigateTimeout  Duration `yaml:"navigate_timeout" json:"navigate_timeout"`
	RecycleInterval  Duration `yaml:"recycle_interval" json:"recycle_interval"`
}

// StabilizeConfig controls page stabilization. Zero bounds mean unbounded.
type StabilizeConfig struct {
	Interval    Duration `yaml:"interval" json:"interval"`
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts"`
	Timeout     Duration `yaml:"timeout" json:"timeout"`
}

// SweepConfig controls the polling loop.
type SweepConfig struct {
	// Interval is the pause between sweeps. 0 starts the next sweep at once.
	Interval Duration `yaml:"interval" json:"interval"`
}

func (c *Config) applyDefaults() {
	if c.Subject == "" {
		c.Subject = "Stock Alert"
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"images"}
	}
	if c.Browser.XvfbDisplay == "" && !c.Browser.NoXvfb {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = Duration(30 * time.Second)
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = Duration(4 * time.Hour)
	}
	if c.Stabilize.Interval <= 0 {
		c.Stabilize.Interval = Duration(2 * time.Second)
	}
}

// Validate reports configuration errors that make a run pointless.
func (c *Config) Validate() error {
	if len(c.Links) == 0 {
		return ErrNoLinks
	}
	for _, l := range c.Links {
		if err := checkURL(l); err != nil {
			return fmt.Errorf("links: %w", err)
		}
	}
	for _, w := range c.Webhooks {
		if err := checkURL(w); err != nil {
			return fmt.Errorf("webhooks: %w", err)
		}
	}
	return nil
}

// checkURL accepts absolute http and https URLs with a host.
func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidURL, raw)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: %q: no host", ErrInvalidURL, raw)
	}
	return nil
}

// EmailEnabled reports whether an SMTP account is configured.
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != ""
}

// Policies builds the domain policy set. Malformed entries are skipped and
// logged.
func (c *Config) Policies(logger *slog.Logger) (policy.Set, []error) {
	return policy.Build(c.Domains, logger)
}
