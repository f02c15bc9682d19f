// Package browser provides the long-lived Chrome render session shared by
// every check of a sweep: one browser, one reused tab, cookies cleared at the
// sweep boundary and the process recycled when it grows old.
//
// A Manager is not safe for concurrent use.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("browser: manager is closed")

// ErrNotStarted is returned when the session is used before Start.
var ErrNotStarted = errors.New("browser: manager not started")

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headful runs a visible Chrome on an Xvfb display.
	Headful bool

	// XvfbDisplay for headful mode. Default: ":99". Empty XvfbDisplay with
	// NoXvfb uses the caller's DISPLAY.
	XvfbDisplay string
	NoXvfb      bool

	// Stealth opens the tab through go-rod/stealth.
	Stealth bool

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// NavigateTimeout bounds navigation and load. Default: 30s.
	NavigateTimeout time.Duration

	// RecycleInterval is the maximum lifetime of a Chrome process, checked
	// at sweep boundaries. Default: 4h.
	RecycleInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" && !c.NoXvfb {
		c.XvfbDisplay = ":99"
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns Chrome and the single tab used for rendering.
type Manager struct {
	cfg     Config
	browser *rod.Browser
	remote  *rod.Browser // connection to a RemoteURL Chrome, kept across recycles
	page    *rod.Page
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool

	now func() time.Time
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, now: time.Now}
}

// Start launches Chrome (or connects to a remote instance) and opens the
// render tab.
func (m *Manager) Start(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	if err := m.launch(ctx); err != nil {
		m.cleanup()
		return err
	}
	return nil
}

// Navigate loads url in the render tab and waits for the load event.
func (m *Manager) Navigate(ctx context.Context, url string) error {
	page, err := m.activePage()
	if err != nil {
		return err
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		// Slow pages are still sampled; the monitor decides when they settle.
		m.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

// RootHTML returns the inner markup of the document's root element.
func (m *Manager) RootHTML(ctx context.Context) (string, error) {
	page, err := m.activePage()
	if err != nil {
		return "", err
	}
	res, err := page.Context(ctx).Eval(`() => document.documentElement.innerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// ClearCookies wipes the browser cookie jar.
func (m *Manager) ClearCookies(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	if m.browser == nil {
		return ErrNotStarted
	}
	if err := m.browser.Context(ctx).SetCookies(nil); err != nil {
		return fmt.Errorf("browser: clear cookies: %w", err)
	}
	return nil
}

// EndSweep marks the end of a pass over all links: cookies are cleared and
// Chrome is recycled once it has outlived RecycleInterval.
func (m *Manager) EndSweep(ctx context.Context) error {
	if err := m.ClearCookies(ctx); err != nil {
		return err
	}
	if m.now().Sub(m.startAt) > m.cfg.RecycleInterval {
		return m.Recycle(ctx)
	}
	return nil
}

// Recycle kills Chrome and starts a fresh process with a new tab.
func (m *Manager) Recycle(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", m.now().Sub(m.startAt))

	m.cleanup()
	if err := m.launch(ctx); err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	log.Info("browser: recycled successfully")
	return nil
}

// Close shuts down the tab, Chrome and Xvfb.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) activePage() (*rod.Page, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if m.page == nil {
		return nil, ErrNotStarted
	}
	return m.page, nil
}

func (m *Manager) launch(ctx context.Context) error {
	log := m.cfg.Logger

	if m.cfg.Headful && !m.cfg.NoXvfb && m.cfg.RemoteURL == "" {
		if err := m.startXvfb(ctx); err != nil {
			return fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	var b *rod.Browser
	if m.cfg.RemoteURL != "" {
		if m.remote == nil {
			log.Info("browser: connecting to remote", "url", m.cfg.RemoteURL)
			r := rod.New().ControlURL(m.cfg.RemoteURL)
			if err := r.Connect(); err != nil {
				return fmt.Errorf("browser: connect: %w", err)
			}
			m.remote = r
		}
		// A remote Chrome is not ours to close: work in a disposable context.
		inc, err := m.remote.Incognito()
		if err != nil {
			return fmt.Errorf("browser: incognito context: %w", err)
		}
		b = inc
	} else {
		l := launcher.New().Headless(!m.cfg.Headful)
		if m.cfg.Headful && m.cfg.XvfbDisplay != "" {
			l = l.Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Context(ctx).Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		m.lnch = l
		log.Info("browser: launched local chrome", "url", u, "headful", m.cfg.Headful)

		b = rod.New().ControlURL(u)
		if err := b.Connect(); err != nil {
			return fmt.Errorf("browser: connect: %w", err)
		}
	}
	m.browser = b

	page, err := m.openPage(b)
	if err != nil {
		return err
	}
	m.page = page
	m.startAt = m.now()
	return nil
}

func (m *Manager) openPage(b *rod.Browser) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		applyResourceBlocking(page, m.cfg.ResourceBlocking)
	}
	return page, nil
}

func (m *Manager) cleanup() {
	if m.page != nil {
		m.page.Close()
		m.page = nil
	}
	if m.browser != nil {
		// For a remote Chrome this disposes only the incognito context.
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}
