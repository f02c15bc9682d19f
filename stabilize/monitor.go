// Package stabilize waits for a client-side rendered page to settle before
// its markup is inspected.
//
// The monitor navigates a Session to a URL, then samples the root element's
// inner markup at a fixed interval until two consecutive samples carry the
// same fingerprint. With no bound configured it polls forever on a page that
// never settles; MaxAttempts and Timeout turn that into a TimedOut result.
package stabilize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval is the pause between the two reads of a comparison pair.
const DefaultInterval = 2 * time.Second

// unrenderedMarker seeds the baseline so a first read never compares equal.
const unrenderedMarker = "\x00stockwatch:unrendered\x00"

// Session is the part of a render session the monitor drives. It is not
// safe for concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	RootHTML(ctx context.Context) (string, error)
}

// State is a stage of one stabilization run.
type State int

const (
	Rendering State = iota // navigating
	Comparing              // sampling pairs
	Stable                 // two consecutive samples matched
	TimedOut               // bound reached before the page settled
)

func (s State) String() string {
	switch s {
	case Rendering:
		return "rendering"
	case Comparing:
		return "comparing"
	case Stable:
		return "stable"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the terminal outcome of Stabilize.
type Result struct {
	URL      string
	State    State  // Stable or TimedOut
	Markup   string // last markup read
	Hash     string // fingerprint of Markup
	Attempts int    // comparison pairs evaluated
	Elapsed  time.Duration
}

// Stable reports whether the page settled.
func (r Result) Stable() bool { return r.State == Stable }

// Config configures a Monitor.
type Config struct {
	Session Session

	// Interval between the two reads of a pair. Default: 2s.
	Interval time.Duration

	// MaxAttempts bounds the number of comparison pairs. 0 = unbounded.
	MaxAttempts int

	// Timeout bounds the whole run, navigation included. Session calls get a
	// context carrying the deadline. 0 = unbounded.
	Timeout time.Duration

	Logger *slog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// Monitor owns the render session for the duration of a check.
type Monitor struct {
	cfg Config
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	cfg.defaults()
	return &Monitor{cfg: cfg}
}

// Stabilize navigates to url and returns once the page has settled or a
// configured bound is reached. Errors are session failures or context
// cancellation; a timed-out page is reported through Result.State.
func (m *Monitor) Stabilize(ctx context.Context, url string) (Result, error) {
	log := m.cfg.Logger
	start := m.cfg.now()
	res := Result{URL: url, State: Rendering}

	var deadline time.Time
	runCtx := ctx
	if m.cfg.Timeout > 0 {
		deadline = start.Add(m.cfg.Timeout)
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	// fail turns an error caused by the run's own deadline into TimedOut.
	fail := func(err error) (Result, error) {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return m.timedOut(res, start, "timeout"), nil
		}
		return res, err
	}

	if err := m.cfg.Session.Navigate(runCtx, url); err != nil {
		return fail(fmt.Errorf("stabilize: navigate %s: %w", url, err))
	}

	res.State = Comparing
	baseline := Fingerprint(unrenderedMarker)

	for {
		if baseline == Fingerprint(unrenderedMarker) {
			first, err := m.read(runCtx)
			if err != nil {
				return fail(err)
			}
			res.Markup, baseline = first, Fingerprint(first)
		}

		if err := m.cfg.sleep(runCtx, m.cfg.Interval); err != nil {
			return fail(err)
		}

		next, err := m.read(runCtx)
		if err != nil {
			return fail(err)
		}
		nextHash := Fingerprint(next)
		res.Attempts++
		res.Markup, res.Hash = next, nextHash

		if nextHash == baseline {
			res.State = Stable
			res.Elapsed = m.cfg.now().Sub(start)
			log.Debug("monitor: page stable", "url", url, "attempts", res.Attempts, "elapsed", res.Elapsed)
			return res, nil
		}

		log.Debug("monitor: page still changing", "url", url, "attempts", res.Attempts)
		baseline = nextHash

		if m.cfg.MaxAttempts > 0 && res.Attempts >= m.cfg.MaxAttempts {
			return m.timedOut(res, start, "max attempts"), nil
		}
		if !deadline.IsZero() && !m.cfg.now().Before(deadline) {
			return m.timedOut(res, start, "timeout"), nil
		}
	}
}

func (m *Monitor) timedOut(res Result, start time.Time, reason string) Result {
	res.State = TimedOut
	res.Elapsed = m.cfg.now().Sub(start)
	m.cfg.Logger.Warn("monitor: page did not stabilize",
		"url", res.URL, "reason", reason, "attempts", res.Attempts, "elapsed", res.Elapsed)
	return res
}

func (m *Monitor) read(ctx context.Context) (string, error) {
	markup, err := m.cfg.Session.RootHTML(ctx)
	if err != nil {
		return "", fmt.Errorf("stabilize: read root html: %w", err)
	}
	return markup, nil
}

// Fingerprint returns the SHA-256 hex digest of markup's UTF-8 bytes.
func Fingerprint(markup string) string {
	h := sha256.Sum256([]byte(markup))
	return hex.EncodeToString(h[:])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
