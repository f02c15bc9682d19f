// Package sweep drives the check loop: every configured link is stabilized,
// evaluated and, when the content marker is present, alerted on.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/stockwatch/idgen"
	"github.com/hazyhaar/stockwatch/notify"
	"github.com/hazyhaar/stockwatch/policy"
	"github.com/hazyhaar/stockwatch/stabilize"
	"github.com/hazyhaar/stockwatch/store"
)

// Stabilizer renders a page until it settles.
type Stabilizer interface {
	Stabilize(ctx context.Context, url string) (stabilize.Result, error)
}

// Evaluator decides whether settled markup carries the content marker.
type Evaluator interface {
	Evaluate(markup, pageURL string) bool
}

// Boundary is notified once every link of a sweep has been checked.
type Boundary interface {
	EndSweep(ctx context.Context) error
}

// History persists sweeps and checks. *store.Store satisfies it.
type History interface {
	StartSweep(ctx context.Context, id string, links int) error
	FinishSweep(ctx context.Context, id string, inStock int) error
	RecordCheck(ctx context.Context, c *store.Check) error
}

// Result is the verdict for one link.
type Result struct {
	ID       string
	URL      string
	Host     string
	State    stabilize.State
	Found    bool
	Attempts int
	Hash     string
	Duration time.Duration
}

// Summary describes one completed sweep.
type Summary struct {
	ID      string
	Results []Result
	InStock int
}

// Config holds the Runner's dependencies.
type Config struct {
	Links []string

	Monitor   Stabilizer
	Evaluator Evaluator
	Boundary  Boundary

	// Notifier receives an alert per found link (optional).
	Notifier notify.Notifier
	// History records sweeps and checks (optional).
	History History

	// Subject of alerts. Default: "Stock Alert".
	Subject string

	// Interval is the pause between sweeps. 0 runs them back to back.
	Interval time.Duration
	// Once stops Run after a single sweep.
	Once bool

	Logger     *slog.Logger
	NewSweepID idgen.Generator
	NewCheckID idgen.Generator
}

// Runner executes sweeps.
type Runner struct {
	cfg Config
	now func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Subject == "" {
		cfg.Subject = "Stock Alert"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewSweepID == nil {
		cfg.NewSweepID = idgen.Sweep
	}
	if cfg.NewCheckID == nil {
		cfg.NewCheckID = idgen.Check
	}
	return &Runner{cfg: cfg, now: time.Now}
}

// Check stabilizes and evaluates a single link. Errors are session failures.
func (r *Runner) Check(ctx context.Context, url string) (Result, error) {
	start := r.now()
	res := Result{ID: r.cfg.NewCheckID(), URL: url, Host: policy.HostOf(url)}

	page, err := r.cfg.Monitor.Stabilize(ctx, url)
	if err != nil {
		return res, fmt.Errorf("sweep: check %s: %w", url, err)
	}
	res.State = page.State
	res.Attempts = page.Attempts
	res.Hash = page.Hash

	if page.Stable() {
		res.Found = r.cfg.Evaluator.Evaluate(page.Markup, url)
	} else {
		r.cfg.Logger.Warn("sweep: page did not settle", "url", url, "attempts", page.Attempts)
	}
	res.Duration = r.now().Sub(start)
	return res, nil
}

// Sweep checks every link in order. A session failure aborts the sweep and
// is returned together with the partial summary.
func (r *Runner) Sweep(ctx context.Context) (Summary, error) {
	log := r.cfg.Logger
	sum := Summary{ID: r.cfg.NewSweepID()}
	log = log.With("sweep_id", sum.ID)

	if h := r.cfg.History; h != nil {
		if err := h.StartSweep(ctx, sum.ID, len(r.cfg.Links)); err != nil {
			log.Warn("sweep: history start failed", "error", err)
		}
	}
	log.Info("sweep: started", "links", len(r.cfg.Links))

	for _, link := range r.cfg.Links {
		res, err := r.Check(ctx, link)
		if err != nil {
			return sum, err
		}
		sum.Results = append(sum.Results, res)

		if res.Found {
			sum.InStock++
			log.Info("sweep: in stock", "url", link, "host", res.Host)
			r.alert(ctx, log, res)
		} else {
			log.Debug("sweep: not found", "url", link, "state", res.State.String())
		}
		r.record(ctx, log, sum.ID, res)
	}

	if r.cfg.Boundary != nil {
		if err := r.cfg.Boundary.EndSweep(ctx); err != nil {
			return sum, fmt.Errorf("sweep: end sweep: %w", err)
		}
	}

	if h := r.cfg.History; h != nil {
		if err := h.FinishSweep(ctx, sum.ID, sum.InStock); err != nil {
			log.Warn("sweep: history finish failed", "error", err)
		}
	}
	log.Info("sweep: finished", "in_stock", sum.InStock, "links", len(sum.Results))
	return sum, nil
}

// Run repeats sweeps until ctx is cancelled, or once in Once mode.
// Cancellation is a clean stop and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := r.Sweep(ctx); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		}
		if r.cfg.Once {
			return nil
		}
		if r.cfg.Interval > 0 {
			t := time.NewTimer(r.cfg.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	}
}

func (r *Runner) alert(ctx context.Context, log *slog.Logger, res Result) {
	if r.cfg.Notifier == nil {
		return
	}
	err := r.cfg.Notifier.Notify(ctx, notify.Alert{
		Subject:   r.cfg.Subject,
		Body:      res.URL,
		URL:       res.URL,
		Host:      res.Host,
		CheckID:   res.ID,
		Timestamp: r.now().UTC(),
	})
	if err != nil {
		log.Warn("sweep: notify failed", "url", res.URL, "error", err)
	}
}

func (r *Runner) record(ctx context.Context, log *slog.Logger, sweepID string, res Result) {
	if r.cfg.History == nil {
		return
	}
	err := r.cfg.History.RecordCheck(ctx, &store.Check{
		ID:         res.ID,
		SweepID:    sweepID,
		URL:        res.URL,
		Host:       res.Host,
		State:      res.State.String(),
		Found:      res.Found,
		Attempts:   res.Attempts,
		HTMLHash:   res.Hash,
		DurationMs: res.Duration.Milliseconds(),
	})
	if err != nil {
		log.Warn("sweep: history record failed", "url", res.URL, "error", err)
	}
}
