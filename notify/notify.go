// Package notify delivers in-stock alerts. Delivery is best-effort: a
// failing notifier is logged by the caller and never stops a sweep.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Alert is raised when a page's content marker is found.
type Alert struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	Host      string    `json:"host"`
	CheckID   string    `json:"check_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier is an alert backend (email, webhook, stdout, in-process func).
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
	Close() error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, alert Alert) error

func (f Func) Notify(ctx context.Context, alert Alert) error { return f(ctx, alert) }

func (f Func) Close() error { return nil }

// Router fans out alerts to all configured notifiers. One notifier error
// does not block the others: errors are logged and the first encountered
// is returned.
type Router struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewRouter creates a fan-out router delivering to all notifiers.
func NewRouter(logger *slog.Logger, notifiers ...Notifier) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{notifiers: notifiers, logger: logger}
}

// Len returns the number of notifiers.
func (r *Router) Len() int { return len(r.notifiers) }

func (r *Router) Notify(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			r.logger.Warn("notify: send alert failed", "url", alert.URL, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, n := range r.notifiers {
		if err := n.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
