package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/stockwatch/dbopen"
	"github.com/hazyhaar/stockwatch/match"
	"github.com/hazyhaar/stockwatch/notify"
	"github.com/hazyhaar/stockwatch/policy"
	"github.com/hazyhaar/stockwatch/stabilize"
	"github.com/hazyhaar/stockwatch/store"
)

// fakeMonitor returns canned settled pages keyed by URL.
type fakeMonitor struct {
	pages    map[string]string
	timedOut map[string]bool
	fail     map[string]error
	calls    []string
}

func (f *fakeMonitor) Stabilize(_ context.Context, url string) (stabilize.Result, error) {
	f.calls = append(f.calls, url)
	if err := f.fail[url]; err != nil {
		return stabilize.Result{}, err
	}
	markup := f.pages[url]
	state := stabilize.Stable
	if f.timedOut[url] {
		state = stabilize.TimedOut
	}
	return stabilize.Result{
		URL:      url,
		State:    state,
		Markup:   markup,
		Hash:     stabilize.Fingerprint(markup),
		Attempts: 1,
	}, nil
}

type fakeBoundary struct {
	ends int
	err  error
}

func (b *fakeBoundary) EndSweep(context.Context) error {
	b.ends++
	return b.err
}

type alertLog struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (a *alertLog) notifier() notify.Notifier {
	return notify.Func(func(_ context.Context, al notify.Alert) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.alerts = append(a.alerts, al)
		return nil
	})
}

func shopPolicies(t *testing.T) *match.Evaluator {
	t.Helper()
	set, errs := policy.Build(map[string]policy.Record{
		"shop.example.com": {policy.FieldClass: "stock", policy.FieldID: nil, policy.FieldValue: nil},
	}, nil)
	if len(errs) != 0 {
		t.Fatalf("Build: %v", errs)
	}
	return match.New(set, nil)
}

func sequence(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

const (
	inStock  = "https://shop.example.com/item/1"
	outStock = "https://shop.example.com/item/2"
)

func newFixture(t *testing.T) (*fakeMonitor, *fakeBoundary, *alertLog, Config) {
	t.Helper()
	mon := &fakeMonitor{pages: map[string]string{
		inStock:  `<div class="stock">In Stock</div>`,
		outStock: `<div class="oos">Sold out</div>`,
	}}
	b := &fakeBoundary{}
	al := &alertLog{}
	cfg := Config{
		Links:      []string{inStock, outStock},
		Monitor:    mon,
		Evaluator:  shopPolicies(t),
		Boundary:   b,
		Notifier:   al.notifier(),
		NewSweepID: sequence("swp_"),
		NewCheckID: sequence("chk_"),
	}
	return mon, b, al, cfg
}

func TestSweep_NotifiesFoundLinks(t *testing.T) {
	mon, b, al, cfg := newFixture(t)
	r := NewRunner(cfg)

	sum, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sum.InStock != 1 {
		t.Errorf("InStock: got %d, want 1", sum.InStock)
	}
	if len(sum.Results) != 2 {
		t.Fatalf("Results: got %d, want 2", len(sum.Results))
	}
	if strings.Join(mon.calls, ",") != inStock+","+outStock {
		t.Errorf("check order: got %v", mon.calls)
	}
	if b.ends != 1 {
		t.Errorf("EndSweep calls: got %d, want 1", b.ends)
	}

	if len(al.alerts) != 1 {
		t.Fatalf("alerts: got %d, want 1", len(al.alerts))
	}
	a := al.alerts[0]
	if a.Subject != "Stock Alert" {
		t.Errorf("Subject: got %q, want %q", a.Subject, "Stock Alert")
	}
	if a.Body != inStock || a.URL != inStock {
		t.Errorf("Body/URL: got %q / %q, want %q", a.Body, a.URL, inStock)
	}
	if a.Host != "shop.example.com" {
		t.Errorf("Host: got %q", a.Host)
	}
	if a.CheckID != sum.Results[0].ID {
		t.Errorf("CheckID: got %q, want %q", a.CheckID, sum.Results[0].ID)
	}
}

func TestSweep_CustomSubject(t *testing.T) {
	_, _, al, cfg := newFixture(t)
	cfg.Subject = "Back in stock"
	if _, err := NewRunner(cfg).Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(al.alerts) != 1 || al.alerts[0].Subject != "Back in stock" {
		t.Errorf("alerts: got %+v", al.alerts)
	}
}

func TestCheck_TimedOutIsNotFound(t *testing.T) {
	mon, _, _, cfg := newFixture(t)
	mon.timedOut = map[string]bool{inStock: true}

	res, err := NewRunner(cfg).Check(context.Background(), inStock)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Found {
		t.Error("timed-out page: got Found=true, want false")
	}
	if res.State != stabilize.TimedOut {
		t.Errorf("State: got %v, want timed_out", res.State)
	}
}

func TestSweep_SessionErrorAborts(t *testing.T) {
	mon, b, al, cfg := newFixture(t)
	boom := errors.New("chrome crashed")
	mon.fail = map[string]error{inStock: boom}

	sum, err := NewRunner(cfg).Sweep(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Sweep error: got %v, want %v", err, boom)
	}
	if len(mon.calls) != 1 {
		t.Errorf("checks after failure: got %d calls, want 1", len(mon.calls))
	}
	if len(sum.Results) != 0 {
		t.Errorf("Results: got %d, want 0", len(sum.Results))
	}
	if b.ends != 0 {
		t.Errorf("EndSweep after abort: got %d calls, want 0", b.ends)
	}
	if len(al.alerts) != 0 {
		t.Errorf("alerts: got %d, want 0", len(al.alerts))
	}
}

func TestSweep_EndSweepError(t *testing.T) {
	_, b, _, cfg := newFixture(t)
	b.err = errors.New("clear cookies failed")

	if _, err := NewRunner(cfg).Sweep(context.Background()); !errors.Is(err, b.err) {
		t.Errorf("got %v, want %v", err, b.err)
	}
}

func TestSweep_NotifierFailureIsBestEffort(t *testing.T) {
	_, b, _, cfg := newFixture(t)
	cfg.Notifier = notify.Func(func(context.Context, notify.Alert) error {
		return errors.New("smtp down")
	})

	sum, err := NewRunner(cfg).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sum.InStock != 1 || b.ends != 1 {
		t.Errorf("sweep incomplete: in_stock=%d ends=%d", sum.InStock, b.ends)
	}
}

func TestSweep_RecordsHistory(t *testing.T) {
	_, _, _, cfg := newFixture(t)
	st := store.New(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	cfg.History = st
	ctx := context.Background()

	sum, err := NewRunner(cfg).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	sw, err := st.GetSweep(ctx, sum.ID)
	if err != nil {
		t.Fatalf("GetSweep: %v", err)
	}
	if sw == nil {
		t.Fatal("GetSweep: got nil")
	}
	if sw.Links != 2 || sw.InStock != 1 || sw.FinishedAt == 0 {
		t.Errorf("sweep row: got %+v", sw)
	}

	latest, err := st.LatestByURL(ctx)
	if err != nil {
		t.Fatalf("LatestByURL: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("latest: got %d rows, want 2", len(latest))
	}
	byURL := map[string]store.Check{}
	for _, c := range latest {
		byURL[c.URL] = c
	}
	if !byURL[inStock].Found || byURL[outStock].Found {
		t.Errorf("found flags: got %+v", byURL)
	}
	if byURL[inStock].State != "stable" {
		t.Errorf("State: got %q, want stable", byURL[inStock].State)
	}
	if byURL[inStock].SweepID != sum.ID {
		t.Errorf("SweepID: got %q, want %q", byURL[inStock].SweepID, sum.ID)
	}
}

func TestRun_Once(t *testing.T) {
	mon, b, _, cfg := newFixture(t)
	cfg.Once = true

	if err := NewRunner(cfg).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(mon.calls) != 2 || b.ends != 1 {
		t.Errorf("once: got %d checks, %d sweeps", len(mon.calls), b.ends)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	_, _, _, cfg := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	sweeps := 0
	cfg.Boundary = boundaryFunc(func(context.Context) error {
		sweeps++
		if sweeps == 3 {
			cancel()
		}
		return nil
	})
	cfg.Interval = time.Millisecond

	if err := NewRunner(cfg).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeps != 3 {
		t.Errorf("sweeps: got %d, want 3", sweeps)
	}
}

func TestRun_ReturnsSessionError(t *testing.T) {
	mon, _, _, cfg := newFixture(t)
	boom := errors.New("navigate failed")
	mon.fail = map[string]error{outStock: boom}

	if err := NewRunner(cfg).Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run: got %v, want %v", err, boom)
	}
}

type boundaryFunc func(context.Context) error

func (f boundaryFunc) EndSweep(ctx context.Context) error { return f(ctx) }
