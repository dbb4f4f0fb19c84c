package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-optimistic-kit/audit"
	"github.com/c0deZ3R0/go-optimistic-kit/conflict"
	"github.com/c0deZ3R0/go-optimistic-kit/internal/journalapi"
	"github.com/c0deZ3R0/go-optimistic-kit/metrics"
	"github.com/c0deZ3R0/go-optimistic-kit/notify"
	"github.com/c0deZ3R0/go-optimistic-kit/optimistic"
	"github.com/c0deZ3R0/go-optimistic-kit/resource"
	"github.com/c0deZ3R0/go-optimistic-kit/transport/httpremote"
	"github.com/c0deZ3R0/go-optimistic-kit/transport/sse"
)

const eventDemoDone = "demo.done"

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Only []string
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name          string                `json:"name"`
	Title         string                `json:"title"`
	OK            bool                  `json:"ok"`
	Problems      []string              `json:"problems,omitempty"`
	Changes       []resource.Change     `json:"changes"`
	Notifications []notify.Notification `json:"notifications"`
	Entry         *journalapi.Entry     `json:"entry,omitempty"`
}

// DemoReport is everything the demo printed.
type DemoReport struct {
	Scenarios   []ScenarioResult   `json:"scenarios"`
	Resolutions []audit.Record     `json:"resolutions"`
	Events      []sse.Event        `json:"events"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through the mutation lifecycle against an in-process API",
		Long: `Start the journal API on a loopback port and drive mutations against it
over HTTP:

  A  create an entry and watch it confirm
  B  update an entry someone else just edited, then reject the conflict
  C  delete while the network fails once, then retry
  D  keep retrying a delete against a dead server until the budget runs out

Engine defaults, the audit driver and metrics come from the configuration.

Example:
  optimistic-demo demo
  optimistic-demo demo --only B --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runDemo(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := printReport(cmd.OutOrStdout(), opts.Format, report); err != nil {
				return err
			}
			for _, s := range report.Scenarios {
				if !s.OK {
					return NewExitError(ExitFailure, fmt.Sprintf("scenario %s ended in an unexpected state", s.Name))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.Only, "only", nil, "run only these scenarios (A, B, C, D)")

	return cmd
}

type scenario struct {
	name  string
	title string
	run   func(ctx context.Context, d *demo, res *ScenarioResult) error
}

var scenarios = []scenario{
	{"A", "create is projected then confirmed", scenarioCreate},
	{"B", "concurrent edit is detected and rejected", scenarioConflict},
	{"C", "failed delete succeeds on retry", scenarioRetry},
	{"D", "retries stop at the budget", scenarioBudget},
}

// demo is the running environment shared by the scenarios.
type demo struct {
	store   *journalapi.Store
	ctrl    *resource.Controller[journalapi.Entry]
	queue   *notify.Queue
	journal audit.Journal
	logger  *slog.Logger
}

func runDemo(ctx context.Context, opts *DemoOptions) (*DemoReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config
	logger := opts.Logger.WithComponent("demo")

	selected, err := selectScenarios(opts.Only)
	if err != nil {
		return nil, err
	}

	var journal audit.Journal
	err = logger.LogOperation(ctx, "open-journal", "demo", func() error {
		var openErr error
		journal, openErr = openJournal(cfg.Audit, logger.Logger)
		return openErr
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open audit journal", err)
	}
	defer journal.Close()

	hub := sse.NewHub(sse.WithLogger(logger.Logger), sse.WithBuffer(1024))
	defer hub.Close()
	store := journalapi.NewStore(journalapi.WithPublisher(hub))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler: journalapi.NewServer(store,
			journalapi.WithEvents(hub.Handler()),
			journalapi.WithLogger(logger.Logger),
		).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()
	baseURL := "http://" + ln.Addr().String()

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	events, done := watchEvents(streamCtx, baseURL+"/events")
	if err := waitFor(ctx, func() bool { return hub.Subscribers() > 0 }); err != nil {
		return nil, fmt.Errorf("change stream did not connect: %w", err)
	}

	var (
		reg       *prometheus.Registry
		collector *metrics.Collector
	)
	detectorOpts := []conflict.Option{conflict.WithJournal(journal), conflict.WithLogger(logger.Logger)}
	ctrlOpts := []resource.Option{resource.WithLogger(logger.Logger)}
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		collector = metrics.New(cfg.Metrics.Namespace, reg)
		detectorOpts = append(detectorOpts, conflict.WithMetrics(collector))
		ctrlOpts = append(ctrlOpts, resource.WithMetrics(collector), resource.WithBusySink(collector))
	}

	queue := notify.NewQueue(256)
	ctrlOpts = append(ctrlOpts,
		resource.WithDetector(conflict.NewDetector(detectorOpts...)),
		resource.WithNotifier(notify.Multi(queue, hub)),
	)
	engineCfg := cfg.Engine
	ctrl, err := resource.New(resource.Config[journalapi.Entry]{
		Name:     journalapi.Collection,
		Remote:   httpremote.NewClient[journalapi.Entry](baseURL, journalapi.Collection, httpremote.WithClientLogger(logger.Logger)),
		AssignID: journalapi.WithID,
		Engine:   &engineCfg,
	}, ctrlOpts...)
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	d := &demo{store: store, ctrl: ctrl, queue: queue, journal: journal, logger: logger.Logger}
	report := &DemoReport{}
	for _, sc := range selected {
		res := d.run(ctx, sc)
		report.Scenarios = append(report.Scenarios, res)
	}

	if report.Resolutions, err = journal.List(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to read resolutions: %w", err)
	}

	if err := hub.Publish(eventDemoDone, nil); err != nil {
		return nil, err
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logger.Warn("change stream did not catch up")
	}
	stopStream()
	report.Events = events()

	if reg != nil {
		report.Metrics, err = gatherTotals(reg)
		if err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (d *demo) run(ctx context.Context, sc scenario) ScenarioResult {
	res := ScenarioResult{Name: sc.name, Title: sc.title}
	seen := make(map[string]bool)
	for _, ch := range d.ctrl.Changes() {
		seen[ch.UpdateID] = true
	}

	if err := sc.run(ctx, d, &res); err != nil {
		res.Problems = append(res.Problems, err.Error())
	}

	for _, ch := range d.ctrl.Changes() {
		if !seen[ch.UpdateID] {
			res.Changes = append(res.Changes, ch)
		}
	}
	res.Notifications = d.queue.Drain()
	res.OK = len(res.Problems) == 0
	d.logger.Debug("scenario finished", "scenario", sc.name, "ok", res.OK)
	return res
}

func (r *ScenarioResult) expect(cond bool, format string, args ...any) {
	if !cond {
		r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
	}
}

func scenarioCreate(ctx context.Context, d *demo, res *ScenarioResult) error {
	created, err := d.ctrl.Create(ctx, journalapi.Entry{Title: "Morning pages", Mood: "good"})
	if err != nil {
		return err
	}
	res.Entry = &created
	res.expect(created.Version == 1, "version is %d, want 1", created.Version)
	res.expect(!strings.HasPrefix(created.ID, "tmp-"), "entry kept its temporary id %s", created.ID)
	_, cached := d.ctrl.Cache().Get(created.ID)
	res.expect(cached, "entry %s missing from the cache", created.ID)
	return nil
}

func scenarioConflict(ctx context.Context, d *demo, res *ScenarioResult) error {
	created, err := d.ctrl.Create(ctx, journalapi.Entry{Title: "Evening review"})
	if err != nil {
		return err
	}
	if _, err := d.store.SimulateConcurrentEdit(created.ID, "body", "written in another tab"); err != nil {
		return err
	}

	mine, _ := d.ctrl.Cache().Get(created.ID)
	mine.Title = "Evening review, revised"
	if _, err := d.ctrl.Update(ctx, mine); err != nil {
		return err
	}

	ch, ok := pendingFor(d.ctrl, optimistic.KindUpdate, created.ID)
	if !ok {
		return errors.New("update was not held for a conflict")
	}
	res.expect(ch.Status == optimistic.StatusConflicted, "update status is %s, want conflicted", ch.Status)
	if err := d.ctrl.ResolveConflict(ctx, ch.UpdateID, conflict.Resolution{Action: conflict.ActionReject}); err != nil {
		return err
	}

	settled, _ := d.ctrl.Cache().Get(created.ID)
	res.Entry = &settled
	res.expect(settled.Version == created.Version+2, "cached version is %d, want the server's %d", settled.Version, created.Version+2)
	_, stillPending := pendingFor(d.ctrl, optimistic.KindUpdate, created.ID)
	res.expect(!stillPending, "update still pending after reject")
	return nil
}

func scenarioRetry(ctx context.Context, d *demo, res *ScenarioResult) error {
	created, err := d.ctrl.Create(ctx, journalapi.Entry{Title: "Scratch"})
	if err != nil {
		return err
	}

	d.store.FailNext(1, nil)
	res.expect(d.ctrl.Delete(ctx, created.ID) != nil, "delete succeeded against a failing server")

	ch, ok := pendingFor(d.ctrl, optimistic.KindDelete, created.ID)
	if !ok {
		return errors.New("failed delete is not pending")
	}
	res.expect(ch.Status == optimistic.StatusFailed, "delete status is %s, want failed", ch.Status)
	res.expect(ch.RetryCount == 0, "retry count is %d, want 0", ch.RetryCount)

	if err := d.ctrl.Retry(ctx, ch.UpdateID); err != nil {
		return err
	}
	_, stillPending := pendingFor(d.ctrl, optimistic.KindDelete, created.ID)
	res.expect(!stillPending, "delete still pending after retry")
	_, cached := d.ctrl.Cache().Get(created.ID)
	res.expect(!cached, "deleted entry is still cached")
	return nil
}

func scenarioBudget(ctx context.Context, d *demo, res *ScenarioResult) error {
	created, err := d.ctrl.Create(ctx, journalapi.Entry{Title: "Sticky"})
	if err != nil {
		return err
	}

	d.store.FailNext(-1, nil)
	defer d.store.FailNext(0, nil)
	res.expect(d.ctrl.Delete(ctx, created.ID) != nil, "delete succeeded against a dead server")

	ch, ok := pendingFor(d.ctrl, optimistic.KindDelete, created.ID)
	if !ok {
		return errors.New("failed delete is not pending")
	}
	for i := 0; i <= ch.MaxRetries; i++ {
		_ = d.ctrl.Retry(ctx, ch.UpdateID)
	}

	after, ok := pendingFor(d.ctrl, optimistic.KindDelete, created.ID)
	if !ok {
		return errors.New("exhausted delete is no longer tracked")
	}
	res.expect(after.Status == optimistic.StatusFailed, "delete status is %s, want failed", after.Status)
	res.expect(after.RetryCount == after.MaxRetries, "retry count is %d, want %d", after.RetryCount, after.MaxRetries)

	// give the entry back to the user
	res.expect(d.ctrl.Rollback(after.UpdateID), "rollback of the exhausted delete failed")
	restored, ok := d.ctrl.Cache().Get(created.ID)
	res.expect(ok, "entry was not restored")
	if ok {
		res.Entry = &restored
	}
	return nil
}

func pendingFor(ctrl *resource.Controller[journalapi.Entry], kind optimistic.Kind, resourceID string) (resource.Change, bool) {
	for _, ch := range ctrl.Pending() {
		if ch.Kind == kind && ch.ResourceID == resourceID {
			return ch, true
		}
	}
	return resource.Change{}, false
}

func selectScenarios(only []string) ([]scenario, error) {
	if len(only) == 0 {
		return scenarios, nil
	}
	var out []scenario
	for _, name := range only {
		found := false
		for _, sc := range scenarios {
			if strings.EqualFold(sc.name, name) {
				out = append(out, sc)
				found = true
				break
			}
		}
		if !found {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown scenario %q", name))
		}
	}
	return out, nil
}

// watchEvents collects the change stream until ctx is done. done closes when
// the demo.done marker arrives.
func watchEvents(ctx context.Context, url string) (events func() []sse.Event, done <-chan struct{}) {
	var (
		mu  sync.Mutex
		got []sse.Event
	)
	doneCh := make(chan struct{})
	client := sse.NewClient(url, nil)
	client.MinBackoff = 50 * time.Millisecond
	go func() {
		_ = client.Subscribe(ctx, func(ev sse.Event) error {
			if ev.Type == eventDemoDone {
				close(doneCh)
				return errors.New("done")
			}
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
			return nil
		})
	}()
	return func() []sse.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]sse.Event(nil), got...)
	}, doneCh
}

func waitFor(ctx context.Context, cond func() bool) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return errors.New("timed out")
		case <-ticker.C:
		}
	}
	return nil
}

// gatherTotals sums every sample of each counter and gauge family.
func gatherTotals(reg *prometheus.Registry) (map[string]float64, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[mf.GetName()] = total
	}
	return out, nil
}

func printReport(w io.Writer, format string, report *DemoReport) error {
	if format == "json" {
		return writeJSON(w, report)
	}

	for _, s := range report.Scenarios {
		mark := "ok"
		if !s.OK {
			mark = "FAILED"
		}
		fmt.Fprintf(w, "Scenario %s: %s [%s]\n", s.Name, s.Title, mark)
		for _, p := range s.Problems {
			fmt.Fprintf(w, "  ! %s\n", p)
		}
		for _, ch := range s.Changes {
			fmt.Fprintf(w, "  %-6s %-12s %-10s retries=%d/%d", ch.Kind, ch.ResourceID, ch.Status, ch.RetryCount, ch.MaxRetries)
			if ch.ConflictID != "" {
				fmt.Fprintf(w, " conflict=%s", ch.ConflictID)
			}
			fmt.Fprintln(w)
		}
		for _, n := range s.Notifications {
			fmt.Fprintf(w, "  [%s] %s: %s\n", n.Type, n.Title, n.Message)
		}
		if s.Entry != nil {
			fmt.Fprintf(w, "  entry %s v%d %q\n", s.Entry.ID, s.Entry.Version, s.Entry.Title)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Resolutions journaled: %d\n", len(report.Resolutions))
	for _, r := range report.Resolutions {
		fmt.Fprintf(w, "  %s %s on %s\n", r.Action, r.Kind, r.ResourceID)
	}
	fmt.Fprintf(w, "Change events streamed: %d\n", len(report.Events))
	for _, ev := range report.Events {
		fmt.Fprintf(w, "  #%d %s %s\n", ev.ID, ev.Type, ev.Data)
	}
	if len(report.Metrics) > 0 {
		fmt.Fprintln(w, "Metrics:")
		for name, v := range report.Metrics {
			fmt.Fprintf(w, "  %s %g\n", name, v)
		}
	}
	return nil
}
