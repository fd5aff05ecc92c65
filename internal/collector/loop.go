package collector

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/opendata-kr/g2b-collector/internal/checkpoint"
	"github.com/opendata-kr/g2b-collector/internal/fetcher"
	"github.com/opendata-kr/g2b-collector/internal/notify"
)

// State is the terminal condition a run ended in.
type State string

const (
	StateRunning       State = "RUNNING"
	StateQuotaStopped  State = "QUOTA_STOPPED"
	StateRangeComplete State = "RANGE_COMPLETE"
	StateFatalStopped  State = "FATAL_STOPPED"
	StateRunComplete   State = "RUN_COMPLETE"
)

// Fetcher fetches every page of one period, issuing at most budget
// requests. The returned result carries whatever was accumulated even when
// an error is also returned.
type Fetcher interface {
	Fetch(ctx context.Context, category string, year, month, budget int) (*fetcher.Result, error)
}

// Sink persists a period's records, returning the newly inserted count.
type Sink interface {
	Persist(ctx context.Context, category string, year int, records []fetcher.ContractRecord) (int, error)
}

// Config bounds one collection deployment.
type Config struct {
	Categories []Category
	StartYear  int
	EndYear    int
	// TrailingWindow bounds collection to the last fully completed
	// calendar month instead of EndYear.
	TrailingWindow bool
	DailyQuota     int
	// EmptyStreakLimit is the number of consecutive data-bearing periods
	// with zero new inserts tolerated before the run is stopped as a
	// cursor anomaly. Legitimately empty months do not count against it.
	EmptyStreakLimit int
	Location         *time.Location
	BackupPath       string
}

// Summary is the run's final accounting, included in the closing
// notification and used by the CLI to pick an exit code.
type Summary struct {
	State      State
	Periods    int
	NewRecords int
	CallsUsed  int
	Errors     []string
	Fatal      error
}

// Runner drives the checkpoint cursor across periods until quota, range
// end, or a fatal condition stops it. Strictly sequential: the provider's
// quota is per-credential, so concurrency buys nothing but correctness risk.
type Runner struct {
	cfg      Config
	fetcher  Fetcher
	sink     Sink
	store    checkpoint.Store
	notifier notify.Notifier

	// now is swapped out in tests.
	now func() time.Time
}

func NewRunner(cfg Config, f Fetcher, s Sink, store checkpoint.Store, notifier notify.Notifier) (*Runner, error) {
	if f == nil || s == nil || store == nil {
		return nil, errors.New("fetcher, sink and checkpoint store are required")
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories
	}
	if cfg.StartYear == 0 {
		cfg.StartYear = 2005
	}
	if cfg.EndYear == 0 {
		cfg.EndYear = 2025
	}
	if cfg.DailyQuota <= 0 {
		cfg.DailyQuota = 500
	}
	if cfg.EmptyStreakLimit <= 0 {
		cfg.EmptyStreakLimit = 60
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("Asia/Seoul")
		if err != nil {
			return nil, errors.Wrap(err, "load timezone")
		}
		cfg.Location = loc
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}

	return &Runner{
		cfg:      cfg,
		fetcher:  f,
		sink:     s,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}, nil
}

// Run executes one collection run. The returned error is non-nil only for
// fatal terminations; quota stops and range completion are normal exits.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{State: StateRunning}

	cp, err := r.loadCheckpoint(ctx)
	if err != nil {
		// Never proceed with a synthetic checkpoint when remote storage is
		// merely unreachable: that would restart collection from scratch.
		sum.State = StateFatalStopped
		sum.Fatal = err
		r.notifier.Reply(ctx, "", fmt.Sprintf(":red_circle: Collection aborted: checkpoint load failed: %v", err))
		return sum, err
	}

	threadTS := r.notifier.Announce(ctx, fmt.Sprintf(
		"*Collection started*\n- position: `%s %d-%02d`\n- calls used today: `%d/%d`\n- total collected: `%d`",
		cp.CurrentCategory, cp.CurrentYear, cp.CurrentMonth,
		cp.DailyCallsUsed, r.cfg.DailyQuota, cp.TotalCollected))

	emptyStreak := 0

	for {
		if ctx.Err() != nil {
			sum.record("run cancelled: %v", ctx.Err())
			sum.State = StateRunComplete
			break
		}

		now := r.now().In(r.cfg.Location)
		if cp.ResetDailyCounter(now) {
			log.Printf("Daily call counter reset for %s", cp.LastResetDate)
		}

		period := Period{Category: Category(cp.CurrentCategory), Year: cp.CurrentYear, Month: cp.CurrentMonth}

		if r.beyondRange(period, now) {
			log.Printf("Reached end of collection range at %s", period)
			sum.State = StateRangeComplete
			break
		}

		if cp.DailyCallsUsed >= r.cfg.DailyQuota {
			log.Printf("Daily quota reached (%d/%d), stopping", cp.DailyCallsUsed, r.cfg.DailyQuota)
			sum.State = StateQuotaStopped
			break
		}

		log.Printf("Collecting %s (calls %d/%d)", period, cp.DailyCallsUsed, r.cfg.DailyQuota)

		// The fetcher gets only the calls left under the quota, so a
		// multi-page month can never overshoot the daily ceiling.
		budget := r.cfg.DailyQuota - cp.DailyCallsUsed
		res, ferr := r.fetcher.Fetch(ctx, string(period.Category), period.Year, period.Month, budget)
		if res != nil {
			cp.DailyCallsUsed += res.CallsUsed
			sum.CallsUsed += res.CallsUsed
		}

		if ferr != nil && fetcher.IsFatal(ferr) {
			sum.record("fatal fetch error at %s: %v", period, ferr)
			sum.State = StateFatalStopped
			sum.Fatal = ferr
			break
		}

		// Keep whatever the fetch accumulated before a non-fatal failure;
		// table sinks make the eventual refetch idempotent.
		if res != nil && len(res.Records) > 0 {
			inserted, serr := r.sink.Persist(ctx, string(period.Category), period.Year, res.Records)
			if serr != nil {
				sum.record("sink failure at %s: %v", period, serr)
				sum.State = StateFatalStopped
				sum.Fatal = serr
				break
			}
			cp.TotalCollected += int64(inserted)
			sum.NewRecords += inserted

			// A period that returned data but produced no new rows means
			// the cursor is walking already-collected history.
			if inserted == 0 {
				emptyStreak++
				if emptyStreak >= r.cfg.EmptyStreakLimit {
					err := errors.Errorf("cursor anomaly: %d consecutive periods with data but zero new inserts", emptyStreak)
					sum.record("%v", err)
					sum.State = StateFatalStopped
					sum.Fatal = err
					r.notifier.Reply(ctx, threadTS, fmt.Sprintf(
						":rotating_light: *Cursor anomaly* at `%s`: %d consecutive periods yielded no new records. Halting.",
						period, emptyStreak))
					break
				}
			} else {
				emptyStreak = 0
			}
		}

		if ferr != nil {
			if errors.Is(ferr, fetcher.ErrBudgetExhausted) {
				// Not a fault: the quota ran out mid-period. The pages
				// persisted above are kept and the cursor holds, so the
				// next run finishes the period.
				log.Printf("Daily quota reached mid-period at %s", period)
				sum.State = StateQuotaStopped
				break
			}
			sum.record("fetch error at %s: %v", period, ferr)
			if !fetcher.AdvancesCursor(ferr) {
				// Transient failure: hold the cursor so the next run
				// retries this period, and end the run here.
				log.Printf("Holding cursor at %s after transient error", period)
				sum.State = StateRunComplete
				break
			}
			log.Printf("Skipping %s after provider-reported error", period)
		}

		next := period.Next(r.cfg.Categories)
		cp.CurrentCategory = string(next.Category)
		cp.CurrentYear = next.Year
		cp.CurrentMonth = next.Month
		sum.Periods++

		// Persist after every period so a crash loses at most one
		// period's progress.
		if err := r.store.Save(ctx, cp); err != nil {
			sum.record("checkpoint save failed at %s: %v", next, err)
			log.Printf("Checkpoint save failed: %v", err)
		}
	}

	r.finish(ctx, cp, sum, threadTS)

	if sum.State == StateFatalStopped {
		return sum, sum.Fatal
	}
	return sum, nil
}

// loadCheckpoint loads the persisted cursor, creating the default only on a
// confirmed first-ever run.
func (r *Runner) loadCheckpoint(ctx context.Context) (*checkpoint.Checkpoint, error) {
	cp, err := r.store.Load(ctx)
	if err == checkpoint.ErrNotExist {
		log.Printf("No checkpoint found, starting first-ever run from %s %d-01",
			r.cfg.Categories[0], r.cfg.StartYear)
		return checkpoint.Default(string(r.cfg.Categories[0]), r.cfg.StartYear, r.now().In(r.cfg.Location)), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load checkpoint")
	}

	cats := make([]string, len(r.cfg.Categories))
	for i, c := range r.cfg.Categories {
		cats[i] = string(c)
	}
	if err := cp.Validate(cats, r.cfg.StartYear, r.cfg.EndYear); err != nil {
		return nil, errors.Wrap(err, "validate checkpoint")
	}
	return cp, nil
}

// beyondRange reports whether the period falls outside the configured
// collection range. In trailing-window mode the bound is the last fully
// completed calendar month, recomputed each run.
func (r *Runner) beyondRange(p Period, now time.Time) bool {
	if r.cfg.TrailingWindow {
		if p.Year > now.Year() {
			return true
		}
		return p.Year == now.Year() && p.Month >= int(now.Month())
	}
	return p.Year > r.cfg.EndYear
}

// finish runs on every termination path: final checkpoint save, local
// backup, and the closing notification.
func (r *Runner) finish(ctx context.Context, cp *checkpoint.Checkpoint, sum *Summary, threadTS string) {
	cp.LastRunDate = r.now().In(r.cfg.Location).Format("2006-01-02")

	// The final save must not be skipped because the run context was
	// cancelled; progress would otherwise be lost.
	saveCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}

	if err := r.store.Save(saveCtx, cp); err != nil {
		sum.record("final checkpoint save failed: %v", err)
		log.Printf("Final checkpoint save failed: %v", err)
	}
	checkpoint.WriteBackup(r.cfg.BackupPath, cp)

	r.notifier.Reply(saveCtx, threadTS, r.summaryMessage(cp, sum))
	log.Printf("Run finished: state=%s periods=%d new=%d calls=%d errors=%d",
		sum.State, sum.Periods, sum.NewRecords, sum.CallsUsed, len(sum.Errors))
}

func (r *Runner) summaryMessage(cp *checkpoint.Checkpoint, sum *Summary) string {
	var b strings.Builder

	switch sum.State {
	case StateQuotaStopped:
		b.WriteString("*Daily quota reached* :double_vertical_bar:\n")
	case StateRangeComplete:
		b.WriteString("*Collection range complete* :tada:\n")
	case StateFatalStopped:
		b.WriteString(":red_circle: *Collection stopped on fatal error*\n")
	default:
		b.WriteString("*Collection run finished*\n")
	}

	fmt.Fprintf(&b, "- periods processed: `%d`\n", sum.Periods)
	fmt.Fprintf(&b, "- new records: `%d`\n", sum.NewRecords)
	fmt.Fprintf(&b, "- calls: `%d/%d`\n", cp.DailyCallsUsed, r.cfg.DailyQuota)
	fmt.Fprintf(&b, "- next position: `%s %d-%02d`\n", cp.CurrentCategory, cp.CurrentYear, cp.CurrentMonth)
	fmt.Fprintf(&b, "- total collected: `%d`", cp.TotalCollected)

	if len(sum.Errors) > 0 {
		fmt.Fprintf(&b, "\n\nErrors (%d):", len(sum.Errors))
		shown := sum.Errors
		if len(shown) > 5 {
			shown = shown[:5]
		}
		for _, e := range shown {
			fmt.Fprintf(&b, "\n- %s", e)
		}
		if len(sum.Errors) > 5 {
			fmt.Fprintf(&b, "\n- ... and %d more", len(sum.Errors)-5)
		}
	}
	return b.String()
}

func (s *Summary) record(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("Run error: %s", msg)
	s.Errors = append(s.Errors, msg)
}
