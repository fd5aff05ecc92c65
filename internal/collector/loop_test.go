package collector

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendata-kr/g2b-collector/internal/checkpoint"
	"github.com/opendata-kr/g2b-collector/internal/fetcher"
)

type fetchCall struct {
	category string
	year     int
	month    int
}

type fakeFetcher struct {
	calls   []fetchCall
	budgets []int
	results []fetchResult
}

type fetchResult struct {
	res *fetcher.Result
	err error
}

func (f *fakeFetcher) Fetch(ctx context.Context, category string, year, month, budget int) (*fetcher.Result, error) {
	f.calls = append(f.calls, fetchCall{category, year, month})
	f.budgets = append(f.budgets, budget)
	if len(f.results) == 0 {
		return &fetcher.Result{}, nil
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.res, r.err
}

type fakeSink struct {
	persistCalls int
	inserted     []int
	err          error
}

func (s *fakeSink) Persist(ctx context.Context, category string, year int, records []fetcher.ContractRecord) (int, error) {
	s.persistCalls++
	if s.err != nil {
		return 0, s.err
	}
	if len(s.inserted) == 0 {
		return len(records), nil
	}
	n := s.inserted[0]
	if len(s.inserted) > 1 {
		s.inserted = s.inserted[1:]
	}
	return n, nil
}

type fakeStore struct {
	cp      *checkpoint.Checkpoint
	loadErr error
	saveErr error
	saves   []checkpoint.Checkpoint
}

func (s *fakeStore) Load(ctx context.Context) (*checkpoint.Checkpoint, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.cp == nil {
		return nil, checkpoint.ErrNotExist
	}
	cp := *s.cp
	return &cp, nil
}

func (s *fakeStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	s.saves = append(s.saves, *cp)
	return s.saveErr
}

func (s *fakeStore) Close() error { return nil }

type fakeNotifier struct {
	announced []string
	replies   []string
}

func (n *fakeNotifier) Announce(ctx context.Context, text string) string {
	n.announced = append(n.announced, text)
	return "ts-1"
}

func (n *fakeNotifier) Reply(ctx context.Context, threadTS, text string) {
	n.replies = append(n.replies, text)
}

func records(n int) []fetcher.ContractRecord {
	out := make([]fetcher.ContractRecord, n)
	for i := range out {
		out[i].UniqueContractNo = string(rune('A' + i))
	}
	return out
}

func newTestRunner(t *testing.T, cfg Config, f Fetcher, s Sink, store checkpoint.Store) (*Runner, *fakeNotifier) {
	t.Helper()
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	n := &fakeNotifier{}
	r, err := NewRunner(cfg, f, s, store, n)
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) }
	return r, n
}

func TestRunRangeComplete(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{
		{res: &fetcher.Result{Records: records(3), Count: 3, CallsUsed: 1}},
	}}
	s := &fakeSink{}
	store := &fakeStore{cp: &checkpoint.Checkpoint{
		CurrentCategory: "foreign", CurrentYear: 2010, CurrentMonth: 12,
		LastResetDate: "2026-08-23",
	}}

	r, n := newTestRunner(t, Config{StartYear: 2005, EndYear: 2010, DailyQuota: 500}, f, s, store)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateRangeComplete, sum.State)
	assert.Equal(t, 1, sum.Periods)
	assert.Equal(t, 3, sum.NewRecords)
	assert.Equal(t, []fetchCall{{"foreign", 2010, 12}}, f.calls)
	assert.Equal(t, 1, s.persistCalls)

	// One save after the period, one final save.
	require.Len(t, store.saves, 2)
	final := store.saves[len(store.saves)-1]
	assert.Equal(t, "goods", final.CurrentCategory)
	assert.Equal(t, 2011, final.CurrentYear)
	assert.Equal(t, 1, final.CurrentMonth)
	assert.Equal(t, int64(3), final.TotalCollected)
	assert.Equal(t, "2026-08-23", final.LastRunDate)

	assert.Len(t, n.announced, 1)
	assert.Len(t, n.replies, 1)
}

func TestRunQuotaStopped(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{
		{res: &fetcher.Result{Records: records(2), Count: 2, CallsUsed: 5}},
	}}
	s := &fakeSink{}
	store := &fakeStore{cp: &checkpoint.Checkpoint{
		CurrentCategory: "goods", CurrentYear: 2010, CurrentMonth: 1,
		DailyCallsUsed: 8, LastResetDate: "2026-08-23",
	}}

	r, _ := newTestRunner(t, Config{StartYear: 2005, EndYear: 2030, DailyQuota: 10}, f, s, store)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateQuotaStopped, sum.State)
	assert.Equal(t, 1, sum.Periods)
	assert.Len(t, f.calls, 1)
	assert.Equal(t, []int{2}, f.budgets, "fetcher receives only the calls left under the quota")

	// Cursor points at the next unfetched period.
	final := store.saves[len(store.saves)-1]
	assert.Equal(t, "goods", final.CurrentCategory)
	assert.Equal(t, 2, final.CurrentMonth)
	assert.Equal(t, 13, final.DailyCallsUsed)
}

func TestRunQuotaExhaustedMidPeriod(t *testing.T) {
	// The fetcher ran out of budget partway through a multi-page month.
	f := &fakeFetcher{results: []fetchResult{
		{res: &fetcher.Result{Records: records(4), Count: 4, CallsUsed: 3},
			err: fetcher.ErrBudgetExhausted},
	}}
	s := &fakeSink{}
	store := &fakeStore{cp: &checkpoint.Checkpoint{
		CurrentCategory: "goods", CurrentYear: 2014, CurrentMonth: 1,
		DailyCallsUsed: 7, LastResetDate: "2026-08-23",
	}}

	r, _ := newTestRunner(t, Config{StartYear: 2005, EndYear: 2030, DailyQuota: 10}, f, s, store)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateQuotaStopped, sum.State)
	assert.Empty(t, sum.Errors, "running out of budget is not a fault")
	assert.Equal(t, 1, s.persistCalls, "accumulated pages are kept")
	assert.Equal(t, 4, sum.NewRecords)

	// The cursor holds so the next run finishes the period.
	final := store.saves[len(store.saves)-1]
	assert.Equal(t, "goods", final.CurrentCategory)
	assert.Equal(t, 1, final.CurrentMonth)
	assert.Equal(t, 10, final.DailyCallsUsed)
}

func TestRunFirstEverRunUsesDefault(t *testing.T) {
	f := &fakeFetcher{}
	store := &fakeStore{} // Load returns ErrNotExist

	r, _ := newTestRunner(t, Config{StartYear: 2005, EndYear: 2030, DailyQuota: 0}, f, &fakeSink{}, store)
	// Quota of zero is replaced by the default in NewRunner, so force an
	// immediate stop through an exhausted counter instead.
	r.cfg.DailyQuota = 1

	f.results = []fetchResult{{res: &fetcher.Result{CallsUsed: 1}}}

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateQuotaStopped, sum.State)
	require.NotEmpty(t, f.calls)
	assert.Equal(t, fetchCall{"goods", 2005, 1}, f.calls[0])
}

func TestRunCheckpointLoadFailureIsFatal(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("bucket unreachable")}

	r, n := newTestRunner(t, Config{StartYear: 2005, EndYear: 2030, DailyQuota: 500}, &fakeFetcher{}, &fakeSink{}, store)

	sum, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFatalStopped, sum.State)
	assert.Empty(t, store.saves, "a failed load must never overwrite the remote slot")
	assert.Len(t, n.replies, 1)
}

func TestRunFatalFetchErrorHoldsCursor(t *testing.T) {
	fatal := fetcher.NewError(fetcher.KindValidation, "30", "invalid key")
	f := &fakeFetcher{results: []fetchResult{
		{res: &fetcher.Result{CallsUsed: 1}, err: fatal},
	}}
	store := &fakeStore{cp: &checkpoint.Checkpoint{
		CurrentCategory: "services", CurrentYear: 2015, CurrentMonth: 7,
		LastResetDate: "2026-08-23",
	}}

	r, _ := newTestRunner(t, Config{StartYear: 2005, EndYear: 2030, DailyQuota: 500}, f, &fakeSink{}, store)

	sum, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFatalStopped, sum.State)
	assert.Equal(t, 0, sum.Periods)

	// Only the final save runs, with the cursor unmoved but calls billed.
	require.Len(t, store.saves, 1)
	assert.Equal(t, "services", store.saves[0].CurrentCategory)
	assert.Equal(t, 7, store.saves[0].CurrentMonth)
	assert.Equal(t, 1, store.saves[0].DailyCallsUsed)
}

func TestRunTransientErrorEndsRunWithoutAdvancing(t *testing.T) {
	netErr := fetcher.NewError(fetcher.KindNetwork, "", "connection reset")
	f := &fakeFetcher{results: []fetchResult{
		{res: &fetcher.Result{Records: records(2), Count: 2, CallsUsed: 4}, err: netErr},
	}}
	s := &fakeSink{}
	store := &fakeStore{cp: &checkpoint.Checkpoint{
		CurrentCategory: "goods", CurrentYear: 2012, CurrentMonth: 3,
		LastResetDate: "2026-08-23",
	}}

	r, _ := newTestRunner(t, Config{StartYear: 2005, EndYear: 2030, DailyQuota: 500}, f, s, store)

	sum, err := r.Run(context.Background())
	require.NoError(t, err, "transient failures are not fatal")

	assert.Equal(t, StateRunComplete, sum.State)
	assert.Equal(t, 1, s.persistCalls, "partial pages are persisted before stopping")
	assert.Equal(t, 2, sum.NewRecords)
	assert.Len(t, sum.Errors, 1)

	final := store.saves[len(store.saves)-1]
	assert.Equal(t, 3, final.CurrentMonth, "cursor must hold for retry on the next run")
}

func TestRunProviderErrorAdvancesCursor(t *testing.T) {
	provErr := fetcher.NewError(fetcher.KindAPIResponse, "07", "unexpected condition")
	f := &fakeFetcher{results: []fetchResult{
		{res: &fetcher.Result{CallsUsed: 1}, err: provErr},
		{res: &fetcher.Result{Records: records(1), Count: 1, CallsUsed: 1}},
	}}
	s := &fakeSink{}
	store := &fakeStore{cp: &checkpoint.Checkpoint{
		CurrentCategory: "foreign", CurrentYear: 2010, CurrentMonth: 11,
		LastResetDate: "2026-08-23",
	}}

	r, _ := newTestRunner(t, Config{StartYear: 2005, EndYear: 2010, DailyQuota: 500}, f, s, store)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateRangeComplete, sum.State)
	assert.Equal(t, 2, sum.Periods)
	assert.Len(t, sum.Errors, 1)
	assert.Equal(t, []fetchCall{{"foreign", 2010, 11}, {"foreign", 2010, 12}}, f.calls)
}

func TestRunAnomalyStreakStopsRun(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{
		{res: &fetcher.Result{Records: records(5), Count: 5, CallsUsed: 1}},
	}}
	s := &fakeSink{inserted: []int{0}}
	store := &fakeStore{cp: &checkpoint.Checkpoint{
		CurrentCategory: "goods", CurrentYear: 2010, CurrentMonth: 1,
		LastResetDate: "2026-08-23",
	}}

	r, n := newTestRunner(t, Config{
		StartYear: 2005, EndYear: 2030, DailyQuota: 500, EmptyStreakLimit: 3,
	}, f, s, store)

	sum, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFatalStopped, sum.State)
	assert.Contains(t, err.Error(), "cursor anomaly")
	assert.Equal(t, 3, s.persistCalls)
	assert.Equal(t, 2, sum.Periods, "the anomaly period itself is not advanced past")

	// The anomaly alert plus the closing summary.
	assert.Len(t, n.replies, 2)
}

func TestRunEmptyMonthsDoNotCountTowardStreak(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{
		{res: &fetcher.Result{}},
		{res: &fetcher.Result{}},
		{res: &fetcher.Result{}},
		{res: &fetcher.Result{Records: records(1), Count: 1, CallsUsed: 1}},
	}}
	s := &fakeSink{}
	store := &fakeStore{cp: &checkpoint.Checkpoint{
		CurrentCategory: "foreign", CurrentYear: 2010, CurrentMonth: 9,
		LastResetDate: "2026-08-23",
	}}

	r, _ := newTestRunner(t, Config{
		StartYear: 2005, EndYear: 2010, DailyQuota: 500, EmptyStreakLimit: 2,
	}, f, s, store)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRangeComplete, sum.State)
	assert.Equal(t, 4, sum.Periods)
	assert.Equal(t, 1, s.persistCalls, "legitimately empty months never reach the sink")
}

func TestRunDailyRollover(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{
		{res: &fetcher.Result{Records: records(1), Count: 1, CallsUsed: 2}},
	}}
	store := &fakeStore{cp: &checkpoint.Checkpoint{
		CurrentCategory: "foreign", CurrentYear: 2010, CurrentMonth: 12,
		DailyCallsUsed: 500, LastResetDate: "2026-08-22",
	}}

	r, _ := newTestRunner(t, Config{StartYear: 2005, EndYear: 2010, DailyQuota: 500}, f, &fakeSink{}, store)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	// Yesterday's exhausted counter resets before the quota check.
	assert.Equal(t, StateRangeComplete, sum.State)
	assert.Len(t, f.calls, 1)

	final := store.saves[len(store.saves)-1]
	assert.Equal(t, "2026-08-23", final.LastResetDate)
	assert.Equal(t, 2, final.DailyCallsUsed)
}

func TestRunSinkFailureIsFatal(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{
		{res: &fetcher.Result{Records: records(2), Count: 2, CallsUsed: 1}},
	}}
	s := &fakeSink{err: errors.New("disk full")}
	store := &fakeStore{cp: &checkpoint.Checkpoint{
		CurrentCategory: "goods", CurrentYear: 2010, CurrentMonth: 1,
		LastResetDate: "2026-08-23",
	}}

	r, _ := newTestRunner(t, Config{StartYear: 2005, EndYear: 2030, DailyQuota: 500}, f, s, store)

	sum, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFatalStopped, sum.State)

	final := store.saves[len(store.saves)-1]
	assert.Equal(t, 1, final.CurrentMonth, "cursor must not advance past unpersisted data")
}

func TestRunTrailingWindow(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{
		{res: &fetcher.Result{Records: records(1), Count: 1, CallsUsed: 1}},
	}}
	store := &fakeStore{cp: &checkpoint.Checkpoint{
		// now is 2026-08-23, so 2026-07 is the last collectable month.
		CurrentCategory: "foreign", CurrentYear: 2026, CurrentMonth: 7,
		LastResetDate: "2026-08-23",
	}}

	r, _ := newTestRunner(t, Config{
		StartYear: 2005, EndYear: 2026, TrailingWindow: true,
		DailyQuota: 500, Categories: []Category{CategoryForeign},
	}, f, &fakeSink{}, store)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateRangeComplete, sum.State)
	assert.Equal(t, []fetchCall{{"foreign", 2026, 7}}, f.calls)
}
