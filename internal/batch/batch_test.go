package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// seqRandom replays fixed sequences, cycling when exhausted.
type seqRandom struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
	fi, ii int
}

func (r *seqRandom) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.floats) == 0 {
		return 0
	}
	v := r.floats[r.fi%len(r.floats)]
	r.fi++
	return v
}

func (r *seqRandom) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[r.ii%len(r.ints)] % n
	r.ii++
	return v
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestShuffleDeterministic(t *testing.T) {
	in := []string{"a", "b", "c"}
	out := Shuffle(&seqRandom{ints: []int{0, 0}}, in)

	want := []string{"b", "c", "a"}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("Shuffle() = %v, want %v", out, want)
		}
	}
	if in[0] != "a" || in[1] != "b" || in[2] != "c" {
		t.Fatalf("input mutated: %v", in)
	}
}

func TestShuffleKeepsElements(t *testing.T) {
	in := make([]int, 50)
	for i := range in {
		in[i] = i
	}
	out := Shuffle(DefaultRandom(), in)
	seen := make(map[int]bool, len(out))
	for _, v := range out {
		seen[v] = true
	}
	if len(out) != len(in) || len(seen) != len(in) {
		t.Fatalf("shuffle lost elements: %d unique of %d", len(seen), len(in))
	}
	if got := Shuffle(DefaultRandom(), []int{}); len(got) != 0 {
		t.Fatalf("empty shuffle returned %v", got)
	}
}

func TestRangeDraw(t *testing.T) {
	r := Range{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	if got := r.Draw(&seqRandom{floats: []float64{0}}); got != 10*time.Millisecond {
		t.Fatalf("Draw(0) = %s", got)
	}
	if got := r.Draw(&seqRandom{floats: []float64{0.5}}); got != 15*time.Millisecond {
		t.Fatalf("Draw(0.5) = %s", got)
	}
	for i := 0; i < 1000; i++ {
		d := r.Draw(DefaultRandom())
		if d < r.Min || d >= r.Max {
			t.Fatalf("Draw() = %s outside [%s, %s)", d, r.Min, r.Max)
		}
	}

	fixed := Range{Min: time.Second, Max: time.Second}
	if got := fixed.Draw(DefaultRandom()); got != time.Second {
		t.Fatalf("degenerate range Draw() = %s", got)
	}
}

func TestRangeValidate(t *testing.T) {
	if err := (Range{Min: 2 * time.Second, Max: time.Second}).Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("min > max should be a config error, got %v", err)
	}
	if err := (Range{Min: -time.Second}).Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("negative min should be a config error, got %v", err)
	}
	if err := (Range{}).Validate(); err != nil {
		t.Fatalf("zero range should be valid: %v", err)
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		var calls int
		boom := errors.New("boom")
		policy := RetryPolicy{MaxRetries: retries, Delay: time.Millisecond}

		out := policy.Run(context.Background(), "w", func(ctx context.Context) (decimal.Decimal, error) {
			calls++
			return decimal.Zero, boom
		}, testLogger())

		if calls != retries+1 {
			t.Fatalf("retries=%d: op called %d times, want %d", retries, calls, retries+1)
		}
		if out.Succeeded() {
			t.Fatalf("retries=%d: outcome should be a failure", retries)
		}
		if !errors.Is(out.Err, ErrRetryExhausted) || !errors.Is(out.Err, boom) {
			t.Fatalf("retries=%d: unexpected error %v", retries, out.Err)
		}
		if out.Attempts != retries+1 || out.ID != "w" {
			t.Fatalf("retries=%d: unexpected outcome %+v", retries, out)
		}
	}
}

func TestRetryPolicyEventualSuccess(t *testing.T) {
	var calls int
	policy := RetryPolicy{MaxRetries: 5, Delay: time.Millisecond}
	out := policy.Run(context.Background(), "w", func(ctx context.Context) (decimal.Decimal, error) {
		calls++
		if calls < 3 {
			return decimal.Zero, errors.New("transient")
		}
		return decimal.NewFromInt(7), nil
	}, testLogger())

	if !out.Succeeded() || !out.Value.Equal(decimal.NewFromInt(7)) || out.Attempts != 3 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestRetryPolicyFixedDelay(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, Delay: 30 * time.Millisecond}
	start := time.Now()
	policy.Run(context.Background(), "w", func(ctx context.Context) (decimal.Decimal, error) {
		return decimal.Zero, errors.New("fail")
	}, testLogger())

	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("two retry delays should take >= 60ms, took %s", elapsed)
	}
}

func TestRetryPolicyPermanent(t *testing.T) {
	var calls int
	policy := RetryPolicy{MaxRetries: 5, Delay: time.Millisecond}
	out := policy.Run(context.Background(), "w", func(ctx context.Context) (decimal.Decimal, error) {
		calls++
		return decimal.Zero, Permanent(errors.New("invalid key"))
	}, testLogger())

	if calls != 1 {
		t.Fatalf("permanent error should stop retries, got %d calls", calls)
	}
	if out.Succeeded() || errors.Is(out.Err, ErrRetryExhausted) {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestRetryPolicyRecoversPanic(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 1}
	out := policy.Run(context.Background(), "w", func(ctx context.Context) (decimal.Decimal, error) {
		panic("nil map")
	}, testLogger())

	if out.Succeeded() || out.Attempts != 2 {
		t.Fatalf("panicking op should fail after 2 attempts, got %+v", out)
	}
}

func TestRetryPolicyContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 10, Delay: time.Hour}

	var calls int
	out := policy.Run(ctx, "w", func(ctx context.Context) (decimal.Decimal, error) {
		calls++
		cancel()
		return decimal.Zero, errors.New("fail")
	}, testLogger())

	if calls != 1 || !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("cancelled retry: calls=%d err=%v", calls, out.Err)
	}
}

func TestAggregatorSnapshot(t *testing.T) {
	agg := NewAggregator(3)
	agg.RecordSuccess(decimal.NewFromInt(10))
	agg.RecordSuccess(decimal.NewFromInt(15))
	agg.RecordFailure("0xdead")

	stats := agg.Snapshot()
	if stats.Expected != 3 || stats.Succeeded != 2 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if !stats.ValueSum.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("ValueSum = %s, want 25", stats.ValueSum)
	}
	if len(stats.Failed) != 1 || stats.Failed[0] != "0xdead" {
		t.Fatalf("Failed = %v", stats.Failed)
	}
	if stats.Unaccounted() != 0 {
		t.Fatalf("Unaccounted = %d", stats.Unaccounted())
	}

	stats.Failed[0] = "mutated"
	if agg.Snapshot().Failed[0] != "0xdead" {
		t.Fatal("snapshot should not alias internal state")
	}
}

func TestAggregatorUnaccounted(t *testing.T) {
	agg := NewAggregator(4)
	agg.RecordSuccess(decimal.NewFromInt(1))
	if got := agg.Snapshot().Unaccounted(); got != 3 {
		t.Fatalf("Unaccounted = %d, want 3", got)
	}
}

func TestAggregatorConcurrent(t *testing.T) {
	agg := NewAggregator(200)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				agg.RecordSuccess(decimal.NewFromInt(1))
				return
			}
			agg.RecordFailure(fmt.Sprintf("w%d", i))
		}(i)
	}
	wg.Wait()

	stats := agg.Snapshot()
	if stats.Succeeded != 100 || len(stats.Failed) != 100 || !stats.ValueSum.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

type activeTracker struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (a *activeTracker) enter() {
	n := a.active.Add(1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (a *activeTracker) leave() { a.active.Add(-1) }

func TestSchedulerBoundsConcurrency(t *testing.T) {
	agg := NewAggregator(5)
	sched, err := NewScheduler(SchedulerOptions{Concurrency: 2}, DefaultRandom(), agg, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	var tracker activeTracker
	jobs := make([]Job, 5)
	for i := range jobs {
		jobs[i] = Job{ID: fmt.Sprintf("w%d", i), Body: func(ctx context.Context) (decimal.Decimal, error) {
			tracker.enter()
			defer tracker.leave()
			time.Sleep(100 * time.Millisecond)
			return decimal.NewFromInt(1), nil
		}}
	}

	start := time.Now()
	if err := sched.Run(context.Background(), jobs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 300*time.Millisecond {
		t.Fatalf("5 jobs at concurrency 2 finished in %s, want >= 300ms", elapsed)
	}
	if peak := tracker.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency %d exceeds 2", peak)
	}
	if stats := agg.Snapshot(); stats.Succeeded != 5 || stats.Unaccounted() != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSchedulerRandomDurations(t *testing.T) {
	const jobsN, limit = 40, 3
	agg := NewAggregator(jobsN)
	sched, err := NewScheduler(SchedulerOptions{
		Concurrency: limit,
		StartJitter: Range{Max: 2 * time.Millisecond},
		Shuffle:     true,
	}, DefaultRandom(), agg, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	var tracker activeTracker
	jobs := make([]Job, jobsN)
	for i := range jobs {
		d := time.Duration(DefaultRandom().IntN(15)) * time.Millisecond
		fail := i%7 == 0
		jobs[i] = Job{ID: fmt.Sprintf("w%d", i), Body: func(ctx context.Context) (decimal.Decimal, error) {
			tracker.enter()
			defer tracker.leave()
			time.Sleep(d)
			if fail {
				return decimal.Zero, errors.New("reverted")
			}
			return decimal.NewFromInt(2), nil
		}}
	}

	if err := sched.Run(context.Background(), jobs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak := tracker.peak.Load(); peak > limit {
		t.Fatalf("peak concurrency %d exceeds %d", peak, limit)
	}
	stats := agg.Snapshot()
	if stats.Succeeded+len(stats.Failed) != jobsN {
		t.Fatalf("batch did not drain: %+v", stats)
	}
	if len(stats.Failed) != 6 {
		t.Fatalf("expected 6 failures, got %d", len(stats.Failed))
	}
}

func TestSchedulerRecordsFailuresWithoutAbort(t *testing.T) {
	agg := NewAggregator(3)
	var outcomes []Outcome
	var mu sync.Mutex
	sched, err := NewScheduler(SchedulerOptions{
		Concurrency: 3,
		Retry:       RetryPolicy{MaxRetries: 2, Delay: time.Millisecond},
		OnOutcome: func(o Outcome) {
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		},
	}, DefaultRandom(), agg, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	var badCalls atomic.Int32
	jobs := []Job{
		{ID: "a", Body: func(ctx context.Context) (decimal.Decimal, error) { return decimal.NewFromInt(10), nil }},
		{ID: "b", Body: func(ctx context.Context) (decimal.Decimal, error) {
			badCalls.Add(1)
			return decimal.Zero, errors.New("insufficient funds")
		}},
		{ID: "c", Body: func(ctx context.Context) (decimal.Decimal, error) { return decimal.NewFromInt(15), nil }},
	}

	if err := sched.Run(context.Background(), jobs); err != nil {
		t.Fatalf("Run should not fail on job errors: %v", err)
	}

	stats := agg.Snapshot()
	if stats.Succeeded != 2 || !stats.ValueSum.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.Failed) != 1 || stats.Failed[0] != "b" {
		t.Fatalf("Failed = %v", stats.Failed)
	}
	if badCalls.Load() != 3 {
		t.Fatalf("failing job ran %d times, want 3", badCalls.Load())
	}
	if len(outcomes) != 3 {
		t.Fatalf("OnOutcome saw %d outcomes", len(outcomes))
	}
}

func TestSchedulerJitterSpacing(t *testing.T) {
	jitter := Range{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	floats := []float64{0.2, 0.9, 0.5, 0.0}
	draws := make([]time.Duration, len(floats))
	for i, f := range floats {
		draws[i] = jitter.Draw(&seqRandom{floats: []float64{f}})
	}

	agg := NewAggregator(len(floats))
	sched, err := NewScheduler(SchedulerOptions{
		Concurrency: len(floats),
		StartJitter: jitter,
	}, &seqRandom{floats: floats}, agg, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	var mu sync.Mutex
	starts := make([]time.Time, len(floats))
	jobs := make([]Job, len(floats))
	for i := range jobs {
		i := i
		jobs[i] = Job{ID: fmt.Sprintf("w%d", i), Body: func(ctx context.Context) (decimal.Decimal, error) {
			mu.Lock()
			starts[i] = time.Now()
			mu.Unlock()
			return decimal.Zero, nil
		}}
	}

	begin := time.Now()
	if err := sched.Run(context.Background(), jobs); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if first := starts[0].Sub(begin); first < draws[0] {
		t.Fatalf("first job started after %s, before its %s delay", first, draws[0])
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < draws[i]-time.Millisecond {
			t.Fatalf("gap before job %d is %s, shorter than drawn delay %s", i, gap, draws[i])
		}
	}
}

func TestSchedulerShuffleOrder(t *testing.T) {
	agg := NewAggregator(3)
	sched, err := NewScheduler(SchedulerOptions{Concurrency: 1, Shuffle: true}, &seqRandom{ints: []int{0, 0}}, agg, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	var order []string
	body := func(id string) Op {
		return func(ctx context.Context) (decimal.Decimal, error) {
			order = append(order, id)
			return decimal.Zero, nil
		}
	}
	jobs := []Job{{ID: "a", Body: body("a")}, {ID: "b", Body: body("b")}, {ID: "c", Body: body("c")}}

	if err := sched.Run(context.Background(), jobs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fmt.Sprint(order) != "[b c a]" {
		t.Fatalf("execution order %v, want [b c a]", order)
	}
}

func TestSchedulerCancelledDuringSubmission(t *testing.T) {
	agg := NewAggregator(3)
	sched, err := NewScheduler(SchedulerOptions{
		Concurrency: 1,
		StartJitter: Range{Min: time.Hour, Max: time.Hour},
	}, DefaultRandom(), agg, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	jobs := []Job{
		{ID: "a", Body: func(ctx context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }},
		{ID: "b", Body: func(ctx context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }},
	}
	if err := sched.Run(ctx, jobs); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want deadline exceeded", err)
	}

	stats := agg.Snapshot()
	if len(stats.Failed) != 2 || stats.Unaccounted() != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestNewSchedulerConfigErrors(t *testing.T) {
	cases := []SchedulerOptions{
		{Concurrency: 0},
		{Concurrency: -1},
		{Concurrency: 1, StartJitter: Range{Min: time.Second}},
		{Concurrency: 1, Retry: RetryPolicy{MaxRetries: -1}},
	}
	for i, opts := range cases {
		if _, err := NewScheduler(opts, nil, NewAggregator(0), testLogger()); !errors.Is(err, ErrConfig) {
			t.Fatalf("case %d: expected config error, got %v", i, err)
		}
	}
	if _, err := NewScheduler(SchedulerOptions{Concurrency: 1}, nil, nil, testLogger()); !errors.Is(err, ErrConfig) {
		t.Fatalf("nil aggregator should be rejected, got %v", err)
	}
}
