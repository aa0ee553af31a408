package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// node is a synthetic folder tree: leaves are files, everything else a folder.
type node struct {
	name     string
	children []*node
}

func buildTree(depth, fanout int, prefix string) *node {
	n := &node{name: prefix}
	if depth == 0 {
		return n
	}
	for i := range fanout {
		n.children = append(n.children, buildTree(depth-1, fanout, fmt.Sprintf("%s/%d", prefix, i)))
	}
	return n
}

func countLeaves(n *node) int {
	if len(n.children) == 0 {
		return 1
	}
	total := 0
	for _, c := range n.children {
		total += countLeaves(c)
	}
	return total
}

func walk(ctx context.Context, n *node, q *Queue[*node], res *Results[string]) error {
	if len(n.children) == 0 {
		res.Push(n.name)
		return nil
	}
	q.Push(n.children...)
	return nil
}

func TestRun_Completeness(t *testing.T) {
	root := buildTree(3, 3, "root")
	want := countLeaves(root)
	for limit := 1; limit <= want; limit++ {
		report, err := Run(context.Background(), []*node{root}, walk, Options{MaxConcurrent: limit})
		if err != nil {
			t.Fatalf("limit %d: %v", limit, err)
		}
		if len(report.Results) != want {
			t.Errorf("limit %d: expected %d results, got %d", limit, want, len(report.Results))
		}
		seen := map[string]bool{}
		for _, r := range report.Results {
			if seen[r] {
				t.Errorf("limit %d: duplicate result %s", limit, r)
			}
			seen[r] = true
		}
		if report.MaxInFlight > limit {
			t.Errorf("limit %d: observed %d in flight", limit, report.MaxInFlight)
		}
	}
}

func TestRun_SameSetAcrossLimits(t *testing.T) {
	root := buildTree(2, 5, "r")
	collect := func(limit int) []string {
		report, err := Run(context.Background(), []*node{root}, walk, Options{MaxConcurrent: limit})
		if err != nil {
			t.Fatalf("limit %d: %v", limit, err)
		}
		sort.Strings(report.Results)
		return report.Results
	}
	one, fifty := collect(1), collect(50)
	if fmt.Sprint(one) != fmt.Sprint(fifty) {
		t.Errorf("result sets differ:\n%v\n%v", one, fifty)
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	const limit = 4
	var current, peak atomic.Int32
	seeds := make([]int, 40)
	for i := range seeds {
		seeds[i] = i
	}
	handler := func(ctx context.Context, item int, q *Queue[int], res *Results[int]) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		current.Add(-1)
		res.Push(item)
		return nil
	}
	report, err := Run(context.Background(), seeds, handler, Options{MaxConcurrent: limit})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := peak.Load(); got > limit {
		t.Errorf("expected at most %d concurrent handlers, saw %d", limit, got)
	}
	if report.MaxInFlight != limit {
		t.Errorf("expected the bound to be reached, max in flight %d", report.MaxInFlight)
	}
	if report.Processed != len(seeds) {
		t.Errorf("expected %d processed, got %d", len(seeds), report.Processed)
	}
}

func TestRun_EmptySeeds(t *testing.T) {
	called := false
	handler := func(ctx context.Context, item int, q *Queue[int], res *Results[int]) error {
		called = true
		return nil
	}
	report, err := Run(context.Background(), nil, handler, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if called || report.Processed != 0 || len(report.Results) != 0 {
		t.Errorf("expected an empty run, got %+v (called=%v)", report, called)
	}
}

func TestRun_SilentHandlersCount(t *testing.T) {
	handler := func(ctx context.Context, item int, q *Queue[int], res *Results[int]) error {
		return nil
	}
	report, err := Run(context.Background(), []int{1, 2, 3}, handler, Options{MaxConcurrent: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Processed != 3 {
		t.Errorf("expected 3 processed, got %d", report.Processed)
	}
	if len(report.Results) != 0 {
		t.Errorf("expected no results, got %v", report.Results)
	}
}

func TestRun_FailFast(t *testing.T) {
	boom := errors.New("boom")
	var started atomic.Int32
	handler := func(ctx context.Context, item int, q *Queue[int], res *Results[int]) error {
		started.Add(1)
		if item == 0 {
			return boom
		}
		res.Push(item)
		return nil
	}
	seeds := make([]int, 100)
	for i := range seeds {
		seeds[i] = i
	}
	report, err := Run(context.Background(), seeds, handler, Options{MaxConcurrent: 1})
	if !errors.Is(err, ErrAborted) || !errors.Is(err, boom) {
		t.Fatalf("expected aborted boom error, got %v", err)
	}
	if got := started.Load(); got != 1 {
		t.Errorf("expected scheduling to stop after the failure, %d handlers started", got)
	}
	if len(report.Results) != 0 {
		t.Errorf("expected results discarded, got %v", report.Results)
	}
}

func TestRun_FailFastDrainsInFlight(t *testing.T) {
	boom := errors.New("boom")
	release := make(chan struct{})
	var once sync.Once
	var finished atomic.Int32
	handler := func(ctx context.Context, item int, q *Queue[int], res *Results[int]) error {
		if item == 0 {
			return boom
		}
		<-release
		finished.Add(1)
		return nil
	}
	opts := Options{
		MaxConcurrent: 3,
		OnTaskDone:    func(error) { once.Do(func() { close(release) }) },
	}
	_, err := Run(context.Background(), []int{1, 2, 0, 3, 4}, handler, opts)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	// Items 1 and 2 were in flight with 0 and must have finished before Run
	// returned; 3 and 4 were never started.
	if got := finished.Load(); got != 2 {
		t.Errorf("expected 2 in-flight handlers drained, got %d", got)
	}
}

func TestRun_ContinueOnError(t *testing.T) {
	var mu sync.Mutex
	var doneErrs []error
	handler := func(ctx context.Context, item int, q *Queue[int], res *Results[int]) error {
		if item%3 == 0 {
			return fmt.Errorf("item %d failed", item)
		}
		res.Push(item)
		return nil
	}
	opts := Options{
		MaxConcurrent:   5,
		ContinueOnError: true,
		OnTaskDone: func(err error) {
			mu.Lock()
			doneErrs = append(doneErrs, err)
			mu.Unlock()
		},
	}
	report, err := Run(context.Background(), []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, handler, opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Results) != 6 {
		t.Errorf("expected 6 results, got %v", report.Results)
	}
	var failed []int
	for _, f := range report.Failures {
		failed = append(failed, f.Item)
		if f.Err == nil {
			t.Errorf("failure for %d has no error", f.Item)
		}
	}
	sort.Ints(failed)
	if fmt.Sprint(failed) != "[3 6 9]" {
		t.Errorf("expected failures [3 6 9], got %v", failed)
	}
	if len(doneErrs) != 9 {
		t.Errorf("expected OnTaskDone per item, got %d calls", len(doneErrs))
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handler := func(ctx context.Context, item int, q *Queue[int], res *Results[int]) error {
		t.Error("handler must not run on a cancelled context")
		return nil
	}
	_, err := Run(ctx, []int{1}, handler, Options{})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrAborted) {
		t.Errorf("expected aborted cancellation, got %v", err)
	}
}

func TestRun_DefaultLimit(t *testing.T) {
	seeds := make([]int, DefaultMaxConcurrent*2)
	release := make(chan struct{})
	var started atomic.Int32
	handler := func(ctx context.Context, item int, q *Queue[int], res *Results[int]) error {
		if started.Add(1) == DefaultMaxConcurrent {
			close(release)
		}
		<-release
		return nil
	}
	report, err := Run(context.Background(), seeds, handler, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.MaxInFlight != DefaultMaxConcurrent {
		t.Errorf("expected max in flight %d, got %d", DefaultMaxConcurrent, report.MaxInFlight)
	}
}
