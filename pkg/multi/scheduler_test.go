package multi

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/curly/internal/testutil"
	"github.com/Sternrassler/curly/pkg/request"
)

func newBuilder() *request.Builder {
	return request.NewBuilder(request.DefaultConfig())
}

// buildSet creates one GET operation per key against /item/<key>.
func buildSet(t *testing.T, baseURL string, keys ...string) (*OperationSet[string], []*request.Operation) {
	t.Helper()

	b := newBuilder()
	set := NewOperationSet[string]()
	ops := make([]*request.Operation, 0, len(keys))
	for _, key := range keys {
		op := b.Build(baseURL+"/item/"+key, nil, "GET", request.NoCookie())
		require.NoError(t, set.Add(key, op))
		ops = append(ops, op)
	}
	return set, ops
}

func assertReleased(t *testing.T, ops []*request.Operation) {
	t.Helper()
	for i, op := range ops {
		if op == nil {
			continue
		}
		if op.State() != request.StateReleased {
			t.Errorf("operation %d state = %s, want released", i, op.State())
		}
	}
}

func TestFetchAll_SingleChunk(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	set, ops := buildSet(t, mock.URL(), "a", "b", "c", "d", "e")

	results, err := FetchAll(testContext(t), set, Options{})
	require.NoError(t, err)
	require.Len(t, results, 5)

	for _, key := range set.Keys() {
		outcome, ok := results[key]
		require.True(t, ok, "missing key %s", key)
		assert.False(t, outcome.Failed())
		assert.Equal(t, "GET /item/"+key, string(outcome.Value))
		assert.Equal(t, http.StatusOK, outcome.Meta.StatusCode)
	}
	assert.Equal(t, 5, mock.GetRequestCount())
	assertReleased(t, ops)
}

func TestRunAll_CallbackReceivesKeyAndMeta(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	b := newBuilder()
	set := NewOperationSet[int]()
	for i := 10; i < 13; i++ {
		require.NoError(t, set.Add(i, b.Build(fmt.Sprintf("%s/n/%d", mock.URL(), i), nil, "GET", request.NoCookie())))
	}

	calls := 0
	results, err := RunAll(testContext(t), set, func(body []byte, meta request.Meta, key int) string {
		calls++
		return fmt.Sprintf("%d:%d:%s", key, meta.StatusCode, body)
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.Equal(t, map[int]string{
		10: "10:200:GET /n/10",
		11: "11:200:GET /n/11",
		12: "12:200:GET /n/12",
	}, results.Values())
}

func TestRunAll_FailureMarker(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetResponse("/item/bad", testutil.NewServerErrorResponse())

	set, ops := buildSet(t, mock.URL(), "good", "bad")

	called := map[string]bool{}
	results, err := RunAll(testContext(t), set, func(body []byte, _ request.Meta, key string) []byte {
		called[key] = true
		return body
	}, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results["good"].Failed())
	assert.True(t, results["bad"].Failed())
	assert.Equal(t, request.ErrorClassServer, request.ClassOf(results["bad"].Err))
	assert.False(t, called["bad"], "callback must not run for failures")
	assert.Equal(t, map[string]error{"bad": results["bad"].Err}, results.Failures())
	assert.Equal(t, 1, mock.GetPathCount("/item/bad"), "failed operations are never retried")
	assertReleased(t, ops)
}

func TestRunAll_ChunkedEqualsUnchunked(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	keys := []string{"k1", "k2", "k3", "k4", "k5", "k6", "k7"}

	unchunkedSet, _ := buildSet(t, mock.URL(), keys...)
	unchunked, err := FetchAll(testContext(t), unchunkedSet, Options{})
	require.NoError(t, err)

	for _, parallel := range []int{1, 2, 3, 7, 100} {
		t.Run(fmt.Sprintf("parallel=%d", parallel), func(t *testing.T) {
			set, ops := buildSet(t, mock.URL(), keys...)
			chunked, err := FetchAll(testContext(t), set, Options{Parallel: parallel})
			require.NoError(t, err)
			assert.Equal(t, unchunked.Values(), chunked.Values())
			assertReleased(t, ops)
		})
	}
}

func TestRunAll_ParallelBoundsInflight(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	var (
		current, peak int
		ch            = make(chan int, 100)
	)
	mock.SetHandler("/slow", func(w http.ResponseWriter, r *http.Request) {
		ch <- 1
		time.Sleep(50 * time.Millisecond)
		ch <- -1
		w.Write([]byte("ok"))
	})

	b := newBuilder()
	set := NewOperationSet[int]()
	for i := 0; i < 6; i++ {
		require.NoError(t, set.Add(i, b.Build(mock.URL()+"/slow", nil, "GET", request.NoCookie())))
	}

	results, err := FetchAll(testContext(t), set, Options{Parallel: 2})
	require.NoError(t, err)
	assert.Len(t, results, 6)

	close(ch)
	for delta := range ch {
		current += delta
		peak = max(peak, current)
	}
	assert.LessOrEqual(t, peak, 2)
}

func TestRunAll_ThrottleFloor(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	set, _ := buildSet(t, mock.URL(), "k1", "k2")

	start := time.Now()
	results, err := FetchAll(testContext(t), set, Options{Parallel: 1, Throttle: time.Second})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Contains(t, results, "k1")
	assert.Contains(t, results, "k2")
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
}

func TestRunAll_NoThrottleForSingleChunk(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	set, _ := buildSet(t, mock.URL(), "k1", "k2")

	start := time.Now()
	_, err := FetchAll(testContext(t), set, Options{Parallel: 5, Throttle: 5 * time.Second})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunAll_DropsInvalidHandles(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	b := newBuilder()
	released := b.Build(mock.URL()+"/item/released", nil, "GET", request.NoCookie())
	require.NoError(t, released.Release())

	performed := b.Build(mock.URL()+"/item/performed", nil, "GET", request.NoCookie())
	require.NoError(t, performed.Perform(testContext(t)))

	good := b.Build(mock.URL()+"/item/good", nil, "GET", request.NoCookie())

	set := NewOperationSet[string]()
	require.NoError(t, set.Add("nil", nil))
	require.NoError(t, set.Add("released", released))
	require.NoError(t, set.Add("performed", performed))
	require.NoError(t, set.Add("good", good))

	results, err := FetchAll(testContext(t), set, Options{})
	require.NoError(t, err)

	assert.Len(t, results, 1)
	assert.Contains(t, results, "good")
	assertReleased(t, []*request.Operation{released, performed, good})
}

func TestRunAll_DuplicateHandle(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	op := newBuilder().Build(mock.URL()+"/item/x", nil, "GET", request.NoCookie())
	set := NewOperationSet[string]()
	require.NoError(t, set.Add("first", op))
	require.NoError(t, set.Add("second", op))

	results, err := FetchAll(testContext(t), set, Options{})
	require.NoError(t, err)

	assert.Len(t, results, 1)
	assert.Contains(t, results, "first")
	assert.Equal(t, 1, mock.GetRequestCount())
	assertReleased(t, []*request.Operation{op})
}

func TestRunAll_NilCallbackRequiresBytes(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	set, ops := buildSet(t, mock.URL(), "a", "b")

	results, err := RunAll[string, string](testContext(t), set, nil, Options{})
	assert.ErrorIs(t, err, ErrNoCallback)
	assert.Nil(t, results)
	assert.Equal(t, 0, mock.GetRequestCount())

	// The caller keeps ownership of the untouched handles
	for i, op := range ops {
		if !op.Pending() {
			t.Errorf("operation %d state = %s, want pending", i, op.State())
		}
		_ = op.Release()
	}
}

func TestRunAll_NilCallbackStoresBody(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	set, _ := buildSet(t, mock.URL(), "a")

	results, err := RunAll[string, []byte](testContext(t), set, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "GET /item/a", string(results["a"].Value))
}

func TestRunAll_CancelDuringThrottleSkipsRemainingChunks(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	set, ops := buildSet(t, mock.URL(), "k1", "k2", "k3")

	ctx, cancel := context.WithTimeout(testContext(t), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	results, err := FetchAll(ctx, set, Options{Parallel: 1, Throttle: time.Hour})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, results, 1)
	assert.Contains(t, results, "k1")
	assert.Equal(t, 1, mock.GetRequestCount())
	assertReleased(t, ops)
}

func TestRunAll_CancelledBeforeStart(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	set, ops := buildSet(t, mock.URL(), "a", "b", "c")

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	results, err := FetchAll(ctx, set, Options{Parallel: 2})
	require.NoError(t, err)

	assert.Empty(t, results)
	assert.Equal(t, 0, mock.GetRequestCount())
	assertReleased(t, ops)
}

func TestRunAll_NilSet(t *testing.T) {
	results, err := FetchAll[string](testContext(t), nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidSet)
	assert.Nil(t, results)
}

func TestRunAll_EmptySet(t *testing.T) {
	results, err := FetchAll(testContext(t), NewOperationSet[string](), Options{Parallel: 3, Throttle: time.Hour})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunAll_CancelledContextAborts(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetHandler("/slow", testutil.NewDelayHandler(5*time.Second, "late"))

	b := newBuilder()
	set := NewOperationSet[int]()
	var ops []*request.Operation
	for i := 0; i < 3; i++ {
		op := b.Build(mock.URL()+"/slow", nil, "GET", request.NoCookie())
		ops = append(ops, op)
		require.NoError(t, set.Add(i, op))
	}

	ctx, cancel := context.WithTimeout(testContext(t), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	results, err := FetchAll(ctx, set, Options{WaitTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	assert.Empty(t, results)
	assert.Less(t, time.Since(start), 5*time.Second)
	assertReleased(t, ops)
}

// scriptedPoller completes the first `complete` operations synchronously on
// the first Perform and reports a broken state afterwards.
type scriptedPoller struct {
	ctx       context.Context
	complete  int
	performed bool
	ops       []*request.Operation
	ready     []Completion
	removed   int
	closed    bool
}

func (p *scriptedPoller) Register(op *request.Operation) error {
	if !op.Pending() {
		return ErrInvalidOperation
	}
	p.ops = append(p.ops, op)
	return nil
}

func (p *scriptedPoller) Perform() error {
	if p.performed {
		return ErrPollerBroken
	}
	p.performed = true
	for _, op := range p.ops[:p.complete] {
		p.ready = append(p.ready, Completion{Op: op, Err: op.Perform(p.ctx)})
	}
	return nil
}

func (p *scriptedPoller) Next() (Completion, bool) {
	if len(p.ready) == 0 {
		return Completion{}, false
	}
	c := p.ready[0]
	p.ready = p.ready[1:]
	return c, true
}

func (p *scriptedPoller) Wait(time.Duration) (int, error) { return len(p.ready), nil }

func (p *scriptedPoller) Remove(*request.Operation) error {
	p.removed++
	return nil
}

func (p *scriptedPoller) Close() error {
	p.closed = true
	return nil
}

func TestRunAll_BrokenPollerMidChunk(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	set, ops := buildSet(t, mock.URL(), "k1", "k2", "k3", "k4", "k5")

	var poller *scriptedPoller
	opts := Options{
		NewPoller: func(ctx context.Context) Poller {
			poller = &scriptedPoller{ctx: ctx, complete: 2}
			return poller
		},
	}

	callbacks := 0
	results, err := RunAll(testContext(t), set, func(body []byte, _ request.Meta, _ string) string {
		callbacks++
		return string(body)
	}, opts)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(results), 2)
	assert.Equal(t, map[string]string{"k1": "GET /item/k1", "k2": "GET /item/k2"}, results.Values())
	assert.Equal(t, 2, callbacks, "no callback for abandoned operations")
	assert.Equal(t, 5, poller.removed)
	assert.True(t, poller.closed)
	assertReleased(t, ops)
}

// steppingPoller performs one operation per Perform call and asks to be
// called again until all are done.
type steppingPoller struct {
	ctx   context.Context
	queue []*request.Operation
	ready []Completion
	calls int
}

func (p *steppingPoller) Register(op *request.Operation) error {
	p.queue = append(p.queue, op)
	return nil
}

func (p *steppingPoller) Perform() error {
	p.calls++
	if len(p.queue) == 0 {
		return nil
	}
	op := p.queue[0]
	p.queue = p.queue[1:]
	p.ready = append(p.ready, Completion{Op: op, Err: op.Perform(p.ctx)})
	if len(p.queue) > 0 {
		return ErrPerformAgain
	}
	return nil
}

func (p *steppingPoller) Next() (Completion, bool) {
	if len(p.ready) == 0 {
		return Completion{}, false
	}
	c := p.ready[0]
	p.ready = p.ready[1:]
	return c, true
}

func (p *steppingPoller) Wait(time.Duration) (int, error) { return len(p.ready), nil }
func (p *steppingPoller) Remove(*request.Operation) error { return nil }
func (p *steppingPoller) Close() error                    { return nil }

func TestRunAll_PerformAgain(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	set, ops := buildSet(t, mock.URL(), "a", "b", "c")

	var poller *steppingPoller
	results, err := FetchAll(testContext(t), set, Options{
		NewPoller: func(ctx context.Context) Poller {
			poller = &steppingPoller{ctx: ctx}
			return poller
		},
	})
	require.NoError(t, err)

	assert.Len(t, results, 3)
	assert.Equal(t, 3, poller.calls)
	assertReleased(t, ops)
}
