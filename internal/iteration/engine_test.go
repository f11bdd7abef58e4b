package iteration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/metrics"
	"github.com/example/clientfactory/internal/request"
)

var errUnavailable = errors.New("service unavailable")

// fakeInvoker records every call. fail decides whether a call fails, given
// the 1-based call number and its kwargs.
type fakeInvoker struct {
	calls   []map[string]any
	fail    func(n int, kwargs map[string]any) error
	params  []string
	choices map[string][]any
}

func (f *fakeInvoker) Invoke(_ context.Context, kwargs map[string]any) (any, error) {
	f.calls = append(f.calls, kwargs)
	if f.fail != nil {
		if err := f.fail(len(f.calls), kwargs); err != nil {
			return nil, err
		}
	}
	return fmt.Sprint(kwargs), nil
}

func (f *fakeInvoker) Parameters() []string      { return f.params }
func (f *fakeInvoker) Choices(name string) []any { return f.choices[name] }
func (f *fakeInvoker) Name() string              { return "fake.list" }

// recordingSleeper records requested delays without sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestEngine(inv Invoker, opts ...EngineOption) (*Engine, *recordingSleeper) {
	s := &recordingSleeper{}
	return NewEngine(inv, append([]EngineOption{WithSleeper(s.sleep)}, opts...)...), s
}

func TestEngine_SinglePrimaryCycle(t *testing.T) {
	inv := &fakeInvoker{}
	engine, _ := newTestEngine(inv)

	run, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("page", Range(1, 3, 1)),
		Static:  map[string]any{"category": "shoes", "page": 99},
	})
	require.NoError(t, err)
	assert.Len(t, run.Results, 3)
	assert.Equal(t, []map[string]any{
		{"category": "shoes", "page": 1},
		{"category": "shoes", "page": 2},
		{"category": "shoes", "page": 3},
	}, inv.calls)
	assert.Equal(t, 3, run.Context.Iterations)
	assert.Equal(t, 3, run.Context.Attempts)
}

func TestEngine_ProductMode(t *testing.T) {
	inv := &fakeInvoker{}
	engine, _ := newTestEngine(inv)

	_, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("brand", Values("nike", "adidas")),
		Cycles:  []*Cycle{NewCycle("size", Values("S", "M"))},
		Mode:    Product,
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"brand": "nike", "size": "S"},
		{"brand": "nike", "size": "M"},
		{"brand": "adidas", "size": "S"},
		{"brand": "adidas", "size": "M"},
	}, inv.calls)
}

func TestEngine_ProductOfThreeCycles(t *testing.T) {
	inv := &fakeInvoker{}
	engine, _ := newTestEngine(inv)

	_, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("a", Values(1, 2)),
		Cycles:  []*Cycle{NewCycle("b", Values(1, 2, 3)), NewCycle("c", Values(1, 2))},
		Mode:    Product,
	})
	require.NoError(t, err)
	assert.Len(t, inv.calls, 12)
	assert.Equal(t, map[string]any{"a": 1, "b": 1, "c": 2}, inv.calls[1])
}

func TestEngine_SequentialModeWalksEachSecondary(t *testing.T) {
	inv := &fakeInvoker{}
	engine, _ := newTestEngine(inv)

	_, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("page", Values(1, 2)),
		Cycles:  []*Cycle{NewCycle("size", Values("S", "M")), NewCycle("color", Values("red"))},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"page": 1, "size": "S"},
		{"page": 1, "size": "M"},
		{"page": 1, "color": "red"},
		{"page": 2, "size": "S"},
		{"page": 2, "size": "M"},
		{"page": 2, "color": "red"},
	}, inv.calls)
}

func TestEngine_ContinueSkipsFailedCall(t *testing.T) {
	inv := &fakeInvoker{fail: func(n int, _ map[string]any) error {
		if n == 3 {
			return errUnavailable
		}
		return nil
	}}
	engine, _ := newTestEngine(inv)

	run, err := engine.Run(context.Background(), Spec{Primary: NewCycle("page", Range(1, 5, 1), OnError(Continue))})
	require.NoError(t, err)
	assert.Len(t, run.Results, 4)
	assert.NotContains(t, run.Results, fmt.Sprint(map[string]any{"page": 3}))
	assert.Equal(t, 5, run.Context.Attempts)
	assert.Equal(t, 4, run.Context.Iterations)
	assert.Equal(t, 1, run.Context.Errors.Total)
	assert.Equal(t, 0, run.Context.Errors.Consecutive)
}

func TestEngine_RetryExhaustsThenStops(t *testing.T) {
	inv := &fakeInvoker{fail: func(_ int, kw map[string]any) error {
		if kw["page"] == 2 {
			return errUnavailable
		}
		return nil
	}}
	engine, sleeper := newTestEngine(inv)

	run, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("page", Range(1, 5, 1), OnError(Retry), Retries(3, 250*time.Millisecond)),
	})
	require.ErrorIs(t, err, errUnavailable)
	assert.Len(t, run.Results, 1)
	assert.Len(t, inv.calls, 1+4)
	assert.Equal(t, 5, run.Context.Attempts)
	assert.Equal(t, 4, run.Context.Errors.Consecutive)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}, sleeper.delays)
}

func TestEngine_RetryRecovers(t *testing.T) {
	inv := &fakeInvoker{fail: func(n int, _ map[string]any) error {
		if n <= 2 {
			return errUnavailable
		}
		return nil
	}}
	engine, sleeper := newTestEngine(inv, WithBackoff(Exponential{Initial: 100 * time.Millisecond, Multiplier: 2}))

	run, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("page", Values(1), OnError(Retry), Retries(5, time.Second)),
	})
	require.NoError(t, err)
	assert.Len(t, run.Results, 1)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.delays)
}

func TestEngine_StopReturnsFirstError(t *testing.T) {
	inv := &fakeInvoker{fail: func(n int, _ map[string]any) error {
		if n == 2 {
			return errUnavailable
		}
		return nil
	}}
	engine, _ := newTestEngine(inv)

	run, err := engine.Run(context.Background(), Spec{Primary: NewCycle("page", Range(1, 5, 1), OnError(Stop))})
	require.ErrorIs(t, err, errUnavailable)
	assert.Len(t, run.Results, 1)
	assert.Len(t, inv.calls, 2)
}

func TestEngine_CallbackDecidesRetry(t *testing.T) {
	var seen []string
	inv := &fakeInvoker{fail: func(n int, _ map[string]any) error {
		if n == 1 {
			return errUnavailable
		}
		if n == 3 {
			return errors.New("gone")
		}
		return nil
	}}
	engine, _ := newTestEngine(inv)

	run, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("page", Range(1, 3, 1), WithCallback(func(err error, c *Cycle) bool {
			seen = append(seen, c.Param()+":"+err.Error())
			return errors.Is(err, errUnavailable)
		})),
	})
	require.EqualError(t, err, "gone")
	assert.Len(t, run.Results, 1)
	assert.Equal(t, []string{"page:service unavailable", "page:gone"}, seen)
}

func TestEngine_InnermostCycleGovernsPolicy(t *testing.T) {
	inv := &fakeInvoker{fail: func(_ int, kw map[string]any) error {
		if kw["size"] == "M" {
			return errUnavailable
		}
		return nil
	}}
	engine, _ := newTestEngine(inv)

	run, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("brand", Values("nike", "adidas"), OnError(Stop)),
		Cycles:  []*Cycle{NewCycle("size", Values("S", "M"), OnError(Continue))},
		Mode:    Product,
	})
	require.NoError(t, err)
	assert.Len(t, run.Results, 2)
	assert.Len(t, inv.calls, 4)
}

func TestEngine_ValidationErrorsAreNeverRetried(t *testing.T) {
	inv := &fakeInvoker{fail: func(int, map[string]any) error {
		return errs.Validation("request.build", "bad")
	}}
	engine, sleeper := newTestEngine(inv)

	run, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("page", Range(1, 3, 1), OnError(Retry), Retries(5, time.Second)),
	})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Len(t, inv.calls, 1)
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, 0, run.Context.Errors.Total)
}

func TestEngine_MaxIterationsBreak(t *testing.T) {
	inv := &fakeInvoker{}
	engine, _ := newTestEngine(inv)

	run, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("page", Values(1, 2, 3, 4, 5)),
		Breaks:  []BreakCondition{MaxIterations(2)},
	})
	require.NoError(t, err)
	assert.Len(t, run.Results, 2)
	assert.Len(t, inv.calls, 2)
}

func TestEngine_ConsecutiveErrorsBreak(t *testing.T) {
	inv := &fakeInvoker{fail: func(n int, _ map[string]any) error {
		if n >= 2 {
			return errUnavailable
		}
		return nil
	}}
	engine, _ := newTestEngine(inv)

	run, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("page", Start(1)),
		Breaks:  []BreakCondition{ConsecutiveErrors(3)},
	})
	require.NoError(t, err)
	assert.Len(t, run.Results, 1)
	assert.Len(t, inv.calls, 4)
}

func TestEngine_WhenBreakSeesResult(t *testing.T) {
	inv := &fakeInvoker{}
	engine, _ := newTestEngine(inv)

	results := 0
	for result, err := range engine.Iterate(context.Background(), Spec{
		Primary: NewCycle("page", Start(1)),
		Breaks: []BreakCondition{When(func(r any) bool {
			return r == fmt.Sprint(map[string]any{"page": 4})
		})},
	}) {
		require.NoError(t, err)
		require.NotNil(t, result)
		results++
	}
	assert.Equal(t, 4, results)
}

func TestEngine_StatusBreaks(t *testing.T) {
	statuses := []int{200, 200, 404, 200}
	inv := InvokerFunc(func(_ context.Context, kw map[string]any) (any, error) {
		return request.NewResponse(request.ResponseParts{StatusCode: statuses[kw["page"].(int)]}), nil
	})

	for name, cond := range map[string]BreakCondition{
		"status code": StatusCode(http.StatusNotFound),
		"bad request": BadRequest(),
		"any":         Any(MaxIterations(10), BadRequest()),
		"all":         All(BadRequest(), MaxIterations(3)),
	} {
		t.Run(name, func(t *testing.T) {
			engine, _ := newTestEngine(inv)
			run, err := engine.Run(context.Background(), Spec{
				Primary: NewCycle("page", Range(0, 3, 1)),
				Breaks:  []BreakCondition{cond},
			})
			require.NoError(t, err)
			assert.Len(t, run.Results, 3)
		})
	}
}

func TestEngine_StoreResults(t *testing.T) {
	engine, _ := newTestEngine(&fakeInvoker{})
	run, err := engine.Run(context.Background(), Spec{Primary: NewCycle("page", Values(1, 2)), StoreResults: true})
	require.NoError(t, err)
	assert.Equal(t, run.Results, run.Context.Results)

	run, err = engine.Run(context.Background(), Spec{Primary: NewCycle("page", Values(1, 2))})
	require.NoError(t, err)
	assert.Empty(t, run.Context.Results)
}

func TestEngine_ContextIsResetPerCall(t *testing.T) {
	engine, _ := newTestEngine(&fakeInvoker{})
	spec := Spec{Primary: NewCycle("page", Values(1, 2, 3))}

	first, err := engine.Run(context.Background(), spec)
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Context.Iterations)
	assert.Equal(t, 3, second.Context.Iterations)
}

func TestEngine_DiscoversPrimaryParam(t *testing.T) {
	tests := []struct {
		name   string
		params []string
		want   string
	}{
		{"page first", []string{"skip", "pageno"}, "pageno"},
		{"offset fallback", []string{"id", "offset"}, "offset"},
		{"case insensitive", []string{"Page"}, "Page"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{params: tt.params}
			engine, _ := newTestEngine(inv)
			_, err := engine.Run(context.Background(), Spec{Primary: NewCycle("", Values(1))})
			require.NoError(t, err)
			assert.Equal(t, []map[string]any{{tt.want: 1}}, inv.calls)
		})
	}

	engine, _ := newTestEngine(&fakeInvoker{params: []string{"id"}})
	_, err := engine.Run(context.Background(), Spec{Primary: NewCycle("", Values(1))})
	assert.True(t, errs.IsConfiguration(err))

	plain, _ := newTestEngine(InvokerFunc(func(context.Context, map[string]any) (any, error) { return nil, nil }))
	_, err = plain.Run(context.Background(), Spec{Primary: NewCycle("", Values(1))})
	assert.True(t, errs.IsConfiguration(err))
}

func TestEngine_InfersValuesFromChoices(t *testing.T) {
	inv := &fakeInvoker{choices: map[string][]any{"sort": {"asc", "desc"}}}
	engine, _ := newTestEngine(inv)

	run, err := engine.Run(context.Background(), Spec{Primary: NewCycle("sort")})
	require.NoError(t, err)
	assert.Len(t, run.Results, 2)

	_, err = engine.Run(context.Background(), Spec{Primary: NewCycle("region")})
	assert.True(t, errs.IsConfiguration(err))
}

func TestEngine_ConfigurationErrors(t *testing.T) {
	engine, _ := newTestEngine(&fakeInvoker{})
	for name, spec := range map[string]Spec{
		"no primary":        {},
		"unknown mode":      {Primary: NewCycle("p", Values(1)), Mode: "zigzag"},
		"unnamed secondary": {Primary: NewCycle("p", Values(1)), Cycles: []*Cycle{NewCycle("", Values(1))}},
		"zero step":         {Primary: NewCycle("p", Range(1, 2, 0))},
		"missing callback":  {Primary: NewCycle("p", Values(1), OnError(Callback))},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := engine.Run(context.Background(), spec)
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
		})
	}
}

func TestEngine_CancelledContext(t *testing.T) {
	inv := &fakeInvoker{}
	engine, _ := newTestEngine(inv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got int
	for _, err := range engine.Iterate(ctx, Spec{Primary: NewCycle("page", Start(1))}) {
		if err != nil {
			require.ErrorIs(t, err, context.Canceled)
			break
		}
		got++
		if got == 3 {
			cancel()
		}
	}
	assert.Equal(t, 3, got)
	assert.Len(t, inv.calls, 3)
}

func TestEngine_SleeperErrorEndsRetry(t *testing.T) {
	inv := &fakeInvoker{fail: func(int, map[string]any) error { return errUnavailable }}
	engine := NewEngine(inv, WithSleeper(func(context.Context, time.Duration) error { return context.DeadlineExceeded }))

	_, err := engine.Run(context.Background(), Spec{Primary: NewCycle("page", Values(1), OnError(Retry))})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, inv.calls, 1)
}

func TestEngine_LogsAndMetrics(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	recorder := metrics.NewPrometheus(metrics.PrometheusConfig{Namespace: "itertest"})
	inv := &fakeInvoker{fail: func(n int, _ map[string]any) error {
		if n == 1 {
			return errUnavailable
		}
		return nil
	}}
	engine, _ := newTestEngine(inv, WithLogger(zap.New(core)), WithRecorder(recorder))

	_, err := engine.Run(context.Background(), Spec{
		Primary: NewCycle("page", Values(1, 2, 3), OnError(Retry), Retries(1, 0)),
		Breaks:  []BreakCondition{MaxIterations(2)},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("retrying failed call").Len())
	assert.Equal(t, 1, logs.FilterMessage("iteration stopped by break condition").Len())
	assert.Equal(t, "fake.list", logs.All()[0].ContextMap()["operation"])

	count, err := testutil.GatherAndCount(recorder.Registry(), "itertest_retries_total", "itertest_breaks_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("nested")
	require.NoError(t, err)
	assert.Equal(t, Product, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Sequential, m)

	_, err = ParseMode("parallel")
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Constant(time.Second).Delay(7))

	e := Exponential{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, e.Delay(1))
	assert.Equal(t, 200*time.Millisecond, e.Delay(2))
	assert.Equal(t, 300*time.Millisecond, e.Delay(3))

	j := Exponential{Initial: 100 * time.Millisecond, Multiplier: 2, Jitter: 0.25}
	d := j.Delay(1)
	assert.GreaterOrEqual(t, d, 75*time.Millisecond)
	assert.LessOrEqual(t, d, 125*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}
