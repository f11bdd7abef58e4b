package mixer

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clientfactory/internal/bulk"
	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/iteration"
	"github.com/example/clientfactory/internal/operation"
	"github.com/example/clientfactory/internal/request"
)

type recordingPort struct {
	mu   sync.Mutex
	sent []*request.Request
}

func (p *recordingPort) Send(_ context.Context, req *request.Request) (*request.Response, error) {
	p.mu.Lock()
	p.sent = append(p.sent, req)
	p.mu.Unlock()
	return request.NewResponse(request.ResponseParts{StatusCode: http.StatusOK, Request: req}), nil
}

func (p *recordingPort) params() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]any, len(p.sent))
	for i, r := range p.sent {
		out[i] = r.Params()
	}
	return out
}

var (
	apiTarget    = request.Target{BaseURL: "https://shop.test"}
	listProducts = request.Template{Name: "products.list", Method: request.GET, Path: "/products", QueryParams: []string{"page"}}
	createOrder  = request.Template{Name: "orders.create", Method: request.POST, Path: "/orders"}
	getProduct   = request.Template{Name: "products.get", Method: request.GET, Path: "/products/{id}"}
)

func newMixer(tmpl request.Template) (*Mixer, *recordingPort) {
	port := &recordingPort{}
	return New(operation.New(tmpl, apiTarget, port)), port
}

func TestMergeStrategies(t *testing.T) {
	existing := map[string]any{
		"a":    1,
		"tags": []string{"x"},
		"nest": map[string]any{"keep": 1, "over": 1},
	}
	incoming := map[string]any{
		"b":    2,
		"tags": []string{"y"},
		"nest": map[string]any{"over": 2},
	}

	tests := []struct {
		strategy MergeStrategy
		want     map[string]any
	}{
		{Replace, map[string]any{"b": 2, "tags": []string{"y"}, "nest": map[string]any{"over": 2}}},
		{Update, map[string]any{"a": 1, "b": 2, "tags": []string{"y"}, "nest": map[string]any{"over": 2}}},
		{Deep, map[string]any{"a": 1, "b": 2, "tags": []string{"y"}, "nest": map[string]any{"keep": 1, "over": 2}}},
		{Append, map[string]any{"a": 1, "b": 2, "tags": []string{"x", "y"}, "nest": map[string]any{"over": 2}}},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			got, err := tt.strategy.Merge(existing, incoming)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, []string{"x"}, existing["tags"])
	assert.Equal(t, map[string]any{"keep": 1, "over": 1}, existing["nest"])

	got, err := Append.Merge(map[string]any{"v": []int{1}}, map[string]any{"v": []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got["v"])

	_, err = ParseMergeStrategy("zip")
	assert.True(t, errs.IsConfiguration(err))
}

func TestMixer_NothingConfiguredInvokesDirectly(t *testing.T) {
	m, port := newMixer(listProducts)

	result, err := m.Execute(context.Background(), map[string]any{"page": 2})
	require.NoError(t, err)
	assert.IsType(t, &request.Response{}, result)
	assert.Equal(t, []map[string]any{{"page": 2}}, port.params())
}

func TestMixer_ParamsPersistAndCallKwargsWin(t *testing.T) {
	m, port := newMixer(listProducts)
	require.NoError(t, m.Configure(CapParams, map[string]any{"category": "shoes", "locale": "en"}))

	_, err := m.Execute(context.Background(), map[string]any{"locale": "de"})
	require.NoError(t, err)
	_, err = m.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []map[string]any{
		{"category": "shoes", "locale": "de"},
		{"category": "shoes", "locale": "en"},
	}, port.params())
	assert.Equal(t, []string{CapParams}, m.Configured())

	m.Reset()
	assert.Empty(t, m.Configured())
}

func TestMixer_ConflictsAreSymmetric(t *testing.T) {
	m, _ := newMixer(listProducts)
	require.NoError(t, m.Configure(CapIter, map[string]any{"param": "page", "end": 2}))
	err := m.Configure(CapBatch, map[string]any{"items": []Item{{}}})
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))

	m, _ = newMixer(listProducts)
	require.NoError(t, m.Configure(CapBatch, map[string]any{"items": []Item{{}}}))
	assert.True(t, errs.IsConfiguration(m.Configure(CapIter, map[string]any{"param": "page"})))

	assert.NoError(t, m.Configure(CapBatch, map[string]any{"pool": 2}))
}

func TestMixer_ConfigureValidation(t *testing.T) {
	m, _ := newMixer(listProducts)

	for name, err := range map[string]error{
		"unknown capability": m.Configure("cache", nil),
		"unknown until key":  m.Configure(CapUntil, map[string]any{"limit": 3}),
		"bad break":          m.Configure(CapUntil, map[string]any{"breaks": "soon"}),
		"bad iter value":     m.Configure(CapIter, map[string]any{"every": "often"}),
		"bad iter policy":    m.Configure(CapIter, map[string]any{"onerror": "shrug"}),
		"bad batch mode":     m.Configure(CapBatch, map[string]any{"mode": "fanout"}),
		"bad batch hook":     m.Configure(CapBatch, map[string]any{"rollback": 42}),
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errs.IsConfiguration(err), "got %v", err)
		})
	}
	assert.Empty(t, m.Configured())
}

func TestMixer_IterSeparatesStaticParams(t *testing.T) {
	m, port := newMixer(listProducts)
	require.NoError(t, m.Configure(CapParams, map[string]any{"locale": "en"}))
	require.NoError(t, m.Configure(CapIter, map[string]any{
		"param": "page",
		"start": 1,
		"end":   3,
		"brand": "nike",
		"_mode": "fast",
		"_raw":  true,
	}))

	result, err := m.Execute(context.Background(), map[string]any{"size": 42})
	require.NoError(t, err)

	run, ok := result.(*iteration.Run)
	require.True(t, ok)
	assert.Len(t, run.Results, 3)
	assert.Equal(t, 3, run.Context.Iterations)

	sent := port.params()
	require.Len(t, sent, 3)
	assert.Equal(t, map[string]any{"page": 3, "brand": "nike", "mode": "fast", "_raw": true, "locale": "en", "size": 42}, sent[2])

	assert.Equal(t, []string{CapParams}, m.Configured())
}

func TestMixer_UntilFeedsIter(t *testing.T) {
	m, port := newMixer(listProducts)

	result, err := m.Chain().
		Until(iteration.MaxIterations(2)).
		Iter(map[string]any{"param": "page", "values": []int{1, 2, 3, 4}}).
		Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Len(t, result.(*iteration.Run).Results, 2)
	assert.Len(t, port.params(), 2)
	assert.Empty(t, m.Configured())
}

func TestMixer_IterAccumulatesStaticParams(t *testing.T) {
	m, port := newMixer(listProducts)

	chain := m.Chain().
		Iter(map[string]any{"param": "page", "values": []int{1, 2}, "brand": "nike"}).
		Iter(map[string]any{"size": "M"})
	require.NoError(t, chain.Err())

	conf, ok := m.Config(CapIter)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"brand": "nike", "size": "M"}, conf["static"])

	_, err := chain.Execute(context.Background(), nil)
	require.NoError(t, err)

	sent := port.params()
	require.Len(t, sent, 2)
	for _, p := range sent {
		assert.Equal(t, "nike", p["brand"])
		assert.Equal(t, "M", p["size"])
	}
}

func TestMixer_BatchPreparesItems(t *testing.T) {
	m, port := newMixer(createOrder)
	require.NoError(t, m.Configure(CapBatch, map[string]any{
		"items": []map[string]any{{"sku": "a"}},
	}))
	require.NoError(t, m.Configure(CapBatch, map[string]any{
		"items":     Item{Kwargs: map[string]any{"sku": "b", "qty": 3}},
		"aggregate": "count",
	}))

	result, err := m.Execute(context.Background(), map[string]any{"qty": 1})
	require.NoError(t, err)

	res, ok := result.(*bulk.Result)
	require.True(t, ok)
	assert.Equal(t, bulk.Counts{Successes: 2, Total: 2}, res.Aggregate)

	require.Len(t, port.sent, 2)
	assert.Equal(t, map[string]any{"sku": "a", "qty": 1}, port.sent[0].JSON())
	assert.Equal(t, map[string]any{"sku": "b", "qty": 3}, port.sent[1].JSON())
	assert.Empty(t, m.Configured())
}

func TestMixer_BatchWithDependencies(t *testing.T) {
	m, port := newMixer(getProduct)

	result, err := m.Chain().Batch(
		Item{ID: "second", Kwargs: map[string]any{"id": 2}, After: []string{"first"}},
		Item{ID: "first", Kwargs: map[string]any{"id": 1}},
	).Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, result.(*bulk.Result).Order)
	require.Len(t, port.sent, 2)
	assert.Equal(t, "https://shop.test/products/1", port.sent[0].URL())
}

func TestMixer_BatchFailsOnInvalidItem(t *testing.T) {
	m, port := newMixer(getProduct)

	_, err := m.Chain().Batch(Item{Kwargs: map[string]any{}}).Execute(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, port.sent)
}

func TestMixer_PrepReturnsExecutable(t *testing.T) {
	m, port := newMixer(getProduct)

	result, err := m.Chain().Prep().Execute(context.Background(), map[string]any{"id": 5})
	require.NoError(t, err)
	assert.Empty(t, port.sent)

	exe, ok := result.(*operation.Executable)
	require.True(t, ok)
	assert.Equal(t, "https://shop.test/products/5", exe.Request().URL())

	_, err = exe.Execute(context.Background())
	require.NoError(t, err)
	assert.Len(t, port.sent, 1)
}

// stub is a configurable capability for ordering tests.
type stub struct {
	meta      Metadata
	transform func(Call) map[string]any
	execute   func(Call) (any, error)
}

func (s stub) Metadata() Metadata                                    { return s.meta }
func (s stub) Configure(opts map[string]any) (map[string]any, error) { return opts, nil }

type stubTransform struct{ stub }

func (s stubTransform) Transform(_ context.Context, c Call) (map[string]any, error) {
	return s.transform(c), nil
}

type stubTerminal struct{ stub }

func (s stubTerminal) Execute(_ context.Context, c Call) (any, error) { return s.execute(c) }

func TestMixer_PriorityOrderAndPeers(t *testing.T) {
	m, port := newMixer(listProducts)

	require.NoError(t, m.Register(stubTransform{stub{
		meta: Metadata{Name: "stamp", Priority: 2, Mode: Transform},
		transform: func(c Call) map[string]any {
			out := map[string]any{"stamped": c.Kwargs["locale"]}
			for k, v := range c.Kwargs {
				out[k] = v
			}
			return out
		},
	}}))
	require.NoError(t, m.Register(stub{meta: Metadata{Name: "note", Priority: 0, Mode: Deferred, AutoReset: true}}))
	require.NoError(t, m.Register(stubTerminal{stub{
		meta: Metadata{Name: "dry", Priority: 5, Mode: Terminal, AutoReset: true},
		execute: func(c Call) (any, error) {
			return []any{c.Kwargs, c.Peers["note"]["text"]}, nil
		},
	}}))

	chain := m.Chain().
		With("dry", nil).
		With("note", map[string]any{"text": "hi"}).
		With("stamp", nil).
		Params(map[string]any{"locale": "en"})
	result, err := chain.Execute(context.Background(), map[string]any{"page": 1})
	require.NoError(t, err)

	assert.Equal(t, []any{map[string]any{"locale": "en", "stamped": "en", "page": 1}, "hi"}, result)
	assert.Empty(t, port.sent)
	assert.Equal(t, []string{CapParams, "stamp"}, m.Configured())
}

func TestMixer_RegisterValidation(t *testing.T) {
	m, _ := newMixer(listProducts)

	assert.True(t, errs.IsConfiguration(m.Register(stub{meta: Metadata{Name: CapIter, Mode: Deferred}})))
	assert.True(t, errs.IsConfiguration(m.Register(stub{meta: Metadata{Mode: Deferred}})))
	assert.True(t, errs.IsConfiguration(m.Register(stub{meta: Metadata{Name: "t", Mode: Terminal}})))
	assert.True(t, errs.IsConfiguration(m.Register(stub{meta: Metadata{Name: "x", Mode: Transform}})))
}

func TestMixer_TerminalErrorStillResets(t *testing.T) {
	m, _ := newMixer(listProducts)
	boom := errors.New("boom")
	require.NoError(t, m.Register(stubTerminal{stub{
		meta:    Metadata{Name: "fail", Priority: 3, Mode: Terminal, AutoReset: true},
		execute: func(Call) (any, error) { return nil, boom },
	}}))

	_, err := m.Chain().With("fail", nil).Execute(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.Configured())
}

func TestChain_KeepsFirstError(t *testing.T) {
	m, port := newMixer(listProducts)

	chain := m.Chain().
		Iter(map[string]any{"param": "page", "end": 2}).
		Batch(Item{}).
		Params(map[string]any{"never": true})
	require.Error(t, chain.Err())

	_, err := chain.Execute(context.Background(), nil)
	assert.True(t, errs.IsConfiguration(err))
	assert.Empty(t, port.sent)
	assert.Empty(t, m.Configured())
}
