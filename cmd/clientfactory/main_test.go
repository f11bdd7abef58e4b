package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/metrics"
)

const shopCatalog = `
name: shop
baseURL: %s
resourcePath: v1
operations:
  - name: products.list
    method: GET
    path: /products
    query: [page, category]
  - name: products.get
    method: GET
    path: /products/{id}
    description: Fetch one product
  - name: orders.create
    method: POST
    path: /orders
    payload:
      fields:
        sku: {rules: required}
        qty: {rules: "gt=0", default: 1}
`

// shop is a fake API. Pages above 3 do not exist and sku "bad" is rejected.
type shop struct {
	srv *httptest.Server

	mu     sync.Mutex
	orders []map[string]any
}

func newShop(t *testing.T) *shop {
	t.Helper()
	s := &shop{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/products", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page > 3 {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "no such page"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"page": page, "category": r.URL.Query().Get("category")})
	})
	mux.HandleFunc("GET /v1/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "name": "shoe"})
	})
	mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		s.mu.Lock()
		s.orders = append(s.orders, body)
		s.mu.Unlock()
		if body["sku"] == "bad" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown sku"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": fmt.Sprintf("ord-%v", body["sku"])})
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *shop) received() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.orders...)
}

func (s *shop) skus() []any {
	var out []any
	for _, o := range s.received() {
		out = append(out, o["sku"])
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type harness struct {
	shop        *shop
	dir         string
	configPath  string
	catalogPath string
}

func newHarness(t *testing.T, config string) *harness {
	t.Helper()
	s := newShop(t)
	dir := t.TempDir()
	if config == "" {
		config = "log:\n  level: error\n"
	}
	return &harness{
		shop:        s,
		dir:         dir,
		configPath:  writeFile(t, dir, "clientfactory.yaml", config),
		catalogPath: writeFile(t, dir, "shop.yaml", fmt.Sprintf(shopCatalog, s.srv.URL)),
	}
}

func (h *harness) run(args ...string) (*app, string, error) {
	var out bytes.Buffer
	a := newApp(&out)
	cmd := newRootCommand(a)
	cmd.SetArgs(append([]string{"--config", h.configPath, "--catalog", h.catalogPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return a, out.String(), err
}

func TestCatalogList(t *testing.T) {
	h := newHarness(t, "")

	_, out, err := h.run("catalog", "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, out, "orders.create")
	assert.Contains(t, out, "/products/{id}")
	assert.Contains(t, out, "Fetch one product")
}

func TestCatalogShow(t *testing.T) {
	h := newHarness(t, "")

	_, out, err := h.run("catalog", "show", "orders.create")
	require.NoError(t, err)
	assert.Contains(t, out, "POST /orders")
	assert.Contains(t, out, "qty, sku")
	assert.Contains(t, out, "true")

	_, out, err = h.run("-o", "json", "catalog", "show", "products.get")
	require.NoError(t, err)
	var view operationView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, []string{"id"}, view.PathParams)
	assert.False(t, view.Validated)

	_, _, err = h.run("catalog", "show", "nope")
	assert.True(t, errs.IsConfiguration(err))
}

func TestCall_PathParamAndExtract(t *testing.T) {
	h := newHarness(t, "")

	_, out, err := h.run("call", "products.get", "id=7", "--extract", "name")
	require.NoError(t, err)
	assert.Equal(t, "shoe\n", out)

	_, out, err = h.run("call", "products.get", "id=7")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "200 GET "+h.shop.srv.URL+"/v1/products/7"), out)
}

func TestCall_JSONBody(t *testing.T) {
	h := newHarness(t, "")

	_, out, err := h.run("-o", "json", "call", "orders.create", "sku=A-1", "qty=2")
	require.NoError(t, err)

	var view responseView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, http.StatusCreated, view.Status)
	assert.Equal(t, map[string]any{"id": "ord-A-1"}, view.Body)
	assert.Equal(t, []map[string]any{{"sku": "A-1", "qty": float64(2)}}, h.shop.received())
}

func TestCall_ValidationFailsBeforeSending(t *testing.T) {
	h := newHarness(t, "")

	_, _, err := h.run("call", "orders.create", "qty=2")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, exitValidation, exitCode(err))
	assert.Empty(t, h.shop.received())
}

func TestCall_FailOnStatus(t *testing.T) {
	h := newHarness(t, "")

	_, _, err := h.run("call", "orders.create", "sku=bad")
	require.NoError(t, err)

	_, out, err := h.run("call", "orders.create", "sku=bad", "--fail")
	require.Error(t, err)
	assert.Contains(t, out, "400")
	assert.Equal(t, exitError, exitCode(err))
}

func TestCall_DryRun(t *testing.T) {
	h := newHarness(t, "")

	_, out, err := h.run("call", "orders.create", "sku=X", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "POST "+h.shop.srv.URL+"/v1/orders")
	assert.Contains(t, out, `"sku":"X"`)
	assert.Empty(t, h.shop.received())
}

func TestCall_BadArguments(t *testing.T) {
	h := newHarness(t, "")

	_, _, err := h.run("call", "products.get", "7")
	assert.ErrorIs(t, err, errUsage)

	_, _, err = h.run("-o", "yaml", "catalog", "list")
	assert.ErrorIs(t, err, errUsage)
	assert.Equal(t, exitConfiguration, exitCode(err))

	_, _, err = h.run("call", "products.remove")
	assert.True(t, errs.IsConfiguration(err))
}

func TestIterate_StopsOnStatus(t *testing.T) {
	h := newHarness(t, "")

	_, out, err := h.run("iterate", "products.list", "--param", "page", "--start", "1", "--end", "10", "--stop-on-status", "404")
	require.NoError(t, err)
	assert.Contains(t, out, "#3 200")
	assert.Contains(t, out, "#4 404")
	assert.NotContains(t, out, "#5")
	assert.Contains(t, out, "iterations=4 attempts=4 errors=0")
}

func TestIterate_StopsOnBadRequest(t *testing.T) {
	h := newHarness(t, "")

	_, out, err := h.run("iterate", "products.list", "--param", "page", "--start", "1", "--end", "10", "--stop-on-bad-request")
	require.NoError(t, err)
	assert.Contains(t, out, "#4 404")
	assert.NotContains(t, out, "#5")

	iterate, _, err := newRootCommand(newApp(&bytes.Buffer{})).Find([]string{"iterate"})
	require.NoError(t, err)
	assert.Contains(t, iterate.Flags().Lookup("stop-on-bad-request").Usage, "non-2xx")
}

func TestIterate_ValuesAsJSON(t *testing.T) {
	h := newHarness(t, "")

	_, out, err := h.run("-o", "json", "iterate", "products.list", "--param", "page", "--values", "1,2", "category=hats")
	require.NoError(t, err)

	var run struct {
		Iterations int            `json:"iterations"`
		Results    []responseView `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, 2, run.Iterations)
	require.Len(t, run.Results, 2)
	assert.Equal(t, map[string]any{"page": float64(2), "category": "hats"}, run.Results[1].Body)
}

func TestIterate_GeneratedValuesWithStopAfter(t *testing.T) {
	h := newHarness(t, "")

	_, out, err := h.run("iterate", "products.list", "--param", "category", "--generate", "sequence:1", "--count", "5", "--stop-after", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "iterations=2 attempts=2 errors=0")

	_, _, err = h.run("iterate", "products.list", "--values", "1", "--generate", "sequence")
	assert.ErrorIs(t, err, errUsage)

	_, _, err = h.run("iterate", "products.list", "--generate", "dice:6")
	assert.ErrorIs(t, err, errUsage)
}

func TestBatch_FileWithDependencies(t *testing.T) {
	h := newHarness(t, "")
	file := writeFile(t, h.dir, "orders.yaml", `
items:
  - id: second
    kwargs: {sku: B}
    after: [first]
  - id: first
    kwargs: {sku: A}
  - kwargs: {sku: bad}
`)

	_, out, err := h.run("batch", "orders.create", "--file", file, "--aggregate", "count", "qty=3")
	require.NoError(t, err)

	assert.Equal(t, []any{"A", "B", "bad"}, h.shop.skus())
	for _, o := range h.shop.received() {
		assert.Equal(t, float64(3), o["qty"])
	}
	assert.Contains(t, out, "second 201")
	assert.Contains(t, out, "item-3 400")
	assert.Contains(t, out, `aggregate: {"failures":1,"successes":2,"total":3}`)
	assert.Contains(t, out, "executed=3 failed=0 stopped=false")
}

func TestBatch_GeneratedParallel(t *testing.T) {
	h := newHarness(t, "")

	_, out, err := h.run("-o", "json", "batch", "orders.create", "--generate", "sku=sequence:100:10", "--count", "4", "--parallel", "--pool", "2")
	require.NoError(t, err)

	var res struct {
		Items []struct {
			ID       string        `json:"id"`
			Response *responseView `json:"response"`
		} `json:"items"`
		Order []string `json:"order"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Items, 4)
	assert.Equal(t, "item-1", res.Items[0].ID)
	require.NotNil(t, res.Items[3].Response)
	assert.Equal(t, map[string]any{"id": "ord-130"}, res.Items[3].Response.Body)
	assert.Len(t, res.Order, 4)
	assert.ElementsMatch(t, []any{float64(100), float64(110), float64(120), float64(130)}, h.shop.skus())
}

func TestBatch_Errors(t *testing.T) {
	h := newHarness(t, "")

	_, _, err := h.run("batch", "orders.create")
	assert.ErrorIs(t, err, errUsage)

	dependent := writeFile(t, h.dir, "dependent.yaml", `
- {id: a, kwargs: {sku: A}}
- {id: b, kwargs: {sku: B}, after: [a]}
`)
	_, _, err = h.run("batch", "orders.create", "--file", dependent, "--parallel")
	assert.True(t, errs.IsConfiguration(err))

	invalid := writeFile(t, h.dir, "invalid.yaml", "- {kwargs: {qty: 1}}\n")
	_, _, err = h.run("batch", "orders.create", "--file", invalid)
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, h.shop.received())
}

func TestMetricsRecorded(t *testing.T) {
	h := newHarness(t, `
log:
  level: error
metrics:
  enabled: true
  address: 127.0.0.1:0
`)

	a, _, err := h.run("batch", "orders.create", "--generate", "sku=faker:uuid", "--count", "2", "--seed", "3")
	require.NoError(t, err)

	prom, ok := a.recorder.(*metrics.Prometheus)
	require.True(t, ok)
	families, err := prom.Gather()
	require.NoError(t, err)

	var bulkItems float64
	for _, f := range families {
		if f.GetName() != "clientfactory_bulk_items_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			bulkItems += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, bulkItems)
}

func TestGenerate(t *testing.T) {
	h := newHarness(t, "")

	_, out, err := h.run("generate", "sequence:5:5", "--count", "3")
	require.NoError(t, err)
	assert.Equal(t, "5\n10\n15\n", out)

	_, out, err = h.run("generate", "--types")
	require.NoError(t, err)
	assert.Contains(t, strings.Split(out, "\n"), "email")

	_, first, err := h.run("generate", "faker:email", "--count", "2", "--seed", "9")
	require.NoError(t, err)
	_, second, err := h.run("generate", "faker:email", "--count", "2", "--seed", "9")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMissingCatalog(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "clientfactory.yaml", "log:\n  level: error\n")

	var out bytes.Buffer
	cmd := newRootCommand(newApp(&out))
	cmd.SetArgs([]string{"--config", configPath, "catalog", "list"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
	assert.Equal(t, exitConfiguration, exitCode(err))
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand(newApp(&out))
	cmd.SetArgs([]string{"--version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), version)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"validation", errs.Validation("call", "missing sku"), exitValidation},
		{"configuration", errs.Configuration("setup", "no catalog"), exitConfiguration},
		{"usage", usageErr("bad flag"), exitConfiguration},
		{"other", errors.New("boom"), exitError},
		{"rollback after validation", &errs.RollbackError{
			Trigger: errs.Validation("bulk", "bad item"),
			Err:     errors.New("undo failed"),
		}, exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"2", 2},
		{"1.5", 1.5},
		{"true", true},
		{"[a, b]", []any{"a", "b"}},
		{"{x: 1}", map[string]any{"x": 1}},
		{"shoes", "shoes"},
		{"", ""},
		{"null", "null"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseValue(tt.in), tt.in)
	}

	kwargs, err := parseKV([]string{"id=7", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": 7, "note": "a=b"}, kwargs)

	_, err = parseKV([]string{"=x"})
	assert.ErrorIs(t, err, errUsage)
}
