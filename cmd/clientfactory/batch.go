package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/example/clientfactory/internal/bulk"
	"github.com/example/clientfactory/internal/generator"
	"github.com/example/clientfactory/internal/mixer"
)

// batchFile is the request file format:
//
//	items:
//	  - id: first
//	    kwargs: {sku: A-1, qty: 2}
//	  - id: second
//	    kwargs: {sku: A-2}
//	    after: [first]
//
// A bare list of items is accepted as well.
type batchFile struct {
	Items []batchItem `yaml:"items"`
}

type batchItem struct {
	ID     string         `yaml:"id"`
	Kwargs map[string]any `yaml:"kwargs"`
	After  []string       `yaml:"after"`
}

type batchFlags struct {
	file      string
	generate  []string
	count     int
	seed      uint64
	parallel  bool
	pool      int
	onError   string
	aggregate string
	delay     time.Duration
}

func newBatchCommand(a *app) *cobra.Command {
	f := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "batch <operation> [key=value...]",
		Short: "Execute many calls of an operation as one batch",
		Long: `Execute many calls of an operation as one batch.

Items come from a request file (--file) or from generators (--generate
param=faker:email --count 5). key=value arguments are shared by every item
and item kwargs override them. Items may depend on other items by ID
(sequential mode only).`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(true, func(ctx context.Context, args []string) error {
			kwargs, err := parseKV(args[1:])
			if err != nil {
				return err
			}
			items, err := f.items()
			if err != nil {
				return err
			}
			m, err := a.mixer(args[0])
			if err != nil {
				return err
			}

			opts := map[string]any{"items": items}
			if f.parallel {
				opts["mode"] = "parallel"
			}
			if f.pool > 0 {
				opts["pool"] = f.pool
			}
			if f.onError != "" {
				opts["onerror"] = f.onError
			}
			if f.aggregate != "" {
				opts["aggregate"] = f.aggregate
			}
			if f.delay > 0 {
				opts["delay"] = f.delay
			}

			res, err := m.Chain().With(mixer.CapBatch, opts).Execute(ctx, kwargs)
			if result, ok := res.(*bulk.Result); ok {
				if perr := a.printBatch(items, result, f.aggregate != ""); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		}),
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "YAML file with batch items")
	fl.StringArrayVar(&f.generate, "generate", nil, "Generated param (param=faker:type or param=sequence:start:step), can be repeated")
	fl.IntVar(&f.count, "count", 10, "Number of generated items")
	fl.Uint64Var(&f.seed, "seed", 0, "Faker seed (0 picks a random seed)")
	fl.BoolVar(&f.parallel, "parallel", false, "Run items concurrently")
	fl.IntVar(&f.pool, "pool", 0, "Worker pool size for parallel mode (default from bulk.pool_size)")
	fl.StringVar(&f.onError, "on-error", "", "Error policy (continue, stop)")
	fl.StringVar(&f.aggregate, "aggregate", "", "Aggregation (all, first, last, success, failure, first_success, count)")
	fl.DurationVar(&f.delay, "delay", 0, "Minimum delay between item starts")
	return cmd
}

// items reads the request file and the generators. Every item gets an ID so
// output lines can be matched to result slots.
func (f *batchFlags) items() ([]mixer.Item, error) {
	var raw []batchItem
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return nil, usageErr("--file: %v", err)
		}
		if raw, err = decodeBatchFile(data); err != nil {
			return nil, usageErr("--file %s: %v", f.file, err)
		}
	}

	if len(f.generate) > 0 {
		generated, err := f.generated()
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			return nil, usageErr("--file and --generate are mutually exclusive")
		}
		raw = generated
	}
	if len(raw) == 0 {
		return nil, usageErr("no batch items: pass --file or --generate")
	}

	items := make([]mixer.Item, len(raw))
	for i, it := range raw {
		id := it.ID
		if id == "" {
			id = fmt.Sprintf("item-%d", i+1)
		}
		items[i] = mixer.Item{ID: id, Kwargs: it.Kwargs, After: it.After}
	}
	return items, nil
}

func (f *batchFlags) generated() ([]batchItem, error) {
	if f.count <= 0 {
		return nil, usageErr("--count must be positive")
	}
	out := make([]batchItem, f.count)
	for i := range out {
		out[i].Kwargs = make(map[string]any, len(f.generate))
	}
	for _, spec := range f.generate {
		param, source, ok := strings.Cut(spec, "=")
		if !ok || param == "" {
			return nil, usageErr("--generate: expected param=generator, got %q", spec)
		}
		cfg, err := generator.Parse(source)
		if err != nil {
			return nil, usageErr("--generate %s: %v", param, err)
		}
		cfg.Count, cfg.Seed = f.count, f.seed
		vals, err := generator.Values(cfg)
		if err != nil {
			return nil, usageErr("--generate %s: %v", param, err)
		}
		for i, v := range vals {
			out[i].Kwargs[param] = v
		}
	}
	return out, nil
}

func decodeBatchFile(data []byte) ([]batchItem, error) {
	var doc batchFile
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Items) > 0 {
		return doc.Items, nil
	}
	var list []batchItem
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}
