package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/clientfactory/internal/generator"
	"github.com/example/clientfactory/internal/iteration"
)

type iterateFlags struct {
	param    string
	start    string
	end      string
	step     string
	values   []string
	generate string
	count    int
	seed     uint64
	cycles   []string
	mode     string
	onError  string
	retries  int
	static   []string

	stopAfter        int
	stopAfterErrors  int
	stopOnStatus     []int
	stopOnBadRequest bool
}

func newIterateCommand(a *app) *cobra.Command {
	f := &iterateFlags{}
	cmd := &cobra.Command{
		Use:   "iterate <operation> [key=value...]",
		Short: "Call an operation repeatedly over a range of parameter values",
		Long: `Call an operation once per value of an iterated parameter.

Values come from a range (--start/--end/--step), a list (--values) or a
generator (--generate faker:<type> or sequence[:start[:step]]). Without
--param the operation's page parameter is used. Extra cycles (--cycle
name=a,b) are combined sequentially or as a product (--mode).`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(true, func(ctx context.Context, args []string) error {
			kwargs, err := parseKV(args[1:])
			if err != nil {
				return err
			}
			opts, err := f.options()
			if err != nil {
				return err
			}
			m, err := a.mixer(args[0])
			if err != nil {
				return err
			}

			chain := m.Chain()
			if len(f.static) > 0 {
				params, err := parseKV(f.static)
				if err != nil {
					return err
				}
				chain = chain.Params(params)
			}
			if breaks := f.breaks(); len(breaks) > 0 {
				chain = chain.Until(breaks...)
			}
			res, err := chain.Iter(opts).Execute(ctx, kwargs)
			if run, ok := res.(*iteration.Run); ok {
				if perr := a.printRun(run); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		}),
	}

	fl := cmd.Flags()
	fl.StringVar(&f.param, "param", "", "Parameter to iterate (default: the operation's page parameter)")
	fl.StringVar(&f.start, "start", "", "Range start")
	fl.StringVar(&f.end, "end", "", "Range end (inclusive)")
	fl.StringVar(&f.step, "step", "", "Range step")
	fl.StringSliceVar(&f.values, "values", nil, "Explicit values (comma separated)")
	fl.StringVar(&f.generate, "generate", "", "Value generator, e.g. faker:email or sequence:1:2")
	fl.IntVar(&f.count, "count", 10, "Number of generated values")
	fl.Uint64Var(&f.seed, "seed", 0, "Faker seed (0 picks a random seed)")
	fl.StringArrayVar(&f.cycles, "cycle", nil, "Additional cycle (name=v1,v2), can be repeated")
	fl.StringVar(&f.mode, "mode", "sequential", "How cycles combine (sequential, product)")
	fl.StringVar(&f.onError, "on-error", "", "Error policy (continue, stop, retry)")
	fl.IntVar(&f.retries, "retries", 0, "Retries per value with --on-error retry")
	fl.StringArrayVar(&f.static, "static", nil, "Static param sent with every call (key=value), can be repeated")
	fl.IntVar(&f.stopAfter, "stop-after", 0, "Stop after this many successful calls")
	fl.IntVar(&f.stopAfterErrors, "stop-after-errors", 0, "Stop after this many consecutive errors")
	fl.IntSliceVar(&f.stopOnStatus, "stop-on-status", nil, "Stop when a response has one of these status codes")
	fl.BoolVar(&f.stopOnBadRequest, "stop-on-bad-request", false, "Stop on the first non-2xx response")
	return cmd
}

// options translates the flags into iter capability config.
func (f *iterateFlags) options() (map[string]any, error) {
	opts := map[string]any{"store": true}
	if f.param != "" {
		opts["param"] = f.param
	}
	if f.start != "" {
		opts["start"] = parseValue(f.start)
	}
	if f.end != "" {
		opts["end"] = parseValue(f.end)
	}
	if f.step != "" {
		opts["step"] = parseValue(f.step)
	}

	sources := 0
	if len(f.values) > 0 {
		opts["values"] = parseValues(f.values)
		sources++
	}
	if f.generate != "" {
		cfg, err := generator.Parse(f.generate)
		if err != nil {
			return nil, usageErr("--generate: %v", err)
		}
		cfg.Count, cfg.Seed = f.count, f.seed
		vals, err := generator.Values(cfg)
		if err != nil {
			return nil, usageErr("--generate: %v", err)
		}
		opts["values"] = vals
		sources++
	}
	if sources > 1 {
		return nil, usageErr("--values and --generate are mutually exclusive")
	}

	if len(f.cycles) > 0 {
		cycles := make([]*iteration.Cycle, 0, len(f.cycles))
		for _, spec := range f.cycles {
			name, list, ok := strings.Cut(spec, "=")
			if !ok || name == "" || list == "" {
				return nil, usageErr("--cycle: expected name=v1,v2, got %q", spec)
			}
			cycles = append(cycles, iteration.NewCycle(name, iteration.Values(parseValues(strings.Split(list, ","))...)))
		}
		opts["cycles"] = cycles
		opts["mode"] = f.mode
	}

	if f.onError != "" {
		opts["onerror"] = f.onError
	}
	if f.retries > 0 {
		opts["maxretries"] = f.retries
	}
	return opts, nil
}

func (f *iterateFlags) breaks() []iteration.BreakCondition {
	var out []iteration.BreakCondition
	if f.stopAfter > 0 {
		out = append(out, iteration.MaxIterations(f.stopAfter))
	}
	if f.stopAfterErrors > 0 {
		out = append(out, iteration.ConsecutiveErrors(f.stopAfterErrors))
	}
	if len(f.stopOnStatus) > 0 {
		out = append(out, iteration.StatusCode(f.stopOnStatus...))
	}
	if f.stopOnBadRequest {
		out = append(out, iteration.BadRequest())
	}
	return out
}
