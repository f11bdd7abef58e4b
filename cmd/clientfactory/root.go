package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/example/clientfactory/internal/telemetry"
)

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "clientfactory",
		Short: "Call API operations declared in a catalog",
		Long: `clientfactory calls the operations of an HTTP API declared in a catalog.

The catalog is either a YAML file listing request templates or an OpenAPI 3
document. Settings come from clientfactory.yaml (or --config) and
CLIENTFACTORY_* environment variables.

Examples:
  clientfactory catalog list --catalog shop.yaml
  clientfactory call products.get id=7
  clientfactory call orders.create sku=A-1 qty=2 --extract id
  clientfactory iterate products.list --param page --start 1 --end 5
  clientfactory iterate products.list --generate faker:productCategory --param category --count 3
  clientfactory batch orders.create --file orders.yaml --parallel --pool 4
  clientfactory generate sequence:100:10 --count 5`,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", version, buildTime, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to the configuration file")
	flags.StringVar(&a.catalogPath, "catalog", "", "Catalog file (YAML catalog or OpenAPI document)")
	flags.StringVar(&a.baseURL, "base-url", "", "Override the catalog's base URL")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVarP(&a.output, "output", "o", "text", "Output format (text, json)")

	root.AddCommand(
		newCallCommand(a),
		newIterateCommand(a),
		newBatchCommand(a),
		newCatalogCommand(a),
		newGenerateCommand(a),
	)
	return root
}

// run wraps a command body with setup, a command span and cleanup.
func (a *app) run(needCatalog bool, fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if a.output != "text" && a.output != "json" {
			return fmt.Errorf("%w: unknown output format %q", errUsage, a.output)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		defer a.close(context.WithoutCancel(ctx))
		if err := a.setup(ctx, needCatalog); err != nil {
			return err
		}

		ctx, span := telemetry.StartSpan(ctx, "cli."+cmd.Name())
		defer span.End()
		err := fn(ctx, args)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		telemetry.SetOK(span)
		return nil
	}
}

// parseKV turns key=value arguments into kwargs.
func parseKV(args []string) (map[string]any, error) {
	kwargs := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: expected key=value, got %q", errUsage, arg)
		}
		kwargs[k] = parseValue(v)
	}
	return kwargs, nil
}

// parseValue reads numbers, booleans, lists and maps as YAML and keeps
// everything else as the literal string.
func parseValue(s string) any {
	if s == "" {
		return s
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	switch v.(type) {
	case int, float64, bool, []any, map[string]any:
		return v
	}
	return s
}

func parseValues(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = parseValue(s)
	}
	return out
}
