package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/clientfactory/internal/operation"
	"github.com/example/clientfactory/internal/request"
)

func newCallCommand(a *app) *cobra.Command {
	var (
		static  []string
		dryRun  bool
		extract string
		fail    bool
	)
	cmd := &cobra.Command{
		Use:   "call <operation> [key=value...]",
		Short: "Call an operation once",
		Long: `Call an operation once. Path parameters, declared query parameters and
body fields are all passed as key=value. Values are read as YAML scalars, so
qty=2 sends a number and tags=[a,b] sends a list.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(true, func(ctx context.Context, args []string) error {
			kwargs, err := parseKV(args[1:])
			if err != nil {
				return err
			}
			m, err := a.mixer(args[0])
			if err != nil {
				return err
			}

			chain := m.Chain()
			if len(static) > 0 {
				params, err := parseKV(static)
				if err != nil {
					return err
				}
				chain = chain.Params(params)
			}
			if dryRun {
				chain = chain.Prep()
			}
			res, err := chain.Execute(ctx, kwargs)
			if err != nil {
				return err
			}

			switch v := res.(type) {
			case *operation.Executable:
				return a.printRequest(v.Request())
			case *request.Response:
				if fail {
					if err := v.StatusError(); err != nil {
						_ = a.printResponse(v)
						return err
					}
				}
				if extract != "" {
					out, err := v.Extract(extract)
					if err != nil {
						return err
					}
					return a.printValue(out)
				}
				return a.printResponse(v)
			default:
				return a.printValue(v)
			}
		}),
	}
	cmd.Flags().StringArrayVar(&static, "static", nil, "Static param sent with the call (key=value), can be repeated")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the request without sending it")
	cmd.Flags().StringVar(&extract, "extract", "", "JMESPath expression applied to the JSON response")
	cmd.Flags().BoolVar(&fail, "fail", false, "Exit with an error on a non-2xx status")
	return cmd
}

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}
