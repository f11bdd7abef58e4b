package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/clientfactory/internal/generator"
)

func newGenerateCommand(a *app) *cobra.Command {
	var (
		count int
		seed  uint64
		types bool
	)
	cmd := &cobra.Command{
		Use:   "generate <faker:type|sequence[:start[:step]]>",
		Short: "Preview the values a generator produces",
		Args: func(cmd *cobra.Command, args []string) error {
			if types {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: a.run(false, func(_ context.Context, args []string) error {
			if types {
				if a.output == "json" {
					return a.writeJSON(generator.FakerTypes())
				}
				_, err := fmt.Fprintln(a.out, strings.Join(generator.FakerTypes(), "\n"))
				return err
			}
			cfg, err := generator.Parse(args[0])
			if err != nil {
				return usageErr("%v", err)
			}
			cfg.Count, cfg.Seed = count, seed
			vals, err := generator.Values(cfg)
			if err != nil {
				return usageErr("%v", err)
			}
			if a.output == "json" {
				return a.writeJSON(vals)
			}
			for _, v := range vals {
				if _, err := fmt.Fprintln(a.out, v); err != nil {
					return err
				}
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&count, "count", 10, "Number of values")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Faker seed (0 picks a random seed)")
	cmd.Flags().BoolVar(&types, "types", false, "List the faker types")
	return cmd
}
