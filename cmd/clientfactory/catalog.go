package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/clientfactory/internal/errs"
)

func newCatalogCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the operation catalog",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the catalog's operations",
			Args:  cobra.NoArgs,
			RunE:  a.run(true, func(context.Context, []string) error { return a.listCatalog() }),
		},
		&cobra.Command{
			Use:   "show <operation>",
			Short: "Show the parameters of one operation",
			Args:  cobra.ExactArgs(1),
			RunE: a.run(true, func(_ context.Context, args []string) error {
				return a.showOperation(args[0])
			}),
		},
	)
	return cmd
}

type operationView struct {
	Name        string           `json:"name"`
	Method      string           `json:"method"`
	Path        string           `json:"path"`
	Description string           `json:"description,omitempty"`
	PathParams  []string         `json:"path_params,omitempty"`
	Query       []string         `json:"query,omitempty"`
	Body        []string         `json:"body,omitempty"`
	Choices     map[string][]any `json:"choices,omitempty"`
	Validated   bool             `json:"validated"`
}

func (a *app) operationView(name string) (operationView, bool) {
	e, ok := a.catalog.Get(name)
	if !ok {
		return operationView{}, false
	}
	t := e.Template
	return operationView{
		Name:        name,
		Method:      t.Method.String(),
		Path:        t.Path,
		Description: t.Description,
		PathParams:  t.PathParams(),
		Query:       t.QueryParams,
		Body:        t.BodyFields,
		Choices:     t.Choices,
		Validated:   e.Schema != nil,
	}, true
}

func (a *app) listCatalog() error {
	views := make([]operationView, 0, a.catalog.Len())
	for _, name := range a.catalog.Names() {
		v, _ := a.operationView(name)
		views = append(views, v)
	}
	if a.output == "json" {
		return a.writeJSON(map[string]any{
			"name":       a.catalog.Name,
			"base_url":   a.catalog.Target.BaseURL,
			"operations": views,
		})
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMETHOD\tPATH\tDESCRIPTION")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Name, v.Method, v.Path, v.Description)
	}
	return w.Flush()
}

func (a *app) showOperation(name string) error {
	v, ok := a.operationView(name)
	if !ok {
		return errs.Configuration("cli.catalog", "unknown operation %q", name)
	}
	if a.output == "json" {
		return a.writeJSON(v)
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "name:\t%s\n", v.Name)
	fmt.Fprintf(w, "request:\t%s %s\n", v.Method, v.Path)
	if v.Description != "" {
		fmt.Fprintf(w, "description:\t%s\n", v.Description)
	}
	if len(v.PathParams) > 0 {
		fmt.Fprintf(w, "path:\t%s\n", strings.Join(v.PathParams, ", "))
	}
	if len(v.Query) > 0 {
		fmt.Fprintf(w, "query:\t%s\n", strings.Join(v.Query, ", "))
	}
	if len(v.Body) > 0 {
		fmt.Fprintf(w, "body:\t%s\n", strings.Join(v.Body, ", "))
	}
	keys := make([]string, 0, len(v.Choices))
	for k := range v.Choices {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "choices %s:\t%v\n", k, v.Choices[k])
	}
	fmt.Fprintf(w, "validated:\t%t\n", v.Validated)
	return w.Flush()
}
