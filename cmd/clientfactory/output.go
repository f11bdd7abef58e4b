package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/clientfactory/internal/bulk"
	"github.com/example/clientfactory/internal/iteration"
	"github.com/example/clientfactory/internal/mixer"
	"github.com/example/clientfactory/internal/request"
)

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// responseView is the JSON rendering of a response. Body holds the decoded
// JSON, or the raw text when the body is not JSON.
type responseView struct {
	Status    int    `json:"status"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Method    string `json:"method,omitempty"`
	URL       string `json:"url,omitempty"`
	Body      any    `json:"body,omitempty"`
}

func viewOf(resp *request.Response) responseView {
	v := responseView{Status: resp.StatusCode(), ElapsedMS: resp.Elapsed().Milliseconds()}
	if req := resp.Request(); req != nil {
		v.Method, v.URL = req.Method().String(), req.URL()
	}
	if body, err := resp.JSON(); err == nil {
		v.Body = body
	} else if text := resp.Text(); text != "" {
		v.Body = text
	}
	return v
}

func (a *app) printResponse(resp *request.Response) error {
	if a.output == "json" {
		return a.writeJSON(viewOf(resp))
	}
	v := viewOf(resp)
	fmt.Fprintf(a.out, "%d %s %s (%dms)\n", v.Status, v.Method, v.URL, v.ElapsedMS)
	if text := resp.Text(); text != "" {
		fmt.Fprintln(a.out, strings.TrimRight(text, "\n"))
	}
	return nil
}

func (a *app) printRequest(req *request.Request) error {
	view := map[string]any{
		"method": req.Method().String(),
		"url":    req.URL(),
	}
	if p := req.Params(); len(p) > 0 {
		view["params"] = p
	}
	if req.HasJSON() {
		view["json"] = req.JSON()
	}
	if a.output == "json" {
		return a.writeJSON(view)
	}
	fmt.Fprintf(a.out, "%s %s\n", view["method"], view["url"])
	if p, ok := view["params"]; ok {
		fmt.Fprintf(a.out, "params: %s\n", compact(p))
	}
	if body, ok := view["json"]; ok {
		fmt.Fprintf(a.out, "json: %s\n", compact(body))
	}
	return nil
}

// printValue prints extracted values and other plain results.
func (a *app) printValue(v any) error {
	if a.output == "json" {
		return a.writeJSON(v)
	}
	switch s := v.(type) {
	case string:
		_, err := fmt.Fprintln(a.out, s)
		return err
	case *request.Response:
		return a.printResponse(s)
	}
	_, err := fmt.Fprintln(a.out, compact(v))
	return err
}

func (a *app) printRun(run *iteration.Run) error {
	ctx := run.Context
	if a.output == "json" {
		results := make([]any, len(run.Results))
		for i, r := range run.Results {
			results[i] = resultView(r)
		}
		failures := make([]string, len(ctx.Errors.History))
		for i, err := range ctx.Errors.History {
			failures[i] = err.Error()
		}
		return a.writeJSON(map[string]any{
			"iterations": ctx.Iterations,
			"attempts":   ctx.Attempts,
			"errors":     failures,
			"results":    results,
		})
	}

	for i, r := range run.Results {
		if resp, ok := r.(*request.Response); ok {
			v := viewOf(resp)
			fmt.Fprintf(a.out, "#%d %d %s (%dms)\n", i+1, v.Status, v.URL, v.ElapsedMS)
			continue
		}
		fmt.Fprintf(a.out, "#%d %s\n", i+1, compact(r))
	}
	for _, err := range ctx.Errors.History {
		fmt.Fprintf(a.out, "error: %v\n", err)
	}
	_, err := fmt.Fprintf(a.out, "iterations=%d attempts=%d errors=%d\n",
		ctx.Iterations, ctx.Attempts, ctx.Errors.Total)
	return err
}

func (a *app) printBatch(items []mixer.Item, res *bulk.Result, showAggregate bool) error {
	type itemView struct {
		ID       string        `json:"id"`
		Response *responseView `json:"response,omitempty"`
		Error    string        `json:"error,omitempty"`
		Skipped  bool          `json:"skipped,omitempty"`
	}
	views := make([]itemView, len(items))
	for i, it := range items {
		views[i].ID = it.ID
		if err, failed := res.Errors[it.ID]; failed {
			views[i].Error = err.Error()
			continue
		}
		if i < len(res.Responses) && res.Responses[i] != nil {
			rv := viewOf(res.Responses[i])
			views[i].Response = &rv
			continue
		}
		views[i].Skipped = true
	}

	if a.output == "json" {
		out := map[string]any{
			"items":   views,
			"order":   res.Order,
			"stopped": res.Stopped,
		}
		if res.Trigger != nil {
			out["trigger"] = res.Trigger.Error()
		}
		if showAggregate {
			out["aggregate"] = resultView(res.Aggregate)
		}
		return a.writeJSON(out)
	}

	for _, v := range views {
		switch {
		case v.Response != nil:
			fmt.Fprintf(a.out, "%s %d %s (%dms)\n", v.ID, v.Response.Status, v.Response.URL, v.Response.ElapsedMS)
		case v.Error != "":
			fmt.Fprintf(a.out, "%s error: %s\n", v.ID, v.Error)
		default:
			fmt.Fprintf(a.out, "%s skipped\n", v.ID)
		}
	}
	if showAggregate {
		fmt.Fprintf(a.out, "aggregate: %s\n", compact(resultView(res.Aggregate)))
	}
	_, err := fmt.Fprintf(a.out, "executed=%d failed=%d stopped=%t\n",
		len(res.Order), len(res.Errors), res.Stopped)
	return err
}

// resultView converts responses inside results to their JSON rendering.
func resultView(v any) any {
	switch r := v.(type) {
	case *request.Response:
		if r == nil {
			return nil
		}
		return viewOf(r)
	case []*request.Response:
		out := make([]any, len(r))
		for i, resp := range r {
			out[i] = resultView(resp)
		}
		return out
	case bulk.Counts:
		return map[string]int{"successes": r.Successes, "failures": r.Failures, "total": r.Total}
	}
	return v
}

func compact(v any) string {
	data, err := json.Marshal(resultView(v))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
