package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/ggonzalez94/xswap/internal/amount"
	"github.com/ggonzalez94/xswap/internal/model"
)

// Options selects how an envelope is written.
type Options struct {
	Mode         string
	SelectFields []string
	ResultsOnly  bool
}

func Render(w io.Writer, env model.Envelope, opts Options) error {
	data := env.Data
	if len(opts.SelectFields) > 0 {
		data = project(data, opts.SelectFields)
	}

	if opts.ResultsOnly {
		if opts.Mode == "json" {
			return writeJSON(w, data)
		}
		return renderPlain(w, data)
	}

	if opts.Mode == "json" {
		env.Data = data
		return writeJSON(w, env)
	}

	plain := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	if env.Error != nil {
		plain["error"] = env.Error
	}
	return renderPlain(w, plain)
}

// StatusLine formats one tracker update for plain output. Terminal successes
// are green, refunds and cancellations yellow, failed polls red.
func StatusLine(u model.StatusUpdate) string {
	ts := u.ObservedAt.UTC().Format("15:04:05")
	if u.Failed() {
		return color.RedString("%s poll %d %s: %s", ts, u.Poll, u.OrderID, u.Error)
	}
	status := string(u.Status)
	switch u.Status {
	case model.OrderStatusFulfilled, model.OrderStatusClaimedUnlock:
		status = color.GreenString("%s", status)
	case model.OrderStatusOrderCancelled, model.OrderStatusClaimedOrderCancel, model.OrderStatusSentOrderCancel:
		status = color.YellowString("%s", status)
	default:
		status = color.CyanString("%s", status)
	}
	return fmt.Sprintf("%s poll %d %s: %s", ts, u.Poll, u.OrderID, status)
}

// QuoteLine summarizes a quote for plain output.
func QuoteLine(q model.Quote, costs model.CostSummary) string {
	src := fmt.Sprintf("%s %s", q.Source.Amount.AmountDecimal, q.Source.Symbol)
	dst := fmt.Sprintf("%s %s", q.Destination.Amount.AmountDecimal, q.Destination.Symbol)
	line := fmt.Sprintf("%s (chain %d) -> %s (chain %d), fees %s %s",
		src, q.Source.ChainID, color.New(color.Bold).Sprint(dst), q.Destination.ChainID, costs.TotalFee, costs.Symbol)
	if q.ApproximateDelayS != nil {
		line += fmt.Sprintf(", ~%ds", *q.ApproximateDelayS)
	}
	if q.RecommendedSlippage != "" {
		line += ", slippage " + q.RecommendedSlippage + "%"
	}
	return line
}

// FeeBreakdown lists the itemized costs of a quote using its source token
// decimals.
func FeeBreakdown(q model.Quote) []string {
	lines := make([]string, 0, len(q.Costs))
	for _, c := range q.Costs {
		display, err := amount.ToDecimalAmount(c.AmountIn, q.Source.Amount.Decimals)
		if err != nil {
			display = c.AmountIn
		}
		lines = append(lines, fmt.Sprintf("  %-28s %s", c.Type, display))
	}
	return lines
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for i := 0; i < v.Len(); i++ {
			line, err := toLine(normalizeValue(v.Index(i).Interface()))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

// projectMap keeps the named fields. Dotted names reach into nested objects,
// e.g. "destination.amount".
func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookupPath(m, f); ok {
			out[f] = v
		}
	}
	return out
}

func lookupPath(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, t[k]))
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
