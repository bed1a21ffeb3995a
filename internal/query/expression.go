package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/syntrixbase/docstore/pkg/model"
)

// compileFilters turns filters into one CEL condition over `doc`.
func compileFilters(filters model.Filters) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	exprs := make([]string, 0, len(filters))
	for _, f := range filters {
		expr, err := filterToExpression(f)
		if err != nil {
			return "", err
		}
		exprs = append(exprs, "("+expr+")")
	}
	return strings.Join(exprs, " && "), nil
}

func filterToExpression(f model.Filter) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}

	parts := strings.Split(f.Field, ".")
	field := "doc"
	for _, p := range parts {
		field += "[" + quote(p) + "]"
	}

	if f.Op == model.OpExists {
		parent := "doc"
		for _, p := range parts[:len(parts)-1] {
			parent += "[" + quote(p) + "]"
		}
		return fmt.Sprintf("%s in %s", quote(parts[len(parts)-1]), parent), nil
	}

	val, err := formatValue(f.Value)
	if err != nil {
		return "", model.Validationf("filter on field [%s]: %v", f.Field, err)
	}

	switch f.Op {
	case model.OpEq, model.OpNe, model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		return fmt.Sprintf("%s %s %s", field, f.Op, val), nil
	case model.OpIn:
		return fmt.Sprintf("%s in %s", field, val), nil
	case model.OpContains:
		return fmt.Sprintf("%s in %s", val, field), nil
	}
	return "", model.Validationf("unsupported operator: %s", f.Op)
}

func quote(s string) string {
	return strconv.Quote(s)
}

// formatValue renders a literal. Numbers are always doubles because
// decoded sources hold float64.
func formatValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return quote(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return formatFloat(float64(val)), nil
	case int32:
		return formatFloat(float64(val)), nil
	case int64:
		return formatFloat(float64(val)), nil
	case float32:
		return formatFloat(float64(val)), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", fmt.Errorf("unsupported number %v", val)
		}
		return formatFloat(val), nil
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			s, err := formatValue(item)
			if err != nil {
				return "", err
			}
			items = append(items, s)
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	}
	return "", fmt.Errorf("unsupported value type: %T", v)
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
