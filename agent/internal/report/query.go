package report

import (
	"fmt"
	"strings"
	"time"
)

// DateRange formats a custom DURING value covering [start, end].
func DateRange(start, end time.Time) string {
	return start.Format("20060102") + "," + end.Format("20060102")
}

// Condition is one AWQL WHERE predicate.
type Condition struct {
	Field string
	Op    string // =, !=, >, >=, <, <=, IN, NOT_IN, CONTAINS_IGNORE_CASE, DOES_NOT_CONTAIN_IGNORE_CASE, ...
	Value any    // string, number, or []string for IN / NOT_IN
}

func (c Condition) String() string {
	return c.Field + " " + c.Op + " " + formatValue(c.Value)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return quote(x)
	case []string:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = quote(s)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprint(x)
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// Query is a typed AWQL report query.
type Query struct {
	Entity     EntityType
	Fields     []string
	Conditions []Condition
	During     string
}

// String renders the query as AWQL text.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(q.Fields) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(q.Fields, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(q.Entity.ReportName())
	for i, c := range q.Conditions {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(c.String())
	}
	if q.During != "" {
		b.WriteString(" DURING ")
		b.WriteString(strings.ToUpper(q.During))
	}
	return b.String()
}
