package alerts

import (
	"strconv"
	"strings"

	"github.com/adlens/adlens/pkg/types"
)

// evalCondition evaluates a rule condition string against a job result.
//
// Supported expressions (field operator value):
//
//	state == critical
//	state != ok
//	findings > 0
//	critical_findings > 0
//	warning_findings >= 3
//	changes > 20
//	rows_read < 1
//	rows_skipped > 100
//	summary.pacing_pct > 110
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is
// missing from the result.
func evalCondition(cond string, res *types.Result) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "state" {
		switch op {
		case "==":
			return res.State == rhs, 0
		case "!=":
			return res.State != rhs, 0
		}
		return false, 0
	}

	v, ok := numericField(field, res)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// validCondition reports whether cond parses. Unknown summary keys are
// accepted since summaries differ per job kind.
func validCondition(cond string) bool {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false
	}
	field, op, rhs := parts[0], parts[1], parts[2]
	if field == "state" {
		return op == "==" || op == "!="
	}
	if _, err := strconv.ParseFloat(rhs, 64); err != nil {
		return false
	}
	if !compareOp(op) {
		return false
	}
	if strings.HasPrefix(field, "summary.") {
		return len(field) > len("summary.")
	}
	_, ok := numericField(field, &types.Result{})
	return ok
}

// numericField maps a field name to its value in the result.
func numericField(field string, res *types.Result) (float64, bool) {
	if key, ok := strings.CutPrefix(field, "summary."); ok {
		v, found := res.Summary[key]
		return v, found
	}
	switch field {
	case "findings":
		return float64(len(res.Findings)), true
	case "critical_findings":
		return float64(res.CountBySeverity(types.SeverityCritical)), true
	case "warning_findings":
		return float64(res.CountBySeverity(types.SeverityWarning)), true
	case "changes":
		return float64(len(res.Changes)), true
	case "rows_read":
		return float64(res.RowsRead), true
	case "rows_skipped":
		return float64(res.RowsSkipped), true
	default:
		return 0, false
	}
}

func compareOp(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
		return true
	}
	return false
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
