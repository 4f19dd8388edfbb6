package compute

import "github.com/adlens/adlens/pkg/types"

// historyWindow is the number of recent runs tracked for success_pct.
const historyWindow = 20

// stateRank orders states by urgency.
var stateRank = map[string]int{
	types.StateOK:       0,
	types.StateWarning:  1,
	types.StateCritical: 2,
}

// StateOf derives a result state from its findings. Info findings never
// raise the state.
func StateOf(findings []types.Finding) string {
	state := types.StateOK
	for _, f := range findings {
		s := stateForSeverity(f.Severity)
		if stateRank[s] > stateRank[state] {
			state = s
		}
	}
	return state
}

func stateForSeverity(sev string) string {
	switch sev {
	case types.SeverityCritical:
		return types.StateCritical
	case types.SeverityWarning:
		return types.StateWarning
	default:
		return types.StateOK
	}
}
