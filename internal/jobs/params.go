// Package jobs turns a subscription's declared job into concrete job
// parameters and builds queueable jobs from them.
package jobs

import (
	"strings"

	"github.com/djlord-it/findingsd/internal/conditions"
	"github.com/djlord-it/findingsd/internal/domain"
)

// Parameter names with special meaning.
const (
	ParamProjectID           = "projectId"
	ParamCustomJobName       = "customJobName"
	ParamCustomJobParameters = "customJobParameters"
	ParamName                = "name"
	ParamCode                = "code"
	ParamType                = "type"
	ParamLanguage            = "language"
	ParamMilliCPULimit       = "jobpodmillicpulimit"
	ParamMemoryKbLimit       = "jobpodmemorykblimit"
)

// SubstituteParameters returns a copy of params with every ${...} value
// resolved against f. Nested parameter lists are substituted one level
// deep. params is left untouched.
func SubstituteParameters(params []domain.JobParameter, f *domain.Finding) []domain.JobParameter {
	ctx := conditions.NewContext(f)
	out := make([]domain.JobParameter, len(params))
	for i, p := range params {
		out[i] = domain.JobParameter{Name: p.Name, Value: substituteValue(p.Value, ctx, true)}
	}
	return out
}

func substituteValue(v any, ctx conditions.Context, descend bool) any {
	switch nested := v.(type) {
	case []domain.JobParameter:
		cp := make([]domain.JobParameter, len(nested))
		for i, p := range nested {
			if descend {
				cp[i] = domain.JobParameter{Name: p.Name, Value: substituteValue(p.Value, ctx, false)}
			} else {
				cp[i] = domain.JobParameter{Name: p.Name, Value: copyValue(p.Value)}
			}
		}
		return cp
	default:
		return ctx.Substitute(v)
	}
}

// copyValue clones slices so callers can mutate the result freely.
func copyValue(v any) any {
	switch nested := v.(type) {
	case []domain.JobParameter:
		cp := make([]domain.JobParameter, len(nested))
		for i, p := range nested {
			cp[i] = domain.JobParameter{Name: p.Name, Value: copyValue(p.Value)}
		}
		return cp
	case []any:
		return append([]any(nil), nested...)
	case []string:
		return append([]string(nil), nested...)
	}
	return v
}

// CloneParameters deep-copies a parameter list.
func CloneParameters(params []domain.JobParameter) []domain.JobParameter {
	if params == nil {
		return nil
	}
	out := make([]domain.JobParameter, len(params))
	for i, p := range params {
		out[i] = domain.JobParameter{Name: p.Name, Value: copyValue(p.Value)}
	}
	return out
}

// Lookup returns the value of the first parameter named name, compared
// case-insensitively.
func Lookup(params []domain.JobParameter, name string) (any, bool) {
	for _, p := range params {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return nil, false
}
