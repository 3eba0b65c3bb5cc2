package workflow

import "regexp"

var placeholderPattern = regexp.MustCompile(`\{\{(.+?)\}\}`)

// Interpolate substitutes every {{name}} occurrence in s with the value of
// the matching workflow variable. A placeholder whose name is absent from
// vars is left untouched.
func Interpolate(s string, vars map[string]Variable) string {
	if s == "" || len(vars) == 0 {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := vars[name]
		if !ok {
			return match
		}
		return v.Value
	})
}

// InterpolateStep returns a copy of d with {{name}} placeholders in
// target/value/description/condition resolved from vars. Called once at
// Run start, before Step records are persisted.
func InterpolateStep(d StepDefinition, vars map[string]Variable) StepDefinition {
	d.Target = Interpolate(d.Target, vars)
	d.Value = Interpolate(d.Value, vars)
	d.Description = Interpolate(d.Description, vars)
	d.Condition = Interpolate(d.Condition, vars)
	return d
}
