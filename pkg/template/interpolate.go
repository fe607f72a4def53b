// Package template implements a minimal, safe `{{identifier}}` interpolator,
// deliberately short of full Jinja2/Handlebars template evaluation: flat-map
// lookups only, no expressions, no control flow.
package template

import "regexp"

var placeholder = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Interpolate replaces every `{{identifier}}` occurrence in tmpl with the
// matching entry from vars. An identifier with no entry in vars is left
// untouched (rather than replaced with an empty string) so a missing
// variable is visible in the rendered text instead of silently vanishing.
func Interpolate(tmpl string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}
