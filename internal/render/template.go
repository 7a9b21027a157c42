package render

import (
	"regexp"
	"strings"
	"time"
)

var templateVarRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// TemplateContext contains values for template variable substitution.
type TemplateContext struct {
	Name       string
	Email      string
	Date       time.Time
	DateLayout string
}

// ExpandTemplateVariables replaces template variables in text with values from context.
//
// Supported variables:
//   - {{Name}} - Signer name
//   - {{Email}} - Signer email
//   - {{Date}} - Completion date, formatted with DateLayout (default YYYY-MM-DD)
//   - {{Initials}} - Initials derived from name
//
// A zero Date expands to an empty string so output never depends on the clock.
func ExpandTemplateVariables(text string, ctx TemplateContext) string {
	return templateVarRegex.ReplaceAllStringFunc(text, func(match string) string {
		varName := match[2 : len(match)-2] // Remove {{ and }}
		switch varName {
		case "Name":
			return ctx.Name
		case "Email":
			return ctx.Email
		case "Date":
			if ctx.Date.IsZero() {
				return ""
			}
			layout := ctx.DateLayout
			if layout == "" {
				layout = "2006-01-02"
			}
			return ctx.Date.Format(layout)
		case "Initials":
			return ExtractInitials(ctx.Name)
		default:
			return match // Keep unknown variables as-is
		}
	})
}

// ExtractInitials extracts initials from a name.
// "John Doe" -> "JD", "Alice Bob Charlie" -> "ABC"
func ExtractInitials(name string) string {
	var initials strings.Builder
	for _, part := range strings.Fields(name) {
		for _, r := range part {
			initials.WriteRune(r)
			break
		}
	}
	return strings.ToUpper(initials.String())
}
