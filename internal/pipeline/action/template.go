package action

import (
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// resolveValue copies an entity field when value is exactly one placeholder
// ("{{field}}"), keeping the field's type. Strings with embedded placeholders
// are rendered as text and other values are returned unchanged.
func resolveValue(entity model.FieldReader, value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	trimmed := strings.TrimSpace(s)
	m := placeholderPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return value
	}
	if m[0] != trimmed {
		return renderTemplate(entity, s)
	}
	v, _ := entity.Field(m[1])
	return v
}

// renderTemplate expands every "{{field}}" placeholder with the field's text form.
// Unknown fields render as the empty string.
func renderTemplate(entity model.FieldReader, text string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := entity.Field(name)
		if !ok || v == nil {
			return ""
		}
		return cast.ToString(v)
	})
}
