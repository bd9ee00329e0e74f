// Package actions implements the workflow collaborators: reply delivery,
// human alerting and external HTTP calls (verification and submission).
package actions

import (
	"regexp"
	"strings"

	"github.com/convoflowhq/convoflow/internal/model"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// BuildVariables resolves template variables from captured fields.
// The mapping goes placeholder name -> field key; placeholders without a
// mapping read the field of the same name.
func BuildVariables(fields map[string]string, mapping map[string]string) map[string]string {
	vars := make(map[string]string, len(fields))
	for k, v := range fields {
		vars[k] = v
	}
	for placeholder, fieldKey := range mapping {
		if v, ok := fields[fieldKey]; ok {
			vars[placeholder] = v
		}
	}
	return vars
}

// RenderTemplate substitutes {{name}} placeholders in the template body.
// Unknown placeholders render as empty strings.
func RenderTemplate(tpl model.CallTemplate, fields map[string]string) string {
	vars := BuildVariables(fields, tpl.VariablesMapping)
	return placeholderRe.ReplaceAllStringFunc(tpl.Body, func(m string) string {
		name := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(m, "{{"), "}}"))
		return vars[name]
	})
}
