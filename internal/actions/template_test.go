package actions

import (
	"testing"

	"github.com/convoflowhq/convoflow/internal/model"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name   string
		tpl    model.CallTemplate
		fields map[string]string
		want   string
	}{
		{
			name:   "plain substitution",
			tpl:    model.CallTemplate{Body: `{"date":"{{date}}","guests":"{{guests}}"}`},
			fields: map[string]string{"date": "2026-09-12", "guests": "4"},
			want:   `{"date":"2026-09-12","guests":"4"}`,
		},
		{
			name:   "whitespace inside braces",
			tpl:    model.CallTemplate{Body: `{{ date }}`},
			fields: map[string]string{"date": "2026-09-12"},
			want:   "2026-09-12",
		},
		{
			name: "mapping renames a field onto the placeholder",
			tpl: model.CallTemplate{
				Body:             `{"when":"{{when}}"}`,
				VariablesMapping: map[string]string{"when": "date"},
			},
			fields: map[string]string{"date": "2026-09-12"},
			want:   `{"when":"2026-09-12"}`,
		},
		{
			name:   "unknown placeholder renders empty",
			tpl:    model.CallTemplate{Body: `{"x":"{{missing}}"}`},
			fields: map[string]string{"date": "2026-09-12"},
			want:   `{"x":""}`,
		},
		{
			name:   "no placeholders passes through",
			tpl:    model.CallTemplate{Body: `{"static":true}`},
			fields: nil,
			want:   `{"static":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderTemplate(tt.tpl, tt.fields); got != tt.want {
				t.Errorf("RenderTemplate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildVariablesMappingOverlays(t *testing.T) {
	fields := map[string]string{"date": "2026-09-12", "name": "Ana"}
	vars := BuildVariables(fields, map[string]string{"when": "date", "who": "absent"})

	if vars["when"] != "2026-09-12" {
		t.Errorf("mapped placeholder = %q", vars["when"])
	}
	if vars["name"] != "Ana" {
		t.Errorf("unmapped field lost: %q", vars["name"])
	}
	if _, ok := vars["who"]; ok {
		t.Error("mapping to an absent field produced a variable")
	}
}
