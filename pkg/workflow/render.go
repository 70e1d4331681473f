package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/systemstart/dbt-pulse/pkg/api"
)

// renderOverlay expands template expressions in select, exclude and the
// top-level string values of vars.
func renderOverlay(o api.Overlay, data map[string]any) (api.Overlay, error) {
	var err error
	if o.Select, err = renderString("select", o.Select, data); err != nil {
		return o, err
	}
	if o.Exclude, err = renderString("exclude", o.Exclude, data); err != nil {
		return o, err
	}

	if o.Vars.Len() == 0 {
		return o, nil
	}

	var vars api.Vars
	for _, key := range o.Vars.Keys() {
		raw, _ := o.Vars.Raw(key)

		var s string
		if json.Unmarshal(raw, &s) != nil {
			if err := vars.Set(key, raw); err != nil {
				return o, err
			}
			continue
		}

		rendered, err := renderString("vars."+key, s, data)
		if err != nil {
			return o, err
		}
		if err := vars.Set(key, rendered); err != nil {
			return o, err
		}
	}
	o.Vars = vars
	return o, nil
}

func renderString(name, text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing template %s: %w", name, err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return b.String(), nil
}
