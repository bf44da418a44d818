package dispatch

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/osteele/liquid"
)

// Templates renders notification and auto-response email bodies with Liquid.
// Field values are untrusted submitter input; every value is HTML-escaped at
// this rendering boundary, never at ingestion.
type Templates struct {
	engine *liquid.Engine
}

// NewTemplates creates the template engine with the escape filter wired in.
func NewTemplates() *Templates {
	engine := liquid.NewEngine()
	engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})
	return &Templates{engine: engine}
}

const notificationTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, sans-serif; color: #1a1a2e; max-width: 600px; margin: 0 auto;">
  <h2 style="margin-bottom: 4px;">New submission: {{ form_name | escape }}</h2>
  <p style="color: #666; margin-top: 0;">{{ meta | escape }}</p>
  <table style="width: 100%; border-collapse: collapse;">
    {% for field in fields %}
    <tr>
      <td style="padding: 8px; border-bottom: 1px solid #eee; font-weight: 600; vertical-align: top;">{{ field.name | escape }}</td>
      <td style="padding: 8px; border-bottom: 1px solid #eee; white-space: pre-wrap;">{{ field.value | escape }}</td>
    </tr>
    {% endfor %}
  </table>
</body>
</html>`

// RenderNotification builds the HTML body for a submission notification
// email. Fields render in sorted name order so repeat notifications for the
// same form look consistent.
func (t *Templates) RenderNotification(formName string, data map[string]string, meta string) (string, error) {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]map[string]any, 0, len(names))
	for _, name := range names {
		fields = append(fields, map[string]any{"name": name, "value": data[name]})
	}

	out, err := t.engine.ParseAndRenderString(notificationTemplate, liquid.Bindings{
		"form_name": formName,
		"meta":      meta,
		"fields":    fields,
	})
	if err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return out, nil
}

// RenderAutoResponse renders the tenant's auto-response message. The message
// may reference submission fields ({{ name | escape }}); unknown variables
// render empty rather than erroring, since tenants edit these live.
func (t *Templates) RenderAutoResponse(message string, data map[string]string) (string, error) {
	bindings := liquid.Bindings{}
	for k, v := range data {
		bindings[k] = v
	}

	out, err := t.engine.ParseAndRenderString(message, bindings)
	if err != nil {
		// A broken template should not lose the auto-response entirely;
		// fall back to the raw message, escaped.
		return html.EscapeString(message), nil
	}
	// Tenants write plain text or simple HTML; normalize bare newlines so
	// plain-text messages survive HTML rendering.
	if !strings.Contains(out, "<") {
		out = strings.ReplaceAll(html.EscapeString(out), "\n", "<br>")
	}
	return out, nil
}
