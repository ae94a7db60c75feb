package notify

import (
	_ "embed"
	"fmt"
	"html"
	"os"
	"regexp"
	"slices"
	"strings"
)

//go:embed notification.html
var defaultTemplate string

// templatePlaceholders matches the literal {{KEY}} fields of a template.
// This is deliberately not Go templating: properties are substituted
// verbatim after HTML escaping, with no conditionals or pipelines.
var templatePlaceholders = regexp.MustCompile(`\{\{([A-Z][A-Z0-9_]*)\}\}`)

// Template is an HTML mail body with {{KEY}} placeholders.
type Template struct {
	body string
}

// DefaultTemplate returns the template compiled into the binary.
func DefaultTemplate() *Template {
	return &Template{body: defaultTemplate}
}

// LoadTemplate reads a template from path.
func LoadTemplate(path string) (*Template, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading notification template: %w", err)
	}
	return &Template{body: string(body)}, nil
}

// Render substitutes the notification's properties into the template,
// HTML-escaping every value. The notification subject is available as
// {{SUBJECT}}. Placeholders with no matching property are left in place;
// MissingProperties surfaces them ahead of time.
func (t *Template) Render(n *Notification) string {
	body := strings.ReplaceAll(t.body, "{{SUBJECT}}", html.EscapeString(n.Subject))
	for key, value := range n.Properties {
		body = strings.ReplaceAll(body, "{{"+key+"}}", html.EscapeString(value))
	}
	return body
}

// Placeholders lists the distinct placeholder keys the template references,
// sorted.
func (t *Template) Placeholders() []string {
	var keys []string
	for _, m := range templatePlaceholders.FindAllStringSubmatch(t.body, -1) {
		if !slices.Contains(keys, m[1]) {
			keys = append(keys, m[1])
		}
	}
	slices.Sort(keys)
	return keys
}

// MissingProperties reports the placeholders that none of the given property
// keys fill. Useful at startup to catch templates written for a different
// set of notifications.
func (t *Template) MissingProperties(keys []string) []string {
	var missing []string
	for _, placeholder := range t.Placeholders() {
		if !slices.Contains(keys, placeholder) {
			missing = append(missing, placeholder)
		}
	}
	return missing
}
