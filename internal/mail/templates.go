package mail

import (
	"bytes"
	"embed"
	"fmt"
	"path"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Rendered is a rendered subject and plain text body.
type Rendered struct {
	Subject string
	Body    string
}

// Renderer holds one parsed template set per email. Each file defines a
// "subject" and a "body" block.
type Renderer struct {
	sets map[string]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	files, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	sets := make(map[string]*template.Template, len(files))
	for _, f := range files {
		name := strings.TrimSuffix(f.Name(), ".tmpl")
		tpl, err := template.New(name).Option("missingkey=error").ParseFS(templateFS, path.Join("templates", f.Name()))
		if err != nil {
			return nil, fmt.Errorf("mail: parse %s: %w", name, err)
		}
		sets[name] = tpl
	}
	return &Renderer{sets: sets}, nil
}

// Render executes the named template.
func (r *Renderer) Render(name string, data any) (Rendered, error) {
	tpl, ok := r.sets[name]
	if !ok {
		return Rendered{}, fmt.Errorf("mail: unknown template %q", name)
	}
	var subject, body bytes.Buffer
	if err := tpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return Rendered{}, fmt.Errorf("mail: render %s subject: %w", name, err)
	}
	if err := tpl.ExecuteTemplate(&body, "body", data); err != nil {
		return Rendered{}, fmt.Errorf("mail: render %s body: %w", name, err)
	}
	return Rendered{Subject: strings.TrimSpace(subject.String()), Body: strings.TrimSpace(body.String()) + "\n"}, nil
}
