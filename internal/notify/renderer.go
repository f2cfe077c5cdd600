package notify

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/watchover/watchover/internal/domain"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// IncidentData is the template payload for incident notifications.
type IncidentData struct {
	ID        string
	Title     string
	Priority  string
	Status    string
	CreatedAt time.Time
}

// NewIncidentData builds the template payload from a domain incident.
func NewIncidentData(inc *domain.Incident) IncidentData {
	return IncidentData{
		ID:        inc.ID,
		Title:     inc.Title,
		Priority:  string(inc.Priority),
		Status:    string(inc.Status),
		CreatedAt: inc.CreatedAt,
	}
}

// Renderer renders incident notifications from embedded templates, one
// per channel type.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a renderer and parses all channel templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":      titleCase,
		"upper":      strings.ToUpper,
		"lower":      strings.ToLower,
		"formatTime": formatTime,
	}

	r := &Renderer{templates: make(map[string]*template.Template)}

	for _, channel := range []string{"email", "sms", "webhook"} {
		name := fmt.Sprintf("%s_incident", channel)
		filename := fmt.Sprintf("templates/%s.tmpl", name)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// Render produces the subject and body for one channel type.
func (r *Renderer) Render(channelType domain.ChannelType, data IncidentData) (subject, body string, err error) {
	templateName := fmt.Sprintf("%s_incident", channelType)
	tmpl, ok := r.templates[templateName]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", templateName, err)
	}

	subject = fmt.Sprintf("[%s] %s", strings.ToUpper(data.Priority), data.Title)
	body = strings.TrimSpace(buf.String())
	return subject, body, nil
}

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}
