package export

import (
	"bytes"
	"embed"
	"html"
	"html/template"
	"strings"
	"time"

	"leaddesk/api/internal/richtext"
	"leaddesk/api/internal/timeline"
)

//go:embed templates/*.html
var templateFS embed.FS

var timelineTemplate = template.Must(template.New("timeline.html").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return "undated"
		}
		return t.UTC().Format("Jan 2, 2006 15:04 MST")
	},
}).ParseFS(templateFS, "templates/timeline.html"))

// TemplateData holds data for timeline template rendering
type TemplateData struct {
	LeadName    string
	Company     string
	Email       string
	Phone       string
	Stage       string
	Owner       string
	GeneratedBy string
	GeneratedAt time.Time
	Entries     []TemplateEntry
	Warnings    []string
}

type TemplateEntry struct {
	Kind       string
	Direction  string
	OccurredAt time.Time
	Subject    string
	Author     string
	Body       template.HTML
	Call       string
	MediaURL   string
}

func buildTemplateData(req Request) TemplateData {
	data := TemplateData{
		LeadName:    req.Lead.Name,
		Company:     req.Lead.Company,
		Email:       req.Lead.Email,
		Phone:       req.Lead.Phone,
		Stage:       req.Stage,
		Owner:       req.Lead.Owner,
		GeneratedBy: req.GeneratedBy,
		GeneratedAt: req.GeneratedAt,
		Entries:     make([]TemplateEntry, 0, len(req.Items)),
	}
	if data.Stage == "" {
		data.Stage = req.Lead.Stage
	}
	for _, item := range req.Items {
		data.Entries = append(data.Entries, templateEntry(item))
	}
	for _, warning := range req.Warnings {
		data.Warnings = append(data.Warnings, string(warning.Source))
	}
	return data
}

func templateEntry(item timeline.Interaction) TemplateEntry {
	entry := TemplateEntry{
		Kind:       string(item.Kind),
		Direction:  string(item.Direction),
		OccurredAt: item.OccurredAt,
		Subject:    item.Subject,
		Author:     item.Author,
	}
	// Stored HTML is reduced to text; nothing from the source is rendered raw.
	text := item.Content
	if item.HTML {
		text = richtext.PlainText(text)
	}
	entry.Body = textToHTML(text)
	if item.Call != nil {
		entry.Call = item.Call.Status
		if item.Call.RecordingKey != "" {
			entry.Call += ", recorded"
		}
	}
	if item.Media != nil {
		entry.MediaURL = item.Media.URL
	}
	return entry
}

func textToHTML(text string) template.HTML {
	escaped := html.EscapeString(strings.TrimSpace(text))
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
}

// RenderTimelineHTML renders the timeline template with provided data
func RenderTimelineHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := timelineTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
