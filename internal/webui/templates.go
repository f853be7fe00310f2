package webui

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

//go:embed templates/*.html
var templateFiles embed.FS

var templateFuncs = template.FuncMap{
	"formatDuration": formatDuration,
	"formatTime":     formatTime,
	"formatRelTime":  humanize.Time,
	"formatCount":    humanize.Comma,
}

type pageTemplate struct {
	t *template.Template
}

// loadTemplates parses each top-level page template independently — the
// dashboard has no shared layout to clone the way the teacher's
// multi-page chat UI does, since it renders exactly two pages.
func loadTemplates() map[string]*pageTemplate {
	pages := []string{"index.html", "dump.html"}
	result := make(map[string]*pageTemplate, len(pages))
	for _, page := range pages {
		t := template.Must(template.New(page).Funcs(templateFuncs).ParseFS(templateFiles, "templates/"+page))
		result[page] = &pageTemplate{t: t}
	}
	return result
}

// render executes a named template into a buffer and writes the result
// only on success, so a template error never sends a half-rendered page.
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	pt, ok := s.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := pt.t.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error("debug dashboard: template render failed", "template", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// formatDuration renders an uptime-style duration the way humanize.Time
// renders a timestamp — rounded to the coarsest sensible unit — since
// go-humanize has no direct time.Duration formatter of its own.
func formatDuration(d time.Duration) string {
	return humanize.RelTime(time.Now().Add(-d), time.Now(), "", "")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	return t.Format("2006-01-02 15:04:05")
}
