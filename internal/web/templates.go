package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFiles embed.FS

var templateFuncs = template.FuncMap{
	"formatDuration": formatDuration,
	"timeAgo":        timeAgo,
	"lower":          strings.ToLower,
}

// loadTemplates parses the layout and each page template. Each page is
// a clone of the layout with the page-specific content block
// overridden. Panics on syntax errors so startup fails fast.
func loadTemplates() map[string]*template.Template {
	layout := template.Must(
		template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFiles, "templates/layout.html"),
	)

	pages := []string{"dashboard.html", "alert_detail.html"}
	result := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		t := template.Must(layout.Clone())
		template.Must(t.ParseFS(templateFiles, "templates/"+page))
		result[page] = t
	}
	return result
}

// render executes a named template into a buffer and writes the result
// only on success, so a template error never leaks partial HTML. An
// htmx partial request (HX-Request header) gets just the "content"
// block; everything else gets the full layout.
func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	t, ok := s.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}

	block := "layout.html"
	if r.Header.Get("HX-Request") == "true" {
		block = "content"
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		s.logger.Error("template render failed", "template", name, "block", block, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
