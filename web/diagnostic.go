package web

import (
	"html/template"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/smartgallery/smartgallery/startup"
)

// NewDiagnosticHandler serves the startup failure page. Every path gets the
// same fixed document with HTTP 500; normal routes do not exist in this mode.
func NewDiagnosticHandler(logger log.Logger, diag *startup.Diagnostic) http.Handler {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/diagnostic.tmpl"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		level.Debug(logger).Log("msg", "serving diagnostic page", "path", r.URL.Path)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)

		if err := tmpl.ExecuteTemplate(w, "diagnostic.tmpl", diag); err != nil {
			level.Error(logger).Log("msg", "render diagnostic template", "err", err)
		}
	})
}
