// Package web is the HTTP surface of the gallery: the listing page, the
// upload form, and the diagnostic page served when startup failed. It talks
// to the repository only through the narrow ImageStore interface.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/smartgallery/smartgallery/gallery"
)

// DefaultMaxUploadBytes caps the upload body before the repository is invoked.
const DefaultMaxUploadBytes = 25 * 1024 * 1024

//go:embed templates/*.tmpl
var templateFS embed.FS

// ImageStore is the slice of the repository the web layer needs.
type ImageStore interface {
	Upload(ctx context.Context, content io.Reader, originalFileName, contentType, description string) (string, error)
	List(ctx context.Context) ([]gallery.Item, error)
}

type server struct {
	logger         log.Logger
	store          ImageStore
	maxUploadBytes int64
	tmpl           *template.Template
}

// NewHandler builds the gallery router around the given store.
func NewHandler(logger log.Logger, store ImageStore, maxUploadBytes int64) http.Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}

	s := &server{
		logger:         logger,
		store:          store,
		maxUploadBytes: maxUploadBytes,
		tmpl:           template.Must(template.ParseFS(templateFS, "templates/*.tmpl")),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/", s.handleIndex)
	r.Get("/upload", s.handleUploadForm)
	r.Post("/upload", s.handleUpload)

	return r
}

type indexData struct {
	Items []gallery.Item
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.List(r.Context())
	if err != nil {
		level.Error(s.logger).Log("msg", "listing gallery failed", "err", err)
		s.renderError(w, http.StatusInternalServerError, "The gallery could not be loaded. Try again later.")

		return
	}

	s.render(w, http.StatusOK, "index.tmpl", indexData{Items: items})
}

type uploadFormData struct {
	MaxSize string
	Error   string
}

func (s *server) handleUploadForm(w http.ResponseWriter, _ *http.Request) {
	s.render(w, http.StatusOK, "upload.tmpl", uploadFormData{MaxSize: humanize.IBytes(uint64(s.maxUploadBytes))})
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// The body cap is enforced here, before the repository sees any bytes.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		s.uploadError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.renderUploadForm(w, http.StatusBadRequest, "Choose an image file to upload.")
		return
	}
	defer func() { _ = file.Close() }()

	contentType := header.Header.Get("Content-Type")
	description := r.FormValue("description")

	id, err := s.store.Upload(r.Context(), file, header.Filename, contentType, description)
	if err != nil {
		s.uploadError(w, r, err)
		return
	}

	level.Info(s.logger).Log("msg", "image uploaded", "id", id, "filename", header.Filename, "size", humanize.IBytes(uint64(header.Size)))

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *server) uploadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
		s.renderUploadForm(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("The file is too large, the limit is %s.", humanize.IBytes(uint64(s.maxUploadBytes))))

		return
	}

	if errors.Is(err, gallery.ErrUnsupportedMediaType) {
		s.renderUploadForm(w, http.StatusUnsupportedMediaType, "Only image files are allowed (jpg, png, gif, webp).")
		return
	}

	level.Error(s.logger).Log("msg", "upload failed", "err", err)
	s.renderError(w, http.StatusInternalServerError, "The upload failed. Try again later.")
}

func (s *server) renderUploadForm(w http.ResponseWriter, status int, message string) {
	s.render(w, status, "upload.tmpl", uploadFormData{
		MaxSize: humanize.IBytes(uint64(s.maxUploadBytes)),
		Error:   message,
	})
}

type errorData struct {
	Message string
}

func (s *server) renderError(w http.ResponseWriter, status int, message string) {
	s.render(w, status, "error.tmpl", errorData{Message: message})
}

func (s *server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		level.Error(s.logger).Log("msg", "render template", "template", name, "err", err)
	}
}
