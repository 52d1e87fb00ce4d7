// Package web embeds the page shell: the HTML template that hosts the chat
// widget, its intro copy and the static assets that bridge the widget to the
// server.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/ashureev/chatkit-shell/internal/domain"
	"github.com/ashureev/chatkit-shell/internal/widget"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed templates/*.html content/*.md static/*
var assets embed.FS

// PageConfig is everything the shell needs to render.
type PageConfig struct {
	ScriptURL          string
	WorkflowConfigured bool
	FileUploads        bool
	ScriptTimeoutMS    int64
	Options            widget.Options
	// SchemeFor resolves the color scheme of a request. Nil means light.
	SchemeFor func(*http.Request) domain.ColorScheme
}

// clientConfig is embedded in the page as JSON for static/panel.js.
type clientConfig struct {
	ScriptURL          string         `json:"scriptUrl"`
	WorkflowConfigured bool           `json:"workflowConfigured"`
	FileUploads        bool           `json:"fileUploads"`
	ScriptTimeoutMS    int64          `json:"scriptTimeoutMs"`
	Options            widget.Options `json:"options"`
	Light              widget.Theme   `json:"light"`
	Dark               widget.Theme   `json:"dark"`
}

type pageData struct {
	Scheme domain.ColorScheme
	Intro  template.HTML
	Config clientConfig
}

// PageHandler renders GET /.
type PageHandler struct {
	tmpl   *template.Template
	intro  template.HTML
	cfg    PageConfig
	client clientConfig
}

// NewPageHandler parses the template and renders the intro once.
func NewPageHandler(cfg PageConfig) (*PageHandler, error) {
	tmpl, err := template.ParseFS(assets, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}

	src, err := fs.ReadFile(assets, "content/intro.md")
	if err != nil {
		return nil, fmt.Errorf("read intro: %w", err)
	}
	intro, err := RenderMarkdown(src)
	if err != nil {
		return nil, err
	}

	return &PageHandler{
		tmpl:  tmpl,
		intro: intro,
		cfg:   cfg,
		client: clientConfig{
			ScriptURL:          cfg.ScriptURL,
			WorkflowConfigured: cfg.WorkflowConfigured,
			FileUploads:        cfg.FileUploads,
			ScriptTimeoutMS:    cfg.ScriptTimeoutMS,
			Options:            cfg.Options,
			Light:              cfg.Options.ThemeFor(domain.SchemeLight),
			Dark:               cfg.Options.ThemeFor(domain.SchemeDark),
		},
	}, nil
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderMarkdown converts Markdown to sanitized HTML.
func RenderMarkdown(src []byte) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	//nolint:gosec // Output is sanitized by bluemonday.
	return template.HTML(bluemonday.UGCPolicy().SanitizeBytes(buf.Bytes())), nil
}

func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	scheme := domain.SchemeLight
	if h.cfg.SchemeFor != nil {
		scheme = h.cfg.SchemeFor(r)
	}

	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, pageData{Scheme: scheme, Intro: h.intro, Config: h.client}); err != nil {
		slog.Error("web: failed to render page", "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Accept-CH", "Sec-CH-Prefers-Color-Scheme")
	w.Header().Set("Vary", "Sec-CH-Prefers-Color-Scheme, Cookie")
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug("web: failed to write page", "error", err)
	}
}

// StaticHandler serves the embedded static/ directory under /static/.
func StaticHandler() http.Handler {
	subFS, err := fs.Sub(assets, "static")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(subFS)))
}
