// Package report renders a user's sustainability impact report as HTML or PDF.
package report

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
	"github.com/GDIPSA-Team2/ecoplate/internal/wastemetrics"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ErrPDFDependencyMissing indicates headless Chrome is not available.
var ErrPDFDependencyMissing = errors.New("report pdf dependency missing")

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatHTML, nil
	case FormatHTML, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q", raw)
	}
}

// Data is everything the impact report shows.
type Data struct {
	UserName    string
	GeneratedAt time.Time
	Metrics     wastemetrics.Report
	Stats       gamification.Stats
	Badges      []gamification.Award
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

//go:embed templates/*.html
var templateFS embed.FS

var impactTemplate = template.Must(template.New("impact.html").Funcs(template.FuncMap{
	"kg":      func(v float64) string { return fmt.Sprintf("%.2f kg", v) },
	"money":   formatCents,
	"date":    func(t time.Time) string { return t.Format("2 Jan 2006") },
	"percent": func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
}).ParseFS(templateFS, "templates/impact.html"))

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// RenderHTML renders the report page.
func RenderHTML(data Data) (string, error) {
	var buf bytes.Buffer
	if err := impactTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render impact report: %w", err)
	}
	return buf.String(), nil
}

// Renderer produces reports in either format.
type Renderer struct {
	pdf func(ctx context.Context, html string) ([]byte, error)
}

func NewRenderer() *Renderer {
	return &Renderer{pdf: chromePDF}
}

func (r *Renderer) Render(ctx context.Context, format Format, data Data) (*Result, error) {
	html, err := RenderHTML(data)
	if err != nil {
		return nil, err
	}
	base := "ecoplate-impact-" + string(data.Metrics.Period) + "-" + data.GeneratedAt.Format("20060102")

	if format != FormatPDF {
		return &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}, nil
	}
	pdf, err := r.pdf(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{Data: pdf, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
}
