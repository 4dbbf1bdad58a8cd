package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
	"github.com/GDIPSA-Team2/ecoplate/internal/wastemetrics"
)

func sampleData() Data {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	badge, _ := gamification.LookupBadge("first_bite")
	return Data{
		UserName:    "Ana <admin>",
		GeneratedAt: now,
		Metrics: wastemetrics.Report{
			Period:          wastemetrics.PeriodMonth,
			To:              now,
			Consumed:        wastemetrics.TypeTotal{Kg: 1.5, Count: 3},
			Wasted:          wastemetrics.TypeTotal{Kg: 0.25, Count: 1},
			WasteRate:       14.3,
			CO2eSavedKg:     3.1,
			MoneySavedCents: 1234,
			Daily:           []wastemetrics.DailyBucket{{Date: "2026-03-09", Consumed: 1.5}},
		},
		Stats:  gamification.Stats{TotalPoints: 42, CurrentStreak: 2, LongestStreak: 5},
		Badges: []gamification.Award{{Badge: badge, EarnedAt: now}},
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(sampleData())
	require.NoError(t, err)

	for _, want := range []string{"1.50 kg", "14.3%", "$12.34", "42 points", "First Bite", "2026-03-09", "10 Mar 2026"} {
		assert.Contains(t, html, want)
	}
	assert.NotContains(t, html, "<admin>")
}

func TestRenderHTMLFormat(t *testing.T) {
	r := &Renderer{pdf: func(context.Context, string) ([]byte, error) {
		t.Fatal("pdf renderer must not be called for html")
		return nil, nil
	}}
	res, err := r.Render(context.Background(), FormatHTML, sampleData())
	require.NoError(t, err)
	assert.Equal(t, "ecoplate-impact-month-20260310.html", res.Filename)
	assert.True(t, strings.HasPrefix(res.MimeType, "text/html"))
}

func TestRenderPDFUsesChrome(t *testing.T) {
	var got string
	r := &Renderer{pdf: func(_ context.Context, html string) ([]byte, error) {
		got = html
		return []byte("%PDF-1.7"), nil
	}}
	res, err := r.Render(context.Background(), FormatPDF, sampleData())
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", res.MimeType)
	assert.Equal(t, "ecoplate-impact-month-20260310.pdf", res.Filename)
	assert.Contains(t, got, "Your food impact")
}

func TestRenderPDFMissingChrome(t *testing.T) {
	r := &Renderer{pdf: func(context.Context, string) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	}}
	_, err := r.Render(context.Background(), FormatPDF, sampleData())
	assert.True(t, errors.Is(err, ErrPDFDependencyMissing))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatHTML, f)

	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	_, err = ParseFormat("docx")
	assert.Error(t, err)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "$0.05", formatCents(5))
	assert.Equal(t, "-$1.20", formatCents(-120))
}

func TestPercentEncodeForDataURL(t *testing.T) {
	assert.Equal(t, "a%20b%3Cc%3E", percentEncodeForDataURL("a b<c>"))
}
