// Package report renders revenue series and invoices for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"revdash/internal/core"
	"revdash/internal/services"
)

const barWidth = 30

var (
	accent = lipgloss.Color("#0EA5E9") // sky
	fg     = lipgloss.Color("#E5E7EB")
	dim    = lipgloss.Color("#6B7280")
	faint  = lipgloss.Color("#374151")
	bar    = lipgloss.Color("#22C55E")
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 2)

	dimStyle      = lipgloss.NewStyle().Foreground(dim)
	faintStyle    = lipgloss.NewStyle().Foreground(faint)
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(fg)
	barStyle      = lipgloss.NewStyle().Foreground(bar)
	separatorLine = faintStyle.Render(strings.Repeat("─", 64))
)

// RenderSeries formats a series as a table with one bar per bucket,
// scaled to the largest bucket.
func RenderSeries(s *core.Series) string {
	if s == nil || s.Len() == 0 {
		return "\n  " + dimStyle.Render("No invoices in range.") + "\n\n"
	}

	var b strings.Builder
	g := s.Granularity()
	first, _ := s.Start()
	last, _ := s.End()

	title := headerStyle.Render("Revenue · " + g.String())
	span := dimStyle.Render(fmt.Sprintf("%s → %s  ·  %d buckets",
		first.Format(time.DateOnly), last.Format(time.DateOnly), s.Len()))
	total := titleStyle.Render("Total " + core.FormatAmount(s.Total()))
	b.WriteString(boxStyle.Render(title + "\n" + span + "\n" + total))
	b.WriteString("\n\n")

	buckets := s.Buckets()
	peak := decimal.Zero
	for _, bk := range buckets {
		peak = decimal.Max(peak, bk.Revenue)
	}

	fmt.Fprintf(&b, "  %s  %s  %s  %s\n",
		dimStyle.Render(padRight("bucket", 10)),
		dimStyle.Render(padLeft("invoices", 8)),
		dimStyle.Render(padLeft("revenue", 12)),
		dimStyle.Render("share"))
	b.WriteString("  " + separatorLine + "\n")
	for _, bk := range buckets {
		fmt.Fprintf(&b, "  %s  %s  %s  %s\n",
			titleStyle.Render(padRight(bk.Start.Format(time.DateOnly), 10)),
			padLeft(fmt.Sprintf("%d", len(bk.Invoices)), 8),
			padLeft(core.FormatAmount(bk.Revenue), 12),
			revenueBar(bk.Revenue, peak, barWidth))
	}
	b.WriteString("\n")
	return b.String()
}

// RenderDetail formats the invoices of a selected bucket followed by the
// finer sub-series when there is one.
func RenderDetail(d services.DetailView) string {
	var b strings.Builder

	title := headerStyle.Render("Bucket " + d.Key.Format(time.DateOnly))
	span := dimStyle.Render(fmt.Sprintf("until %s  ·  %d invoices", d.End.Format(time.DateOnly), len(d.Invoices)))
	b.WriteString(boxStyle.Render(title + "\n" + span))
	b.WriteString("\n\n")
	b.WriteString(RenderInvoices(d.Invoices))

	if d.SubSeries != nil {
		b.WriteString(RenderSeries(d.SubSeries))
	}
	return b.String()
}

// RenderInvoices formats invoices one per line.
func RenderInvoices(items []core.Invoice) string {
	if len(items) == 0 {
		return "  " + dimStyle.Render("No invoices.") + "\n\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %s  %s  %s  %s  %s\n",
		dimStyle.Render(padLeft("id", 6)),
		dimStyle.Render(padRight("created", 16)),
		dimStyle.Render(padRight("customer", 20)),
		dimStyle.Render(padRight("payment", 16)),
		dimStyle.Render(padLeft("revenue", 12)))
	b.WriteString("  " + separatorLine + "\n")
	for _, inv := range items {
		fmt.Fprintf(&b, "  %s  %s  %s  %s  %s\n",
			padLeft(fmt.Sprintf("%d", inv.ID), 6),
			padRight(inv.CreatedAt.UTC().Format("2006-01-02 15:04"), 16),
			titleStyle.Render(padRight(truncate(inv.Customer, 20), 20)),
			padRight(string(inv.PaymentType), 16),
			padLeft(core.FormatAmount(inv.Revenue()), 12))
	}
	b.WriteString("\n")
	return b.String()
}

// RenderPage adds a pagination footer to RenderInvoices.
func RenderPage(items []core.Invoice, page, perPage, total int) string {
	pages := 0
	if perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return RenderInvoices(items) +
		"  " + dimStyle.Render(fmt.Sprintf("page %d of %d  ·  %d invoices", page, pages, total)) + "\n"
}

// RenderProducts lists catalogue entries with stock and price.
func RenderProducts(products []core.Product) string {
	if len(products) == 0 {
		return "  " + dimStyle.Render("No products.") + "\n\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %s  %s  %s  %s\n",
		dimStyle.Render(padLeft("id", 6)),
		dimStyle.Render(padRight("name", 32)),
		dimStyle.Render(padLeft("stock", 8)),
		dimStyle.Render(padLeft("price", 12)))
	b.WriteString("  " + separatorLine + "\n")
	for _, p := range products {
		fmt.Fprintf(&b, "  %s  %s  %s  %s\n",
			padLeft(fmt.Sprintf("%d", p.ID), 6),
			titleStyle.Render(padRight(truncate(p.Name, 32), 32)),
			padLeft(fmt.Sprintf("%d", p.Stock), 8),
			padLeft(core.FormatAmount(p.Price), 12))
	}
	b.WriteString("\n")
	return b.String()
}

func revenueBar(v, peak decimal.Decimal, width int) string {
	filled := 0
	if peak.IsPositive() {
		filled = int(v.Div(peak).Mul(decimal.NewFromInt(int64(width))).Round(0).IntPart())
	}
	filled = max(0, min(filled, width))
	return barStyle.Render(strings.Repeat("█", filled)) +
		faintStyle.Render(strings.Repeat("░", width-filled))
}

func padRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func padLeft(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return strings.Repeat(" ", width-n) + s
	}
	return s
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
