package http

import (
	"time"

	"github.com/shopspring/decimal"

	"revdash/internal/core"
	"revdash/internal/invoices"
	"revdash/internal/services"
)

type bucketJSON struct {
	Key          string    `json:"key"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Revenue      string    `json:"revenue"`
	InvoiceCount int       `json:"invoice_count"`
}

type seriesJSON struct {
	Granularity string       `json:"granularity"`
	Total       string       `json:"total"`
	Buckets     []bucketJSON `json:"buckets"`
}

type seriesResponse struct {
	Mode            string     `json:"mode"`
	SelectedKey     string     `json:"selected_key,omitempty"`
	Zoomed          bool       `json:"zoomed"`
	OriginalBuckets int        `json:"original_buckets"`
	LoadedAt        *time.Time `json:"loaded_at,omitempty"`
	seriesJSON
}

type detailResponse struct {
	Key       string                 `json:"key"`
	End       time.Time              `json:"end"`
	Revenue   string                 `json:"revenue"`
	Invoices  []invoices.InvoiceJSON `json:"invoices"`
	SubSeries *seriesJSON            `json:"sub_series,omitempty"`
}

type pageMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type invoiceListResponse struct {
	Invoices []invoices.InvoiceJSON `json:"invoices"`
	Meta     pageMeta               `json:"meta"`
}

type createInvoiceResponse struct {
	Ref     string               `json:"ref"`
	Invoice invoices.InvoiceJSON `json:"invoice"`
}

type productMeta struct {
	Query    string `json:"query"`
	IsSearch bool   `json:"is_search"`
	Count    int    `json:"count"`
}

type productListResponse struct {
	Products []invoices.ProductJSON `json:"products"`
	Meta     productMeta            `json:"meta"`
}

func newProductListResponse(query string, products []core.Product) productListResponse {
	return productListResponse{
		Products: invoices.FromProducts(products),
		Meta:     productMeta{Query: query, IsSearch: query != "", Count: len(products)},
	}
}

func bucketKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func newSeriesJSON(s *core.Series) seriesJSON {
	out := seriesJSON{Total: core.FormatAmount(decimal.Zero), Buckets: []bucketJSON{}}
	if s == nil {
		return out
	}
	g := s.Granularity()
	out.Granularity = g.String()
	out.Total = core.FormatAmount(s.Total())
	for _, b := range s.Buckets() {
		end, err := g.BucketEnd(b.Start)
		if err != nil {
			end = b.Start
		}
		out.Buckets = append(out.Buckets, bucketJSON{
			Key:          bucketKey(b.Start),
			Start:        b.Start,
			End:          end,
			Revenue:      core.FormatAmount(b.Revenue),
			InvoiceCount: len(b.Invoices),
		})
	}
	return out
}

func newSeriesResponse(v services.View) seriesResponse {
	resp := seriesResponse{
		Mode:       string(v.State.Mode),
		Zoomed:     v.Zoomed,
		seriesJSON: newSeriesJSON(v.Series),
	}
	if resp.Granularity == "" {
		resp.Granularity = v.Granularity.String()
	}
	if !v.State.SelectedKey.IsZero() {
		resp.SelectedKey = bucketKey(v.State.SelectedKey)
	}
	if v.Original != nil {
		resp.OriginalBuckets = v.Original.Len()
	}
	if !v.LoadedAt.IsZero() {
		loaded := v.LoadedAt
		resp.LoadedAt = &loaded
	}
	return resp
}

func newDetailResponse(d services.DetailView) detailResponse {
	resp := detailResponse{
		Key:      bucketKey(d.Key),
		End:      d.End,
		Invoices: invoices.FromCoreSlice(d.Invoices),
	}
	total := decimal.Zero
	for _, inv := range d.Invoices {
		total = total.Add(inv.Revenue())
	}
	resp.Revenue = core.FormatAmount(total)
	if d.SubSeries != nil {
		sub := newSeriesJSON(d.SubSeries)
		resp.SubSeries = &sub
	}
	return resp
}

func newPageMeta(params PageParams, total int) pageMeta {
	pages := 0
	if params.PerPage > 0 {
		pages = (total + params.PerPage - 1) / params.PerPage
	}
	return pageMeta{Page: params.Page, PerPage: params.PerPage, Total: total, TotalPages: pages}
}
