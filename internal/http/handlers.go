package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"revdash/internal/core"
	"revdash/internal/invoices"
	"revdash/internal/log"
	"revdash/internal/services"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.events.LogError(r.Context(), "Readiness check failed", err, "ready", nil)
			ErrorResponse(http.StatusServiceUnavailable, "not ready").Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}

// handleSeries returns the presented series. The first request loads the
// records when nothing has been loaded yet.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	view := s.dash.View()
	if view.LoadedAt.IsZero() {
		loaded, err := s.dash.Load(r.Context())
		if err != nil {
			s.writeError(w, r, err, log.OpFetch)
			return
		}
		view = loaded
	}
	NewJSONResponse().Body(newSeriesResponse(view)).Write(w)
}

func (s *Server) handleGranularity(w http.ResponseWriter, r *http.Request) {
	var req granularityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	g, err := core.ParseGranularity(req.Granularity)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	view, err := s.dash.ChangeGranularity(r.Context(), g)
	if err != nil {
		s.writeError(w, r, err, log.OpGranularity)
		return
	}
	NewJSONResponse().Body(newSeriesResponse(view)).Write(w)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	key, err := parseBucketKey(req.Key)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	view, err := s.dash.Select(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err, log.OpSelect)
		return
	}
	NewJSONResponse().Body(newSeriesResponse(view)).Write(w)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	view, err := s.dash.Back(r.Context())
	if err != nil {
		s.writeError(w, r, err, log.OpBack)
		return
	}
	NewJSONResponse().Body(newSeriesResponse(view)).Write(w)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	view, err := s.dash.Refresh(r.Context())
	if err != nil {
		s.writeError(w, r, err, log.OpRefresh)
		return
	}
	NewJSONResponse().Body(newSeriesResponse(view)).Write(w)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.dash.Detail(r.Context())
	if err != nil {
		s.writeError(w, r, err, log.OpFetch)
		return
	}
	NewJSONResponse().Body(newDetailResponse(detail)).Write(w)
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	params := ParsePageParams(r.URL.Query())
	items, total, err := s.dash.ListInvoices(r.Context(), params.Page, params.PerPage)
	if err != nil {
		s.writeError(w, r, err, log.OpList)
		return
	}
	NewJSONResponse().Body(invoiceListResponse{
		Invoices: invoices.FromCoreSlice(items),
		Meta:     newPageMeta(params, total),
	}).Write(w)
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	if !s.dash.CanWrite() {
		s.writeError(w, r, services.ErrReadOnly, log.OpCreate)
		return
	}
	var req createInvoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	items, err := s.dash.ResolveLines(r.Context(), req.lines())
	if err != nil {
		s.writeError(w, r, err, log.OpCreate)
		return
	}

	created, ref, err := s.dash.CreateInvoice(r.Context(), req.invoice(s.now(), items))
	if err != nil {
		s.writeError(w, r, err, log.OpCreate)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Body(createInvoiceResponse{Ref: ref, Invoice: invoices.FromCore(created)}).
		Write(w)
}

// handleProducts searches the catalogue by name. Without q it returns the
// first products as suggestions.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	q, limit := ParseProductQuery(r.URL.Query())
	products, err := s.dash.SearchProducts(r.Context(), q, limit)
	if err != nil {
		s.writeError(w, r, err, log.OpSearch)
		return
	}
	NewJSONResponse().Body(newProductListResponse(q, products)).Write(w)
}

// writeError maps err to a response. Only server-side failures are logged
// here; client errors show up in the request completion log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		s.events.LogError(r.Context(), "Request failed", err, op, nil)
	}
	if status == http.StatusMethodNotAllowed {
		w.Header().Set("Allow", http.MethodGet)
	}
	errorFor(err).Write(w)
}
