package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"unitledger/internal/core"
	"unitledger/internal/form"
	"unitledger/internal/log"
	"unitledger/internal/views"
)

var errTemplatesNotLoaded = errors.New("templates not loaded")

// formView is what the form partial renders.
type formView struct {
	Input     form.Input
	Errors    form.Errors
	Editing   bool
	EditingID int64

	ExpenseTypes       []core.ExpenseType
	Categories         []core.Category
	Statuses           []core.PaymentStatus
	Methods            []core.PaymentMethod
	MaxAttachmentBytes int64
}

// listView is what the expense list partial renders.
type listView struct {
	views.Ledger
	EditingID int64
}

type pageData struct {
	Currency string
	Summary  core.Summary
	List     listView
	Form     formView
}

func (s *Server) newFormView(in form.Input, errs form.Errors) formView {
	v := formView{
		Input:              in,
		Errors:             errs,
		ExpenseTypes:       core.AllExpenseTypes(),
		Categories:         core.AllCategories(),
		Statuses:           core.AllPaymentStatuses(),
		Methods:            core.AllPaymentMethods(),
		MaxAttachmentBytes: s.maxAttachmentBytes,
	}
	if staged, ok := s.ledger.Editing(); ok {
		v.Editing = true
		v.EditingID = staged.ID
	}
	return v
}

// currentFormView shows the staged record when one exists, the defaults
// otherwise.
func (s *Server) currentFormView() formView {
	if staged, ok := s.ledger.Editing(); ok {
		return s.newFormView(form.FromRecord(staged), nil)
	}
	return s.newFormView(form.Defaults(s.now()), nil)
}

func (s *Server) newListView(records []core.ExpenseRecord, f views.Filter) listView {
	v := listView{Ledger: views.Build(records, f)}
	if staged, ok := s.ledger.Editing(); ok {
		v.EditingID = staged.ID
	}
	return v
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(health)
}

// handleReady reports whether templates are loaded and the ledger is wired.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if s.ledger == nil {
		checks["ledger"] = "not_configured"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["ledger"] = map[string]interface{}{
			"status":  "ok",
			"records": s.ledger.Len(),
		}
	}

	checks["rate_limiter"] = map[string]interface{}{
		"active_clients": s.rateLimiter.GetMetrics().ClientCount,
		"status":         "ok",
	}

	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}

	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(response)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()

	w.WriteHeader(http.StatusOK)

	// Write metrics in Prometheus-like format
	metric := func(name, help, kind string, value int64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
		fmt.Fprintf(w, "%s %d\n\n", name, value)
	}
	metric("http_requests_total", "Total number of HTTP requests", "counter", traceMetrics.TotalRequests)
	metric("http_server_errors_total", "Responses with a 5xx status", "counter", traceMetrics.ServerErrors)
	metric("ledger_records", "Expenses currently held by the ledger", "gauge", int64(s.ledger.Len()))
	metric("ledger_saves_total", "Expenses added or updated through the form", "counter", atomic.LoadInt64(&s.appMetrics.expensesSaved))
	metric("ledger_persist_failures_total", "Changes applied in memory but not written to storage", "counter", atomic.LoadInt64(&s.appMetrics.persistFailure))
	metric("ledger_exports_total", "Workbook exports served", "counter", atomic.LoadInt64(&s.appMetrics.exports))
	metric("rate_limit_hits_total", "Requests rejected by the rate limiter", "counter", rateLimitMetrics.LimitedRequests)
	metric("rate_limit_clients", "Clients tracked by the rate limiter", "gauge", rateLimitMetrics.ClientCount)
	metric("suspicious_requests_total", "Requests rejected as suspicious", "counter", s.securityDetector.SuspiciousRequests())
	metric("uptime_seconds", "Seconds since the server started", "gauge", int64(time.Since(s.appMetrics.uptime).Seconds()))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	records := s.ledger.Records()
	filter := ParseFilterParams(r.URL.Query())
	list := s.newListView(records, filter)
	data := pageData{
		Currency: s.currency,
		Summary:  list.Summary,
		List:     list,
		Form:     s.currentFormView(),
	}
	s.writeTemplate(w, r, http.StatusOK, "index.html", data)
}

// handleSummary renders the three summary cards over the whole ledger.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.writeTemplate(w, r, http.StatusOK, "summary", views.SummaryTotals(s.ledger.Records()))
}

// handleExpenseList renders the filtered, newest-first expense table.
func (s *Server) handleExpenseList(w http.ResponseWriter, r *http.Request) {
	filter := ParseFilterParams(r.URL.Query())
	log.FromContext(r.Context()).DebugContext(r.Context(), "Rendering expense list",
		log.NewFields().WithOperation(log.OpList).WithFilter(filter.Unit, filter.Month).ToSlice()...)
	s.writeTemplate(w, r, http.StatusOK, "expenses", s.newListView(s.ledger.Records(), filter))
}

// handleForm renders the form, pre-filled when an edit is staged.
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	s.writeTemplate(w, r, http.StatusOK, "form", s.currentFormView())
}

// writeTemplate renders name and writes it with status. Rendering failures
// become a 500 with a generic message.
func (s *Server) writeTemplate(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	s.respond(r.Context(), w, NewHTMXResponse().Status(status), name, data)
}

// respond renders name into the body of b and writes it.
func (s *Server) respond(ctx context.Context, w http.ResponseWriter, b *HTMXResponseBuilder, name string, data any) {
	body, err := s.render(ctx, name, data)
	if err != nil {
		InternalServerError("Could not render page").Write(w)
		return
	}
	b.Header("Content-Type", "text/html; charset=utf-8").Body(body).Write(w)
}
