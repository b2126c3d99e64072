package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"unitledger/internal/core"
	"unitledger/internal/export"
	"unitledger/internal/form"
	"unitledger/internal/ledger"
	"unitledger/internal/log"
	"unitledger/internal/views"
)

// expenseListResponse is the JSON shape of GET /api/expenses.
type expenseListResponse struct {
	Unit       string                `json:"unit"`
	Month      string                `json:"month"`
	Units      []string              `json:"units"`
	Expenses   []core.ExpenseRecord  `json:"expenses"`
	Total      core.Money            `json:"total"`
	Summary    summaryResponse       `json:"summary"`
	ByCategory []categoryAmountEntry `json:"byCategory"`
}

type summaryResponse struct {
	Total       core.Money `json:"total"`
	UnitTotal   core.Money `json:"unitTotal"`
	SalaryTotal core.Money `json:"salaryTotal"`
}

type categoryAmountEntry struct {
	Category core.Category `json:"category"`
	Amount   core.Money    `json:"amount"`
	Count    int           `json:"count"`
}

// handleExportXLSX downloads the filtered view as a workbook. The summary
// sheet always covers the whole ledger.
func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records := s.ledger.Records()
	filter := ParseFilterParams(r.URL.Query())

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, views.Apply(records, filter), views.SummaryTotals(records), s.currency); err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Workbook export failed",
			log.NewFields().WithOperation(log.OpExport).WithFilter(filter.Unit, filter.Month).WithError(err).ToSlice()...)
		InternalServerError("Could not build the workbook").Write(w)
		return
	}
	atomic.AddInt64(&s.appMetrics.exports, 1)

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFileName(s.now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleAPIList returns the filtered view as JSON. Attachment payloads are
// left out; fetch them from the attachment endpoint.
func (s *Server) handleAPIList(w http.ResponseWriter, r *http.Request) {
	view := views.Build(s.ledger.Records(), ParseFilterParams(r.URL.Query()))

	items := make([]core.ExpenseRecord, len(view.Items))
	for i, rec := range view.Items {
		rec.Attachment = ""
		items[i] = rec
	}
	byCategory := make([]categoryAmountEntry, 0, len(view.Category))
	for _, c := range view.Category {
		byCategory = append(byCategory, categoryAmountEntry{Category: c.Category, Amount: c.Amount, Count: c.Count})
	}

	writeJSON(w, http.StatusOK, expenseListResponse{
		Unit:     view.Filter.Unit,
		Month:    view.Filter.Month,
		Units:    view.Units,
		Expenses: items,
		Total:    view.Total,
		Summary: summaryResponse{
			Total:       view.Summary.Total,
			UnitTotal:   view.Summary.UnitTotal,
			SalaryTotal: view.Summary.SalaryTotal,
		},
		ByCategory: byCategory,
	})
}

// handleAPICreate adds an expense from a JSON or urlencoded body, with the
// same validation as the HTML form. It always creates: the page's edit
// stage is not visible to API callers and is left alone.
func (s *Server) handleAPICreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	log.FromContext(ctx).DebugContext(ctx, "API create", "json", parser.IsJSON())

	res, err := form.Create(ctx, s.ledger, parser.ExpenseInput(), s.now())
	var errs form.Errors
	switch {
	case errors.As(err, &errs):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": errs})
		return
	case err != nil && !ledger.IsPersistError(err):
		log.FromContext(ctx).ErrorContext(ctx, "Expense create failed",
			log.NewFields().WithOperation(log.OpCreate).WithError(err).WithErrorType(log.ErrorTypeInternal).ToSlice()...)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not save the expense"})
		return
	}
	atomic.AddInt64(&s.appMetrics.expensesSaved, 1)

	body := map[string]any{"expense": res.Record}
	if err != nil {
		atomic.AddInt64(&s.appMetrics.persistFailure, 1)
		body["warning"] = persistWarning
	}
	writeJSON(w, http.StatusCreated, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
