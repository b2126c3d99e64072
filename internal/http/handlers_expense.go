package http

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"unitledger/internal/form"
	"unitledger/internal/ledger"
	"unitledger/internal/log"
)

const persistWarning = "Saved for this session, but the ledger could not be written to storage"

// handleSubmitExpense adds a new expense, or replaces the staged one when an
// edit is in progress. The response is always the next state of the form.
func (s *Server) handleSubmitExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	in, fieldErrs, err := ParseExpenseForm(w, r, s.maxAttachmentBytes)
	if err != nil {
		logger.WarnContext(ctx, "Parse form error",
			log.NewFields().WithError(err).WithErrorType(log.ErrorTypeValidation).ToSlice()...)
		BadRequestError("Invalid request format").Write(w)
		return
	}
	if fieldErrs != nil {
		s.respond(ctx, w, NewHTMXResponse().
			Status(http.StatusUnprocessableEntity).
			TriggerErrorNotification("Please correct the highlighted fields"),
			"form", s.newFormView(in, fieldErrs))
		return
	}

	res, err := form.Submit(ctx, s.ledger, in, s.now())
	var errs form.Errors
	switch {
	case errors.As(err, &errs):
		logger.DebugContext(ctx, "Expense form rejected",
			log.NewFields().WithOperation(log.OpValidate).WithError(err).WithErrorType(log.ErrorTypeValidation).ToSlice()...)
		s.respond(ctx, w, NewHTMXResponse().
			Status(http.StatusUnprocessableEntity).
			TriggerErrorNotification("Please correct the highlighted fields"),
			"form", s.newFormView(in, errs))
		return

	case errors.Is(err, ledger.ErrNotFound):
		// The staged expense was deleted meanwhile. Drop the stale stage so
		// the form falls back to adding.
		s.ledger.ClearEdit()
		NewHTMXResponse().
			Status(http.StatusNotFound).
			TriggerFormRefresh().
			TriggerLedgerChanged(string(ledger.EventUpdated), 0).
			TriggerErrorNotification("This expense no longer exists").
			Write(w)
		return

	case err != nil && !ledger.IsPersistError(err):
		logger.ErrorContext(ctx, "Expense submit failed",
			log.NewFields().WithError(err).WithErrorType(log.ErrorTypeInternal).ToSlice()...)
		InternalServerError("Could not save the expense").Write(w)
		return
	}

	atomic.AddInt64(&s.appMetrics.expensesSaved, 1)

	kind, message := ledger.EventCreated, "Expense added"
	if res.Updated {
		kind, message = ledger.EventUpdated, "Expense updated"
	}
	b := NewHTMXResponse().
		TriggerLedgerChanged(string(kind), res.Record.ID).
		TriggerFormReset()
	if err != nil {
		atomic.AddInt64(&s.appMetrics.persistFailure, 1)
		b.TriggerWarningNotification(persistWarning)
	} else {
		b.TriggerSuccessNotification(message)
	}
	s.respond(ctx, w, b, "form", s.newFormView(res.Reset, nil))
}

// handleBeginEdit stages an expense and returns the pre-filled form.
func (s *Server) handleBeginEdit(w http.ResponseWriter, r *http.Request) {
	id, err := parseExpenseID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	record, ok := s.ledger.Get(id)
	if !ok {
		NewHTMXResponse().
			Status(http.StatusNotFound).
			TriggerLedgerChanged(string(ledger.EventDeleted), id).
			TriggerErrorNotification("This expense no longer exists").
			Write(w)
		return
	}

	s.ledger.BeginEdit(record)
	log.FromContext(r.Context()).DebugContext(r.Context(), "Edit staged",
		log.NewFields().WithRecord(record).WithOperation(log.OpBeginEdit).ToSlice()...)

	s.respond(r.Context(), w, NewHTMXResponse().TriggerFormEdit(id),
		"form", s.newFormView(form.FromRecord(record), nil))
}

// handleCancelEdit drops the staged expense and returns the empty form.
func (s *Server) handleCancelEdit(w http.ResponseWriter, r *http.Request) {
	s.ledger.ClearEdit()
	log.FromContext(r.Context()).DebugContext(r.Context(), "Edit cancelled", log.FieldOperation, log.OpClearEdit)
	s.respond(r.Context(), w, NewHTMXResponse().TriggerFormReset(),
		"form", s.newFormView(form.Defaults(s.now()), nil))
}

// handleDeleteExpense removes an expense. Deleting an unknown id succeeds.
// The body is empty so htmx drops the table row it targets.
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if resp := RequireDeleteOrPOST(r); resp != nil {
		resp.Write(w)
		return
	}
	id, err := parseExpenseID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	staged, editing := s.ledger.Editing()
	err = s.ledger.Delete(r.Context(), id)

	b := NewHTMXResponse().TriggerLedgerChanged(string(ledger.EventDeleted), id)
	if editing && staged.ID == id {
		b.TriggerFormRefresh()
	}
	switch {
	case ledger.IsPersistError(err):
		atomic.AddInt64(&s.appMetrics.persistFailure, 1)
		b.TriggerWarningNotification(persistWarning)
	case err != nil:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Expense delete failed",
			log.NewFields().WithOperation(log.OpDelete).WithError(err).ToSlice()...)
		InternalServerError("Could not delete the expense").Write(w)
		return
	default:
		b.TriggerSuccessNotification("Expense deleted")
	}
	b.Write(w)
}

// handleAttachment serves the file stored inline on an expense.
func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := parseExpenseID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	record, ok := s.ledger.Get(id)
	if !ok || !record.HasAttachment() {
		NotFoundError("No attachment for this expense").Write(w)
		return
	}

	contentType, data, err := form.DecodeAttachment(record.Attachment)
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Stored attachment unreadable",
			log.NewFields().WithRecord(record).WithError(err).WithErrorType(log.ErrorTypeDecode).ToSlice()...)
		NotFoundError("Attachment is not readable").Write(w)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", attachmentDisposition(record.AttachmentName, contentType))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
