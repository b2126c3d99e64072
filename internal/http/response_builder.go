// Package http provides HTTP server and handler implementations.
//
// This file builds htmx responses: the HX-Trigger events the page listens
// to, toasts, and the small HTML error fragments shared by every handler.

package http

import (
	"encoding/json"
	"html/template"
	"net/http"
	"time"
)

// Client-side events carried in HX-Trigger.
const (
	EventLedgerChanged    = "ledger:changed"
	EventFormReset        = "form:reset"
	EventFormEdit         = "form:edit"
	EventFormRefresh      = "form:refresh"
	EventShowNotification = "show-notification"
)

// NotificationType selects the toast style.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationWarning NotificationType = "warning"
	NotificationInfo    NotificationType = "info"
)

// How long each toast stays on screen.
const (
	successToast = 3 * time.Second
	errorToast   = 5 * time.Second
	warningToast = 8 * time.Second
)

type ledgerChange struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

type formEdit struct {
	ID int64 `json:"id"`
}

type notification struct {
	Type     NotificationType `json:"type"`
	Message  string           `json:"message"`
	Duration int64            `json:"duration"`
}

// HTMXResponseBuilder assembles a response and its HX-Trigger events.
// Nothing is sent until Write.
type HTMXResponseBuilder struct {
	status int
	header http.Header
	events map[string]any
	body   []byte
}

// NewHTMXResponse starts a 200 response with no events.
func NewHTMXResponse() *HTMXResponseBuilder {
	return &HTMXResponseBuilder{
		status: http.StatusOK,
		header: make(http.Header),
		events: make(map[string]any),
	}
}

func (b *HTMXResponseBuilder) Status(code int) *HTMXResponseBuilder {
	b.status = code
	return b
}

// Trigger sets event name with payload. A later call with the same name
// replaces the payload.
func (b *HTMXResponseBuilder) Trigger(name string, payload any) *HTMXResponseBuilder {
	b.events[name] = payload
	return b
}

// TriggerLedgerChanged makes the summary cards and the expense list reload.
func (b *HTMXResponseBuilder) TriggerLedgerChanged(kind string, id int64) *HTMXResponseBuilder {
	return b.Trigger(EventLedgerChanged, ledgerChange{Kind: kind, ID: id})
}

func (b *HTMXResponseBuilder) TriggerFormReset() *HTMXResponseBuilder {
	return b.Trigger(EventFormReset, struct{}{})
}

// TriggerFormEdit announces the expense now staged in the form.
func (b *HTMXResponseBuilder) TriggerFormEdit(id int64) *HTMXResponseBuilder {
	return b.Trigger(EventFormEdit, formEdit{ID: id})
}

// TriggerFormRefresh makes the form panel fetch its current state, e.g.
// after the staged expense was deleted.
func (b *HTMXResponseBuilder) TriggerFormRefresh() *HTMXResponseBuilder {
	return b.Trigger(EventFormRefresh, struct{}{})
}

// TriggerNotification shows a toast for d.
func (b *HTMXResponseBuilder) TriggerNotification(kind NotificationType, message string, d time.Duration) *HTMXResponseBuilder {
	return b.Trigger(EventShowNotification, notification{
		Type:     kind,
		Message:  message,
		Duration: d.Milliseconds(),
	})
}

func (b *HTMXResponseBuilder) TriggerSuccessNotification(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationSuccess, message, successToast)
}

func (b *HTMXResponseBuilder) TriggerErrorNotification(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationError, message, errorToast)
}

// TriggerWarningNotification reports a change that was applied but not
// written to storage.
func (b *HTMXResponseBuilder) TriggerWarningNotification(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationWarning, message, warningToast)
}

func (b *HTMXResponseBuilder) Header(name, value string) *HTMXResponseBuilder {
	b.header.Set(name, value)
	return b
}

func (b *HTMXResponseBuilder) Body(content []byte) *HTMXResponseBuilder {
	b.body = content
	return b
}

// BodyHTML sets an HTML body and its content type. html is written as is.
func (b *HTMXResponseBuilder) BodyHTML(html string) *HTMXResponseBuilder {
	b.header.Set("Content-Type", "text/html; charset=utf-8")
	b.body = []byte(html)
	return b
}

// Write sends headers, events, status and body.
func (b *HTMXResponseBuilder) Write(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	if len(b.events) > 0 {
		if encoded, err := json.Marshal(b.events); err == nil {
			w.Header().Set("HX-Trigger", string(encoded))
		}
	}
	w.WriteHeader(b.status)
	if len(b.body) > 0 {
		_, _ = w.Write(b.body)
	}
}

// ErrorResponse renders message, escaped, as an error fragment.
func ErrorResponse(statusCode int, message string) *HTMXResponseBuilder {
	return NewHTMXResponse().
		Status(statusCode).
		BodyHTML(`<div class="error">` + template.HTMLEscapeString(message) + `</div>`)
}

func BadRequestError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func NotFoundError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

func InternalServerError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// MethodNotAllowedError is an empty 405 listing allowed in the Allow header.
func MethodNotAllowedError(allowed string) *HTMXResponseBuilder {
	return NewHTMXResponse().
		Status(http.StatusMethodNotAllowed).
		Header("Allow", allowed)
}
