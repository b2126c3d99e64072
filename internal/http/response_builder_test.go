package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// triggerEvents decodes the HX-Trigger header of w.
func triggerEvents(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	raw := w.Header().Get("HX-Trigger")
	if raw == "" {
		t.Fatal("HX-Trigger header not set")
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("HX-Trigger is not JSON: %v (%s)", err, raw)
	}
	return out
}

// assertPayload compares an event payload with want after normalising both.
func assertPayload(t *testing.T, events map[string]json.RawMessage, name, want string) {
	t.Helper()
	got, ok := events[name]
	if !ok {
		t.Errorf("event %q missing", name)
		return
	}
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("event %q payload: %v", name, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("want payload: %v", err)
	}
	gb, _ := json.Marshal(g)
	wb, _ := json.Marshal(w)
	if string(gb) != string(wb) {
		t.Errorf("event %q = %s, want %s", name, gb, wb)
	}
}

func TestHTMXResponseBuilder_StatusAndBody(t *testing.T) {
	w := httptest.NewRecorder()

	NewHTMXResponse().
		Status(http.StatusCreated).
		Header("X-Custom", "value").
		Body([]byte("ok")).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if w.Header().Get("X-Custom") != "value" {
		t.Errorf("Custom header not set")
	}
	if w.Body.String() != "ok" {
		t.Errorf("Body = %q, want %q", w.Body.String(), "ok")
	}
	if w.Header().Get("HX-Trigger") != "" {
		t.Errorf("HX-Trigger set without events: %s", w.Header().Get("HX-Trigger"))
	}
}

func TestHTMXResponseBuilder_LedgerEvents(t *testing.T) {
	w := httptest.NewRecorder()

	NewHTMXResponse().
		TriggerLedgerChanged("created", 1710000000000).
		TriggerFormReset().
		TriggerSuccessNotification("Expense added").
		Write(w)

	ev := triggerEvents(t, w)
	assertPayload(t, ev, EventLedgerChanged, `{"kind":"created","id":1710000000000}`)
	assertPayload(t, ev, EventFormReset, `{}`)
	assertPayload(t, ev, EventShowNotification, `{"type":"success","message":"Expense added","duration":3000}`)
}

func TestHTMXResponseBuilder_EditEvents(t *testing.T) {
	w := httptest.NewRecorder()

	NewHTMXResponse().
		TriggerFormEdit(42).
		TriggerFormRefresh().
		TriggerWarningNotification("not saved").
		Write(w)

	ev := triggerEvents(t, w)
	assertPayload(t, ev, EventFormEdit, `{"id":42}`)
	assertPayload(t, ev, EventFormRefresh, `{}`)
	assertPayload(t, ev, EventShowNotification, `{"type":"warning","message":"not saved","duration":8000}`)
}

func TestHTMXResponseBuilder_LastNotificationWins(t *testing.T) {
	w := httptest.NewRecorder()

	NewHTMXResponse().
		TriggerSuccessNotification("first").
		TriggerNotification(NotificationInfo, "second", 1500*time.Millisecond).
		Write(w)

	assertPayload(t, triggerEvents(t, w), EventShowNotification, `{"type":"info","message":"second","duration":1500}`)
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		builder    *HTMXResponseBuilder
		wantStatus int
		wantBody   string
	}{
		{"bad request", BadRequestError("Invalid input"), http.StatusBadRequest, `<div class="error">Invalid input</div>`},
		{"not found", NotFoundError("No attachment"), http.StatusNotFound, `<div class="error">No attachment</div>`},
		{"internal", InternalServerError("Something broke"), http.StatusInternalServerError, `<div class="error">Something broke</div>`},
		{"escapes html", BadRequestError("<script>alert('x')</script>"), http.StatusBadRequest,
			`<div class="error">&lt;script&gt;alert(&#39;x&#39;)&lt;/script&gt;</div>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)

			if w.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("Body = %q, want %q", w.Body.String(), tt.wantBody)
			}
			if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestMethodNotAllowedError(t *testing.T) {
	w := httptest.NewRecorder()

	MethodNotAllowedError("DELETE, POST").Write(w)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if w.Header().Get("Allow") != "DELETE, POST" {
		t.Errorf("Allow header = %q, want %q", w.Header().Get("Allow"), "DELETE, POST")
	}
	if w.Body.Len() != 0 {
		t.Errorf("Body = %q, want empty", w.Body.String())
	}
}
