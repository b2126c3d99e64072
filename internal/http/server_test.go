package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitledger/internal/core"
	"unitledger/internal/ledger"
	"unitledger/internal/log"
	"unitledger/internal/storage"
)

var testNow = time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

type failingSlot struct{ storage.Slot }

func (failingSlot) Write(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func newTestServer(t *testing.T, slot storage.Slot) (*Server, *ledger.Store) {
	t.Helper()
	if slot == nil {
		slot = storage.NewMemorySlot()
	}
	ctx := context.Background()
	store := ledger.New(ctx, storage.NewAdapter(slot, "expenses", log.Discard()),
		ledger.WithClock(func() time.Time { return testNow }))
	srv := NewServer(":0", store, Options{
		Currency: "EGP",
		Logger:   log.Discard(),
		Now:      func() time.Time { return testNow },
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	require.NotNil(t, srv.templates, "templates must parse")
	return srv, store
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func unitForm(unit, amount string) url.Values {
	return url.Values{
		"date":          {"2024-03-05"},
		"expenseType":   {"unit"},
		"unitName":      {unit},
		"category":      {"water"},
		"description":   {"Monthly bill"},
		"amount":        {amount},
		"paymentStatus": {"paid"},
		"paymentMethod": {"cash"},
	}
}

func seed(t *testing.T, store *ledger.Store, records ...core.ExpenseRecord) []core.ExpenseRecord {
	t.Helper()
	out := make([]core.ExpenseRecord, 0, len(records))
	for _, r := range records {
		saved, err := store.Add(context.Background(), r)
		require.NoError(t, err)
		out = append(out, saved)
	}
	return out
}

func record(date core.Date, unit string, cents int64) core.ExpenseRecord {
	return core.ExpenseRecord{
		Date:          date,
		ExpenseType:   core.ExpenseTypeUnit,
		UnitName:      unit,
		Category:      core.CategoryCleaning,
		Amount:        core.Money{Cents: cents},
		PaymentStatus: core.PaymentPending,
		PaymentMethod: core.MethodBank,
	}
}

func TestIndexAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Serviced Apartments Expenses")
	assert.Contains(t, body, "Add New Expense")
	assert.Contains(t, body, "No expenses found.")
	assert.Contains(t, body, "EGP 0.00")
	assert.Contains(t, body, `value="2024-03-20"`, "date defaults to today")
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(srv, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	}

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ledger_records 0")

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubmitExpenseValidationAndSuccess(t *testing.T) {
	srv, store := newTestServer(t, nil)

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/expenses", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = do(srv, postForm("/expenses", unitForm("Apt 1", "abc")))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "Amount must be a non-negative number")
	assert.Contains(t, rr.Body.String(), `value="Apt 1"`, "input is kept on error")
	assert.Zero(t, store.Len())

	missingUnit := unitForm("", "10")
	rr = do(srv, postForm("/expenses", missingUnit))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "Unit name is required")

	rr = do(srv, postForm("/expenses", unitForm("Apt 1", "150.5")))
	require.Equal(t, http.StatusOK, rr.Code)
	trigger := rr.Header().Get("HX-Trigger")
	assert.Contains(t, trigger, `"ledger:changed"`)
	assert.Contains(t, trigger, `"kind":"created"`)
	assert.Contains(t, trigger, `"form:reset"`)
	assert.Contains(t, trigger, `"type":"success"`)
	assert.Contains(t, rr.Body.String(), "Add New Expense")

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, testNow.UnixMilli(), records[0].ID)
	assert.Equal(t, int64(15050), records[0].Amount.Cents)
	assert.Equal(t, "Monthly bill", records[0].Description)
}

func TestSubmitSalaryUsesGeneralUnit(t *testing.T) {
	srv, store := newTestServer(t, nil)

	values := unitForm("Apt 9", "3000")
	values.Set("expenseType", "salary")
	values.Set("category", "salary")
	rr := do(srv, postForm("/expenses", values))
	require.Equal(t, http.StatusOK, rr.Code)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, core.GeneralUnit, records[0].UnitName)
	assert.Equal(t, core.ExpenseTypeSalary, records[0].ExpenseType)
}

func TestEditFlow(t *testing.T) {
	srv, store := newTestServer(t, nil)
	saved := seed(t, store, record(core.NewDate(2024, 3, 1), "Apt 3", 5000))[0]
	id := strconv.FormatInt(saved.ID, 10)

	rr := do(srv, httptest.NewRequest(http.MethodPost, "/expenses/"+id+"/edit", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Edit Expense")
	assert.Contains(t, rr.Body.String(), `value="50.00"`)
	assert.Contains(t, rr.Header().Get("HX-Trigger"), `"form:edit"`)
	staged, ok := store.Editing()
	require.True(t, ok)
	assert.Equal(t, saved.ID, staged.ID)

	// The list marks the staged row.
	rr = do(srv, httptest.NewRequest(http.MethodGet, "/ui/expenses", nil))
	assert.Contains(t, rr.Body.String(), `id="expense-`+id+`" class="editing"`)

	rr = do(srv, postForm("/expenses", unitForm("Apt 3", "75")))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("HX-Trigger"), `"kind":"updated"`)
	assert.Contains(t, rr.Body.String(), "Add New Expense")

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, saved.ID, records[0].ID)
	assert.Equal(t, int64(7500), records[0].Amount.Cents)
	_, ok = store.Editing()
	assert.False(t, ok)
}

func TestCancelEdit(t *testing.T) {
	srv, store := newTestServer(t, nil)
	saved := seed(t, store, record(core.NewDate(2024, 3, 1), "Apt 3", 5000))[0]
	store.BeginEdit(saved)

	rr := do(srv, httptest.NewRequest(http.MethodPost, "/expenses/edit/cancel", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Add New Expense")
	_, ok := store.Editing()
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestEditUnknownExpense(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := do(srv, httptest.NewRequest(http.MethodPost, "/expenses/42/edit", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(srv, httptest.NewRequest(http.MethodPost, "/expenses/abc/edit", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitUpdateOfVanishedExpense(t *testing.T) {
	srv, store := newTestServer(t, nil)
	seed(t, store, record(core.NewDate(2024, 3, 1), "Apt 3", 5000))
	store.BeginEdit(core.ExpenseRecord{ID: 999})

	rr := do(srv, postForm("/expenses", unitForm("Apt 3", "75")))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Header().Get("HX-Trigger"), `"form:refresh"`)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int64(5000), store.Records()[0].Amount.Cents)
	_, ok := store.Editing()
	assert.False(t, ok)
}

func TestDeleteExpense(t *testing.T) {
	srv, store := newTestServer(t, nil)
	saved := seed(t, store,
		record(core.NewDate(2024, 3, 1), "Apt 1", 100),
		record(core.NewDate(2024, 3, 2), "Apt 2", 200),
	)
	store.BeginEdit(saved[0])

	rr := do(srv, httptest.NewRequest(http.MethodDelete, "/expenses/"+strconv.FormatInt(saved[0].ID, 10), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())
	trigger := rr.Header().Get("HX-Trigger")
	assert.Contains(t, trigger, `"kind":"deleted"`)
	assert.Contains(t, trigger, `"form:refresh"`, "staged record was removed")
	assert.Equal(t, 1, store.Len())

	rr = do(srv, httptest.NewRequest(http.MethodPost, "/expenses/"+strconv.FormatInt(saved[1].ID, 10)+"/delete", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Header().Get("HX-Trigger"), `"form:refresh"`)
	assert.Zero(t, store.Len())

	rr = do(srv, httptest.NewRequest(http.MethodDelete, "/expenses/12345", nil))
	assert.Equal(t, http.StatusOK, rr.Code, "unknown id is a no-op")

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/expenses/12345/delete", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "DELETE, POST", rr.Header().Get("Allow"))
}

func TestExpenseListFilters(t *testing.T) {
	srv, store := newTestServer(t, nil)
	saved := seed(t, store,
		record(core.NewDate(2024, 3, 1), "Apt 1", 100),
		record(core.NewDate(2024, 4, 2), "Apt 2", 200),
		record(core.NewDate(2024, 3, 9), "Apt 2", 400),
	)
	row := func(r core.ExpenseRecord) string { return `id="expense-` + strconv.FormatInt(r.ID, 10) + `"` }

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/ui/expenses?unit=Apt+2", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.NotContains(t, body, row(saved[0]))
	assert.Contains(t, body, row(saved[1]))
	assert.Contains(t, body, row(saved[2]))
	assert.Contains(t, body, "EGP 6.00")
	assert.Contains(t, body, "All Units")

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/ui/expenses?month=2024-03", nil))
	body = rr.Body.String()
	assert.Contains(t, body, row(saved[0]))
	assert.NotContains(t, body, row(saved[1]))
	assert.Contains(t, body, row(saved[2]))
	assert.Less(t, strings.Index(body, row(saved[2])), strings.Index(body, row(saved[0])), "newest first")

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/ui/expenses?month=March", nil))
	assert.Contains(t, rr.Body.String(), row(saved[1]), "malformed month is ignored")

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/ui/summary", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "EGP 7.00")
}

func multipartExpense(t *testing.T, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range unitForm("Apt 5", "12") {
		require.NoError(t, mw.WriteField(k, v[0]))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("attachment", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	srv, store := newTestServer(t, nil)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 32)...)

	body, contentType := multipartExpense(t, "receipt.png", png)
	req := httptest.NewRequest(http.MethodPost, "/expenses", body)
	req.Header.Set("Content-Type", contentType)
	rr := do(srv, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	records := store.Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].HasAttachment())
	assert.Equal(t, "receipt.png", records[0].AttachmentName)

	id := strconv.FormatInt(records[0].ID, 10)
	rr = do(srv, httptest.NewRequest(http.MethodGet, "/expenses/"+id+"/attachment", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `inline; filename=receipt.png`)
	assert.Equal(t, png, rr.Body.Bytes())

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/ui/expenses", nil))
	assert.Contains(t, rr.Body.String(), "/expenses/"+id+"/attachment")
}

func TestAttachmentTooLarge(t *testing.T) {
	srv, store := newTestServer(t, nil)
	srv.maxAttachmentBytes = 16

	body, contentType := multipartExpense(t, "big.txt", bytes.Repeat([]byte("x"), 64))
	req := httptest.NewRequest(http.MethodPost, "/expenses", body)
	req.Header.Set("Content-Type", contentType)
	rr := do(srv, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "Attachment is too large")
	assert.Zero(t, store.Len())
}

func TestAttachmentMissing(t *testing.T) {
	srv, store := newTestServer(t, nil)
	saved := seed(t, store, record(core.NewDate(2024, 3, 1), "Apt 1", 100))[0]

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/expenses/"+strconv.FormatInt(saved.ID, 10)+"/attachment", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPersistFailureIsAWarning(t *testing.T) {
	srv, store := newTestServer(t, failingSlot{storage.NewMemorySlot()})

	rr := do(srv, postForm("/expenses", unitForm("Apt 1", "10")))
	require.Equal(t, http.StatusOK, rr.Code)
	trigger := rr.Header().Get("HX-Trigger")
	assert.Contains(t, trigger, `"type":"warning"`)
	assert.Contains(t, trigger, `"ledger:changed"`)
	assert.Equal(t, 1, store.Len(), "change stays in memory")

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "ledger_persist_failures_total 1")
}

func TestExportXLSX(t *testing.T) {
	srv, store := newTestServer(t, nil)
	seed(t, store, record(core.NewDate(2024, 3, 1), "Apt 1", 100))

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/export.xlsx?unit=Apt+1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="ledger_20240320.xlsx"`, rr.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")
}

func TestAPICreateAndList(t *testing.T) {
	srv, store := newTestServer(t, nil)

	payload := `{"date":"2024-03-05","expenseType":"unit","unitName":"Apt 7","category":"internet",` +
		`"amount":99.5,"paymentStatus":"pending","paymentMethod":"wallet"}`
	req := httptest.NewRequest(http.MethodPost, "/api/expenses", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := do(srv, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, 1, store.Len())

	req = httptest.NewRequest(http.MethodPost, "/api/expenses", strings.NewReader(`{"amount":"-1"}`))
	rr = do(srv, req)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), `"amount"`)

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/api/expenses?unit=Apt+7", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Unit     string               `json:"unit"`
		Expenses []core.ExpenseRecord `json:"expenses"`
		Total    core.Money           `json:"total"`
		Summary  struct {
			UnitTotal core.Money `json:"unitTotal"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Apt 7", resp.Unit)
	require.Len(t, resp.Expenses, 1)
	assert.Equal(t, int64(9950), resp.Total.Cents)
	assert.Equal(t, int64(9950), resp.Summary.UnitTotal.Cents)
}

func TestAPICreateIgnoresStagedEdit(t *testing.T) {
	srv, store := newTestServer(t, nil)
	staged := seed(t, store, record(core.NewDate(2024, 3, 1), "Apt 101", 5000))[0]
	store.BeginEdit(staged)

	payload := `{"date":"2024-03-05","expenseType":"unit","unitName":"Apt 202","category":"water",` +
		`"amount":12,"paymentStatus":"paid","paymentMethod":"cash"}`
	req := httptest.NewRequest(http.MethodPost, "/api/expenses", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := do(srv, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	require.Equal(t, 2, store.Len())
	kept, ok := store.Get(staged.ID)
	require.True(t, ok, "the staged expense must survive an API create")
	assert.Equal(t, "Apt 101", kept.UnitName)

	still, editing := store.Editing()
	assert.True(t, editing, "the page's edit stage is left alone")
	assert.Equal(t, staged.ID, still.ID)
}

func TestRateLimitOnMutations(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	limited := false
	for i := 0; i < 70; i++ {
		rr := do(srv, httptest.NewRequest(http.MethodPost, "/expenses/edit/cancel", nil))
		if rr.Code == http.StatusTooManyRequests {
			limited = true
			assert.NotEmpty(t, rr.Header().Get("Retry-After"))
			break
		}
	}
	assert.True(t, limited)

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/ui/summary", nil))
	assert.Equal(t, http.StatusOK, rr.Code, "reads are not limited")
}

func TestSuspiciousRequestRejected(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/ui/expenses?unit=../../etc/passwd", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
