package log

import "unitledger/internal/core"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"
	FieldExpenseID     = "expense_id"
	FieldExpenseType   = "expense_type"
	FieldUnitName      = "unit_name"
	FieldCategory      = "category"
	FieldAmountCents   = "amount_cents"
	FieldExpenseDate   = "expense_date"
	FieldSlot          = "slot"
	FieldRecordCount   = "record_count"
	FieldFilterUnit    = "filter_unit"
	FieldFilterMonth   = "filter_month"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentStorage   = "storage"
	ComponentForm      = "form"
	ComponentAMQP      = "amqp"
	ComponentExport    = "export"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
	ComponentTemplate  = "template"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpBeginEdit = "begin_edit"
	OpClearEdit = "clear_edit"
	OpList      = "list"
	OpLoad      = "load"
	OpSave      = "save"
	OpExport    = "export"
	OpPublish   = "publish"
	OpValidate  = "validate"
	OpRender    = "render"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeStorage       = "storage_error"
	ErrorTypeDecode        = "decode_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds error field; nil errors are skipped
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithErrorType(errorType string) LogFields {
	f[FieldErrorType] = errorType
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRecord adds the identifying fields of an expense record
func (f LogFields) WithRecord(r core.ExpenseRecord) LogFields {
	f[FieldExpenseID] = r.ID
	f[FieldExpenseType] = string(r.ExpenseType)
	f[FieldUnitName] = r.UnitName
	f[FieldCategory] = string(r.Category)
	f[FieldAmountCents] = r.Amount.Cents
	f[FieldExpenseDate] = r.Date.String()
	return f
}

// WithFilter adds the active list filter
func (f LogFields) WithFilter(unit, month string) LogFields {
	f[FieldFilterUnit] = unit
	f[FieldFilterMonth] = month
	return f
}

func (f LogFields) WithSlot(name string) LogFields {
	f[FieldSlot] = name
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
