// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// It turns query strings, urlencoded or multipart forms and JSON bodies into
// the filter and form input the ledger handlers work with.

package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"unitledger/internal/form"
	"unitledger/internal/views"
)

// multipartOverhead is the room left for ordinary fields next to the file.
const multipartOverhead = 1 << 20

// monthPattern accepts a year or a year-month prefix.
var monthPattern = regexp.MustCompile(`^\d{4}(-\d{2})?$`)

// ParseFilterParams extracts the unit and month filters from query
// parameters. A month that is not YYYY or YYYY-MM is ignored.
func ParseFilterParams(query url.Values) views.Filter {
	unit := sanitizeInput(query.Get("unit"))
	month := strings.TrimSpace(query.Get("month"))
	if month != "" && !monthPattern.MatchString(month) {
		month = ""
	}
	return views.NewFilter(unit, month)
}

// inputFromValues reads the expense fields of a urlencoded or multipart form.
func inputFromValues(get func(string) string) form.Input {
	return form.Input{
		Date:             get(form.FieldDate),
		ExpenseType:      get(form.FieldExpenseType),
		UnitName:         get(form.FieldUnitName),
		Category:         get(form.FieldCategory),
		Description:      get(form.FieldDescription),
		Amount:           get(form.FieldAmount),
		PaymentStatus:    get(form.FieldPaymentStatus),
		PaymentMethod:    get(form.FieldPaymentMethod),
		RemoveAttachment: isChecked(get("removeAttachment")),
	}
}

func isChecked(v string) bool {
	switch strings.ToLower(v) {
	case "on", "true", "1", "yes":
		return true
	default:
		return false
	}
}

// ParseExpenseForm reads an expense form. Multipart bodies may carry an
// attachment file, which is encoded onto the returned input. Attachment
// problems are returned as field errors; a malformed body is returned as err.
func ParseExpenseForm(w http.ResponseWriter, r *http.Request, maxAttachmentBytes int64) (form.Input, form.Errors, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return form.Input{}, nil, err
		}
		return inputFromValues(func(k string) string { return sanitizeInput(r.PostForm.Get(k)) }), nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxAttachmentBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return form.Input{}, form.Errors{form.FieldAttachment: "Attachment is too large"}, nil
		}
		return form.Input{}, nil, err
	}
	in := inputFromValues(func(k string) string { return sanitizeInput(r.PostFormValue(k)) })

	file, header, err := r.FormFile(form.FieldAttachment)
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil, nil
	}
	if err != nil {
		return in, nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAttachmentBytes+1))
	if err != nil {
		return in, nil, err
	}
	ref, err := form.EncodeAttachment(header.Filename, header.Header.Get("Content-Type"), data, maxAttachmentBytes)
	switch {
	case errors.Is(err, form.ErrAttachmentTooLarge):
		return in, form.Errors{form.FieldAttachment: "Attachment is too large"}, nil
	case errors.Is(err, form.ErrAttachmentEmpty):
		return in, form.Errors{form.FieldAttachment: "Attachment is empty"}, nil
	case err != nil:
		return in, form.Errors{form.FieldAttachment: "Attachment is not readable"}, nil
	}
	in.Attachment = ref
	in.AttachmentName = header.Filename
	return in, nil, nil
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}

	p.body, p.err = io.ReadAll(r.Body)
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	// Try JSON first if content looks like JSON
	if p.body[0] == '{' || p.body[0] == '[' {
		p.jsonData = make(map[string]interface{})
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	// Fall back to form parsing
	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return strings.TrimSpace(sanitizeInput(stringValue(val)))
		}
	}
	if p.formData != nil {
		return strings.TrimSpace(sanitizeInput(p.formData.Get(key)))
	}
	return ""
}

// ExpenseInput maps the parsed body onto form input. Attachments are not
// accepted through this path.
func (p *RequestBodyParser) ExpenseInput() form.Input {
	return inputFromValues(p.Get)
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts an interface{} to string.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// RequireMethod checks if the request method matches the expected method(s).
// Returns an error response builder if the method doesn't match.
func RequireMethod(r *http.Request, methods ...string) *HTMXResponseBuilder {
	for _, m := range methods {
		if r.Method == m {
			return nil
		}
	}
	return MethodNotAllowedError(strings.Join(methods, ", "))
}

// RequireDeleteOrPOST is a convenience function for DELETE/POST handlers.
func RequireDeleteOrPOST(r *http.Request) *HTMXResponseBuilder {
	return RequireMethod(r, http.MethodDelete, http.MethodPost)
}
