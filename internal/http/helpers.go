package http

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"unitledger/internal/core"
)

// parseExpenseID reads the {id} path value.
func parseExpenseID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid expense id %q", raw)
	}
	return id, nil
}

// formatMoney formats m with the currency code prefix (e.g. "EGP 1500.00").
func formatMoney(currency string, m core.Money) string {
	return m.Format(currency)
}

// attachmentDisposition keeps the original file name. Only images and PDFs
// are shown inline; anything else is downloaded.
func attachmentDisposition(name, contentType string) string {
	disposition := "attachment"
	if (strings.HasPrefix(contentType, "image/") && contentType != "image/svg+xml") || contentType == "application/pdf" {
		disposition = "inline"
	}
	if name == "" {
		return disposition
	}
	if v := mime.FormatMediaType(disposition, map[string]string{"filename": name}); v != "" {
		return v
	}
	return disposition
}

// exportFileName names a workbook download after the export day.
func exportFileName(now time.Time) string {
	return "ledger_" + now.Format("20060102") + ".xlsx"
}

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}
