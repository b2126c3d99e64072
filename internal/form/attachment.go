package form

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DefaultMaxAttachmentBytes caps uploads when no limit is configured.
const DefaultMaxAttachmentBytes = 2 << 20

var (
	ErrAttachmentEmpty    = errors.New("attachment is empty")
	ErrAttachmentTooLarge = errors.New("attachment is too large")
	ErrAttachmentRef      = errors.New("malformed attachment reference")
)

// EncodeAttachment turns an uploaded file into the inline data URI stored on
// the record. contentType is sniffed when empty.
func EncodeAttachment(name, contentType string, data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", ErrAttachmentEmpty
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrAttachmentTooLarge, len(data), maxBytes)
	}

	ct := strings.TrimSpace(contentType)
	if ct == "" || ct == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
			ct = byExt
		} else {
			ct = http.DetectContentType(data)
		}
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// DecodeAttachment reverses EncodeAttachment.
func DecodeAttachment(ref string) (contentType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return "", nil, ErrAttachmentRef
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrAttachmentRef
	}
	ct, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, ErrAttachmentRef
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrAttachmentRef, err)
	}
	return ct, data, nil
}

// IsAttachmentRef reports whether ref looks like an encoded attachment.
func IsAttachmentRef(ref string) bool {
	return strings.HasPrefix(ref, "data:") && strings.Contains(ref, ";base64,")
}

func cleanFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
