package pii

import (
	"log/slog"
	"strings"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor replaces sensitive metadata values before a record is persisted.
type Redactor struct {
	fieldsToRedact map[string]struct{} // lower-cased for case-insensitive lookups
	logger         *slog.Logger
}

// NewRedactor creates a new Redactor instance with a given set of fields to redact.
func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		field = strings.ToLower(strings.TrimSpace(field))
		if field == "" {
			continue
		}
		fieldSet[field] = struct{}{}
	}
	return &Redactor{
		fieldsToRedact: fieldSet,
		logger:         logger,
	}
}

// Redact returns a copy of metadata with sensitive values replaced, descending
// into nested objects. The input map is never modified. The second result
// reports whether anything was redacted.
func (r *Redactor) Redact(metadata map[string]any) (map[string]any, bool) {
	if r == nil || len(r.fieldsToRedact) == 0 || len(metadata) == 0 {
		return metadata, false
	}
	out, redacted := r.redactMap(metadata)
	if redacted {
		r.logger.Debug("redacted sensitive metadata fields")
	}
	return out, redacted
}

func (r *Redactor) redactMap(in map[string]any) (map[string]any, bool) {
	out := make(map[string]any, len(in))
	redacted := false
	for k, v := range in {
		if _, ok := r.fieldsToRedact[strings.ToLower(k)]; ok {
			out[k] = RedactedPlaceholder
			redacted = true
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			cleaned, nestedRedacted := r.redactMap(nested)
			out[k] = cleaned
			redacted = redacted || nestedRedacted
			continue
		}
		out[k] = v
	}
	return out, redacted
}
