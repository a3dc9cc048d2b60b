package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
)

// ParseJSON decodes JSON from the request body into the destination.
// Unknown fields are rejected.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return apperrors.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", apperrors.NewValidationError(key, "missing path parameter")
	}
	return str, nil
}

// ParsePathUUID extracts a path parameter that must be a UUID.
func ParsePathUUID(r *http.Request, key string) (string, error) {
	str, err := ParsePathString(r, key)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(str); err != nil {
		return "", apperrors.NewValidationError(key, "must be a UUID")
	}
	return str, nil
}

// QueryParser accumulates field errors while reading query parameters.
type QueryParser struct {
	values map[string][]string
	errs   apperrors.ValidationError
}

// NewQueryParser reads r's query string.
func NewQueryParser(r *http.Request) *QueryParser {
	return &QueryParser{values: r.URL.Query()}
}

func (p *QueryParser) get(key string) string {
	if v := p.values[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// String returns the raw value or "".
func (p *QueryParser) String(key string) string {
	return p.get(key)
}

// UUID returns the value when it is a UUID, recording an error otherwise.
func (p *QueryParser) UUID(key string) string {
	v := p.get(key)
	if v == "" {
		return ""
	}
	if _, err := uuid.Parse(v); err != nil {
		p.errs.Add(key, "must be a UUID")
		return ""
	}
	return v
}

// Int returns the value within [min, max], or def when absent.
func (p *QueryParser) Int(key string, def, min, max int) int {
	v := p.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs.Add(key, "must be an integer")
		return def
	}
	if n < min || (max > 0 && n > max) {
		if max > 0 {
			p.errs.Add(key, fmt.Sprintf("must be between %d and %d", min, max))
		} else {
			p.errs.Add(key, fmt.Sprintf("must be at least %d", min))
		}
		return def
	}
	return n
}

// Time parses an RFC 3339 timestamp or a YYYY-MM-DD date.
func (p *QueryParser) Time(key string) *time.Time {
	v := p.get(key)
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	p.errs.Add(key, "must be an ISO 8601 date")
	return nil
}

// Enum returns the value when parse accepts it.
func (p *QueryParser) Enum(key string, parse func(string) error) string {
	v := p.get(key)
	if v == "" {
		return ""
	}
	if err := parse(v); err != nil {
		p.errs.Add(key, err.Error())
		return ""
	}
	return v
}

// Err returns the accumulated validation error, if any.
func (p *QueryParser) Err() error {
	if !p.errs.HasErrors() {
		return nil
	}
	return &p.errs
}

// WantsCSV reports whether the Accept header asks for CSV.
func WantsCSV(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/csv")
}
