package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
)

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

const (
	notAvailable   = "N/A"
	systemActor    = "System"
	emptyExportCSV = "No audit logs found"
)

var csvHeader = []string{
	"Timestamp",
	"User Name",
	"User Email",
	"Action",
	"Resource",
	"Resource ID",
	"Details",
	"IP Address",
	"Organization",
}

// quoteAll renders one CSV record with every field quoted.
func quoteAll(fields ...string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func actorName(e *Entry) string {
	if e.User == nil {
		return systemActor
	}
	return e.User.Name()
}

// WriteCSV writes entries in the audit download layout. An empty list
// renders a single explanatory line.
func WriteCSV(w io.Writer, entries []*Entry) error {
	if len(entries) == 0 {
		_, err := io.WriteString(w, emptyExportCSV)
		return err
	}

	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, quoteAll(csvHeader...))
	for _, e := range entries {
		email, org := notAvailable, notAvailable
		if e.User != nil {
			email = e.User.Email
			org = orNA(e.User.OrganizationName)
		}
		lines = append(lines, quoteAll(
			timestamp(e.CreatedAt),
			actorName(e),
			email,
			string(e.Action),
			string(e.Resource),
			orNA(e.ResourceID),
			orNA(e.Details),
			orNA(e.IPAddress),
			org,
		))
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n"))
	return err
}

// WriteSummaryCSV writes a metric table followed by the recent activity
// block when there is any.
func WriteSummaryCSV(w io.Writer, s *Summary) error {
	var b strings.Builder
	rows := [][]string{
		{"Metric", "Value"},
		{"Total Logs", strconv.Itoa(s.TotalLogs)},
		{"Accessible Organizations", strconv.Itoa(s.AccessibleOrganizations)},
		{"Recent Activity Count", strconv.Itoa(len(s.RecentActivity))},
	}
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(quoteAll(row...))
	}

	if len(s.RecentActivity) > 0 {
		b.WriteString("\n\nRecent Activity:\n")
		b.WriteString("Timestamp,User,Action,Resource,Details\n")
		for _, e := range s.RecentActivity {
			b.WriteString(quoteAll(
				timestamp(e.CreatedAt),
				actorName(e),
				string(e.Action),
				string(e.Resource),
				orNA(e.Details),
			))
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes entries as an indented JSON array.
func WriteJSON(w io.Writer, entries []*Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// WriteNDJSON writes one JSON object per line.
func WriteNDJSON(w io.Writer, entries []*Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode audit log %s: %w", e.ID, err)
		}
	}
	return nil
}

// Export writes entries in format f.
func Export(w io.Writer, f Format, entries []*Entry) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, entries)
	case FormatNDJSON:
		return WriteNDJSON(w, entries)
	case FormatJSON, "":
		return WriteJSON(w, entries)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}
