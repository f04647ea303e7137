package core

import (
	"fmt"
	"sort"
	"strings"
)

// MappingError reports a column mapping that cannot be applied.
// It is returned before validation starts, so no store mutation has happened.
type MappingError struct {
	Missing        []Field  `json:"missing,omitempty"`        // required canonical fields with no raw header
	UnknownFields  []string `json:"unknownFields,omitempty"`  // keys that are not canonical fields
	UnknownHeaders []string `json:"unknownHeaders,omitempty"` // raw headers absent from the file
	Repeated       []string `json:"repeated,omitempty"`       // raw headers mapped to more than one field
}

func (e *MappingError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		names := make([]string, len(e.Missing))
		for i, f := range e.Missing {
			names[i] = string(f)
		}
		parts = append(parts, "missing required field mapping: "+strings.Join(names, ", "))
	}
	if len(e.UnknownFields) > 0 {
		parts = append(parts, "unknown canonical field: "+strings.Join(e.UnknownFields, ", "))
	}
	if len(e.UnknownHeaders) > 0 {
		parts = append(parts, "mapped column not found in file: "+strings.Join(e.UnknownHeaders, ", "))
	}
	if len(e.Repeated) > 0 {
		parts = append(parts, "column mapped more than once: "+strings.Join(e.Repeated, ", "))
	}
	return "invalid mapping: " + strings.Join(parts, "; ")
}

// Check verifies a mapping against the parsed headers.
// It returns a *MappingError describing every problem, or nil.
func (m ColumnMapping) Check(headers []string) error {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}

	e := &MappingError{}
	for _, f := range RequiredFields {
		if strings.TrimSpace(m[f]) == "" {
			e.Missing = append(e.Missing, f)
		}
	}

	used := make(map[string]int, len(m))
	for _, f := range sortedFields(m) {
		header := m[f]
		if !f.IsCanonical() {
			e.UnknownFields = append(e.UnknownFields, string(f))
			continue
		}
		if strings.TrimSpace(header) == "" {
			continue
		}
		if !known[header] {
			e.UnknownHeaders = append(e.UnknownHeaders, header)
			continue
		}
		used[header]++
		if used[header] == 2 {
			e.Repeated = append(e.Repeated, header)
		}
	}

	if len(e.Missing)+len(e.UnknownFields)+len(e.UnknownHeaders)+len(e.Repeated) > 0 {
		return e
	}
	return nil
}

// ApplyMapping projects every row of the table onto canonical fields.
// Unmapped raw columns are ignored.
func ApplyMapping(table RawTable, mapping ColumnMapping) ([]NormalizedRow, error) {
	if err := mapping.Check(table.Headers); err != nil {
		return nil, err
	}

	rows := make([]NormalizedRow, 0, len(table.Rows))
	for _, raw := range table.Rows {
		values := make(map[Field]string, len(mapping))
		for f, header := range mapping {
			if header == "" {
				continue
			}
			values[f] = raw.Values[header]
		}
		rows = append(rows, NormalizedRow{Index: raw.Index, Values: values})
	}
	return rows, nil
}

// sortedFields returns the mapping keys in a stable order for error messages.
func sortedFields(m ColumnMapping) []Field {
	fields := make([]Field, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// String renders the mapping for logs.
func (m ColumnMapping) String() string {
	parts := make([]string, 0, len(m))
	for _, f := range sortedFields(m) {
		parts = append(parts, fmt.Sprintf("%s=%q", f, m[f]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
