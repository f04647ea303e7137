package core

// parse.go turns uploaded text into a RawTable.
//
// Parsing is record-oriented and tolerant: a malformed record is recorded as a
// ParseError and never aborts the file. The first non-empty record is the
// header; every later non-empty record is a data row. Quoted fields may span
// lines. A bare quote inside an unquoted field is kept as a literal. A quoted
// field that never closes excludes its row, and parsing resumes on the line
// after the one where that row started.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
)

// ErrUnterminatedQuote is the reason a row is excluded for an unclosed quoted field.
var ErrUnterminatedQuote = errors.New("unterminated quoted field")

// Parse splits text into headers, data rows and non-fatal parse errors.
// An empty file or a header-only file yields no rows and no errors.
func Parse(text string) RawTable {
	table := RawTable{
		Headers:     []string{},
		Rows:        []RawRow{},
		ParseErrors: []ParseError{},
	}

	lines := splitLines(text)

	headerLine := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			headerLine = i
			break
		}
	}
	if headerLine < 0 {
		return table
	}

	delim := detectDelimiter(lines[headerLine])

	headerEnd, err := recordEnd(lines, headerLine, delim)
	var header []string
	if err == nil {
		header, err = parseRecord(lines[headerLine:headerEnd+1], delim)
	}
	if err != nil {
		table.ParseErrors = append(table.ParseErrors, ParseError{
			RowIndex: -1,
			Line:     headerLine + 1,
			Reason:   fmt.Sprintf("malformed header: %v", err),
		})
		return table
	}
	table.Headers = uniqueHeaders(header)
	expected := len(table.Headers)

	rowIndex := 0
	for i := headerEnd + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		lineNum := i + 1

		end, err := recordEnd(lines, i, delim)
		var fields []string
		if err == nil {
			fields, err = parseRecord(lines[i:end+1], delim)
		}
		if err != nil {
			table.ParseErrors = append(table.ParseErrors, ParseError{
				RowIndex: rowIndex,
				Line:     lineNum,
				Reason:   fmt.Sprintf("malformed quoting: %v; row excluded", err),
			})
			rowIndex++
			continue
		}
		i = end

		if isEmptyRow(fields) {
			continue
		}

		switch {
		case len(fields) > expected:
			table.ParseErrors = append(table.ParseErrors, ParseError{
				RowIndex: rowIndex,
				Line:     lineNum,
				Reason:   fmt.Sprintf("row has %d fields, expected %d; extra fields dropped", len(fields), expected),
			})
			fields = fields[:expected]
		case len(fields) < expected:
			table.ParseErrors = append(table.ParseErrors, ParseError{
				RowIndex: rowIndex,
				Line:     lineNum,
				Reason:   fmt.Sprintf("row has %d fields, expected %d; padded with empty values", len(fields), expected),
			})
		}

		values := make(map[string]string, expected)
		for col, h := range table.Headers {
			if col < len(fields) {
				values[h] = fields[col]
			} else {
				values[h] = ""
			}
		}

		table.Rows = append(table.Rows, RawRow{
			Index:  rowIndex,
			Line:   lineNum,
			Values: values,
		})
		rowIndex++
	}

	return table
}

// splitLines normalizes CRLF and CR line endings and splits on LF.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

// detectDelimiter picks comma unless the header clearly uses tabs or semicolons.
func detectDelimiter(header string) rune {
	commas := strings.Count(header, ",")
	tabs := strings.Count(header, "\t")
	semis := strings.Count(header, ";")
	switch {
	case tabs > commas && tabs >= semis:
		return '\t'
	case semis > commas:
		return ';'
	default:
		return ','
	}
}

// recordEnd returns the index of the last line of the record starting at
// lines[start]. A record continues past a line break only inside a quoted
// field. Once a quoted field has crossed a line break it must close cleanly:
// a quote followed by anything but a quote, the delimiter or the end of the
// line means the field was never terminated, and so does reaching the end of
// input. A first line holding a stray quote inside a quoted field ends there.
func recordEnd(lines []string, start int, delim rune) (int, error) {
	d := byte(delim)
	inQuotes := false
	fieldStart := true
	strayQuote := false // the open field has a quote on the first line that could have closed it

	for i := start; i < len(lines); i++ {
		line := lines[i]
		for j := 0; j < len(line); j++ {
			c := line[j]
			switch {
			case inQuotes:
				if c != '"' {
					continue
				}
				if j+1 < len(line) && line[j+1] == '"' {
					j++
					continue
				}
				if j+1 == len(line) || line[j+1] == d {
					inQuotes = false
					continue
				}
				if i > start {
					return start, ErrUnterminatedQuote
				}
				strayQuote = true
			case c == '"' && fieldStart:
				inQuotes = true
				fieldStart = false
				strayQuote = false
			case c == d:
				fieldStart = true
			default:
				fieldStart = false
			}
		}
		if !inQuotes || (i == start && strayQuote) {
			return i, nil
		}
	}
	return start, ErrUnterminatedQuote
}

// parseRecord reads the one CSV record held by lines.
func parseRecord(lines []string, delim rune) ([]string, error) {
	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	fields, err := r.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, pe.Err
		}
		return nil, err
	}
	return fields, nil
}

// uniqueHeaders cleans header cells, names blank ones by position and
// disambiguates repeats so every raw header is a distinct key.
func uniqueHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, h := range raw {
		h = CleanCell(h)
		if h == "" {
			h = fmt.Sprintf("Column %d", i+1)
		}
		key := strings.ToLower(h)
		seen[key]++
		if n := seen[key]; n > 1 {
			h = fmt.Sprintf("%s (%d)", h, n)
		}
		headers[i] = h
	}
	return headers
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
