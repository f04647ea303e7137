package core

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestParse_Basic(t *testing.T) {
	table := Parse("First Name,Last Name,Grade\nAda,Lovelace,5\nAlan,Turing,K\n")

	if want := []string{"First Name", "Last Name", "Grade"}; !reflect.DeepEqual(table.Headers, want) {
		t.Errorf("Headers = %q, want %q", table.Headers, want)
	}
	if len(table.ParseErrors) != 0 {
		t.Errorf("ParseErrors = %v, want none", table.ParseErrors)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(table.Rows))
	}

	row := table.Rows[1]
	if row.Index != 1 || row.Line != 3 {
		t.Errorf("row = {Index: %d, Line: %d}, want {1, 3}", row.Index, row.Line)
	}
	if row.Values["First Name"] != "Alan" || row.Values["Grade"] != "K" {
		t.Errorf("row values = %v", row.Values)
	}
}

func TestParse_Quoting(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "embedded delimiter",
			input: "First,Last,Notes\nAda,Lovelace,\"likes math, music\"\n",
			want:  "likes math, music",
		},
		{
			name:  "escaped quotes",
			input: "First,Last,Notes\nAda,Lovelace,\"says \"\"hi\"\"\"\n",
			want:  `says "hi"`,
		},
		{
			name:  "empty quoted field",
			input: "First,Last,Notes\nAda,Lovelace,\"\"\n",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := Parse(tt.input)
			if len(table.ParseErrors) != 0 {
				t.Fatalf("ParseErrors = %v, want none", table.ParseErrors)
			}
			if len(table.Rows) != 1 {
				t.Fatalf("len(Rows) = %d, want 1", len(table.Rows))
			}
			if got := table.Rows[0].Values["Notes"]; got != tt.want {
				t.Errorf("Notes = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse_LongRowTruncated(t *testing.T) {
	table := Parse("First,Last\nAda,Lovelace,extra,more\n")

	if len(table.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(table.Rows))
	}
	if len(table.Rows[0].Values) != 2 {
		t.Errorf("row has %d values, want 2", len(table.Rows[0].Values))
	}
	if len(table.ParseErrors) != 1 {
		t.Fatalf("len(ParseErrors) = %d, want 1", len(table.ParseErrors))
	}
	pe := table.ParseErrors[0]
	if pe.RowIndex != 0 || pe.Line != 2 || !strings.Contains(pe.Reason, "dropped") {
		t.Errorf("ParseError = %+v, want truncation at row 0 line 2", pe)
	}
}

func TestParse_ShortRowPadded(t *testing.T) {
	table := Parse("First,Last,Grade\nAda\n")

	if len(table.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(table.Rows))
	}
	values := table.Rows[0].Values
	if values["First"] != "Ada" || values["Last"] != "" || values["Grade"] != "" {
		t.Errorf("values = %v, want Ada plus two empty fields", values)
	}
	if _, ok := values["Grade"]; !ok {
		t.Error("padded field should be present as an empty string")
	}
	if len(table.ParseErrors) != 1 || !strings.Contains(table.ParseErrors[0].Reason, "padded") {
		t.Errorf("ParseErrors = %v, want one padding error", table.ParseErrors)
	}
}

func TestParse_UnterminatedQuoteExcluded(t *testing.T) {
	table := Parse("First,Last\nAda,\"Lovelace\nAlan,Turing\n")

	if len(table.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(table.Rows))
	}
	if table.Rows[0].Values["First"] != "Alan" {
		t.Errorf("surviving row = %v, want Alan", table.Rows[0].Values)
	}
	if len(table.ParseErrors) != 1 {
		t.Fatalf("len(ParseErrors) = %d, want 1", len(table.ParseErrors))
	}
	if pe := table.ParseErrors[0]; pe.Line != 2 || !strings.Contains(pe.Reason, "excluded") {
		t.Errorf("ParseError = %+v, want excluded row at line 2", pe)
	}
}

func TestParse_BareQuoteInUnquotedField(t *testing.T) {
	table := Parse("First,Last\nAna,O\"Brien\nBo,Park\n")

	if len(table.ParseErrors) != 0 {
		t.Errorf("ParseErrors = %v, want none", table.ParseErrors)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(table.Rows))
	}
	if got := table.Rows[0].Values["Last"]; got != `O"Brien` {
		t.Errorf("Last = %q, want %q", got, `O"Brien`)
	}
}

func TestParse_MultiLineQuotedField(t *testing.T) {
	table := Parse("First,Last,Goals\nAna,Lee,\"read more\r\nwrite more\"\nBo,Park,math\n")

	if len(table.ParseErrors) != 0 {
		t.Errorf("ParseErrors = %v, want none", table.ParseErrors)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(table.Rows))
	}
	if got := table.Rows[0].Values["Goals"]; got != "read more\nwrite more" {
		t.Errorf("Goals = %q, want both lines", got)
	}
	if r := table.Rows[1]; r.Index != 1 || r.Line != 4 || r.Values["First"] != "Bo" {
		t.Errorf("second row = %+v, want Bo at line 4", r)
	}

	rows, err := ApplyMapping(table, ColumnMapping{FieldFirstName: "First", FieldLastName: "Last", FieldLearningGoals: "Goals"})
	if err != nil {
		t.Fatalf("ApplyMapping() error = %v", err)
	}
	result := Validate(rows, nil, ValidationPolicy{})
	if len(result.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(result.Records))
	}
	if got := result.Records[0].Student.LearningGoals; !reflect.DeepEqual(got, []string{"read more", "write more"}) {
		t.Errorf("LearningGoals = %q", got)
	}
}

// An unclosed quote must not swallow later rows that use quoting themselves.
func TestParse_UnterminatedQuoteResyncs(t *testing.T) {
	table := Parse("First,Last,Notes\nAda,\"Lovelace,1\nAlan,Turing,2\nGrace,\"Hopper, Jr\",3\n")

	if len(table.ParseErrors) != 1 || table.ParseErrors[0].Line != 2 {
		t.Fatalf("ParseErrors = %+v, want one at line 2", table.ParseErrors)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(table.Rows))
	}
	if got := table.Rows[1].Values["Last"]; got != "Hopper, Jr" {
		t.Errorf("Last = %q, want %q", got, "Hopper, Jr")
	}
	if r := table.Rows[0]; r.Index != 1 || r.Line != 3 {
		t.Errorf("first kept row = {Index: %d, Line: %d}, want {1, 3}", r.Index, r.Line)
	}
}

func TestParse_NoData(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantHeaders int
	}{
		{"empty file", "", 0},
		{"only blank lines", "\n  \n\r\n", 0},
		{"header only", "First,Last", 2},
		{"header only with trailing newlines", "First,Last\n\n\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := Parse(tt.input)
			if len(table.Headers) != tt.wantHeaders {
				t.Errorf("len(Headers) = %d, want %d", len(table.Headers), tt.wantHeaders)
			}
			if table.Rows == nil || len(table.Rows) != 0 {
				t.Errorf("Rows = %#v, want empty non-nil slice", table.Rows)
			}
			if len(table.ParseErrors) != 0 {
				t.Errorf("ParseErrors = %v, want none", table.ParseErrors)
			}
		})
	}
}

func TestParse_BlankLinesAndLineNumbers(t *testing.T) {
	table := Parse("\n\nFirst,Last\r\n\r\nAda,Lovelace\r\n,\r\nAlan,Turing\r\n")

	if len(table.Headers) != 2 {
		t.Fatalf("Headers = %q", table.Headers)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(table.Rows))
	}
	if r := table.Rows[0]; r.Index != 0 || r.Line != 5 {
		t.Errorf("first row = {Index: %d, Line: %d}, want {0, 5}", r.Index, r.Line)
	}
	// The delimiter-only line is blank and does not take an index.
	if r := table.Rows[1]; r.Index != 1 || r.Line != 7 {
		t.Errorf("second row = {Index: %d, Line: %d}, want {1, 7}", r.Index, r.Line)
	}
}

func TestParse_Delimiters(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"comma", "First,Last\nAda,Lovelace"},
		{"tab", "First\tLast\nAda\tLovelace"},
		{"semicolon", "First;Last\nAda;Lovelace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := Parse(tt.input)
			if len(table.Rows) != 1 {
				t.Fatalf("len(Rows) = %d, want 1", len(table.Rows))
			}
			if got := table.Rows[0].Values["Last"]; got != "Lovelace" {
				t.Errorf("Last = %q, want Lovelace", got)
			}
		})
	}
}

func TestParse_HeaderNames(t *testing.T) {
	table := Parse(" Name ,name,,\"Grade\"\nA,B,C,D")

	want := []string{"Name", "name (2)", "Column 3", "Grade"}
	if !reflect.DeepEqual(table.Headers, want) {
		t.Errorf("Headers = %q, want %q", table.Headers, want)
	}
	if got := table.Rows[0].Values["Column 3"]; got != "C" {
		t.Errorf("Column 3 = %q, want C", got)
	}
}

// One malformed row among nine good ones never aborts the parse.
func TestParse_MalformedRowTolerance(t *testing.T) {
	build := func(bad string) string {
		var b strings.Builder
		b.WriteString("First,Last,Grade\n")
		for i := 0; i < 9; i++ {
			if i == 4 {
				b.WriteString(bad + "\n")
			}
			fmt.Fprintf(&b, "First%d,Last%d,%d\n", i, i, i%12+1)
		}
		return b.String()
	}

	t.Run("unterminated quote", func(t *testing.T) {
		table := Parse(build(`Ada,"Lovelace,5`))
		if len(table.ParseErrors) != 1 {
			t.Errorf("len(ParseErrors) = %d, want 1", len(table.ParseErrors))
		}
		if len(table.Rows) != 9 {
			t.Errorf("len(Rows) = %d, want 9", len(table.Rows))
		}
	})

	t.Run("short row", func(t *testing.T) {
		table := Parse(build("Ada"))
		if len(table.ParseErrors) != 1 {
			t.Errorf("len(ParseErrors) = %d, want 1", len(table.ParseErrors))
		}
		// Padded rows are kept; the validator decides whether they are usable.
		if len(table.Rows) != 10 {
			t.Errorf("len(Rows) = %d, want 10", len(table.Rows))
		}
		if pe := table.ParseErrors[0]; pe.RowIndex != 4 {
			t.Errorf("ParseError.RowIndex = %d, want 4", pe.RowIndex)
		}
	})
}
