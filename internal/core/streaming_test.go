package core

import "testing"

func TestDecodeInput(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("first,last")...),
			expected: "first,last",
		},
		{
			name:     "file without BOM",
			input:    []byte("first,last"),
			expected: "first,last",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "utf-8 accents pass through",
			input:    []byte("Zoë,Müller"),
			expected: "Zoë,Müller",
		},
		{
			name:     "windows-1252 accents decoded",
			input:    []byte{'Z', 'o', 0xEB, ',', 'M', 0xFC, 'l', 'l', 'e', 'r'},
			expected: "Zoë,Müller",
		},
		{
			name:     "partial BOM is treated as windows-1252",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: "ï»abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeInput(tt.input); got != tt.expected {
				t.Errorf("DecodeInput() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDecodeInput_BOMThenParse(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("First Name,Last Name\nAda,Lovelace\n")...)
	table := Parse(DecodeInput(data))

	if len(table.Headers) != 2 || table.Headers[0] != "First Name" {
		t.Fatalf("Headers = %q, want BOM stripped from first header", table.Headers)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(table.Rows))
	}
}
