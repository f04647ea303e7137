package views

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/JonMunkholm/rosterimport/internal/core"
)

func TestErrorAlert_EscapesContent(t *testing.T) {
	var buf bytes.Buffer
	if err := ErrorAlert(`<script>alert(1)</script>`, "Try again", "IMP003").Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "<script>") {
		t.Errorf("message not escaped: %s", out)
	}
	for _, want := range []string{"Try again", "IMP003", `role="alert"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestErrorAlert_OmitsEmptyAction(t *testing.T) {
	var buf bytes.Buffer
	if err := ErrorAlert("Oops", "", "ERR000").Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(buf.String(), "alert-action") {
		t.Errorf("empty action rendered: %s", buf.String())
	}
}

func TestImportSummary(t *testing.T) {
	out := core.ImportOutcome{Success: 2, Updated: 1, Skipped: 1, Total: 5, Errors: []string{"row 4: create failed: <boom>"}}

	var buf bytes.Buffer
	if err := ImportSummary("imp-1", out).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	html := buf.String()

	for _, want := range []string{`data-import-id="imp-1"`, `data-status="complete"`, "<dd>2</dd>", "&lt;boom&gt;"} {
		if !strings.Contains(html, want) {
			t.Errorf("output missing %q: %s", want, html)
		}
	}
}

func TestImportSummary_TruncatesLongErrorList(t *testing.T) {
	out := core.ImportOutcome{Total: 25, Cancelled: true}
	for i := 0; i < 25; i++ {
		out.Errors = append(out.Errors, fmt.Sprintf("row %d: failed", i))
	}

	var buf bytes.Buffer
	if err := ImportSummary("imp-2", out).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	html := buf.String()

	if !strings.Contains(html, "and 5 more") {
		t.Errorf("expected truncation note: %s", html)
	}
	if !strings.Contains(html, `data-status="cancelled"`) {
		t.Errorf("expected cancelled status: %s", html)
	}
}

func TestImportSummary_Status(t *testing.T) {
	tests := []struct {
		out  core.ImportOutcome
		want string
	}{
		{core.ImportOutcome{}, "complete"},
		{core.ImportOutcome{Aborted: true}, "aborted"},
		{core.ImportOutcome{Failed: true, Aborted: true}, "failed"},
		{core.ImportOutcome{Cancelled: true}, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			var buf bytes.Buffer
			if err := ImportSummary("imp-3", tt.out).Render(context.Background(), &buf); err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if want := `data-status="` + tt.want + `"`; !strings.Contains(buf.String(), want) {
				t.Errorf("output missing %q: %s", want, buf.String())
			}
			if strings.Contains(buf.String(), "import-errors") {
				t.Errorf("empty error list rendered: %s", buf.String())
			}
		})
	}
}
