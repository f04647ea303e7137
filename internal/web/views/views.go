// Package views renders the HTML fragments returned to HTMX clients.
//
// Components are written in views.templ; run `templ generate` after editing it.
package views

import "github.com/JonMunkholm/rosterimport/internal/core"

// maxListedErrors caps the failures listed in an import summary.
const maxListedErrors = 20

func summaryStatus(out core.ImportOutcome) string {
	switch {
	case out.Cancelled:
		return "cancelled"
	case out.Failed:
		return "failed"
	case out.Aborted:
		return "aborted"
	default:
		return "complete"
	}
}

func listedErrors(errs []string) []string {
	if len(errs) > maxListedErrors {
		return errs[:maxListedErrors]
	}
	return errs
}
