package web

import (
	"net/http"

	"github.com/JonMunkholm/rosterimport/internal/core"
	"github.com/go-chi/chi/v5"
)

// teacherID is the acting teacher set by the Teacher middleware.
func teacherID(r *http.Request) string {
	return core.TeacherIDFromContext(r.Context())
}

func importID(r *http.Request) string {
	return chi.URLParam(r, "importID")
}
