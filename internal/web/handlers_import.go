package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/rosterimport/internal/core"
	"github.com/JonMunkholm/rosterimport/internal/logging"
	"github.com/JonMunkholm/rosterimport/internal/web/views"
)

// multipartOverhead is allowed on top of the file size limit for form framing.
const multipartOverhead = 1 << 20

// validateRequest is the body of POST /api/imports/{importID}/validate.
type validateRequest struct {
	Mapping core.ColumnMapping     `json:"mapping"`
	Policy  *core.ValidationPolicy `json:"policy,omitempty"`
}

// validateResponse adds counts to the preview so clients need not recount.
type validateResponse struct {
	ImportID      string `json:"importId"`
	AcceptedCount int    `json:"acceptedCount"`
	RejectedCount int    `json:"rejectedCount"`
	core.ValidationResult
}

// handleStartImport accepts a multipart roster upload and parses it.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondServiceError(w, r, fmt.Errorf("%w: upload exceeds %d bytes", core.ErrFileTooLarge, maxSize))
			return
		}
		s.respondError(w, r, fmt.Errorf("invalid form: %w", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errors.New("no file provided"), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err), http.StatusBadRequest)
		return
	}

	session, err := s.service.StartImport(r.Context(), teacherID(r), header.Filename, data)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	logging.ForImport(r.Context(), session.ID, teacherID(r)).Info("upload accepted",
		"file", header.Filename,
		"bytes", len(data),
	)
	writeJSON(w, http.StatusCreated, session)
}

// handleGetImport returns the session summary.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.GetImport(teacherID(r), importID(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleListImports returns the teacher's import history.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, r, fmt.Errorf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = min(n, 200)
	}

	runs, err := s.service.ListImports(r.Context(), teacherID(r), limit)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if runs == nil {
		runs = []core.ImportRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": runs})
}

// handleValidateImport applies the submitted mapping and returns the preview.
func (s *Server) handleValidateImport(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("invalid mapping: malformed request body: %w", err), http.StatusBadRequest)
		return
	}

	result, err := s.service.ValidateImport(r.Context(), teacherID(r), importID(r), req.Mapping, req.Policy)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		ImportID:         importID(r),
		AcceptedCount:    len(result.Records),
		RejectedCount:    len(result.Rejected),
		ValidationResult: *result,
	})
}

// handleCommitImport starts the reconciliation. An empty body uses defaults.
func (s *Server) handleCommitImport(w http.ResponseWriter, r *http.Request) {
	var opts core.ImportOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, r, fmt.Errorf("%w: malformed request body: %v", core.ErrInvalidOptions, err), http.StatusBadRequest)
		return
	}

	id := importID(r)
	if err := s.service.CommitImport(r.Context(), teacherID(r), id, opts); err != nil {
		if errors.Is(err, core.ErrTooManyImports) {
			w.Header().Set("Retry-After", "30")
		}
		s.respondServiceError(w, r, err)
		return
	}

	logging.ForImport(r.Context(), id, teacherID(r)).Info("commit accepted",
		"duplicate_handling", opts.DuplicateHandling,
		"batch_size", opts.BatchSize,
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"importId": id,
		"status":   string(core.StatusProcessing),
	})
}

// handleImportProgress streams progress via Server-Sent Events. Event IDs are
// the Current count, so a reconnecting client sending Last-Event-ID skips
// updates it has already seen.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	lastEventID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	}

	progressCh, err := s.service.SubscribeProgress(teacherID(r), importID(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case p, ok := <-progressCh:
			if !ok {
				data := []byte("{}")
				if out, err := s.service.GetImportResult(r.Context(), teacherID(r), importID(r)); err == nil {
					data, _ = json.Marshal(out)
				}
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}

			// Final notifications repeat Current; always deliver them.
			if p.Status == core.StatusProcessing && p.Current <= lastEventID {
				continue
			}
			lastEventID = p.Current

			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", p.Current, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleCancelImport requests cancellation between batches.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(teacherID(r), importID(r)); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleImportResult waits for the run to finish and returns its outcome.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.GetImportResult(r.Context(), teacherID(r), importID(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		views.ImportSummary(importID(r), *out).Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleExportRejected exports rejected rows with their reasons as CSV, in the
// file's own column order so the teacher can fix and re-upload them.
func (s *Server) handleExportRejected(w http.ResponseWriter, r *http.Request) {
	headers, rows, err := s.service.RejectedRows(teacherID(r), importID(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	filename := fmt.Sprintf("rejected_rows_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	cw := csv.NewWriter(w)
	cw.Write(append([]string{"_line", "_reasons"}, headers...))
	for _, row := range rows {
		cw.Write(append([]string{strconv.Itoa(row.Line), strings.Join(row.Reasons, "; ")}, row.Values...))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logging.FromContext(r.Context()).Error("rejected export write failed", "error", err)
	}
}

// handleFields lists the canonical fields and enumerations for mapping UIs.
func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"fields":            core.CanonicalFields,
		"required":          core.RequiredFields,
		"gradeLevels":       core.GradeLevels,
		"duplicateHandling": []core.DuplicateHandling{core.CreateOnly, core.UpdateExisting, core.SkipDuplicates},
		"defaults": map[string]any{
			"batchSize":          s.cfg.Import.BatchSize,
			"fanOut":             s.cfg.Import.FanOut,
			"maxFileSize":        s.cfg.Import.MaxFileSize,
			"requireParentEmail": s.cfg.Import.RequireParentEmail,
			"requireParentPhone": s.cfg.Import.RequireParentPhone,
		},
	})
}

// handleStatus reports import slot usage.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
