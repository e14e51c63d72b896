package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/opsdesk/internal/blob"
	"github.com/joescharf/opsdesk/internal/delay"
	"github.com/joescharf/opsdesk/internal/distribute"
	"github.com/joescharf/opsdesk/internal/metrics"
	"github.com/joescharf/opsdesk/internal/models"
	"github.com/joescharf/opsdesk/internal/sheet"
	"github.com/joescharf/opsdesk/internal/store"
)

// SessionHeader names the request header that selects a delay workspace.
const SessionHeader = "X-Session-ID"

const (
	maxUploadBytes = 32 << 20
	xlsxMIME       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Server provides the REST API handlers.
type Server struct {
	sessions *delay.Sessions
	dist     *distribute.Distributor
	blobs    blob.Store
	metrics  *metrics.Metrics

	// SkipAssigned is the distribution default when a request does not say.
	SkipAssigned bool
}

// NewServer creates a new API server.
// blobs may be nil, in which case folder listing and previews are unavailable.
func NewServer(sessions *delay.Sessions, dist *distribute.Distributor, blobs blob.Store, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		sessions: sessions,
		dist:     dist,
		blobs:    blobs,
		metrics:  m,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/delays/upload", s.uploadDelays)
	mux.HandleFunc("GET /api/v1/delays", s.listDelays)
	mux.HandleFunc("GET /api/v1/delays/rows/{index}", s.getRow)
	mux.HandleFunc("PATCH /api/v1/delays/rows/{index}", s.editRow)
	mux.HandleFunc("GET /api/v1/delays/thresholds", s.listThresholds)
	mux.HandleFunc("PUT /api/v1/delays/thresholds", s.updateThresholds)
	mux.HandleFunc("GET /api/v1/delays/export", s.exportDelays)
	mux.HandleFunc("DELETE /api/v1/delays/session", s.dropSession)

	mux.HandleFunc("GET /api/v1/reviewers", s.listReviewers)
	mux.HandleFunc("POST /api/v1/reviewers", s.createReviewer)
	mux.HandleFunc("POST /api/v1/distributions", s.createDistribution)
	mux.HandleFunc("GET /api/v1/folders", s.listFolders)

	mux.HandleFunc("GET /api/v1/review/{token}", s.getReview)
	mux.HandleFunc("POST /api/v1/review/{token}/decision", s.recordDecision)
	mux.HandleFunc("GET /api/v1/review/{token}/preview", s.previewCurrent)

	mux.Handle("GET /metrics", s.metrics.Handler())

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+SessionHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps a document store failure to 503 when the store is
// unreachable and 500 otherwise.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrUnavailable) {
		slog.Warn("document store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) workspace(r *http.Request) *delay.Workspace {
	return s.sessions.Get(strings.TrimSpace(r.Header.Get(SessionHeader)))
}

// --- Delays ---

type uploadResponse struct {
	Filename string        `json:"filename"`
	Rows     int           `json:"rows"`
	Columns  []string      `json:"columns"`
	Summary  delay.Summary `json:"summary"`
}

func (s *Server) uploadDelays(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.metrics.RecordUpload(err)
		writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		s.metrics.RecordUpload(err)
		writeError(w, http.StatusBadRequest, "missing form file \"file\"")
		return
	}
	defer func() { _ = file.Close() }()

	tbl, err := sheet.Read(hdr.Filename, file)
	if err != nil {
		s.metrics.RecordUpload(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws := s.workspace(r)
	if err := ws.Load(tbl); err != nil {
		s.metrics.RecordUpload(err)
		status := http.StatusInternalServerError
		if errors.Is(err, delay.ErrMalformedUpload) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	s.metrics.RecordUpload(nil)
	s.metrics.ObserveWorkspace(ws)

	rows := ws.Rows()
	slog.Info("tracking table loaded", "file", hdr.Filename, "rows", len(rows))
	writeJSON(w, http.StatusOK, uploadResponse{
		Filename: hdr.Filename,
		Rows:     len(rows),
		Columns:  ws.Columns(),
		Summary:  delay.BuildView(rows, delay.Filter{}).Summary,
	})
}

func filterFromQuery(r *http.Request) delay.Filter {
	q := r.URL.Query()
	return delay.Filter{
		Tasks:         q["task"],
		Nationalities: q["nationality"],
		Statuses:      q["status"],
		Types:         q["type"],
	}
}

func (s *Server) listDelays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newViewOut(s.workspace(r).View(filterFromQuery(r))))
}

func rowIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "row index must be an integer")
		return 0, false
	}
	return idx, true
}

func (s *Server) getRow(w http.ResponseWriter, r *http.Request) {
	idx, ok := rowIndex(w, r)
	if !ok {
		return
	}
	row, err := s.workspace(r).Row(idx)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newRowOut(row))
}

func (s *Server) editRow(w http.ResponseWriter, r *http.Request) {
	idx, ok := rowIndex(w, r)
	if !ok {
		return
	}
	var edit delay.RowEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	ws := s.workspace(r)
	row, err := ws.EditRow(idx, edit)
	if err != nil {
		if errors.Is(err, delay.ErrRowNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.ObserveWorkspace(ws)
	writeJSON(w, http.StatusOK, newRowOut(row))
}

func (s *Server) listThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workspace(r).Thresholds())
}

type thresholdsResponse struct {
	Applied    []string              `json:"applied"`
	Thresholds []delay.TaskThreshold `json:"thresholds"`
}

func (s *Server) updateThresholds(w http.ResponseWriter, r *http.Request) {
	var changes map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	ws := s.workspace(r)
	applied := ws.UpdateThresholds(changes)
	s.metrics.ObserveWorkspace(ws)
	if applied == nil {
		applied = []string{}
	}
	writeJSON(w, http.StatusOK, thresholdsResponse{Applied: applied, Thresholds: ws.Thresholds()})
}

func (s *Server) exportDelays(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(r)
	if ws.Empty() {
		writeError(w, http.StatusNotFound, "no tracking table loaded")
		return
	}

	view := r.URL.Query().Get("view")
	var (
		tbl       sheet.Table
		sheetName string
		prefix    string
	)
	switch view {
	case "", "filtered":
		tbl = delay.ExportTable(ws.View(filterFromQuery(r)).Rows, ws.Columns(), true)
		sheetName, prefix = "Delayed Cases", "delayed_cases"
	case "all":
		tbl = delay.ExportTable(ws.Rows(), ws.Columns(), false)
		sheetName, prefix = "Tracking", "delay_export"
	default:
		writeError(w, http.StatusBadRequest, "view must be filtered or all")
		return
	}

	data, err := sheet.XLSXBytes(sheetName, tbl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	filename := fmt.Sprintf("%s_%s.xlsx", prefix, time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) dropSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.Drop(strings.TrimSpace(r.Header.Get(SessionHeader)))
	w.WriteHeader(http.StatusNoContent)
}

// --- Reviewers and distribution ---

func (s *Server) listReviewers(w http.ResponseWriter, r *http.Request) {
	reviewers, err := s.dist.Reviewers(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]reviewerOut, 0, len(reviewers))
	for _, rev := range reviewers {
		out = append(out, newReviewerOut(rev))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createReviewer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	rev, err := s.dist.RegisterReviewer(r.Context(), body.Name, body.Email)
	switch {
	case errors.Is(err, distribute.ErrInvalidReviewer):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, distribute.ErrDuplicateReviewer):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newReviewerOut(rev))
}

type distributionRequest struct {
	Items        []string `json:"items"`
	Folder       string   `json:"folder"`
	Tokens       []string `json:"tokens"`
	SkipAssigned *bool    `json:"skip_assigned"`
}

func (s *Server) createDistribution(w http.ResponseWriter, r *http.Request) {
	var req distributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	items := req.Items
	if len(items) == 0 && req.Folder != "" {
		if s.blobs == nil {
			writeError(w, http.StatusServiceUnavailable, "no blob store configured")
			return
		}
		listed, err := s.blobs.List(r.Context(), req.Folder)
		if err != nil {
			writeBlobError(w, err)
			return
		}
		items = listed
	}

	opts := distribute.Options{SkipAssigned: s.SkipAssigned}
	if req.SkipAssigned != nil {
		opts.SkipAssigned = *req.SkipAssigned
	}

	run, err := s.dist.Distribute(r.Context(), items, req.Tokens, opts)
	s.metrics.RecordDistribution(run, err)
	switch {
	case errors.Is(err, distribute.ErrNothingToDistribute):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, distribute.ErrUnknownReviewer):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeStoreError(w, err)
		return
	}
	slog.Info("items distributed", "items", len(run.Assignments), "reviewers", len(run.Counts), "skipped", len(run.Skipped))
	writeJSON(w, http.StatusCreated, newRunOut(run))
}

func (s *Server) listFolders(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "no blob store configured")
		return
	}
	ids, err := s.blobs.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeBlobError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func writeBlobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, blob.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Review ---

func writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, distribute.ErrUnknownReviewer):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, distribute.ErrInvalidDecision):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeStoreError(w, err)
	}
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	q, err := s.dist.Queue(r.Context(), r.PathValue("token"))
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReviewResponse(q))
}

func (s *Server) recordDecision(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	decision := models.Decision(strings.ToLower(strings.TrimSpace(body.Decision)))
	q, recorded, err := s.dist.Record(r.Context(), r.PathValue("token"), decision)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	if recorded {
		s.metrics.RecordDecision(decision)
	}
	resp := newReviewResponse(q)
	resp.Recorded = &recorded
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) previewCurrent(w http.ResponseWriter, r *http.Request) {
	q, err := s.dist.Queue(r.Context(), r.PathValue("token"))
	if err != nil {
		writeQueueError(w, err)
		return
	}
	if q.Done() {
		writeError(w, http.StatusNotFound, "no folder left to review")
		return
	}
	if s.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "no blob store configured")
		return
	}

	data, err := s.blobs.Get(r.Context(), q.Current)
	if err != nil {
		writeBlobError(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
