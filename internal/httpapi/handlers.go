// Package httpapi implements the wire contract of spec.md §6: JSON/
// multipart REST routes in front of the Upload Manager. The per-request
// pattern (request-scoped logger, uniform error writer) is grounded on
// tusd's pkg/handler: withRequestLogging/loggerFrom and writeError/writeJSON
// here play the same role as httpContext and sendError/sendResp there, adapted
// from tus's header-and-body HTTPResponse shape to plain JSON bodies.
package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/chunkhaven/chunkd/internal/metrics"
	"github.com/chunkhaven/chunkd/internal/uploadmanager"
)

const (
	maxChunkBytes   = 80 << 20 // 80 MiB, spec.md §6
	maxSampleBytes  = 5 << 20  // 5 MiB, spec.md §6
	maxFormOverhead = 1 << 20
)

var validate = validator.New()

// Server holds the dependencies every handler needs.
type Server struct {
	manager *uploadmanager.Manager
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewServer constructs a Server around an already-configured Manager.
func NewServer(manager *uploadmanager.Manager, mx *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{manager: manager, metrics: mx, log: log}
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// handleIdentifyUser implements POST /api/users/identify.
func (s *Server) handleIdentifyUser(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context())

	var req identifyRequest
	if err := decodeJSON(r, &req); err != nil && err != io.EOF {
		writeError(w, log, uploadmanager.ErrMissingFields)
		return
	}

	result, err := s.manager.IdentifyUser(req.UserKey)
	if err != nil {
		writeError(w, log, err)
		return
	}

	snap, err := s.manager.GetUserSnapshot(result.UserKey)
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		UserKey string                `json:"userKey"`
		Created bool                  `json:"created"`
		Uploads uploadmanager.Snapshot `json:"uploads"`
	}{result.UserKey, result.Created, snap})
}

// handleListUploads implements GET /api/uploads?userKey=….
func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context())

	userKey := r.URL.Query().Get("userKey")
	if userKey == "" {
		writeError(w, log, uploadmanager.ErrMissingUserKey)
		return
	}

	snap, err := s.manager.GetUserSnapshot(userKey)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetUpload implements GET /api/uploads/{id}?userKey=….
func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context())

	userKey := r.URL.Query().Get("userKey")
	if userKey == "" {
		writeError(w, log, uploadmanager.ErrMissingUserKey)
		return
	}

	id := chi.URLParam(r, "id")
	result, err := s.manager.GetUpload(userKey, id)
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Upload   uploadmanager.DecoratedUpload `json:"upload"`
		Location uploadmanager.Location        `json:"location"`
	}{result.Upload, result.Location})
}

// handleCreateUpload implements POST /api/uploads.
func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context())

	var req createUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, log, uploadmanager.ErrMissingFields)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, log, uploadmanager.ErrMissingFields)
		return
	}

	upload, err := s.manager.CreateUpload(req.UserKey, uploadmanager.CreateUploadInput{
		FileName:  req.FileName,
		FileSize:  req.FileSize,
		ChunkSize: req.ChunkSize,
		Persist:   req.Persist,
	})
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Upload uploadmanager.DecoratedUpload `json:"upload"`
	}{upload})
}

// handleSubmitChunk implements POST /api/uploads/{id}/chunk.
func (s *Server) handleSubmitChunk(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context())
	id := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, maxChunkBytes+maxFormOverhead)
	if err := r.ParseMultipartForm(maxFormOverhead); err != nil {
		writeError(w, log, uploadmanager.ErrMissingFields)
		return
	}
	defer r.MultipartForm.RemoveAll()

	userKey := r.FormValue("userKey")
	if userKey == "" {
		writeError(w, log, uploadmanager.ErrMissingUserKey)
		return
	}

	index, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil {
		writeError(w, log, uploadmanager.ErrInvalidChunkIdx)
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, log, uploadmanager.ErrMissingChunk)
		return
	}
	defer file.Close()

	outcome, err := s.manager.RecordChunk(userKey, id, index, file)
	if err != nil {
		writeError(w, log, err)
		return
	}

	if !outcome.Completed {
		writeJSON(w, http.StatusOK, struct {
			Status string                        `json:"status"`
			Upload uploadmanager.DecoratedUpload `json:"upload"`
		}{"ok", outcome.Upload})
		return
	}

	snap, err := s.manager.GetUserSnapshot(userKey)
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status  string                        `json:"status"`
		Upload  uploadmanager.DecoratedUpload `json:"upload"`
		Uploads uploadmanager.Snapshot        `json:"uploads"`
	}{"completed", outcome.Upload, snap})
}

// handleUpdateState implements POST /api/uploads/{id}/state.
func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context())
	id := chi.URLParam(r, "id")

	var req stateActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, log, uploadmanager.ErrMissingFields)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, log, uploadmanager.ErrInvalidAction)
		return
	}

	var upload uploadmanager.DecoratedUpload
	var err error
	switch req.Action {
	case "pause":
		upload, err = s.manager.UpdateStatus(req.UserKey, id, uploadmanager.StatusPaused)
	case "resume":
		upload, err = s.manager.UpdateStatus(req.UserKey, id, uploadmanager.StatusActive)
	case "cancel":
		upload, err = s.manager.RemoveUpload(req.UserKey, id, false)
	case "forget":
		upload, err = s.manager.RemoveUpload(req.UserKey, id, true)
	default:
		writeError(w, log, uploadmanager.ErrInvalidAction)
		return
	}
	if err != nil {
		writeError(w, log, err)
		return
	}

	snap, err := s.manager.GetUserSnapshot(req.UserKey)
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Upload  uploadmanager.DecoratedUpload `json:"upload"`
		Uploads uploadmanager.Snapshot        `json:"uploads"`
	}{upload, snap})
}

// handleClearHistory implements DELETE /api/uploads/history.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context())

	var req clearHistoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, log, uploadmanager.ErrMissingFields)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, log, uploadmanager.ErrMissingUserKey)
		return
	}

	if err := s.manager.ClearHistory(req.UserKey); err != nil {
		writeError(w, log, err)
		return
	}

	snap, err := s.manager.GetUserSnapshot(req.UserKey)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleNetworkProbe implements POST /api/network/probe: it measures how
// long it takes to read an uploaded sample, giving clients a throughput
// estimate to size their chunk requests with.
func (s *Server) handleNetworkProbe(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxSampleBytes+maxFormOverhead)
	if err := r.ParseMultipartForm(maxFormOverhead); err != nil {
		writeError(w, log, uploadmanager.ErrMissingSample)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("sample")
	if err != nil {
		writeError(w, log, uploadmanager.ErrMissingSample)
		return
	}
	defer file.Close()

	start := time.Now()
	n, err := io.Copy(io.Discard, file)
	if err != nil {
		writeError(w, log, uploadmanager.ErrMissingSample)
		return
	}
	elapsed := time.Since(start)

	writeJSON(w, http.StatusOK, probeResponse{Bytes: n, ElapsedMs: elapsed.Milliseconds()})
}
