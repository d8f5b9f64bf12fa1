package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gifswap/internal/compositor"
	"gifswap/internal/config"
	"gifswap/internal/deps"
	"gifswap/internal/imageio"
	"gifswap/internal/logging"
	"gifswap/internal/queue"
	"gifswap/internal/services"
	"gifswap/internal/staging"
)

const maxUploadBytes = 64 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs", srv.handleJobs)
	mux.HandleFunc("/api/jobs/", srv.handleJob)
	mux.HandleFunc("/api/detect", srv.handleDetect)
	mux.HandleFunc("/api/health", srv.handleHealth)

	srv.server = &http.Server{
		Handler:           srv.withRequestID(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound address, useful when the configured port is 0.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type jobResponse struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Strategy    string  `json:"strategy"`
	Stage       string  `json:"stage,omitempty"`
	Percent     float64 `json:"percent"`
	FramesTotal int     `json:"frames_total"`
	FramesDone  int     `json:"frames_done"`
	FacesFound  int     `json:"faces_found"`
	Error       string  `json:"error,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func toJobResponse(job *queue.Job) jobResponse {
	resp := jobResponse{
		ID:          job.ID,
		Status:      string(job.Status),
		Strategy:    job.Strategy,
		Stage:       job.ProgressStage,
		Percent:     job.ProgressPercent,
		FramesTotal: job.FramesTotal,
		FramesDone:  job.FramesDone,
		FacesFound:  job.FacesFound,
		Error:       job.ErrorMessage,
		CreatedAt:   job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.Status == queue.StatusCompleted {
		resp.DownloadURL = "/api/jobs/" + job.ID + "/download"
	}
	return resp
}

// handleJobs accepts a multipart job submission (POST) or lists recent jobs
// (GET).
func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createJob(w, r)
	case http.MethodGet:
		s.listJobs(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) createJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	cfg := s.daemon.cfg
	job := &queue.Job{ID: queue.NewJobID(), Strategy: cfg.Processing.Strategy}

	if raw := strings.TrimSpace(r.FormValue("blend_strength")); raw != "" {
		strength, err := strconv.ParseFloat(raw, 64)
		if err != nil || strength < 0 || strength > 1 {
			s.writeError(w, http.StatusBadRequest, "blend_strength must be within [0, 1]")
			return
		}
		job.BlendStrength = &strength
	}
	if raw := strings.TrimSpace(r.FormValue("use_ffmpeg")); raw != "" {
		useFFmpeg, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "use_ffmpeg must be a boolean")
			return
		}
		if useFFmpeg {
			job.Strategy = config.StrategyFFmpeg
		} else {
			job.Strategy = config.StrategyPure
		}
	}

	ws, err := staging.NewWorkspace(cfg.Paths.StagingDir, job.ID, s.log())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to prepare staging")
		return
	}
	cleanup := true
	defer func() {
		if cleanup {
			ws.Cleanup()
		}
	}()

	job.FacePath, err = s.receiveInput(r, ws, "face_image", "face_image_url", "face")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	job.GifPath, err = s.receiveInput(r, ws, "gif_file", "gif_url", "input.gif")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if err := s.daemon.store.CreateJob(r.Context(), job); err != nil {
		s.reqLog(r).Error("failed to create job", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	cleanup = false
	s.daemon.manager.Wake()

	s.reqLog(r).Info("job accepted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("strategy", job.Strategy))
	s.writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

// receiveInput stores either the uploaded file or the remote URL content into
// the workspace and returns the stored path.
func (s *apiServer) receiveInput(r *http.Request, ws *staging.Workspace, fileField, urlField, baseName string) (string, error) {
	file, header, err := r.FormFile(fileField)
	switch {
	case err == nil:
		defer file.Close()
		destPath := ws.Path(inputFileName(baseName, header))
		if err := saveUpload(file, destPath); err != nil {
			return "", services.Wrap(services.ErrProcessingFailed, "api", "save upload", "", err)
		}
		return destPath, nil
	case errors.Is(err, http.ErrMissingFile):
	default:
		return "", services.Wrap(services.ErrValidation, "api", "read upload",
			fmt.Sprintf("invalid %s upload", fileField), err)
	}

	url := strings.TrimSpace(r.FormValue(urlField))
	if url == "" {
		return "", services.Wrap(services.ErrValidation, "api", "read upload",
			fmt.Sprintf("provide %s or %s", fileField, urlField), nil)
	}
	destPath := ws.Path(baseName)
	ctx, cancel := context.WithTimeout(r.Context(),
		time.Duration(s.daemon.cfg.Processing.DownloadTimeout)*time.Second)
	defer cancel()
	if err := s.daemon.fetcher.Fetch(ctx, url, destPath); err != nil {
		return "", err
	}
	return destPath, nil
}

func inputFileName(baseName string, header *multipart.FileHeader) string {
	if header != nil {
		if ext := filepath.Ext(header.Filename); ext != "" && len(ext) <= 8 {
			return baseName + strings.ToLower(ext)
		}
	}
	return baseName
}

func saveUpload(src io.Reader, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		_ = os.Remove(destPath)
		return err
	}
	return out.Close()
}

func (s *apiServer) listJobs(w http.ResponseWriter, r *http.Request) {
	var status queue.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, ok := queue.ParseStatus(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		status = parsed
	}

	jobs, err := s.daemon.store.ListJobs(r.Context(), status, 0)
	if err != nil {
		s.reqLog(r).Error("failed to list jobs", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	payload := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		payload = append(payload, toJobResponse(job))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": payload})
}

// handleJob serves /api/jobs/{id} and /api/jobs/{id}/download.
func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	id, suffix, _ := strings.Cut(rest, "/")
	if id == "" || (suffix != "" && suffix != "download") {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	job, err := s.daemon.store.GetJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if suffix == "download" {
		if job.Status != queue.StatusCompleted || job.OutputPath == "" {
			s.writeError(w, http.StatusConflict, "job has no downloadable output")
			return
		}
		w.Header().Set("Content-Type", "image/gif")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", filepath.Base(job.OutputPath)))
		http.ServeFile(w, r, job.OutputPath)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobResponse(job))
}

// handleDetect accepts a still image and returns the face boxes found in it.
func (s *apiServer) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	ws, err := staging.NewWorkspace(s.daemon.cfg.Paths.StagingDir, "detect-"+queue.NewJobID(), s.log())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to prepare staging")
		return
	}
	defer ws.Cleanup()

	imagePath, err := s.receiveInput(r, ws, "image", "image_url", "image")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	// Reject non-images before handing the path to the detector.
	if _, err := imageio.Load(imagePath); err != nil {
		s.writeError(w, http.StatusBadRequest, "unsupported image format")
		return
	}

	regions, err := s.daemon.detector.Detect(r.Context(), imagePath)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if regions == nil {
		regions = []compositor.Region{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"faces_found": len(regions),
		"faces":       regions,
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	summary, err := s.daemon.store.Health(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read queue health")
		return
	}

	statuses := deps.CheckBinaries(deps.Requirements(s.daemon.cfg))
	depsPayload := make([]map[string]any, 0, len(statuses))
	for _, status := range statuses {
		depsPayload = append(depsPayload, map[string]any{
			"name":      status.Name,
			"command":   status.Command,
			"optional":  status.Optional,
			"available": status.Available,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs": map[string]int{
			"total":      summary.Total,
			"pending":    summary.Pending,
			"processing": summary.Processing,
			"completed":  summary.Completed,
			"failed":     summary.Failed,
		},
		"dependencies": depsPayload,
	})
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.reqLog(r).Error("request failed", logging.Error(err))
		s.writeError(w, status, "internal error")
		return
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}

// reqLog carries the request's correlation id into log output.
func (s *apiServer) reqLog(r *http.Request) *slog.Logger {
	if r == nil {
		return s.log()
	}
	return logging.WithContext(r.Context(), s.log())
}

func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
