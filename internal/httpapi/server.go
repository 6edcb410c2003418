package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"talkreel/internal/logging"
	"talkreel/internal/personas"
	"talkreel/internal/pipeline"
	"talkreel/internal/services"
	"talkreel/internal/tasks"
)

const (
	maxBodyBytes       = 1 << 20
	defaultRecentLimit = 50
)

// TaskSource is the live registry.
type TaskSource interface {
	GetTask(id string) (tasks.Task, bool)
	List() []tasks.Task
	Counts() map[tasks.Status]int
}

// Archive holds tasks the registry has evicted.
type Archive interface {
	Get(ctx context.Context, id string) (tasks.Task, bool, error)
	Recent(ctx context.Context, limit int) ([]tasks.Task, error)
}

// Submitter starts jobs.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (string, error)
}

// StatusReporter describes the running daemon.
type StatusReporter interface {
	Status(ctx context.Context) DaemonStatus
}

// Config wires the handler to its collaborators. Archive, Personas, and
// Status are optional.
type Config struct {
	Tasks    TaskSource
	Archive  Archive
	Jobs     Submitter
	Personas *personas.Catalog
	Status   StatusReporter
	// Token enables bearer authentication when non-empty.
	Token string
	// JobContext bounds submitted jobs. Jobs outlive the HTTP request that
	// created them, so the request context is never used for them.
	JobContext context.Context
	Logger     *slog.Logger
	Clock      func() time.Time
}

type handler struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler builds the API router.
func NewHandler(cfg Config) http.Handler {
	h := &handler{cfg: cfg, logger: cfg.Logger, now: cfg.Clock}
	if h.logger == nil {
		h.logger = logging.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.cfg.JobContext == nil {
		h.cfg.JobContext = context.Background()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestContext)
	r.Use(accessLog(h.logger))
	r.Use(recoverer(h.logger))
	r.Use(bearerAuth(cfg.Token))

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", h.handleSubmit)
		r.Post("/text_to_video", h.handleTextToVideo)
		r.Get("/progress/{taskID}", h.handleProgress)
		r.Get("/tasks", h.handleTasks)
		r.Get("/personas", h.handlePersonas)
		r.Get("/status", h.handleStatus)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})
	return r
}

func (h *handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body JobRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "send a JSON object")
		return
	}
	h.submit(w, r, body.PipelineRequest())
}

// handleTextToVideo accepts the legacy text-input dialogue body.
func (h *handler) handleTextToVideo(w http.ResponseWriter, r *http.Request) {
	var body JobRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "send a JSON object")
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required", "")
		return
	}
	req := body.PipelineRequest()
	req.Kind = tasks.KindDialogue
	req.AudioPath = ""
	h.submit(w, r, req)
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request, req pipeline.Request) {
	if h.cfg.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job submission disabled", "")
		return
	}
	ctx := h.cfg.JobContext
	if rid, ok := services.RequestIDFromContext(r.Context()); ok {
		ctx = services.WithRequestID(ctx, rid)
	}
	id, err := h.cfg.Jobs.Submit(ctx, req)
	if err != nil {
		status := submitStatus(err)
		message, hint := services.Details(err)
		if status >= http.StatusInternalServerError {
			logging.ErrorWithContext(logging.WithContext(r.Context(), h.logger), "job submission failed", "submit_failed",
				logging.String(logging.FieldErrorHint, hint),
				logging.Error(err),
			)
		}
		writeError(w, status, message, hint)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{
		Status:  statusSuccess,
		TaskID:  id,
		Message: fmt.Sprintf("%s job accepted", kindLabel(req.Kind)),
	})
}

func (h *handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "taskID"))
	if h.cfg.Tasks != nil {
		if task, ok := h.cfg.Tasks.GetTask(id); ok {
			writeJSON(w, http.StatusOK, ProgressResponse{Status: statusSuccess, Task: NewTaskView(task, h.now())})
			return
		}
	}
	if h.cfg.Archive != nil {
		task, ok, err := h.cfg.Archive.Get(r.Context(), id)
		if err != nil {
			logging.WarnWithContext(logging.WithContext(r.Context(), h.logger), "archive lookup failed", "archive_read_failed",
				logging.String(logging.FieldErrorHint, "check the task archive file"),
				logging.String(logging.FieldImpact, "evicted tasks report as not found"),
				logging.TaskID(id),
				logging.Error(err),
			)
		} else if ok {
			view := NewTaskView(task, h.now())
			view.Archived = true
			writeJSON(w, http.StatusOK, ProgressResponse{Status: statusSuccess, Task: view})
			return
		}
	}
	writeError(w, http.StatusNotFound, "task not found", "")
}

// handleTasks lists live tasks, newest first, followed by archived tasks
// the registry no longer holds.
func (h *handler) handleTasks(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = parsed
	}
	now := h.now()
	resp := TaskListResponse{Status: statusSuccess, Counts: map[string]int{}, Tasks: []TaskView{}}
	seen := map[string]bool{}
	if h.cfg.Tasks != nil {
		live := h.cfg.Tasks.List()
		sort.SliceStable(live, func(i, j int) bool { return live[i].StartTime.After(live[j].StartTime) })
		for _, task := range live {
			seen[task.ID] = true
			resp.Tasks = append(resp.Tasks, NewTaskView(task, now))
		}
		for status, n := range h.cfg.Tasks.Counts() {
			resp.Counts[string(status)] = n
		}
	}
	if h.cfg.Archive != nil {
		archived, err := h.cfg.Archive.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "read task archive: "+err.Error(), "")
			return
		}
		for _, task := range archived {
			if seen[task.ID] {
				continue
			}
			view := NewTaskView(task, now)
			view.Archived = true
			resp.Tasks = append(resp.Tasks, view)
		}
	}
	if len(resp.Tasks) > limit {
		resp.Tasks = resp.Tasks[:limit]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	catalog := h.cfg.Personas
	if catalog == nil {
		catalog = personas.Default()
	}
	writeJSON(w, http.StatusOK, PersonaResponse{Status: statusSuccess, Catalog: catalog})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status unavailable", "")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: statusSuccess, Daemon: h.cfg.Status.Status(r.Context())})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrNotFound):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrDuplicateTask):
		return http.StatusConflict
	case errors.Is(err, tasks.ErrRegistryFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func kindLabel(kind tasks.Kind) string {
	if kind == "" {
		return string(tasks.KindDialogue)
	}
	return string(kind)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, hint string) {
	writeJSON(w, status, ErrorResponse{Status: statusError, Message: message, Hint: hint})
}
