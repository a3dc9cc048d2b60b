package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/httputil"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/tasks"
)

// TaskService is the task operations the handlers call.
type TaskService interface {
	List(ctx context.Context, u *auth.User, opts tasks.ListOptions) (*tasks.ListResult, error)
	Get(ctx context.Context, u *auth.User, id string) (*tasks.Task, error)
	Create(ctx context.Context, u *auth.User, req tasks.CreateRequest) (*tasks.Task, error)
	Update(ctx context.Context, u *auth.User, id string, req tasks.UpdateRequest) (*tasks.Task, error)
	Delete(ctx context.Context, u *auth.User, id string) error
}

// TaskHandlers serves /tasks.
type TaskHandlers struct {
	service TaskService
	logger  *observability.Logger
}

// NewTaskHandlers creates TaskHandlers
func NewTaskHandlers(service TaskService, logger *observability.Logger) *TaskHandlers {
	return &TaskHandlers{service: service, logger: logger.WithField("component", "tasks-api")}
}

// RegisterRoutes registers task routes
func (h *TaskHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tasks", h.listTasks).Methods(http.MethodGet)
	router.HandleFunc("/tasks", h.createTask).Methods(http.MethodPost)
	router.HandleFunc("/tasks/{id}", h.getTask).Methods(http.MethodGet)
	router.HandleFunc("/tasks/{id}", h.updateTask).Methods(http.MethodPut)
	router.HandleFunc("/tasks/{id}", h.deleteTask).Methods(http.MethodDelete)
}

// currentUser returns the authenticated user or writes 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, apperrors.ErrUnauthorized)
	}
	return u, ok
}

// writeError logs unexpected failures before mapping err to a status.
func writeError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, msg string, err error) {
	if !expected(err) {
		observability.FromContext(r.Context(), logger).WithError(err).Error(msg)
	}
	httputil.WriteServiceError(w, err)
}

func expected(err error) bool {
	for _, target := range []error{apperrors.ErrNotFound, apperrors.ErrForbidden, apperrors.ErrValidation, apperrors.ErrUnauthorized} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func parseListOptions(r *http.Request) (tasks.ListOptions, error) {
	q := httputil.NewQueryParser(r)
	opts := tasks.ListOptions{
		Filter: tasks.Filter{
			Status:         tasks.Status(q.String("status")),
			Priority:       tasks.Priority(q.String("priority")),
			Category:       tasks.Category(q.String("category")),
			CreatedByID:    q.UUID("createdById"),
			OrganizationID: q.UUID("organizationId"),
		},
		Sort: tasks.Sort{
			Key:   tasks.SortKey(q.String("sortBy")),
			Order: tasks.SortOrder(q.String("sortOrder")),
		},
		Pagination: tasks.Pagination{
			Page:  q.Int("page", 0, 1, 0),
			Limit: q.Int("limit", 0, 1, 0),
		},
	}
	return opts, q.Err()
}

// listTasks handles GET /tasks
func (h *TaskHandlers) listTasks(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	result, err := h.service.List(r.Context(), u, opts)
	if err != nil {
		writeError(w, r, h.logger, "failed to list tasks", err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

// createTask handles POST /tasks
func (h *TaskHandlers) createTask(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req tasks.CreateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	task, err := h.service.Create(r.Context(), u, req)
	if err != nil {
		writeError(w, r, h.logger, "failed to create task", err)
		return
	}
	_ = httputil.WriteCreated(w, task)
}

// getTask handles GET /tasks/{id}
func (h *TaskHandlers) getTask(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	task, err := h.service.Get(r.Context(), u, id)
	if err != nil {
		writeError(w, r, h.logger, "failed to get task", err)
		return
	}
	_ = httputil.WriteSuccess(w, task)
}

// updateTask handles PUT /tasks/{id}
func (h *TaskHandlers) updateTask(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	var req tasks.UpdateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	task, err := h.service.Update(r.Context(), u, id, req)
	if err != nil {
		writeError(w, r, h.logger, "failed to update task", err)
		return
	}
	_ = httputil.WriteSuccess(w, task)
}

// deleteTask handles DELETE /tasks/{id}
func (h *TaskHandlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := httputil.ParsePathUUID(r, "id")
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	if err := h.service.Delete(r.Context(), u, id); err != nil {
		writeError(w, r, h.logger, "failed to delete task", err)
		return
	}
	_ = httputil.WriteSuccess(w, messageResponse{Message: "Task deleted successfully"})
}
