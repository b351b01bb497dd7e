// Package handler exposes the assignment engine over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"casework/internal/assignment/models"
	"casework/internal/assignment/service/availability"
	"casework/internal/assignment/service/dispatch"
	"casework/internal/assignment/service/lifecycle"
	"casework/internal/assignment/service/monitor"
	"casework/internal/assignment/service/override"
	id "casework/pkg/domain"
	dErrors "casework/pkg/domain-errors"
	"casework/pkg/platform/httputil"
	authmw "casework/pkg/platform/middleware/auth"
	request "casework/pkg/platform/middleware/request"
	"casework/pkg/platform/middleware/requesttime"
	rolemw "casework/pkg/platform/middleware/role"
)

type Dispatcher interface {
	DispatchUnit(ctx context.Context, unitID id.UnitID) (*dispatch.Result, error)
	ListStranded(ctx context.Context) ([]*models.QueueEntry, error)
}

type Monitor interface {
	Sweep(ctx context.Context) (*monitor.SweepResult, error)
	Status(ctx context.Context, assignmentID id.AssignmentID) (*monitor.StatusView, error)
}

type Escalations interface {
	Escalate(ctx context.Context, assignmentID id.AssignmentID, reason string) (*models.EscalationEvent, error)
	Acknowledge(ctx context.Context, escalationID id.EscalationID) (*models.EscalationEvent, error)
	Resolve(ctx context.Context, escalationID id.EscalationID, resolution string) (*models.EscalationEvent, error)
	ListMine(ctx context.Context) ([]*models.EscalationEvent, error)
}

type Availability interface {
	Update(ctx context.Context, req availability.UpdateRequest) (*availability.UpdateResponse, error)
}

type Overrides interface {
	Override(ctx context.Context, req override.Request) (*models.Assignment, error)
}

type Lifecycle interface {
	Enqueue(ctx context.Context, req lifecycle.EnqueueRequest) (*models.QueueEntry, error)
	Start(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error)
	Complete(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error)
	Cancel(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error)
	ClearReview(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error)
	ListMine(ctx context.Context) ([]*models.Assignment, error)
}

// Services bundles the operations the handler serves.
type Services struct {
	Dispatch     Dispatcher
	Monitor      Monitor
	Escalations  Escalations
	Availability Availability
	Overrides    Overrides
	Lifecycle    Lifecycle
}

// RequestTimeout bounds every API request.
const RequestTimeout = 30 * time.Second

// Handler serves the assignment API.
type Handler struct {
	logger       *slog.Logger
	svc          Services
	jwtValidator authmw.JWTValidator
	timeout      time.Duration
}

// New creates a new assignment Handler.
func New(svc Services, jwtValidator authmw.JWTValidator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:       logger,
		svc:          svc,
		jwtValidator: jwtValidator,
		timeout:      RequestTimeout,
	}
}

// Register registers the assignment routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	supervisors := rolemw.Require(h.logger, id.RoleSupervisor, id.RoleAdmin)
	admins := rolemw.Require(h.logger, id.RoleAdmin)

	r.Group(func(r chi.Router) {
		r.Use(request.Recovery(h.logger))
		r.Use(request.RequestID)
		r.Use(request.Logger(h.logger))
		r.Use(chimw.Timeout(h.timeout))
		r.Use(requesttime.Middleware)
		r.Use(authmw.RequireAuth(h.jwtValidator, h.logger))

		r.Post("/queue", h.handleEnqueue)
		r.With(supervisors).Get("/queue/stranded", h.handleListStranded)
		r.With(supervisors).Post("/units/{unitID}/dispatch", h.handleDispatchUnit)
		r.With(admins).Post("/sla/sweep", h.handleSweep)

		r.Get("/assignments/mine", h.handleListMyAssignments)
		r.Get("/assignments/{assignmentID}/sla", h.handleSLAStatus)
		r.Post("/assignments/{assignmentID}/start", h.assignmentAction(h.svc.Lifecycle.Start))
		r.Post("/assignments/{assignmentID}/complete", h.assignmentAction(h.svc.Lifecycle.Complete))
		r.Post("/assignments/{assignmentID}/cancel", h.assignmentAction(h.svc.Lifecycle.Cancel))
		r.Post("/assignments/{assignmentID}/review/clear", h.assignmentAction(h.svc.Lifecycle.ClearReview))

		r.Post("/availability", h.handleUpdateAvailability)
		r.Post("/overrides", h.handleOverride)

		r.Post("/escalations", h.handleEscalate)
		r.Get("/escalations", h.handleListEscalations)
		r.Post("/escalations/{escalationID}/acknowledge", h.handleAcknowledge)
		r.Post("/escalations/{escalationID}/resolve", h.handleResolve)
	})
}

// writeServiceError logs unexpected failures and writes the mapped response.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
	} else {
		h.logger.InfoContext(ctx, op+" rejected",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func pathParam[T any](r *http.Request, name string, parse func(string) (T, error)) (T, error) {
	return parse(chi.URLParam(r, name))
}

type escalateRequest struct {
	AssignmentID id.AssignmentID `json:"assignment_id"`
	Reason       string          `json:"reason"`
}

func (r *escalateRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.AssignmentID.IsNil() {
		return dErrors.NewField(dErrors.CodeValidation, "assignment_id", "assignment_id is required")
	}
	return nil
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (r *resolveRequest) Validate() error {
	r.Resolution = strings.TrimSpace(r.Resolution)
	return nil
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}
