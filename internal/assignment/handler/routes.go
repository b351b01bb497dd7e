package handler

import (
	"context"
	"net/http"

	"casework/internal/assignment/models"
	"casework/internal/assignment/service/availability"
	"casework/internal/assignment/service/dispatch"
	"casework/internal/assignment/service/lifecycle"
	"casework/internal/assignment/service/override"
	id "casework/pkg/domain"
	"casework/pkg/platform/httputil"
)

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[lifecycle.EnqueueRequest](w, r)
	if !ok {
		return
	}
	entry, err := h.svc.Lifecycle.Enqueue(r.Context(), *req)
	if err != nil {
		h.writeServiceError(w, r, "enqueue", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleListStranded(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Dispatch.ListStranded(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "list stranded", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newList(entries))
}

func (h *Handler) handleDispatchUnit(w http.ResponseWriter, r *http.Request) {
	unitID, err := pathParam(r, "unitID", id.ParseUnitID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.svc.Dispatch.DispatchUnit(r.Context(), unitID)
	if err != nil {
		h.writeServiceError(w, r, "dispatch", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dispatchResponse{Result: result, AssignedCount: result.AssignedCount()})
}

type dispatchResponse struct {
	*dispatch.Result
	AssignedCount int `json:"assigned_count"`
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Monitor.Sweep(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "sla sweep", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSLAStatus(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := pathParam(r, "assignmentID", id.ParseAssignmentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.svc.Monitor.Status(r.Context(), assignmentID)
	if err != nil {
		h.writeServiceError(w, r, "sla status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleListMyAssignments(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Lifecycle.ListMine(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "list assignments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newList(items))
}

// assignmentAction adapts a lifecycle transition keyed by the path's assignment id.
func (h *Handler) assignmentAction(fn func(context.Context, id.AssignmentID) (*models.Assignment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, err := pathParam(r, "assignmentID", id.ParseAssignmentID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		a, err := fn(r.Context(), assignmentID)
		if err != nil {
			h.writeServiceError(w, r, "assignment transition", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, a)
	}
}

func (h *Handler) handleUpdateAvailability(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[availability.UpdateRequest](w, r)
	if !ok {
		return
	}
	resp, err := h.svc.Availability.Update(r.Context(), *req)
	if err != nil {
		h.writeServiceError(w, r, "availability update", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[override.Request](w, r)
	if !ok {
		return
	}
	a, err := h.svc.Overrides.Override(r.Context(), *req)
	if err != nil {
		h.writeServiceError(w, r, "override", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[escalateRequest](w, r)
	if !ok {
		return
	}
	ev, err := h.svc.Escalations.Escalate(r.Context(), req.AssignmentID, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "escalate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Escalations.ListMine(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "list escalations", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newList(items))
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	escalationID, err := pathParam(r, "escalationID", id.ParseEscalationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ev, err := h.svc.Escalations.Acknowledge(r.Context(), escalationID)
	if err != nil {
		h.writeServiceError(w, r, "acknowledge escalation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	escalationID, err := pathParam(r, "escalationID", id.ParseEscalationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[resolveRequest](w, r)
	if !ok {
		return
	}
	ev, err := h.svc.Escalations.Resolve(r.Context(), escalationID, req.Resolution)
	if err != nil {
		h.writeServiceError(w, r, "resolve escalation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ev)
}
