// Package handler exposes the approvals service over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-approvals/internal/apperr"
	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	templates *service.TemplateService
	workflows *service.WorkflowService
	votes     *service.VoteService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	templates *service.TemplateService,
	workflows *service.WorkflowService,
	votes *service.VoteService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		templates: templates,
		workflows: workflows,
		votes:     votes,
		log:       log,
	}
}

// ── Templates ─────────────────────────────────────────────────────────────────

type createTemplateRequest struct {
	Name                            string                    `json:"name"`
	Rule                            approval.ApprovalRule     `json:"rule"`
	Actions                         []approval.TemplateAction `json:"actions,omitempty"`
	DefaultExpiresInHours           *int                      `json:"default_expires_in_hours,omitempty"`
	AllowVotingOnDeprecatedTemplate bool                      `json:"allow_voting_on_deprecated_template"`
}

// CreateTemplate handles POST /api/v1/templates.
func (h *HTTPHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tpl, err := h.templates.CreateTemplate(r.Context(), &service.CreateTemplateRequest{
		Name:                            req.Name,
		Rule:                            req.Rule,
		Actions:                         req.Actions,
		DefaultExpiresInHours:           req.DefaultExpiresInHours,
		AllowVotingOnDeprecatedTemplate: req.AllowVotingOnDeprecatedTemplate,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tpl)
}

// GetTemplate handles GET /api/v1/templates/get?id=.
func (h *HTTPHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Template ID is required", http.StatusBadRequest)
		return
	}

	tpl, err := h.templates.GetTemplate(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tpl)
}

// ListTemplates handles GET /api/v1/templates.
func (h *HTTPHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.ListTemplates(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// ActivateTemplate handles POST /api/v1/templates/activate.
func (h *HTTPHandler) ActivateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tpl, err := h.templates.ActivateTemplate(r.Context(), req.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tpl)
}

// DeprecateTemplate handles POST /api/v1/templates/deprecate.
func (h *HTTPHandler) DeprecateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID            string `json:"id"`
		CancelPending bool   `json:"cancel_pending"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tpl, err := h.templates.DeprecateTemplate(r.Context(), req.ID, req.CancelPending)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tpl)
}

// ── Workflows ─────────────────────────────────────────────────────────────────

type createWorkflowRequest struct {
	Name           string `json:"name"`
	TemplateID     string `json:"template_id"`
	ExpiresInHours *int   `json:"expires_in_hours,omitempty"`
	CreatedBy      string `json:"created_by"`
}

// CreateWorkflow handles POST /api/v1/workflows.
func (h *HTTPHandler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wf, err := h.workflows.CreateWorkflow(r.Context(), &service.CreateWorkflowRequest{
		Name:           req.Name,
		TemplateID:     req.TemplateID,
		ExpiresInHours: req.ExpiresInHours,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, wf)
}

// GetWorkflow handles GET /api/v1/workflows/get?id=. The read triggers a
// recalculation when the workflow's dirty marker is set, so the returned
// status is fresh.
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Workflow ID is required", http.StatusBadRequest)
		return
	}

	wf, err := h.workflows.GetWorkflow(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// ListWorkflows handles GET /api/v1/workflows?status=&limit=.
func (h *HTTPHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	status := approval.WorkflowStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = approval.StatusPending
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	workflows, err := h.workflows.ListWorkflows(r.Context(), status, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

// CancelWorkflow handles POST /api/v1/workflows/cancel.
func (h *HTTPHandler) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wf, err := h.workflows.CancelWorkflow(r.Context(), req.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// ── Votes ─────────────────────────────────────────────────────────────────────

type castVoteRequest struct {
	WorkflowID     string             `json:"workflow_id"`
	Voter          approval.EntityRef `json:"voter"`
	Type           approval.VoteType  `json:"type"`
	VotedForGroups []string           `json:"voted_for_groups,omitempty"`
	Reason         *string            `json:"reason,omitempty"`
}

// CastVote handles POST /api/v1/votes.
func (h *HTTPHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	vote, err := h.votes.CastVote(r.Context(), &service.CastVoteRequest{
		WorkflowID:     req.WorkflowID,
		Voter:          req.Voter,
		Type:           req.Type,
		VotedForGroups: req.VotedForGroups,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, vote)
}

// CanVote handles GET /api/v1/votes/can-vote?workflow_id=&voter_kind=&voter_id=.
func (h *HTTPHandler) CanVote(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	voter := approval.EntityRef{
		Kind: approval.EntityKind(r.URL.Query().Get("voter_kind")),
		ID:   r.URL.Query().Get("voter_id"),
	}
	if workflowID == "" || voter.ID == "" {
		http.Error(w, "workflow_id and voter_id are required", http.StatusBadRequest)
		return
	}

	err := h.votes.CanVote(r.Context(), workflowID, voter)
	var cantVote *approval.CantVoteError
	if errors.As(err, &cantVote) {
		h.writeJSON(w, http.StatusOK, map[string]any{"can_vote": false, "reason": cantVote.Reason})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"can_vote": true})
}

// ListVotes handles GET /api/v1/votes?workflow_id=.
func (h *HTTPHandler) ListVotes(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		http.Error(w, "workflow_id is required", http.StatusBadRequest)
		return
	}

	votes, err := h.votes.ListVotes(r.Context(), workflowID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"votes": votes})
}

// LatestVote handles GET /api/v1/votes/latest?workflow_id=&voter_kind=&voter_id=.
// It returns the voter's effective vote, or null when the voter has not voted.
func (h *HTTPHandler) LatestVote(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	voter := approval.EntityRef{
		Kind: approval.EntityKind(r.URL.Query().Get("voter_kind")),
		ID:   r.URL.Query().Get("voter_id"),
	}
	if workflowID == "" || voter.ID == "" {
		http.Error(w, "workflow_id and voter_id are required", http.StatusBadRequest)
		return
	}

	vote, err := h.votes.LatestVote(r.Context(), workflowID, voter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"vote": vote})
}

// ── Response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("failed to encode response body")
	}
}

// writeError maps service errors to HTTP statuses. Eligibility failures keep
// their specific reason so a rejected vote tells the caller exactly why.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	var cantVote *approval.CantVoteError
	if errors.As(err, &cantVote) {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "cannot_vote",
			"reason": cantVote.Reason,
		})
		return
	}

	status := http.StatusInternalServerError
	switch apperr.Code(err) {
	case apperr.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case apperr.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperr.ErrCodeConflict, apperr.ErrCodeConcurrency:
		status = http.StatusConflict
	case apperr.ErrCodeUnauthorized:
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
		h.writeJSON(w, status, map[string]any{"error": "internal error"})
		return
	}
	h.writeJSON(w, status, map[string]any{
		"error":   string(apperr.Code(err)),
		"message": err.Error(),
	})
}
