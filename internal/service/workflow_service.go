package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-approvals/internal/apperr"
	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/repository"
)

// defaultExpiresInHours applies when neither the request nor the template
// sets a deadline.
const defaultExpiresInHours = 72

// WorkflowService manages the workflow lifecycle: creation from a template,
// reads with lazy recalculation, and cancellation.
type WorkflowService struct {
	workflows WorkflowStore
	templates TemplateStore
	recalc    *RecalcService
	now       func() time.Time
	log       *logger.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	workflows WorkflowStore,
	templates TemplateStore,
	recalc *RecalcService,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		workflows: workflows,
		templates: templates,
		recalc:    recalc,
		now:       time.Now,
		log:       log,
	}
}

// CreateWorkflowRequest is a request to start a workflow from a template.
type CreateWorkflowRequest struct {
	Name           string
	TemplateID     string
	ExpiresInHours *int // overrides the template default
	CreatedBy      string
}

// CreateWorkflow starts a PENDING workflow against an active template, with
// a deadline derived from the request, the template default, or the service
// default, in that order.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, req *CreateWorkflowRequest) (*approval.Workflow, error) {
	if req.Name == "" {
		return nil, apperr.InvalidInput("name", "workflow name is required")
	}
	if req.ExpiresInHours != nil && *req.ExpiresInHours < 1 {
		return nil, apperr.InvalidInput("expires_in_hours", "must be at least 1")
	}

	tpl, err := s.templates.GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if tpl.Status != approval.TemplateActive {
		return nil, apperr.Conflict("template is not active: " + req.TemplateID)
	}

	hours := defaultExpiresInHours
	if tpl.DefaultExpiresInHours != nil {
		hours = *tpl.DefaultExpiresInHours
	}
	if req.ExpiresInHours != nil {
		hours = *req.ExpiresInHours
	}

	wf := &approval.Workflow{
		ID:         uuid.NewString(),
		Name:       req.Name,
		TemplateID: req.TemplateID,
		Status:     approval.StatusPending,
		ExpiresAt:  s.now().Add(time.Duration(hours) * time.Hour),
		CreatedBy:  req.CreatedBy,
	}
	if err := s.workflows.Create(ctx, wf); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("template_id", wf.TemplateID).
		Time("expires_at", wf.ExpiresAt).
		Msg("workflow created")

	return wf, nil
}

// GetWorkflow reads a workflow, recalculating first when the dirty marker is
// set (the lazy trigger path). Losing the version race to a concurrent
// recalculation is benign: the other writer's result is fresh, so we re-read.
func (s *WorkflowService) GetWorkflow(ctx context.Context, id string) (*approval.Workflow, error) {
	wf, err := s.recalc.Recalculate(ctx, id)
	if err == nil {
		return wf, nil
	}
	if apperr.IsCode(err, apperr.ErrCodeConcurrency) {
		return s.workflows.GetByID(ctx, id)
	}
	return nil, err
}

// ListWorkflows returns workflows filtered by status, newest first.
func (s *WorkflowService) ListWorkflows(ctx context.Context, status approval.WorkflowStatus, limit int) ([]*approval.Workflow, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.workflows.ListByStatus(ctx, status, limit)
}

// CancelWorkflow cancels a non-terminal workflow. Terminal status is final:
// any attempt to re-open or cancel a finished workflow is rejected.
func (s *WorkflowService) CancelWorkflow(ctx context.Context, id string) (*approval.Workflow, error) {
	wf, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return nil, apperr.Conflict("workflow is already in terminal status " + string(wf.Status))
	}

	canceled := approval.StatusCanceled
	updated, err := s.workflows.ConditionalUpdate(ctx, id, wf.Version, repository.WorkflowPatch{
		Status: &canceled,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("workflow_id", id).Msg("workflow canceled")
	return updated, nil
}
