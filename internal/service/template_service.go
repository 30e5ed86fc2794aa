package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-approvals/internal/apperr"
	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/repository"
)

// TemplateService manages the template lifecycle. Templates are immutable
// once active; changing a policy means creating a new version under the same
// name and deprecating the old one.
type TemplateService struct {
	templates TemplateStore
	workflows WorkflowStore
	log       *logger.Logger
}

// NewTemplateService creates a new TemplateService.
func NewTemplateService(templates TemplateStore, workflows WorkflowStore, log *logger.Logger) *TemplateService {
	return &TemplateService{templates: templates, workflows: workflows, log: log}
}

// CreateTemplateRequest is a request to create a new template version.
type CreateTemplateRequest struct {
	Name                            string
	Rule                            approval.ApprovalRule
	Actions                         []approval.TemplateAction
	DefaultExpiresInHours           *int
	AllowVotingOnDeprecatedTemplate bool
}

// CreateTemplate validates the approval rule and creates the next DRAFT
// version under the given name.
func (s *TemplateService) CreateTemplate(ctx context.Context, req *CreateTemplateRequest) (*approval.WorkflowTemplate, error) {
	if req.Name == "" {
		return nil, apperr.InvalidInput("name", "template name is required")
	}
	if req.DefaultExpiresInHours != nil && *req.DefaultExpiresInHours < 1 {
		return nil, apperr.InvalidInput("default_expires_in_hours", "must be at least 1")
	}
	if err := req.Rule.Validate(); err != nil {
		var ruleErr *approval.RuleError
		if errors.As(err, &ruleErr) {
			return nil, apperr.InvalidInput("rule", string(ruleErr.Code))
		}
		return nil, apperr.Wrap(err, apperr.ErrCodeInvalidInput, "invalid approval rule")
	}
	if err := validateActions(req.Actions); err != nil {
		return nil, err
	}

	version, err := s.templates.MaxVersion(ctx, req.Name)
	if err != nil {
		return nil, err
	}

	tpl := &approval.WorkflowTemplate{
		ID:                              uuid.NewString(),
		Name:                            req.Name,
		Version:                         version + 1,
		Rule:                            req.Rule,
		Actions:                         req.Actions,
		DefaultExpiresInHours:           req.DefaultExpiresInHours,
		Status:                          approval.TemplateDraft,
		AllowVotingOnDeprecatedTemplate: req.AllowVotingOnDeprecatedTemplate,
	}
	if err := s.templates.Create(ctx, tpl); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("template_id", tpl.ID).
		Str("name", tpl.Name).
		Int("version", tpl.Version).
		Msg("workflow template created")

	return tpl, nil
}

// ActivateTemplate moves a DRAFT template to ACTIVE.
func (s *TemplateService) ActivateTemplate(ctx context.Context, id string) (*approval.WorkflowTemplate, error) {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl.Status != approval.TemplateDraft {
		return nil, apperr.Conflict("only draft templates can be activated (status: " + string(tpl.Status) + ")")
	}
	if err := s.templates.UpdateStatus(ctx, id, approval.TemplateActive); err != nil {
		return nil, err
	}
	tpl.Status = approval.TemplateActive
	return tpl, nil
}

// DeprecateTemplate marks an ACTIVE template DEPRECATED. With cancelPending,
// still-pending workflows created from it are canceled best-effort: a
// workflow that loses its version race stays pending and is reported, not
// retried.
func (s *TemplateService) DeprecateTemplate(ctx context.Context, id string, cancelPending bool) (*approval.WorkflowTemplate, error) {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl.Status != approval.TemplateActive {
		return nil, apperr.Conflict("only active templates can be deprecated (status: " + string(tpl.Status) + ")")
	}
	if err := s.templates.UpdateStatus(ctx, id, approval.TemplateDeprecated); err != nil {
		return nil, err
	}
	tpl.Status = approval.TemplateDeprecated

	if cancelPending {
		s.cancelPendingWorkflows(ctx, id)
	}
	return tpl, nil
}

// GetTemplate retrieves a template by ID.
func (s *TemplateService) GetTemplate(ctx context.Context, id string) (*approval.WorkflowTemplate, error) {
	return s.templates.GetByID(ctx, id)
}

// ListTemplates returns all template versions.
func (s *TemplateService) ListTemplates(ctx context.Context) ([]*approval.WorkflowTemplate, error) {
	return s.templates.List(ctx)
}

// cancelPendingWorkflows cancels each pending workflow of a deprecated
// template via the usual version-guarded write. Failures are logged and
// skipped.
func (s *TemplateService) cancelPendingWorkflows(ctx context.Context, templateID string) {
	pending, err := s.workflows.PendingByTemplateID(ctx, templateID)
	if err != nil {
		s.log.Warn().Err(err).
			Str("template_id", templateID).
			Msg("failed to list pending workflows for cascading cancel")
		return
	}

	canceled := approval.StatusCanceled
	for _, wf := range pending {
		_, err := s.workflows.ConditionalUpdate(ctx, wf.ID, wf.Version, repository.WorkflowPatch{Status: &canceled})
		if err != nil {
			s.log.Warn().Err(err).
				Str("workflow_id", wf.ID).
				Msg("failed to cancel workflow of deprecated template")
		}
	}
	if len(pending) > 0 {
		s.log.Info().
			Str("template_id", templateID).
			Int("workflows", len(pending)).
			Msg("cascading cancel of pending workflows completed")
	}
}

func validateActions(actions []approval.TemplateAction) error {
	for _, a := range actions {
		switch a.Type {
		case approval.ActionEmail:
			if !strings.Contains(a.Target, "@") {
				return apperr.InvalidInput("actions", "email action target must be an address")
			}
		case approval.ActionWebhook:
			if !strings.HasPrefix(a.Target, "http://") && !strings.HasPrefix(a.Target, "https://") {
				return apperr.InvalidInput("actions", "webhook action target must be an http(s) URL")
			}
		default:
			return apperr.InvalidInput("actions", "action type must be email or webhook")
		}
	}
	return nil
}
