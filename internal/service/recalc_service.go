package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/repository"
)

// RecalcService re-derives workflow status from the rule tree and the vote
// ledger. It is triggered lazily (a read of a dirty workflow) and
// asynchronously (the JetStream consumer); both paths converge here.
//
// Recalculation is idempotent: running it twice over the same votes yields
// the same status. The version guard on the conditional write prevents lost
// updates, not duplicate-but-consistent ones.
type RecalcService struct {
	workflows   WorkflowStore
	votes       VoteStore
	templates   TemplateStore
	memberships MembershipStore
	events      EventSink
	now         func() time.Time
	log         *logger.Logger
}

// NewRecalcService creates a new RecalcService.
func NewRecalcService(
	workflows WorkflowStore,
	votes VoteStore,
	templates TemplateStore,
	memberships MembershipStore,
	events EventSink,
	log *logger.Logger,
) *RecalcService {
	return &RecalcService{
		workflows:   workflows,
		votes:       votes,
		templates:   templates,
		memberships: memberships,
		events:      events,
		now:         time.Now,
		log:         log,
	}
}

// EnsureFresh recalculates the workflow's status if its dirty marker is set.
// A version-guard failure means a concurrent recalculation already wrote a
// correct result; callers must not retry blindly — the next natural read or
// queued job reconciles any remaining staleness.
func (s *RecalcService) EnsureFresh(ctx context.Context, workflowID string) error {
	_, err := s.Recalculate(ctx, workflowID)
	return err
}

// Recalculate runs one recalculation pass and returns the resulting
// workflow. It is a no-op for clean or terminal workflows.
func (s *RecalcService) Recalculate(ctx context.Context, workflowID string) (*approval.Workflow, error) {
	// Capture the version; the conditional write below is guarded by it.
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.RecalculationRequired || wf.Status.Terminal() {
		return wf, nil
	}

	tpl, err := s.templates.GetByID(ctx, wf.TemplateID)
	if err != nil {
		return nil, err
	}
	votes, err := s.votes.AllForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	// Membership is re-checked at evaluation time: a voter who left a group
	// after voting no longer counts toward its quorum.
	members, err := s.memberships.MembersOfGroups(ctx, tpl.Rule.ReferencedGroups())
	if err != nil {
		return nil, err
	}

	newStatus := approval.Evaluate(&tpl.Rule, votes, approval.NewMembershipSet(members), wf.ExpiresAt, s.now())

	clean := false
	updated, err := s.workflows.ConditionalUpdate(ctx, workflowID, wf.Version, repository.WorkflowPatch{
		Status:                &newStatus,
		RecalculationRequired: &clean,
	})
	if err != nil {
		return nil, err
	}

	if newStatus != wf.Status {
		s.log.Info().
			Str("workflow_id", workflowID).
			Str("old_status", string(wf.Status)).
			Str("new_status", string(newStatus)).
			Msg("workflow status recalculated")
	}

	// Only a transition out of PENDING into a terminal status triggers the
	// post-decision actions. Delivery is best-effort; the status change
	// itself is already durable.
	if wf.Status == approval.StatusPending && newStatus.Terminal() {
		s.events.PublishStatusChanged(ctx, approval.StatusChangedEvent{
			WorkflowID: workflowID,
			OldStatus:  wf.Status,
			NewStatus:  newStatus,
			Actions:    tpl.Actions,
			Timestamp:  s.now(),
		})
	}

	return updated, nil
}
