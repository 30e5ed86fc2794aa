package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-approvals/internal/apperr"
	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/logger"
)

// VoteService orchestrates vote casting: eligibility check, vote construction,
// the atomic append-and-mark-dirty write, and the best-effort recalculation
// enqueue.
//
// Eligibility is checked optimistically before the write. A race between the
// check and the write can let a now-ineligible voter's vote land; that is
// accepted, because the status evaluator re-derives correctness from group
// membership and effective votes at recalculation time.
type VoteService struct {
	workflows   WorkflowStore
	votes       VoteStore
	templates   TemplateStore
	memberships MembershipStore
	events      EventSink
	now         func() time.Time
	log         *logger.Logger
}

// NewVoteService creates a new VoteService.
func NewVoteService(
	workflows WorkflowStore,
	votes VoteStore,
	templates TemplateStore,
	memberships MembershipStore,
	events EventSink,
	log *logger.Logger,
) *VoteService {
	return &VoteService{
		workflows:   workflows,
		votes:       votes,
		templates:   templates,
		memberships: memberships,
		events:      events,
		now:         time.Now,
		log:         log,
	}
}

// CastVoteRequest is a request to cast a vote on a workflow.
type CastVoteRequest struct {
	WorkflowID     string
	Voter          approval.EntityRef
	Type           approval.VoteType
	VotedForGroups []string
	Reason         *string
}

// CastVote casts a vote. On an eligibility failure the specific
// CantVoteReason is returned and nothing is written. A successful cast
// returns immediately; the workflow status may lag until recalculation runs.
func (s *VoteService) CastVote(ctx context.Context, req *CastVoteRequest) (*approval.Vote, error) {
	if err := validateVotePayload(req); err != nil {
		return nil, err
	}

	wf, tpl, voter, err := s.loadVotingContext(ctx, req.WorkflowID, req.Voter)
	if err != nil {
		return nil, err
	}
	if err := approval.CanVote(wf, tpl, voter, s.now()); err != nil {
		return nil, err
	}

	vote := &approval.Vote{
		ID:             uuid.NewString(),
		WorkflowID:     req.WorkflowID,
		Voter:          req.Voter,
		Type:           req.Type,
		VotedForGroups: req.VotedForGroups,
		Reason:         req.Reason,
	}

	// One transaction: the vote lands together with the dirty marker or not
	// at all.
	if err := s.votes.AppendAndMarkDirty(ctx, vote); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", vote.WorkflowID).
		Str("voter", vote.Voter.Key()).
		Str("vote_type", string(vote.Type)).
		Msg("vote cast")

	// Fire and forget: an enqueue failure never fails the cast. The next read
	// of the workflow triggers recalculation lazily.
	if err := s.events.EnqueueRecalculation(ctx, vote.WorkflowID); err != nil {
		s.log.Warn().Err(err).
			Str("workflow_id", vote.WorkflowID).
			Msg("failed to enqueue recalculation (non-fatal)")
	}

	return vote, nil
}

// CanVote answers the standalone "can I vote" query. A nil error means yes;
// otherwise the error is the CantVoteReason.
func (s *VoteService) CanVote(ctx context.Context, workflowID string, voterRef approval.EntityRef) error {
	wf, tpl, voter, err := s.loadVotingContext(ctx, workflowID, voterRef)
	if err != nil {
		return err
	}
	return approval.CanVote(wf, tpl, voter, s.now())
}

// ListVotes returns the full vote ledger of a workflow in cast order.
func (s *VoteService) ListVotes(ctx context.Context, workflowID string) ([]approval.Vote, error) {
	if _, err := s.workflows.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.votes.AllForWorkflow(ctx, workflowID)
}

// LatestVote returns the voter's effective (most recent) vote, or nil.
func (s *VoteService) LatestVote(ctx context.Context, workflowID string, voter approval.EntityRef) (*approval.Vote, error) {
	return s.votes.LatestByVoter(ctx, workflowID, voter)
}

// loadVotingContext fetches the workflow, its template and the voter's
// memberships — everything the pure eligibility check needs.
func (s *VoteService) loadVotingContext(ctx context.Context, workflowID string, voterRef approval.EntityRef) (*approval.Workflow, *approval.WorkflowTemplate, approval.VoterContext, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, nil, approval.VoterContext{}, err
	}
	tpl, err := s.templates.GetByID(ctx, wf.TemplateID)
	if err != nil {
		return nil, nil, approval.VoterContext{}, err
	}
	memberships, err := s.memberships.MembershipsOf(ctx, voterRef)
	if err != nil {
		return nil, nil, approval.VoterContext{}, err
	}
	return wf, tpl, approval.VoterContext{Memberships: memberships}, nil
}

// validateVotePayload enforces the vote-type-specific invariants: APPROVE
// must name at least one group, VETO and WITHDRAW must not carry groups.
func validateVotePayload(req *CastVoteRequest) error {
	if req.WorkflowID == "" {
		return apperr.InvalidInput("workflow_id", "workflow id is required")
	}
	if req.Voter.ID == "" {
		return apperr.InvalidInput("voter", "voter id is required")
	}
	if req.Voter.Kind != approval.EntityUser && req.Voter.Kind != approval.EntityAgent {
		return apperr.InvalidInput("voter", "voter kind must be user or agent")
	}

	switch req.Type {
	case approval.VoteApprove:
		if len(req.VotedForGroups) == 0 {
			return apperr.InvalidInput("voted_for_groups", "approve votes must name at least one group")
		}
	case approval.VoteVeto, approval.VoteWithdraw:
		if len(req.VotedForGroups) != 0 {
			return apperr.InvalidInput("voted_for_groups", "only approve votes may name groups")
		}
	default:
		return apperr.InvalidInput("type", "vote type must be APPROVE, VETO or WITHDRAW")
	}
	return nil
}
