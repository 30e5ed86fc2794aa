package approval

import "time"

// CantVoteReason explains why a voter may not currently cast a vote. Reasons
// are deterministic: the same inputs always produce the same reason.
type CantVoteReason string

const (
	ReasonWorkflowExpired         CantVoteReason = "workflow_expired"
	ReasonWorkflowCancelled       CantVoteReason = "workflow_cancelled"
	ReasonWorkflowAlreadyApproved CantVoteReason = "workflow_already_approved"
	ReasonTemplateNotActive       CantVoteReason = "workflow_template_not_active"
	ReasonEntityNotEligible       CantVoteReason = "entity_not_eligible_to_vote"
	ReasonEntityNotInGroup        CantVoteReason = "entity_not_in_required_group"
)

// CantVoteError carries the first failing eligibility reason.
type CantVoteError struct {
	Reason CantVoteReason
}

func (e *CantVoteError) Error() string {
	return string(e.Reason)
}

// VoterContext is the capability snapshot of a candidate voter: their group
// memberships and the roles they hold. It is assembled by the caller so the
// check itself performs no lookups.
type VoterContext struct {
	Memberships []Membership
}

// Roles returns the distinct roles the voter holds across all memberships.
func (v VoterContext) Roles() []Role {
	seen := make(map[Role]bool)
	var roles []Role
	for _, m := range v.Memberships {
		if !seen[m.Role] {
			seen[m.Role] = true
			roles = append(roles, m.Role)
		}
	}
	return roles
}

// CanVote decides whether the voter may currently cast a vote on the
// workflow. The checks run in a fixed order so error reporting is stable; the
// first failing check wins. The function is pure given its inputs and
// performs no writes.
func CanVote(wf *Workflow, tpl *WorkflowTemplate, voter VoterContext, now time.Time) error {
	if now.After(wf.ExpiresAt) {
		return &CantVoteError{Reason: ReasonWorkflowExpired}
	}
	if wf.Status == StatusCanceled {
		return &CantVoteError{Reason: ReasonWorkflowCancelled}
	}
	if wf.Status == StatusApproved || wf.Status == StatusRejected {
		return &CantVoteError{Reason: ReasonWorkflowAlreadyApproved}
	}
	if tpl.Status == TemplateDeprecated && !tpl.AllowVotingOnDeprecatedTemplate {
		return &CantVoteError{Reason: ReasonTemplateNotActive}
	}

	// System-wide gate: the voter must hold at least one vote-capable role.
	eligible := false
	for _, role := range voter.Roles() {
		if role.GrantsVote() {
			eligible = true
			break
		}
	}
	if !eligible {
		return &CantVoteError{Reason: ReasonEntityNotEligible}
	}

	// The voter must belong to at least one group the rule tree references.
	required := make(map[string]bool)
	for _, g := range tpl.Rule.ReferencedGroups() {
		required[g] = true
	}
	for _, m := range voter.Memberships {
		if required[m.GroupID] {
			return nil
		}
	}
	return &CantVoteError{Reason: ReasonEntityNotInGroup}
}
