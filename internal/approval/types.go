// Package approval holds the domain model and the pure decision logic of the
// approvals service: the rule tree, voter eligibility and status evaluation.
// Nothing in this package touches storage, queues or the clock implicitly;
// time is always an explicit input so the logic stays deterministic.
package approval

import (
	"fmt"
	"time"
)

// WorkflowStatus is the lifecycle state of an approval workflow.
type WorkflowStatus string

const (
	StatusPending  WorkflowStatus = "PENDING"
	StatusApproved WorkflowStatus = "APPROVED"
	StatusRejected WorkflowStatus = "REJECTED"
	StatusCanceled WorkflowStatus = "CANCELED"
	StatusExpired  WorkflowStatus = "EXPIRED"
)

// Terminal reports whether the status is final. Terminal workflows are never
// mutated again.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// TemplateStatus is the lifecycle state of a workflow template.
type TemplateStatus string

const (
	TemplateDraft      TemplateStatus = "DRAFT"
	TemplateActive     TemplateStatus = "ACTIVE"
	TemplateDeprecated TemplateStatus = "DEPRECATED"
)

// VoteType classifies a cast vote.
type VoteType string

const (
	VoteApprove  VoteType = "APPROVE"
	VoteVeto     VoteType = "VETO"
	VoteWithdraw VoteType = "WITHDRAW"
)

// EntityKind distinguishes human users from machine agents.
type EntityKind string

const (
	EntityUser  EntityKind = "user"
	EntityAgent EntityKind = "agent"
)

// EntityRef identifies a voter (user or agent).
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// Key returns a stable map key for the entity.
func (e EntityRef) Key() string {
	return fmt.Sprintf("%s:%s", e.Kind, e.ID)
}

// Role is a membership role. Some roles carry the system-wide capability to
// cast votes.
type Role string

const (
	RoleMember   Role = "member"
	RoleVoter    Role = "voter"
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"
)

// GrantsVote reports whether the role allows casting votes at all.
func (r Role) GrantsVote() bool {
	switch r {
	case RoleVoter, RoleApprover, RoleAdmin:
		return true
	}
	return false
}

// Vote is one immutable entry in a workflow's vote ledger. Votes are
// append-only; a voter's effective vote is their most recently cast one.
type Vote struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"`
	Voter          EntityRef  `json:"voter"`
	Type           VoteType   `json:"type"`
	VotedForGroups []string   `json:"voted_for_groups,omitempty"`
	Reason         *string    `json:"reason,omitempty"`
	CastedAt       time.Time  `json:"casted_at"`
	// Seq is the ledger insertion order, used to break casted_at ties.
	Seq int64 `json:"-"`
}

// Workflow is a running (or finished) approval workflow instance.
type Workflow struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	TemplateID string         `json:"template_id"`
	Status     WorkflowStatus `json:"status"`
	ExpiresAt  time.Time      `json:"expires_at"`
	// RecalculationRequired is the dirty marker: set on every vote write,
	// cleared only by a successful recalculation against the version it read.
	RecalculationRequired bool      `json:"recalculation_required"`
	Version               int64     `json:"version"`
	CreatedBy             string    `json:"created_by"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ActionType classifies a post-decision action.
type ActionType string

const (
	ActionEmail   ActionType = "email"
	ActionWebhook ActionType = "webhook"
)

// TemplateAction is one post-decision action configured on a template,
// dispatched (elsewhere) when a workflow reaches a terminal decision.
type TemplateAction struct {
	Type   ActionType `json:"type"`
	Target string     `json:"target"` // email address or webhook URL
}

// WorkflowTemplate defines the approval policy workflows are created against.
// Templates are immutable once active and versioned by (name, version).
type WorkflowTemplate struct {
	ID                              string           `json:"id"`
	Name                            string           `json:"name"`
	Version                         int              `json:"version"`
	Rule                            ApprovalRule     `json:"rule"`
	Actions                         []TemplateAction `json:"actions,omitempty"`
	DefaultExpiresInHours           *int             `json:"default_expires_in_hours,omitempty"`
	Status                          TemplateStatus   `json:"status"`
	AllowVotingOnDeprecatedTemplate bool             `json:"allow_voting_on_deprecated_template"`
	CreatedAt                       time.Time        `json:"created_at"`
	UpdatedAt                       time.Time        `json:"updated_at"`
}

// Membership records that an entity belongs to a group with a role.
type Membership struct {
	Entity  EntityRef `json:"entity"`
	GroupID string    `json:"group_id"`
	Role    Role      `json:"role"`
	Since   time.Time `json:"since"`
}

// StatusChangedEvent is emitted when recalculation moves a workflow out of
// PENDING into a terminal status. Delivery is best-effort.
type StatusChangedEvent struct {
	WorkflowID string           `json:"workflow_id"`
	OldStatus  WorkflowStatus   `json:"old_status"`
	NewStatus  WorkflowStatus   `json:"new_status"`
	Actions    []TemplateAction `json:"actions,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}
