package service

import (
	"context"

	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/repository"
)

// The services depend on narrow store and sink interfaces so the decision
// logic can be exercised in tests without Postgres or NATS. The pgx
// repositories and the JetStream publisher are the production implementations.

// WorkflowStore persists workflows. All mutations are guarded by the
// workflow's version counter.
type WorkflowStore interface {
	Create(ctx context.Context, wf *approval.Workflow) error
	GetByID(ctx context.Context, id string) (*approval.Workflow, error)
	ListByStatus(ctx context.Context, status approval.WorkflowStatus, limit int) ([]*approval.Workflow, error)
	PendingByTemplateID(ctx context.Context, templateID string) ([]*approval.Workflow, error)
	ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, patch repository.WorkflowPatch) (*approval.Workflow, error)
}

// VoteStore is the append-only vote ledger.
type VoteStore interface {
	AppendAndMarkDirty(ctx context.Context, vote *approval.Vote) error
	AllForWorkflow(ctx context.Context, workflowID string) ([]approval.Vote, error)
	LatestByVoter(ctx context.Context, workflowID string, voter approval.EntityRef) (*approval.Vote, error)
}

// TemplateStore persists workflow templates.
type TemplateStore interface {
	Create(ctx context.Context, tpl *approval.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*approval.WorkflowTemplate, error)
	List(ctx context.Context) ([]*approval.WorkflowTemplate, error)
	MaxVersion(ctx context.Context, name string) (int, error)
	UpdateStatus(ctx context.Context, id string, status approval.TemplateStatus) error
}

// MembershipStore reads the group-membership view.
type MembershipStore interface {
	MembershipsOf(ctx context.Context, entity approval.EntityRef) ([]approval.Membership, error)
	MembersOfGroups(ctx context.Context, groupIDs []string) ([]approval.Membership, error)
}

// EventSink delivers best-effort events. EnqueueRecalculation is deduplicated
// by workflow ID downstream; PublishStatusChanged is fire-and-forget.
type EventSink interface {
	EnqueueRecalculation(ctx context.Context, workflowID string) error
	PublishStatusChanged(ctx context.Context, event approval.StatusChangedEvent)
}
