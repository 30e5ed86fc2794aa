package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approvals/internal/apperr"
	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/database"
)

// WorkflowRepository manages workflow rows. The version column is the only
// mutual-exclusion primitive in the system: every mutation goes through a
// conditional update that compares the version read by the caller.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// WorkflowPatch is the set of fields a conditional update may change. Nil
// fields are left untouched.
type WorkflowPatch struct {
	Status                *approval.WorkflowStatus
	RecalculationRequired *bool
}

// Create inserts a new PENDING workflow at version 1.
func (r *WorkflowRepository) Create(ctx context.Context, wf *approval.Workflow) error {
	query := `
		INSERT INTO workflows
		    (id, name, template_id, status, expires_at,
		     recalculation_required, version, created_by)
		VALUES ($1, $2, $3, $4, $5, FALSE, 1, $6)
		RETURNING recalculation_required, version, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		wf.ID,
		wf.Name,
		wf.TemplateID,
		wf.Status,
		wf.ExpiresAt,
		wf.CreatedBy,
	).Scan(&wf.RecalculationRequired, &wf.Version, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create workflow")
	}
	return nil
}

// GetByID retrieves a workflow including its current version.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*approval.Workflow, error) {
	query := `
		SELECT id, name, template_id, status, expires_at,
		       recalculation_required, version, created_by,
		       created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("workflow", id)
	}
	return wf, err
}

// ListByStatus returns workflows in a given status, newest first.
func (r *WorkflowRepository) ListByStatus(ctx context.Context, status approval.WorkflowStatus, limit int) ([]*approval.Workflow, error) {
	query := `
		SELECT id, name, template_id, status, expires_at,
		       recalculation_required, version, created_by,
		       created_at, updated_at
		FROM workflows
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, status, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list workflows")
	}
	defer rows.Close()

	var workflows []*approval.Workflow
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan workflow")
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

// PendingByTemplateID returns still-pending workflows created from a template.
// Used by template deprecation to cascade cancellation.
func (r *WorkflowRepository) PendingByTemplateID(ctx context.Context, templateID string) ([]*approval.Workflow, error) {
	query := `
		SELECT id, name, template_id, status, expires_at,
		       recalculation_required, version, created_by,
		       created_at, updated_at
		FROM workflows
		WHERE template_id = $1 AND status = $2
	`

	rows, err := r.db.Query(ctx, query, templateID, approval.StatusPending)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list pending workflows")
	}
	defer rows.Close()

	var workflows []*approval.Workflow
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan workflow")
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

// ConditionalUpdate applies the patch only when the stored version still
// equals expectedVersion, bumping the version as part of the same statement.
// A version mismatch surfaces as a concurrency error; the row's current state
// was produced by a concurrent writer and is already correct.
func (r *WorkflowRepository) ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, patch WorkflowPatch) (*approval.Workflow, error) {
	query := `
		UPDATE workflows
		SET status                 = COALESCE($3, status),
		    recalculation_required = COALESCE($4, recalculation_required),
		    version                = version + 1,
		    updated_at             = NOW()
		WHERE id = $1 AND version = $2
		RETURNING id, name, template_id, status, expires_at,
		          recalculation_required, version, created_by,
		          created_at, updated_at
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id, expectedVersion, patch.Status, patch.RecalculationRequired))
	if err == pgx.ErrNoRows {
		// Distinguish a missing row from a lost race.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperr.Concurrency("workflow was modified concurrently: " + id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to update workflow")
	}
	return wf, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row workflowScanner) (*approval.Workflow, error) {
	wf := &approval.Workflow{}
	err := row.Scan(
		&wf.ID,
		&wf.Name,
		&wf.TemplateID,
		&wf.Status,
		&wf.ExpiresAt,
		&wf.RecalculationRequired,
		&wf.Version,
		&wf.CreatedBy,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}
