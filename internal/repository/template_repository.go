package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approvals/internal/apperr"
	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/database"
)

// TemplateRepository manages workflow templates. The approval rule tree and
// the action list are stored as JSONB; rules are re-validated on every read
// so a malformed stored tree is reported instead of silently coerced.
type TemplateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create inserts a new template version.
func (r *TemplateRepository) Create(ctx context.Context, tpl *approval.WorkflowTemplate) error {
	ruleJSON, err := approval.MarshalRule(&tpl.Rule)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to marshal approval rule")
	}
	actionsJSON, err := json.Marshal(tpl.Actions)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to marshal template actions")
	}

	query := `
		INSERT INTO workflow_templates
		    (id, name, version, approval_rule, actions,
		     default_expires_in_hours, status, allow_voting_on_deprecated_template)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		tpl.ID,
		tpl.Name,
		tpl.Version,
		ruleJSON,
		actionsJSON,
		tpl.DefaultExpiresInHours,
		tpl.Status,
		tpl.AllowVotingOnDeprecatedTemplate,
	).Scan(&tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create workflow template")
	}
	return nil
}

// GetByID retrieves a template by primary key.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*approval.WorkflowTemplate, error) {
	query := `
		SELECT id, name, version, approval_rule, actions,
		       default_expires_in_hours, status, allow_voting_on_deprecated_template,
		       created_at, updated_at
		FROM workflow_templates
		WHERE id = $1
	`

	tpl, err := r.scanTemplate(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("workflow_template", id)
	}
	return tpl, err
}

// List returns all template versions, newest first.
func (r *TemplateRepository) List(ctx context.Context) ([]*approval.WorkflowTemplate, error) {
	query := `
		SELECT id, name, version, approval_rule, actions,
		       default_expires_in_hours, status, allow_voting_on_deprecated_template,
		       created_at, updated_at
		FROM workflow_templates
		ORDER BY name ASC, version DESC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list workflow templates")
	}
	defer rows.Close()

	var templates []*approval.WorkflowTemplate
	for rows.Next() {
		tpl, err := r.scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}

// MaxVersion returns the highest existing version for a template name, or 0
// when the name is unused.
func (r *TemplateRepository) MaxVersion(ctx context.Context, name string) (int, error) {
	query := `
		SELECT COALESCE(MAX(version), 0)
		FROM workflow_templates
		WHERE name = $1
	`

	var version int
	if err := r.db.QueryRow(ctx, query, name).Scan(&version); err != nil {
		return 0, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to query template version")
	}
	return version, nil
}

// UpdateStatus moves a template through its lifecycle (DRAFT → ACTIVE →
// DEPRECATED). Template content is immutable once active, so status is the
// only mutable column.
func (r *TemplateRepository) UpdateStatus(ctx context.Context, id string, status approval.TemplateStatus) error {
	query := `
		UPDATE workflow_templates
		SET status     = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("workflow_template", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to update template status")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type templateScanner interface {
	Scan(dest ...any) error
}

func (r *TemplateRepository) scanTemplate(row templateScanner) (*approval.WorkflowTemplate, error) {
	tpl := &approval.WorkflowTemplate{}
	var ruleJSON, actionsJSON []byte

	err := row.Scan(
		&tpl.ID,
		&tpl.Name,
		&tpl.Version,
		&ruleJSON,
		&actionsJSON,
		&tpl.DefaultExpiresInHours,
		&tpl.Status,
		&tpl.AllowVotingOnDeprecatedTemplate,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule, err := approval.ParseRule(ruleJSON)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "stored approval rule is invalid")
	}
	tpl.Rule = *rule

	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &tpl.Actions); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to unmarshal template actions")
		}
	}
	return tpl, nil
}
