package repository

import (
	"context"

	"github.com/pesio-ai/be-approvals/internal/apperr"
	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/database"
)

// MembershipRepository reads group memberships. Membership is owned by the
// group-management service; this repository only queries the replicated view
// the evaluator and eligibility check need.
type MembershipRepository struct {
	db *database.DB
}

// NewMembershipRepository creates a new MembershipRepository.
func NewMembershipRepository(db *database.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// MembershipsOf returns all group memberships of a single entity.
func (r *MembershipRepository) MembershipsOf(ctx context.Context, entity approval.EntityRef) ([]approval.Membership, error) {
	query := `
		SELECT entity_kind, entity_id, group_id, role, since
		FROM group_memberships
		WHERE entity_kind = $1 AND entity_id = $2
	`

	rows, err := r.db.Query(ctx, query, entity.Kind, entity.ID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to query memberships")
	}
	defer rows.Close()

	var memberships []approval.Membership
	for rows.Next() {
		var m approval.Membership
		if err := rows.Scan(&m.Entity.Kind, &m.Entity.ID, &m.GroupID, &m.Role, &m.Since); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan membership")
		}
		memberships = append(memberships, m)
	}
	return memberships, nil
}

// MembersOfGroups returns the current memberships of every listed group.
// Recalculation uses this to re-check membership at evaluation time.
func (r *MembershipRepository) MembersOfGroups(ctx context.Context, groupIDs []string) ([]approval.Membership, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT entity_kind, entity_id, group_id, role, since
		FROM group_memberships
		WHERE group_id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, groupIDs)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to query group members")
	}
	defer rows.Close()

	var memberships []approval.Membership
	for rows.Next() {
		var m approval.Membership
		if err := rows.Scan(&m.Entity.Kind, &m.Entity.ID, &m.GroupID, &m.Role, &m.Since); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan membership")
		}
		memberships = append(memberships, m)
	}
	return memberships, nil
}
