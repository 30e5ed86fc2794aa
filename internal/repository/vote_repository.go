package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approvals/internal/apperr"
	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/database"
)

// VoteRepository is the append-only vote ledger. Votes are never updated or
// deleted; superseding votes are expressed by casting again.
type VoteRepository struct {
	db *database.DB
}

// NewVoteRepository creates a new VoteRepository.
func NewVoteRepository(db *database.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// AppendAndMarkDirty inserts the vote and flips the workflow's dirty marker
// in one transaction. The workflow version is bumped so concurrent
// recalculations that read the pre-vote state lose their guard. All-or-
// nothing: if any statement fails the vote is not recorded.
func (r *VoteRepository) AppendAndMarkDirty(ctx context.Context, vote *approval.Vote) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		voteQuery := `
			INSERT INTO votes
			    (id, workflow_id, voter_kind, voter_id, vote_type,
			     voted_for_groups, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING seq, casted_at
		`

		err := tx.QueryRow(ctx, voteQuery,
			vote.ID,
			vote.WorkflowID,
			vote.Voter.Kind,
			vote.Voter.ID,
			vote.Type,
			vote.VotedForGroups,
			vote.Reason,
		).Scan(&vote.Seq, &vote.CastedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to insert vote")
		}

		dirtyQuery := `
			UPDATE workflows
			SET recalculation_required = TRUE,
			    version                = version + 1,
			    updated_at             = NOW()
			WHERE id = $1
			RETURNING id
		`

		var id string
		err = tx.QueryRow(ctx, dirtyQuery, vote.WorkflowID).Scan(&id)
		if err == pgx.ErrNoRows {
			return apperr.NotFound("workflow", vote.WorkflowID)
		}
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to mark workflow for recalculation")
		}
		return nil
	})
}

// AllForWorkflow returns every vote ever cast on a workflow, ordered by
// casted_at ascending with ledger insertion order breaking ties.
func (r *VoteRepository) AllForWorkflow(ctx context.Context, workflowID string) ([]approval.Vote, error) {
	query := `
		SELECT id, workflow_id, voter_kind, voter_id, vote_type,
		       voted_for_groups, reason, casted_at, seq
		FROM votes
		WHERE workflow_id = $1
		ORDER BY casted_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list votes")
	}
	defer rows.Close()

	var votes []approval.Vote
	for rows.Next() {
		vote, err := r.scanVote(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan vote")
		}
		votes = append(votes, *vote)
	}
	return votes, nil
}

// LatestByVoter returns the voter's most recent vote on a workflow, or nil
// when the voter has not voted.
func (r *VoteRepository) LatestByVoter(ctx context.Context, workflowID string, voter approval.EntityRef) (*approval.Vote, error) {
	query := `
		SELECT id, workflow_id, voter_kind, voter_id, vote_type,
		       voted_for_groups, reason, casted_at, seq
		FROM votes
		WHERE workflow_id = $1 AND voter_kind = $2 AND voter_id = $3
		ORDER BY casted_at DESC, seq DESC
		LIMIT 1
	`

	vote, err := r.scanVote(r.db.QueryRow(ctx, query, workflowID, voter.Kind, voter.ID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get latest vote")
	}
	return vote, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type voteScanner interface {
	Scan(dest ...any) error
}

func (r *VoteRepository) scanVote(row voteScanner) (*approval.Vote, error) {
	vote := &approval.Vote{}
	err := row.Scan(
		&vote.ID,
		&vote.WorkflowID,
		&vote.Voter.Kind,
		&vote.Voter.ID,
		&vote.Type,
		&vote.VotedForGroups,
		&vote.Reason,
		&vote.CastedAt,
		&vote.Seq,
	)
	if err != nil {
		return nil, err
	}
	return vote, nil
}
