package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fleetctl/coordinator/internal/store"
)

// VoteRepo implements store.VoteStore over SQLite.
type VoteRepo struct {
	db *sql.DB
}

var _ store.VoteStore = (*VoteRepo)(nil)

func (r *VoteRepo) UpsertVote(ctx context.Context, proposalID, voterHandle, voteValue string, weight float64) ([]store.Vote, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO votes (proposal_id, voter_handle, vote_value, weight) VALUES (?,?,?,?)
		 ON CONFLICT(proposal_id, voter_handle) DO UPDATE SET vote_value=excluded.vote_value, weight=excluded.weight`,
		proposalID, voterHandle, voteValue, weight,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert vote: %w", err)
	}
	return r.ListVotes(ctx, proposalID)
}

func (r *VoteRepo) ListVotes(ctx context.Context, proposalID string) ([]store.Vote, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT voter_handle, vote_value, weight FROM votes WHERE proposal_id=?`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Vote
	for rows.Next() {
		var v store.Vote
		if err := rows.Scan(&v.VoterHandle, &v.VoteValue, &v.Weight); err != nil {
			return nil, fmt.Errorf("scan vote row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
