package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Fledgely/fledgely-sub000/proposal"
)

// Entry is one immutable audit row. Seq orders entries within a proposal.
type Entry struct {
	ID         int64
	ProposalID string
	ChildID    string
	Seq        int
	Type       string
	ActorID    *string
	Payload    []byte
	CreatedAt  time.Time
}

// Recorder appends workflow events to the proposal_events table. It
// implements the proposal package's Recorder boundary.
type Recorder struct {
	pool *pgxpool.Pool
}

func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

func (r *Recorder) Record(ctx context.Context, ev proposal.Event) error {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}
	var actorID any
	if ev.ActorID != "" {
		actorID = ev.ActorID
	}

	const query = `
		INSERT INTO proposal_events (proposal_id, child_id, seq, type, actor_id, payload)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM proposal_events WHERE proposal_id = $1),
			$3, $4, $5::jsonb)
	`
	if _, err := r.pool.Exec(ctx, query, ev.ProposalID, ev.ChildID, ev.Type, actorID, string(raw)); err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// List returns a proposal's events in seq order.
func (r *Recorder) List(ctx context.Context, proposalID string) ([]Entry, error) {
	const query = `
		SELECT id, proposal_id, child_id, seq, type, actor_id, payload, created_at
		FROM proposal_events
		WHERE proposal_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.ProposalID,
			&entry.ChildID,
			&entry.Seq,
			&entry.Type,
			&entry.ActorID,
			&entry.Payload,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return entries, nil
}
