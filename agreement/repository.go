package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Fledgely/fledgely-sub000/proposal"
)

var (
	ErrNotFound       = errors.New("agreement: not found")
	ErrDuplicateChild = errors.New("agreement: child already has an agreement")
)

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, ag Agreement) (Agreement, error) {
	const query = `
		INSERT INTO agreements (id, child_id, version)
		VALUES ($1, $2, $3)
		RETURNING id, child_id, version, created_at, updated_at
	`
	created, err := scanAgreement(r.pool.QueryRow(ctx, query, ag.ID, ag.ChildID, ag.Version))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Agreement{}, ErrDuplicateChild
		}
		return Agreement{}, fmt.Errorf("agreement: insert: %w", err)
	}
	created.Values = map[proposal.ChangeType]proposal.ChangeValue{}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Agreement, error) {
	const query = `SELECT id, child_id, version, created_at, updated_at FROM agreements WHERE id = $1`
	ag, err := scanAgreement(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get: %w", err)
	}
	if err := r.loadValues(ctx, &ag); err != nil {
		return Agreement{}, err
	}
	return ag, nil
}

func (r *PGRepository) GetByChild(ctx context.Context, childID string) (Agreement, error) {
	const query = `SELECT id, child_id, version, created_at, updated_at FROM agreements WHERE child_id = $1`
	ag, err := scanAgreement(r.pool.QueryRow(ctx, query, childID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get by child: %w", err)
	}
	if err := r.loadValues(ctx, &ag); err != nil {
		return Agreement{}, err
	}
	return ag, nil
}

func (r *PGRepository) loadValues(ctx context.Context, ag *Agreement) error {
	rows, err := r.pool.Query(ctx,
		`SELECT change_type, value FROM agreement_values WHERE agreement_id = $1`, ag.ID)
	if err != nil {
		return fmt.Errorf("agreement: load values: %w", err)
	}
	defer rows.Close()

	values := map[proposal.ChangeType]proposal.ChangeValue{}
	for rows.Next() {
		var (
			changeType proposal.ChangeType
			raw        []byte
		)
		if err := rows.Scan(&changeType, &raw); err != nil {
			return fmt.Errorf("agreement: scan value: %w", err)
		}
		var value proposal.ChangeValue
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("agreement: decode value: %w", err)
		}
		values[changeType] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("agreement: iterate values: %w", err)
	}
	ag.Values = values
	return nil
}

// CurrentValue returns the agreement a change to childID's field would
// amend, with the authoritative value or nil when the field was never set.
func (r *PGRepository) CurrentValue(ctx context.Context, childID string, changeType proposal.ChangeType) (proposal.CurrentState, error) {
	const query = `
		SELECT a.id, a.version, v.value
		FROM agreements a
		LEFT JOIN agreement_values v ON v.agreement_id = a.id AND v.change_type = $2::change_type
		WHERE a.child_id = $1
	`
	var (
		state proposal.CurrentState
		raw   []byte
	)
	if err := r.pool.QueryRow(ctx, query, childID, changeType).Scan(&state.AgreementID, &state.Version, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return proposal.CurrentState{}, ErrNotFound
		}
		return proposal.CurrentState{}, fmt.Errorf("agreement: current value: %w", err)
	}
	if len(raw) > 0 {
		var value proposal.ChangeValue
		if err := json.Unmarshal(raw, &value); err != nil {
			return proposal.CurrentState{}, fmt.Errorf("agreement: decode value: %w", err)
		}
		state.Value = &value
	}
	return state, nil
}

// Apply commits value as the authoritative content for one field and returns
// the new agreement version. The applied_changes insert carries the
// idempotency: replaying a proposal aborts the transaction and the version
// its first application committed is returned instead.
func (r *PGRepository) Apply(ctx context.Context, agreementID, proposalID string, changeType proposal.ChangeType, value proposal.ChangeValue) (int64, error) {
	if agreementID == "" || proposalID == "" {
		return 0, fmt.Errorf("agreement: apply missing ids")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("agreement: encode value: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// the bump row-locks the agreement, serializing concurrent applies
	var newVersion int64
	err = tx.QueryRow(ctx,
		`UPDATE agreements SET version = version + 1, updated_at = now() WHERE id = $1 RETURNING version`,
		agreementID,
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("agreement: bump version: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO applied_changes (proposal_id, agreement_id, change_type, value, version)
		VALUES ($1, $2, $3::change_type, $4::jsonb, $5)
	`, proposalID, agreementID, changeType, string(raw), newVersion)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			_ = tx.Rollback(ctx)
			return r.appliedVersion(ctx, proposalID)
		}
		return 0, fmt.Errorf("agreement: record applied change: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO agreement_values (agreement_id, change_type, value, updated_at)
		VALUES ($1, $2::change_type, $3::jsonb, now())
		ON CONFLICT (agreement_id, change_type)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, agreementID, changeType, string(raw))
	if err != nil {
		return 0, fmt.Errorf("agreement: upsert value: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("agreement: commit apply: %w", err)
	}
	return newVersion, nil
}

func (r *PGRepository) appliedVersion(ctx context.Context, proposalID string) (int64, error) {
	var version int64
	if err := r.pool.QueryRow(ctx,
		`SELECT version FROM applied_changes WHERE proposal_id = $1`, proposalID,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("agreement: read applied version: %w", err)
	}
	return version, nil
}

func scanAgreement(row pgx.Row) (Agreement, error) {
	var ag Agreement
	return ag, row.Scan(&ag.ID, &ag.ChildID, &ag.Version, &ag.CreatedAt, &ag.UpdatedAt)
}
