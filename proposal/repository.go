package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Store and RateLimiter on Postgres. A proposal is
// one row; the signature roster and both values ride along as jsonb so the
// version column guards the whole document.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const proposalColumns = `id, child_id, agreement_id, proposed_by, change_type, original_value, proposed_value,
	change_description, status, created_at, expires_at, responded_at, responded_by, decline_message,
	modification_note, signature_deadline, signatures, activated_at, original_proposal_id,
	superseded_by_proposal_id, new_agreement_version, version`

func (r *PGRepository) Get(ctx context.Context, id string) (Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	p, err := scanProposal(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, fmt.Errorf("proposal: get: %w", err)
	}
	return p, nil
}

func (r *PGRepository) Create(ctx context.Context, p Proposal) error {
	originalValue, err := encodeValuePtr(p.OriginalValue)
	if err != nil {
		return err
	}
	proposedValue, err := encodeValue(p.ProposedValue)
	if err != nil {
		return err
	}
	signatures, err := encodeSignatures(p.Signatures)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO proposals (id, child_id, agreement_id, proposed_by, change_type, original_value,
			proposed_value, change_description, status, created_at, expires_at, signatures,
			original_proposal_id, version)
		VALUES ($1, $2, $3, $4, $5::change_type, $6::jsonb, $7::jsonb, $8, $9::proposal_status,
			$10, $11, $12::jsonb, $13, $14)
	`
	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.ChildID,
		p.AgreementID,
		p.ProposedBy,
		p.ChangeType,
		originalValue,
		proposedValue,
		p.ChangeDescription,
		p.Status,
		p.CreatedAt,
		p.ExpiresAt,
		signatures,
		p.OriginalProposalID,
		p.Version,
	)
	if err != nil {
		// the partial unique index backs the one-pending-per-field rule when
		// two creates race past the service check
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "proposals_one_pending" {
			return ErrPendingExists
		}
		return fmt.Errorf("proposal: insert: %w", err)
	}
	return nil
}

// CompareAndSet writes the mutable document fields only when the stored
// version still equals expectedVersion. A zero-row update is disambiguated
// with a follow-up existence probe.
func (r *PGRepository) CompareAndSet(ctx context.Context, id string, expectedVersion int64, p Proposal) error {
	signatures, err := encodeSignatures(p.Signatures)
	if err != nil {
		return err
	}

	const query = `
		UPDATE proposals
		SET status = $3::proposal_status,
		    responded_at = $4,
		    responded_by = $5,
		    decline_message = $6,
		    modification_note = $7,
		    signature_deadline = $8,
		    signatures = $9::jsonb,
		    activated_at = $10,
		    superseded_by_proposal_id = $11,
		    new_agreement_version = $12,
		    version = $13,
		    updated_at = now()
		WHERE id = $1 AND version = $2
	`
	tag, err := r.pool.Exec(ctx, query,
		id,
		expectedVersion,
		p.Status,
		p.RespondedAt,
		p.RespondedBy,
		p.DeclineMessage,
		p.ModificationNote,
		p.SignatureDeadline,
		signatures,
		p.ActivatedAt,
		p.SupersededByProposalID,
		p.NewAgreementVersion,
		p.Version,
	)
	if err != nil {
		// the partial unique index on active rows rejects a second activation
		// for the same field
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "proposals_one_active" {
			return ErrActiveExists
		}
		return fmt.Errorf("proposal: compare and set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM proposals WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("proposal: compare and set probe: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}
	return nil
}

func (r *PGRepository) Query(ctx context.Context, childID string, changeType ChangeType, statusIn []Status) ([]Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE child_id = $1 AND change_type = $2::change_type`
	args := []any{childID, changeType}
	if len(statusIn) > 0 {
		query += ` AND status = ANY($3::proposal_status[])`
		args = append(args, statusStrings(statusIn))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("proposal: query: %w", err)
	}
	defer rows.Close()
	return collectProposals(rows)
}

func (r *PGRepository) ListByStatus(ctx context.Context, statusIn []Status, limit int) ([]Proposal, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + proposalColumns + ` FROM proposals
		WHERE status = ANY($1::proposal_status[])
		ORDER BY created_at ASC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, statusStrings(statusIn), limit)
	if err != nil {
		return nil, fmt.Errorf("proposal: list by status: %w", err)
	}
	defer rows.Close()
	return collectProposals(rows)
}

func (r *PGRepository) CountRecentProposals(ctx context.Context, proposerID string, window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window)
	var count int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM proposals WHERE proposed_by = $1 AND created_at > $2`,
		proposerID, cutoff,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("proposal: count recent: %w", err)
	}
	return count, nil
}

func collectProposals(rows pgx.Rows) ([]Proposal, error) {
	list := []Proposal{}
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("proposal: scan row: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proposal: iterate rows: %w", err)
	}
	return list, nil
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var (
		p       Proposal
		origRaw []byte
		propRaw []byte
		sigRaw  []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.ChildID,
		&p.AgreementID,
		&p.ProposedBy,
		&p.ChangeType,
		&origRaw,
		&propRaw,
		&p.ChangeDescription,
		&p.Status,
		&p.CreatedAt,
		&p.ExpiresAt,
		&p.RespondedAt,
		&p.RespondedBy,
		&p.DeclineMessage,
		&p.ModificationNote,
		&p.SignatureDeadline,
		&sigRaw,
		&p.ActivatedAt,
		&p.OriginalProposalID,
		&p.SupersededByProposalID,
		&p.NewAgreementVersion,
		&p.Version,
	); err != nil {
		return Proposal{}, err
	}
	if len(origRaw) > 0 {
		var v ChangeValue
		if err := json.Unmarshal(origRaw, &v); err != nil {
			return Proposal{}, fmt.Errorf("proposal: decode original value: %w", err)
		}
		p.OriginalValue = &v
	}
	if len(propRaw) > 0 {
		if err := json.Unmarshal(propRaw, &p.ProposedValue); err != nil {
			return Proposal{}, fmt.Errorf("proposal: decode proposed value: %w", err)
		}
	}
	if len(sigRaw) > 0 {
		var encoded []signatureRow
		if err := json.Unmarshal(sigRaw, &encoded); err != nil {
			return Proposal{}, fmt.Errorf("proposal: decode signatures: %w", err)
		}
		p.Signatures = decodeSignatures(encoded)
	}
	return p, nil
}

type signatureRow struct {
	SignerID   string          `json:"signer_id"`
	SignerType SignerType      `json:"signer_type"`
	Status     SignatureStatus `json:"status"`
	SignedAt   *time.Time      `json:"signed_at,omitempty"`
}

func encodeSignatures(sigs []Signature) (any, error) {
	if len(sigs) == 0 {
		return nil, nil
	}
	encoded := make([]signatureRow, len(sigs))
	for i, sig := range sigs {
		encoded[i] = signatureRow(sig)
	}
	b, err := json.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("proposal: encode signatures: %w", err)
	}
	return string(b), nil
}

func decodeSignatures(encoded []signatureRow) []Signature {
	sigs := make([]Signature, len(encoded))
	for i, row := range encoded {
		sigs[i] = Signature(row)
	}
	return sigs
}

func encodeValue(v ChangeValue) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("proposal: encode value: %w", err)
	}
	return string(b), nil
}

func encodeValuePtr(v *ChangeValue) (any, error) {
	if v == nil {
		return nil, nil
	}
	return encodeValue(*v)
}

func statusStrings(statusIn []Status) []string {
	out := make([]string, len(statusIn))
	for i, s := range statusIn {
		out[i] = string(s)
	}
	return out
}
