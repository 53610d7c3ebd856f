package family

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested family or member does not exist.
	ErrNotFound = errors.New("family: not found")
	// ErrDuplicateMember signals the user is already enrolled in the family.
	ErrDuplicateMember = errors.New("family: member already enrolled")
)

// PGRepository provides access to families and their rosters.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) CreateFamily(ctx context.Context, f Family) (Family, error) {
	const query = `
		INSERT INTO families (id, name)
		VALUES ($1, $2)
		RETURNING id, name, created_at
	`
	var created Family
	err := r.pool.QueryRow(ctx, query, f.ID, f.Name).Scan(&created.ID, &created.Name, &created.CreatedAt)
	if err != nil {
		return Family{}, fmt.Errorf("family: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) AddMember(ctx context.Context, m Member) (Member, error) {
	const query = `
		INSERT INTO family_members (family_id, user_id, role)
		VALUES ($1, $2, $3::family_role)
		RETURNING family_id, user_id, role, joined_at
	`
	var added Member
	err := r.pool.QueryRow(ctx, query, m.FamilyID, m.UserID, m.Role).Scan(
		&added.FamilyID,
		&added.UserID,
		&added.Role,
		&added.JoinedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Member{}, ErrDuplicateMember
		}
		return Member{}, fmt.Errorf("family: add member: %w", err)
	}
	return added, nil
}

// Members fetches a family's roster, parents before children, each group in
// enrollment order.
func (r *PGRepository) Members(ctx context.Context, familyID string) ([]Member, error) {
	const query = `
		SELECT family_id, user_id, role, joined_at
		FROM family_members
		WHERE family_id = $1
		ORDER BY role = 'child', joined_at, user_id
	`
	rows, err := r.pool.Query(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("family: list members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.FamilyID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("family: scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("family: iterate members: %w", err)
	}
	return members, nil
}

// GuardiansOf resolves the parent guardians responsible for a child, in
// enrollment order. A child not enrolled anywhere fails with ErrNotFound.
func (r *PGRepository) GuardiansOf(ctx context.Context, childUserID string) ([]string, error) {
	var familyID string
	err := r.pool.QueryRow(ctx,
		`SELECT family_id FROM family_members WHERE user_id = $1 AND role = 'child'`,
		childUserID,
	).Scan(&familyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("family: resolve child: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM family_members WHERE family_id = $1 AND role = 'parent' ORDER BY joined_at, user_id`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("family: list guardians: %w", err)
	}
	defer rows.Close()

	guardians := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("family: scan guardian: %w", err)
		}
		guardians = append(guardians, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("family: iterate guardians: %w", err)
	}
	return guardians, nil
}
