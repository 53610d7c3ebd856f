package proposal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestProposalRepository_Integration connects to a real PostgreSQL via
// DATABASE_URL and exercises the repository end to end, including the
// partial unique index that backs the one-pending-per-field rule.
func TestProposalRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"families", "users", "agreements", "proposals"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skip("database schema missing; apply migrations/0001_init.sql first")
		}
	}

	familyID := uuid.NewString()
	parentA := uuid.NewString()
	parentB := uuid.NewString()
	childID := uuid.NewString()
	agreementID := uuid.NewString()
	seed := time.Now().UnixNano()

	if _, err := pool.Exec(ctx, `INSERT INTO families (id, name) VALUES ($1, $2)`,
		familyID, fmt.Sprintf("Rivera %d", seed)); err != nil {
		t.Fatalf("seed family: %v", err)
	}
	users := []struct {
		id, email, name, role string
	}{
		{parentA, fmt.Sprintf("dana+%d@example.com", seed), "Dana Rivera", "parent"},
		{parentB, fmt.Sprintf("sam+%d@example.com", seed), "Sam Rivera", "parent"},
		{childID, fmt.Sprintf("kai+%d@example.com", seed), "Kai Rivera", "child"},
	}
	for _, u := range users {
		if _, err := pool.Exec(ctx, `
            INSERT INTO users (id, email, full_name, password_hash, family_id, role)
            VALUES ($1, $2, $3, 'x', $4, $5::user_role)
        `, u.id, u.email, u.name, familyID, u.role); err != nil {
			t.Fatalf("seed user %s: %v", u.name, err)
		}
		if _, err := pool.Exec(ctx, `
            INSERT INTO family_members (family_id, user_id, role) VALUES ($1, $2, $3::family_role)
        `, familyID, u.id, u.role); err != nil {
			t.Fatalf("seed membership %s: %v", u.name, err)
		}
	}
	if _, err := pool.Exec(ctx, `INSERT INTO agreements (id, child_id, version) VALUES ($1, $2, 3)`,
		agreementID, childID); err != nil {
		t.Fatalf("seed agreement: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM proposal_events WHERE child_id = $1`, childID)
		pool.Exec(ctx2, `DELETE FROM proposals WHERE child_id = $1`, childID)
		pool.Exec(ctx2, `DELETE FROM applied_changes WHERE agreement_id = $1`, agreementID)
		pool.Exec(ctx2, `DELETE FROM agreement_values WHERE agreement_id = $1`, agreementID)
		pool.Exec(ctx2, `DELETE FROM agreements WHERE id = $1`, agreementID)
		pool.Exec(ctx2, `DELETE FROM family_members WHERE family_id = $1`, familyID)
		pool.Exec(ctx2, `DELETE FROM users WHERE family_id = $1`, familyID)
		pool.Exec(ctx2, `DELETE FROM families WHERE id = $1`, familyID)
	})

	repo := NewRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	original := NumberValue(120)

	p := Proposal{
		ID:                uuid.NewString(),
		ChildID:           childID,
		AgreementID:       agreementID,
		ProposedBy:        parentA,
		ChangeType:        ChangeScreenTime,
		OriginalValue:     &original,
		ProposedValue:     NumberValue(150),
		ChangeDescription: "weekend bump",
		Status:            StatusPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(14 * 24 * time.Hour),
		Version:           1,
	}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	// the partial unique index rejects a second pending row for the field
	dup := p
	dup.ID = uuid.NewString()
	dup.ProposedBy = parentB
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrPendingExists) {
		t.Fatalf("expected ErrPendingExists, got %v", err)
	}

	got, err := repo.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.Version != 1 {
		t.Fatalf("unexpected row: status=%s version=%d", got.Status, got.Version)
	}
	if got.OriginalValue == nil || !got.OriginalValue.Equal(original) {
		t.Fatalf("original value did not round-trip: %+v", got.OriginalValue)
	}
	if !got.ProposedValue.Equal(p.ProposedValue) {
		t.Fatalf("proposed value did not round-trip: %+v", got.ProposedValue)
	}
	if !got.CreatedAt.Equal(p.CreatedAt) || !got.ExpiresAt.Equal(p.ExpiresAt) {
		t.Fatalf("timestamps did not round-trip: %v / %v", got.CreatedAt, got.ExpiresAt)
	}
	if got.Signatures != nil {
		t.Fatalf("expected no signatures yet, got %+v", got.Signatures)
	}

	respondedAt := now.Add(time.Hour)
	deadline := respondedAt.Add(30 * 24 * time.Hour)
	approved := got
	approved.Status = StatusAwaitingSignatures
	approved.RespondedAt = &respondedAt
	approved.RespondedBy = &parentB
	approved.SignatureDeadline = &deadline
	approved.Signatures = []Signature{
		{SignerID: parentA, SignerType: SignerParent, Status: SignaturePending},
		{SignerID: parentB, SignerType: SignerParent, Status: SignaturePending},
		{SignerID: childID, SignerType: SignerChild, Status: SignaturePending},
	}
	approved.Version = 2
	if err := repo.CompareAndSet(ctx, p.ID, 1, approved); err != nil {
		t.Fatalf("compare-and-set: %v", err)
	}

	// the consumed version is stale now
	if err := repo.CompareAndSet(ctx, p.ID, 1, approved); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if err := repo.CompareAndSet(ctx, uuid.NewString(), 1, approved); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err = repo.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Status != StatusAwaitingSignatures || got.Version != 2 {
		t.Fatalf("update not applied: status=%s version=%d", got.Status, got.Version)
	}
	if len(got.Signatures) != 3 || got.Signatures[2].SignerType != SignerChild {
		t.Fatalf("signatures did not round-trip: %+v", got.Signatures)
	}
	if got.SignatureDeadline == nil || !got.SignatureDeadline.Equal(deadline) {
		t.Fatalf("deadline did not round-trip: %v", got.SignatureDeadline)
	}

	rows, err := repo.Query(ctx, childID, ChangeScreenTime, []Status{StatusAwaitingSignatures})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != p.ID {
		t.Fatalf("expected the updated row, got %+v", rows)
	}

	batch, err := repo.ListByStatus(ctx, []Status{StatusAwaitingSignatures}, 1000)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	found := false
	for _, row := range batch {
		if row.ID == p.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the row in the status batch")
	}

	count, err := repo.CountRecentProposals(ctx, parentA, time.Hour)
	if err != nil {
		t.Fatalf("count recent: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recent proposal for the proposer, got %d", count)
	}

	if _, err := repo.Get(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (
        SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1
    )`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
