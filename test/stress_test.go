package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/Fledgely/fledgely-sub000/agreement"
	"github.com/Fledgely/fledgely-sub000/audit"
	"github.com/Fledgely/fledgely-sub000/family"
	"github.com/Fledgely/fledgely-sub000/proposal"
	"github.com/Fledgely/fledgely-sub000/test/actors"
	"github.com/Fledgely/fledgely-sub000/test/chaos"
	"github.com/Fledgely/fledgely-sub000/test/infra"
	"github.com/Fledgely/fledgely-sub000/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actor sets")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestProposalWorkflowUnderContention(t *testing.T) {
	flag.Parse()
	seed := *flSeed

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	fam := mustSeed(t, ctx, pool)

	// production wiring with windows tightened to seconds, so expiry and
	// deadline sweeps fire inside the run
	limits := proposal.Limits{
		ResponseWindow:      8 * time.Second,
		ReproposalCooldown:  2 * time.Second,
		SignatureWindow:     12 * time.Second,
		MaxProposalsPerHour: 100000,
	}
	repo := proposal.NewRepository(pool)
	svc := proposal.NewService(repo, agreement.NewRepository(pool),
		family.NewService(family.NewRepository(pool)), repo, limits).
		WithRecorder(audit.NewRecorder(pool))

	stats := &actors.Stats{}
	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	var rngSeq int64
	newRNG := func() *rand.Rand {
		rngSeq++
		return rand.New(rand.NewSource(seed + rngSeq))
	}

	for i := 0; i < *flConcurrency; i++ {
		proposerRNG, responderRNG, signerRNG := newRNG(), newRNG(), newRNG()
		g.Go(func() error { return actors.Proposer(ctx2, pool, svc, fam, proposerRNG, stats, stop) })
		g.Go(func() error { return actors.Responder(ctx2, pool, svc, fam, responderRNG, stats, stop) })
		g.Go(func() error { return actors.Signer(ctx2, pool, svc, fam, signerRNG, stats, stop) })
	}
	readerRNG := newRNG()
	g.Go(func() error { return actors.Reader(ctx2, pool, svc, fam, readerRNG, stats, stop) })
	g.Go(func() error { return actors.Sweeper(ctx2, svc, stats, stop) })

	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	if stats.Created.Load() == 0 {
		t.Fatalf("no proposals were created; the run exercised nothing (seed=%d)", seed)
	}
	t.Logf("run complete: %s (seed=%d)", stats, seed)
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) actors.Family {
	t.Helper()
	nano := time.Now().UnixNano()

	var familyID string
	if err := pool.QueryRow(ctx,
		`INSERT INTO families (id, name) VALUES (gen_random_uuid(), 'Stress Family') RETURNING id`).
		Scan(&familyID); err != nil {
		t.Fatalf("seed family: %v", err)
	}

	fam := actors.Family{}
	for i, name := range []string{"Stress Parent A", "Stress Parent B"} {
		var id string
		if err := pool.QueryRow(ctx,
			`INSERT INTO users (email, full_name, password_hash, family_id, role)
             VALUES ($1, $2, 'x', $3, 'parent') RETURNING id`,
			fmt.Sprintf("stress-parent-%d-%d@example.com", i, nano), name, familyID).Scan(&id); err != nil {
			t.Fatalf("seed parent: %v", err)
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO family_members (family_id, user_id, role) VALUES ($1, $2, 'parent')`,
			familyID, id); err != nil {
			t.Fatalf("enroll parent: %v", err)
		}
		fam.Parents = append(fam.Parents, id)
	}

	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, family_id, role)
         VALUES ($1, 'Stress Child', 'x', $2, 'child') RETURNING id`,
		fmt.Sprintf("stress-child-%d@example.com", nano), familyID).Scan(&fam.ChildID); err != nil {
		t.Fatalf("seed child: %v", err)
	}
	if _, err := pool.Exec(ctx,
		`INSERT INTO family_members (family_id, user_id, role) VALUES ($1, $2, 'child')`,
		familyID, fam.ChildID); err != nil {
		t.Fatalf("enroll child: %v", err)
	}

	if _, err := pool.Exec(ctx,
		`INSERT INTO agreements (id, child_id) VALUES (gen_random_uuid(), $1)`, fam.ChildID); err != nil {
		t.Fatalf("seed agreement: %v", err)
	}
	return fam
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"proposals", `SELECT id, change_type, status, version, proposed_by, responded_by, new_agreement_version
                       FROM proposals ORDER BY updated_at DESC LIMIT 50`},
		{"proposal_events", `SELECT proposal_id, seq, type, actor_id FROM proposal_events ORDER BY id DESC LIMIT 50`},
		{"applied_changes", `SELECT proposal_id, change_type, version, applied_at FROM applied_changes ORDER BY applied_at DESC LIMIT 50`},
		{"agreements", `SELECT id, child_id, version, updated_at FROM agreements ORDER BY updated_at DESC LIMIT 10`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
