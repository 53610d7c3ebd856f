package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Fledgely/fledgely-sub000/proposal"
)

// Family is the fixed cast every actor works against: one child and the two
// parents who share custody.
type Family struct {
	ChildID string
	Parents []string
}

// Stats counts what the actors managed to do. Correctness is the oracles'
// job; the counters only prove the run exercised every path.
type Stats struct {
	Created   atomic.Int64
	Responded atomic.Int64
	Signed    atomic.Int64
	Swept     atomic.Int64
	Reads     atomic.Int64
	Rejected  atomic.Int64
	Noise     atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("created=%d responded=%d signed=%d swept=%d reads=%d rejected=%d noise=%d",
		s.Created.Load(), s.Responded.Load(), s.Signed.Load(), s.Swept.Load(),
		s.Reads.Load(), s.Rejected.Load(), s.Noise.Load())
}

// note files a service error under the right counter. A workflow code means a
// gate held under contention, which is the expected outcome; anything else is
// noise from chaos killing backends mid-call.
func (s *Stats) note(err error) {
	if proposal.CodeOf(err) != "" {
		s.Rejected.Add(1)
		return
	}
	s.Noise.Add(1)
}

var changeTypes = []proposal.ChangeType{
	proposal.ChangeScreenTime,
	proposal.ChangeBedtimeSchedule,
	proposal.ChangeMonitoringRules,
	proposal.ChangeAppRestrictions,
}

var descriptions = []string{
	"raise the weekday limit",
	"earlier on school nights",
	"loosen the app list",
	"tighten things for exam season",
}

func randomValue(rng *rand.Rand, changeType proposal.ChangeType) proposal.ChangeValue {
	switch changeType {
	case proposal.ChangeScreenTime:
		return proposal.NumberValue(float64(30 * (1 + rng.Intn(16))))
	case proposal.ChangeBedtimeSchedule:
		return proposal.NumberValue(float64(rng.Intn(24 * 60)))
	case proposal.ChangeMonitoringRules:
		return proposal.BoolValue(rng.Intn(2) == 0)
	case proposal.ChangeAppRestrictions:
		apps := []string{"games", "video", "chat", "browser"}
		return proposal.ListValue(apps[:1+rng.Intn(len(apps))])
	default:
		return proposal.NumberValue(float64(rng.Intn(100)))
	}
}

// Proposer files proposals for random fields from either parent, sometimes
// chaining onto a closed proposal it finds in the store.
func Proposer(ctx context.Context, pool *pgxpool.Pool, svc *proposal.Service, fam Family, rng *rand.Rand, stats *Stats, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		changeType := changeTypes[rng.Intn(len(changeTypes))]
		params := proposal.CreateParams{
			ChildID:           fam.ChildID,
			ChangeType:        changeType,
			ProposedValue:     randomValue(rng, changeType),
			ProposerID:        fam.Parents[rng.Intn(len(fam.Parents))],
			ChangeDescription: descriptions[rng.Intn(len(descriptions))],
		}
		if rng.Intn(4) == 0 {
			var prior string
			err := pool.QueryRow(ctx,
				`SELECT id FROM proposals
                 WHERE child_id = $1 AND change_type = $2::change_type AND status IN ('declined','modified')
                 ORDER BY random() LIMIT 1`,
				fam.ChildID, string(changeType)).Scan(&prior)
			if err == nil {
				params.ModifiesProposalID = prior
			}
		}

		if _, err := svc.Create(ctx, params); err != nil {
			stats.note(err)
		} else {
			stats.Created.Add(1)
		}
		time.Sleep(time.Duration(10+rng.Intn(25)) * time.Millisecond)
	}
}

// Responder settles pending proposals as the co-parent, splitting evenly
// between approve, decline and modify. Now and then it answers as the
// proposer instead, which the self-response gate must reject.
func Responder(ctx context.Context, pool *pgxpool.Pool, svc *proposal.Service, fam Family, rng *rand.Rand, stats *Stats, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id, proposedBy, changeType string
		err := pool.QueryRow(ctx,
			`SELECT id, proposed_by, change_type FROM proposals
             WHERE child_id = $1 AND status = 'pending'
             ORDER BY random() LIMIT 1`,
			fam.ChildID).Scan(&id, &proposedBy, &changeType)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) && ctx.Err() == nil {
				stats.Noise.Add(1)
			}
			time.Sleep(time.Duration(15+rng.Intn(30)) * time.Millisecond)
			continue
		}

		responder := fam.Parents[0]
		if responder == proposedBy {
			responder = fam.Parents[1]
		}
		if rng.Intn(10) == 0 {
			responder = proposedBy
		}

		params := proposal.RespondParams{ProposalID: id, ResponderID: responder}
		switch rng.Intn(3) {
		case 0:
			params.Action = proposal.ActionApprove
		case 1:
			params.Action = proposal.ActionDecline
			params.DeclineMessage = "not this week"
		default:
			params.Action = proposal.ActionModify
			v := randomValue(rng, proposal.ChangeType(changeType))
			params.ModifiedValue = &v
			params.ModificationNote = "meet in the middle"
		}

		if _, err := svc.Respond(ctx, params); err != nil {
			stats.note(err)
		} else {
			stats.Responded.Add(1)
		}
		time.Sleep(time.Duration(15+rng.Intn(30)) * time.Millisecond)
	}
}

// Signer picks an approved proposal and signs as a random family member, so
// double signs and children jumping the queue hit the gates constantly.
func Signer(ctx context.Context, pool *pgxpool.Pool, svc *proposal.Service, fam Family, rng *rand.Rand, stats *Stats, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		err := pool.QueryRow(ctx,
			`SELECT id FROM proposals
             WHERE child_id = $1 AND status = 'awaiting_signatures'
             ORDER BY random() LIMIT 1`,
			fam.ChildID).Scan(&id)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) && ctx.Err() == nil {
				stats.Noise.Add(1)
			}
			time.Sleep(time.Duration(15+rng.Intn(30)) * time.Millisecond)
			continue
		}

		signers := append([]string{fam.ChildID}, fam.Parents...)
		if _, err := svc.Sign(ctx, id, signers[rng.Intn(len(signers))]); err != nil {
			stats.note(err)
		} else {
			stats.Signed.Add(1)
		}
		time.Sleep(time.Duration(15+rng.Intn(30)) * time.Millisecond)
	}
}

// Sweeper closes overdue response and signature windows the way the daemon
// does, racing the other actors for the same rows.
func Sweeper(ctx context.Context, svc *proposal.Service, stats *Stats, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		n, err := svc.SweepExpired(ctx, 50)
		if err != nil {
			stats.note(err)
		} else {
			stats.Swept.Add(int64(n))
		}
		n, err = svc.SweepSignatureDeadlines(ctx, 50)
		if err != nil {
			stats.note(err)
		} else {
			stats.Swept.Add(int64(n))
		}
		time.Sleep(150 * time.Millisecond)
	}
}

// Reader walks history and single documents while the writers churn.
func Reader(ctx context.Context, pool *pgxpool.Pool, svc *proposal.Service, fam Family, rng *rand.Rand, stats *Stats, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		changeType := changeTypes[rng.Intn(len(changeTypes))]
		if _, err := svc.History(ctx, fam.ChildID, changeType); err != nil {
			stats.note(err)
		} else {
			stats.Reads.Add(1)
		}

		var id string
		if err := pool.QueryRow(ctx,
			`SELECT id FROM proposals WHERE child_id = $1 ORDER BY random() LIMIT 1`,
			fam.ChildID).Scan(&id); err == nil {
			if _, err := svc.Get(ctx, id); err != nil {
				stats.note(err)
			} else {
				stats.Reads.Add(1)
			}
		}
		time.Sleep(time.Duration(40+rng.Intn(40)) * time.Millisecond)
	}
}
