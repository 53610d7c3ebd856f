package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against a live database mid-stress.
// Each query selects violating rows, so an empty result means the invariant
// holds at that instant.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_pending_per_field",
			SQL: `SELECT child_id, change_type, COUNT(*) FROM proposals
                  WHERE status = 'pending'
                  GROUP BY child_id, change_type HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_single_active_per_field",
			SQL: `SELECT child_id, change_type, COUNT(*) FROM proposals
                  WHERE status = 'active'
                  GROUP BY child_id, change_type HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_no_unsigned_activation",
			SQL: `SELECT p.id, sig->>'signer_id' FROM proposals p,
                       jsonb_array_elements(p.signatures) sig
                  WHERE p.status IN ('active','superseded')
                    AND sig->>'status' <> 'signed'`,
		},
		{
			Name: "O4_activation_stamps",
			SQL: `SELECT id, status FROM proposals
                  WHERE (status IN ('active','superseded')
                         AND (activated_at IS NULL OR new_agreement_version IS NULL))
                     OR (status NOT IN ('active','superseded')
                         AND new_agreement_version IS NOT NULL)`,
		},
		{
			Name: "O5_signature_phase_fields",
			SQL: `SELECT id, status FROM proposals
                  WHERE (status IN ('awaiting_signatures','active','superseded','signature_expired')
                         AND (responded_at IS NULL OR responded_by IS NULL OR signature_deadline IS NULL))
                     OR (status = 'pending'
                         AND (responded_at IS NOT NULL OR signature_deadline IS NOT NULL))`,
		},
		{
			Name: "O6_no_self_response",
			SQL:  `SELECT id FROM proposals WHERE responded_by = proposed_by`,
		},
		{
			Name: "O7_chain_source_closed",
			SQL: `SELECT p.id, src.id, src.status FROM proposals p
                  JOIN proposals src ON src.id = p.original_proposal_id
                  WHERE src.status NOT IN ('declined','modified')`,
		},
		{
			Name: "O8_supersede_pointer",
			SQL: `SELECT id, status FROM proposals
                  WHERE status IN ('modified','superseded')
                    AND superseded_by_proposal_id IS NULL`,
		},
		{
			Name: "O9_event_seq_gapless",
			SQL: `WITH numbered AS (
                      SELECT proposal_id, seq,
                             LAG(seq) OVER (PARTITION BY proposal_id ORDER BY seq) AS prev
                      FROM proposal_events)
                  SELECT proposal_id, seq, prev FROM numbered
                  WHERE (prev IS NULL AND seq <> 1)
                     OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O10_applied_version_bound",
			SQL: `SELECT ac.proposal_id, ac.version, a.version FROM applied_changes ac
                  JOIN agreements a ON a.id = ac.agreement_id
                  WHERE ac.version > a.version`,
		},
		{
			Name: "O11_expiry_after_window",
			SQL: `SELECT id, status FROM proposals
                  WHERE (status = 'expired'
                         AND (responded_at IS NOT NULL OR expires_at > now()))
                     OR (status = 'signature_expired' AND signature_deadline > now())`,
		},
		{
			Name: "O12_no_late_signature",
			SQL: `SELECT p.id, sig->>'signer_id' FROM proposals p,
                       jsonb_array_elements(p.signatures) sig
                  WHERE sig->>'signed_at' IS NOT NULL
                    AND (sig->>'signed_at')::timestamptz >= p.signature_deadline`,
		},
		{
			Name: "O13_child_on_roster",
			SQL: `SELECT p.id FROM proposals p
                  WHERE p.status IN ('awaiting_signatures','active','superseded','signature_expired')
                    AND NOT EXISTS (
                        SELECT 1 FROM jsonb_array_elements(p.signatures) sig
                        WHERE sig->>'signer_type' = 'child')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
