package agreement

import (
	"time"

	"github.com/Fledgely/fledgely-sub000/proposal"
)

// Agreement is the active custody document for one child. Values holds the
// authoritative content per field; Version counts committed changes.
type Agreement struct {
	ID        string
	ChildID   string
	Version   int64
	Values    map[proposal.ChangeType]proposal.ChangeValue
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppliedChange records one committed amendment, keyed by the proposal that
// carried it. The primary key on ProposalID is what makes Apply idempotent.
type AppliedChange struct {
	ProposalID  string
	AgreementID string
	ChangeType  proposal.ChangeType
	Value       proposal.ChangeValue
	Version     int64
	AppliedAt   time.Time
}
