package proposal

import (
	"context"
	"time"
)

// Store is the document boundary the workflow writes through. Implementations
// must make CompareAndSet atomic: the write applies only when the stored
// version still equals expectedVersion, and fails with
// ErrConcurrentModification otherwise.
type Store interface {
	Get(ctx context.Context, id string) (Proposal, error)
	Create(ctx context.Context, p Proposal) error
	CompareAndSet(ctx context.Context, id string, expectedVersion int64, p Proposal) error
	// Query returns the proposals for one child and change type whose status
	// is in statusIn, newest first.
	Query(ctx context.Context, childID string, changeType ChangeType, statusIn []Status) ([]Proposal, error)
	// ListByStatus returns up to limit proposals in any of the given
	// statuses, oldest first. Sweeps page through it.
	ListByStatus(ctx context.Context, statusIn []Status, limit int) ([]Proposal, error)
}

// RateLimiter counts how many proposals a guardian filed inside the window.
type RateLimiter interface {
	CountRecentProposals(ctx context.Context, proposerID string, window time.Duration) (int, error)
}

// Participants is the resolved signing roster for one child. Guardians keeps
// the order signature records are laid out in.
type Participants struct {
	ChildID   string
	Guardians []string
}

// Roster resolves which guardians share custody of a child.
type Roster interface {
	Participants(ctx context.Context, childID string) (Participants, error)
}

// CurrentState is the agreement-side snapshot taken when a proposal is filed.
// Value is nil when the field has never been set.
type CurrentState struct {
	AgreementID string
	Version     int64
	Value       *ChangeValue
}

// AgreementStore is the boundary to the active agreement documents.
type AgreementStore interface {
	CurrentValue(ctx context.Context, childID string, changeType ChangeType) (CurrentState, error)
	// Apply commits value as the authoritative content for the field and
	// returns the new agreement version. Apply is idempotent per proposalID:
	// replaying a proposal returns the version its first application
	// committed, without bumping again.
	Apply(ctx context.Context, agreementID, proposalID string, changeType ChangeType, value ChangeValue) (int64, error)
}

// Event is one audit entry describing a committed transition.
type Event struct {
	ProposalID string
	ChildID    string
	Type       string
	ActorID    string
	Payload    map[string]any
}

const (
	EventProposalCreated        = "PROPOSAL_CREATED"
	EventProposalApproved       = "PROPOSAL_APPROVED"
	EventProposalDeclined       = "PROPOSAL_DECLINED"
	EventProposalModified       = "PROPOSAL_MODIFIED"
	EventProposalExpired        = "PROPOSAL_EXPIRED"
	EventSignatureRecorded      = "SIGNATURE_RECORDED"
	EventProposalActivated      = "PROPOSAL_ACTIVATED"
	EventSignatureWindowExpired = "SIGNATURE_WINDOW_EXPIRED"
	EventProposalSuperseded     = "PROPOSAL_SUPERSEDED"
)

// Recorder appends audit events after a transition committed. Recording is
// best-effort; a failure never rolls the transition back.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}
